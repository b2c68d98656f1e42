package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"k4ai/pkg/contract"
)

// DefaultMaxBytes: 单个输入的读取上限（密文/crib 均为短文本）。
const DefaultMaxBytes = 1 << 20

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size" yaml:"buf_size"`
	// MaxBytes: 超过该大小的输入视为配置错误。<=0 使用 DefaultMaxBytes。
	MaxBytes int64 `json:"max_bytes" yaml:"max_bytes"`
	// KeepSpace: 为 true 时保留首尾空白（默认去除）。
	KeepSpace bool `json:"keep_space" yaml:"keep_space"`
}

// FileSystem 实现基于文件系统与 STDIN 的 Reader。
type FileSystem struct {
	bufSize   int
	maxBytes  int64
	keepSpace bool
	stdin     io.Reader
}

var _ contract.Reader = (*FileSystem)(nil)

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	const defaultBuf = 64 * 1024
	r := &FileSystem{bufSize: defaultBuf, maxBytes: DefaultMaxBytes, stdin: os.Stdin}
	if opts != nil {
		if opts.BufSize > 0 {
			r.bufSize = opts.BufSize
		}
		if opts.MaxBytes > 0 {
			r.maxBytes = opts.MaxBytes
		}
		r.keepSpace = opts.KeepSpace
	}
	return r
}

// ReadText 读取 src 的全部文本。src 为 "-" 时读取 STDIN。
// 符号链接仅跟随到常规文件；目录与设备文件返回 ErrPathInvalid。
func (r *FileSystem) ReadText(ctx context.Context, src string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if strings.TrimSpace(src) == "" {
		return "", fmt.Errorf("%w: empty input path", contract.ErrPathInvalid)
	}
	if src == "-" {
		return r.readAll(ctx, r.stdin)
	}

	// Stat 跟随符号链接，判定最终目标
	info, err := os.Stat(src)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", contract.ErrPathInvalid, src)
	}
	if info.Size() > r.maxBytes {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", contract.ErrConfiguration, src, r.maxBytes)
	}
	f, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return r.readAll(ctx, f)
}

func (r *FileSystem) readAll(ctx context.Context, in io.Reader) (string, error) {
	br := bufio.NewReaderSize(&ctxReader{ctx: ctx, r: in}, r.bufSize)
	// 多读一字节用于判定超限
	b, err := io.ReadAll(io.LimitReader(br, r.maxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(b)) > r.maxBytes {
		return "", fmt.Errorf("%w: input exceeds %d bytes", contract.ErrConfiguration, r.maxBytes)
	}
	s := strings.TrimPrefix(string(b), "\ufeff")
	if !r.keepSpace {
		s = strings.TrimSpace(s)
	}
	return s, nil
}

// ctxReader: 在每次 Read 前检查 ctx 是否已取消（STDIN 可能长时间阻塞）。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}
