package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"k4ai/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// OutputDir: 导出根目录（必需）。
	OutputDir string `json:"output_dir" yaml:"output_dir"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 未提供该字段时采用原子写；显式 false 可关闭。
	Atomic *bool `json:"atomic,omitempty" yaml:"atomic,omitempty"`
	// NoClobber: 目标已存在时返回 os.ErrExist 而非覆盖。
	NoClobber bool `json:"no_clobber,omitempty" yaml:"no_clobber,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用默认。
	PermFile os.FileMode `json:"perm_file,omitempty" yaml:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty" yaml:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用默认。
	BufSize int `json:"buf_size,omitempty" yaml:"buf_size,omitempty"`
}

// FS 将导出文档写入 OutputDir 下的单层文件。
type FS struct {
	root      string
	atomic    bool
	noClobber bool
	permF     os.FileMode
	permD     os.FileMode
	bufSize   int
}

// New 创建文件系统 Writer 实现。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, fmt.Errorf("%w: output_dir is required", contract.ErrConfiguration)
	}
	w := &FS{
		root:      opts.OutputDir,
		atomic:    true,
		noClobber: opts.NoClobber,
		permF:     0o644,
		permD:     0o755,
		bufSize:   32 * 1024,
	}
	if opts.Atomic != nil {
		w.atomic = *opts.Atomic
	}
	if opts.PermFile != 0 {
		w.permF = opts.PermFile
	}
	if opts.PermDir != 0 {
		w.permD = opts.PermDir
	}
	if opts.BufSize > 0 {
		w.bufSize = opts.BufSize
	}
	return w, nil
}

var _ contract.Writer = (*FS)(nil)

// Root 返回导出根目录。
func (w *FS) Root() string { return w.root }

// Write 将 r 的全部字节写入 OutputDir/<id>。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	dest, err := w.mapPath(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(w.root, w.permD); err != nil {
		return err
	}
	if w.noClobber {
		if _, err := os.Lstat(dest); err == nil {
			return fmt.Errorf("%s: %w", dest, os.ErrExist)
		}
	}

	if w.atomic {
		return w.writeAtomic(ctx, dest, r)
	}
	return w.writeOverwrite(ctx, dest, r)
}

// mapPath: id 必须是单个文件名，不允许目录层级、绝对路径与卷名。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	name := string(id)
	if name == "" || name == "." || name == ".." {
		return "", contract.ErrPathInvalid
	}
	if strings.ContainsAny(name, `/\`) || filepath.VolumeName(name) != "" {
		return "", contract.ErrPathInvalid
	}
	if filepath.Base(name) != name {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, name), nil
}

func (w *FS) writeOverwrite(ctx context.Context, dest string, r io.Reader) error {
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if w.noClobber {
		flag = os.O_CREATE | os.O_WRONLY | os.O_EXCL
	}
	f, err := os.OpenFile(dest, flag, w.permF)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, &ctxReader{ctx: ctx, r: r}); err != nil {
		return err
	}
	return bw.Flush()
}

func (w *FS) writeAtomic(ctx context.Context, dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	// 任一步失败都清理临时文件
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(w.permF); err != nil {
		return fail(err)
	}

	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err := io.Copy(bw, &ctxReader{ctx: ctx, r: r}); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := osReplace(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 最佳努力：同步父目录元数据
	_ = syncDir(dir)
	return nil
}

// ctxReader: 在每次 Read 前检查 ctx 是否已取消。
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
