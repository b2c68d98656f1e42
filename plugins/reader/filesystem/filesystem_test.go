package filesystem

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k4ai/pkg/contract"
)

// TestReadTextFile 读取单文件并去除首尾空白与 BOM
func TestReadTextFile(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "k4.txt")
	require.NoError(t, os.WriteFile(fp, []byte("\ufeff  OBKRUOXOGHULBSOLIFBBWFLRVQQPRNGKSSOTWTQSJQSSEKZZWATJKLUDIAWINFBNYPVTTMZFPKWGDKZXTJCDIGKUHUAUEKCAR\n"), 0o644))

	got, err := New(nil).ReadText(context.Background(), fp)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "OBKR"), "BOM 与前导空白未去除: %q", got)
	assert.True(t, strings.HasSuffix(got, "KCAR"), "尾部换行未去除: %q", got)
}

func TestReadTextKeepSpace(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "c.txt")
	require.NoError(t, os.WriteFile(fp, []byte(" AB \n"), 0o644))

	got, err := New(&Options{KeepSpace: true}).ReadText(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, " AB \n", got, "保留空白时应原样返回")
}

// TestReadTextStdin "-" 读取 STDIN
func TestReadTextStdin(t *testing.T) {
	r := New(nil)
	r.stdin = strings.NewReader("BERLIN\n")
	got, err := r.ReadText(context.Background(), "-")
	require.NoError(t, err)
	assert.Equal(t, "BERLIN", got, "stdin 读取")
}

func TestReadTextTooLarge(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(fp, []byte(strings.Repeat("A", 64)), 0o644))

	_, err := New(&Options{MaxBytes: 16}).ReadText(context.Background(), fp)
	assert.ErrorIs(t, err, contract.ErrConfiguration)

	r := New(&Options{MaxBytes: 16})
	r.stdin = strings.NewReader(strings.Repeat("B", 17))
	_, err = r.ReadText(context.Background(), "-")
	assert.ErrorIs(t, err, contract.ErrConfiguration)
}

func TestReadTextInvalid(t *testing.T) {
	dir := t.TempDir()
	r := New(nil)

	_, err := r.ReadText(context.Background(), "")
	assert.ErrorIs(t, err, contract.ErrPathInvalid)

	_, err = r.ReadText(context.Background(), dir)
	assert.ErrorIs(t, err, contract.ErrPathInvalid, "目录不是常规文件")

	_, err = r.ReadText(context.Background(), filepath.Join(dir, "missing.txt"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "expect not exist, got %v", err)
}

// TestReadTextCanceled 已取消的 ctx 直接返回
func TestReadTextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(nil)
	r.stdin = strings.NewReader("X")
	_, err := r.ReadText(ctx, "-")
	assert.ErrorIs(t, err, context.Canceled)
}
