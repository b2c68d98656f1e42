package diag

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k4ai/pkg/contract"
)

// 日志轮转写入
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30)
	require.NoError(t, w.WriteLine([]byte("first line that is very long")))
	require.NoError(t, w.WriteLine([]byte("second")))
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(files), 2, "应存在轮转文件")
	require.NoError(t, w.Close())
}

func TestRotatingFileNames(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 10)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.WriteLine([]byte("xxxxxxxxxxxxxxxxxx")))
	}
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	hasCurrent, hasRotated := false, false
	for _, e := range ents {
		switch {
		case e.Name() == "k4ai-current.txt":
			hasCurrent = true
		case strings.HasPrefix(e.Name(), "k4ai-") && strings.HasSuffix(e.Name(), ".txt"):
			hasRotated = true
		}
	}
	assert.True(t, hasCurrent, "缺少 current 文件")
	assert.True(t, hasRotated, "未发生轮转")
	assert.Equal(t, filepath.Join(dir, "k4ai-current.txt"), w.CurrentPath())
}

func TestRotatingFileRotateWithoutOpen(t *testing.T) {
	w := NewRotatingFile(t.TempDir(), 0)
	assert.Equal(t, int64(10*1024*1024), w.maxBytes, "默认 10 MiB")
	require.NoError(t, w.rotate())
	require.NotNil(t, w.f)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{context.Canceled, CodeCancel},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), CodeCancel},
		{fmt.Errorf("job: %w", contract.ErrConfiguration), CodeConfig},
		{contract.ErrJobNotFound, CodeConfig},
		{fmt.Errorf("%w: 'é'", contract.ErrUnknownSymbol), CodeSymbol},
		{contract.ErrTaskFailure, CodeTask},
		{fmt.Errorf("%w: 26^20", contract.ErrKeySpaceTooLarge), CodeBudget},
		{contract.ErrPathInvalid, CodeIO},
		{&fs.PathError{Op: "open", Path: "/", Err: errors.New("x")}, CodeIO},
		{&net.DNSError{Err: "x"}, CodeNetwork},
		{errors.New("other"), CodeUnknown},
		{nil, CodeUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err), "%v", tc.err)
	}
}

func TestMetrics(t *testing.T) {
	before := testutil.ToFloat64(opTotal.WithLabelValues("test", "stage", "success"))
	IncOp("test", "stage", "success")
	assert.Equal(t, before+1, testutil.ToFloat64(opTotal.WithLabelValues("test", "stage", "success")))

	beforeErr := testutil.ToFloat64(errorTotal.WithLabelValues("test", "config"))
	IncError("test", "config")
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(errorTotal.WithLabelValues("test", "config")))

	beforeKeys := testutil.ToFloat64(keysProcessed.WithLabelValues("exhaustive"))
	AddKeys("exhaustive", 1000)
	AddKeys("exhaustive", 0)
	assert.Equal(t, beforeKeys+1000, testutil.ToFloat64(keysProcessed.WithLabelValues("exhaustive")))

	SetBestScore(1234.5)
	assert.Equal(t, 1234.5, testutil.ToFloat64(bestScore))

	ObserveDuration("test", "stage", 5)
}

func TestReport(t *testing.T) {
	before := testutil.ToFloat64(errorTotal.WithLabelValues("report", "task"))
	code := Report(nil, "report", "task failed", fmt.Errorf("%w: boom", contract.ErrTaskFailure), "job", "1")
	assert.Equal(t, CodeTask, code, "失败任务错误应分类为 task")
	assert.Equal(t, before+1, testutil.ToFloat64(errorTotal.WithLabelValues("report", "task")))
}

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev), "非 JSON 行: %s", sc.Text())
		out = append(out, ev)
	}
	return out
}

func TestLoggerWritesJSONEvents(t *testing.T) {
	dir := t.TempDir()
	l := NewLoggerDir("corr-1", "info", dir)
	timer := l.StartWith("coordinator", "run", "job-1", "")
	timer.Finish("run", 42)
	l.DebugStart("task", "skip", "job-1", "0", nil) // info 级别下被过滤
	l.ErrorWith("task", "task", "panic", nil, "job-1", "3")
	l.WarnKV("coordinator", "stop timeout", "job-1", map[string]string{"timeout": "2s"})
	require.NoError(t, l.Close())

	evs := readEvents(t, filepath.Join(dir, "k4ai-current.txt"))
	require.Len(t, evs, 4, "debug 事件应被过滤")
	assert.Equal(t, "start", evs[0].Stage)
	assert.Equal(t, "corr-1", evs[0].CorrID)
	assert.Equal(t, "job-1", evs[0].JobID)
	assert.Equal(t, "finish", evs[1].Stage)
	assert.Equal(t, int64(42), evs[1].Count)
	assert.Equal(t, "error", evs[2].Level)
	assert.Equal(t, "3", evs[2].TaskID)
	assert.Equal(t, "warn", evs[3].Level)
	assert.Equal(t, "2s", evs[3].KV["timeout"])
}

func TestLoggerGeneratesCorrID(t *testing.T) {
	l := NewLoggerDir("", "debug", "")
	assert.Len(t, l.CorrID(), 36, "corr id 应为 uuid")
	// 无 sink 时写 stderr，不应 panic
	l.Start("comp", "msg").Finish("ok", 1)
	start := time.Now().Add(-10 * time.Millisecond)
	l.Error("comp", "code", "msg", &start)
	l.InfoKV("comp", "msg", "", nil)
	l.InfoFinish("comp", "msg", start, 1)
	require.NoError(t, l.Close())

	var nilLogger *Logger
	nilLogger.InfoKV("comp", "msg", "", nil)
	assert.Equal(t, "", nilLogger.CorrID())
	var tnil *Timer
	tnil.Finish("x", 0)
	(&Timer{}).Finish("x", 0)
}

func TestLevels(t *testing.T) {
	assert.Equal(t, Debug, ParseLevel(" DEBUG "))
	assert.Equal(t, Warn, ParseLevel("warn"))
	assert.Equal(t, Error, ParseLevel("error"))
	assert.Equal(t, Info, ParseLevel("verbose"))
	assert.Equal(t, "warn", Warn.String())
	assert.Equal(t, "info", Level(12345).String())

	l := NewLoggerDir("c", "warn", "")
	assert.False(t, l.Enabled(Info), "error 级别下 info 应关闭")
	assert.True(t, l.Enabled(Error))
	assert.False(t, (*Logger)(nil).Enabled(Error), "nil logger")
}

func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	require.False(t, term.isTTY)
	term.RunStart("bruteforce", 4)
	term.PhaseStart(3, "exhaustive", 17576)
	term.Progress(1000, 17576, 5000, 12.5) // 非 TTY：不输出进度
	term.Result("KRYPTOS", 1532.25, "BERLINCLOCK\nEAST")
	term.RunFinish("complete", 17576, 5100*time.Millisecond)

	out := sb.String()
	assert.NotContains(t, out, "\r")
	assert.Contains(t, out, "[run] 模式=bruteforce | 并发=4")
	assert.Contains(t, out, "[phase] 密钥长度=3 | exhaustive | 空间=17576")
	assert.Contains(t, out, "[result] KRYPTOS | 1532.25 | BERLINCLOCK EAST")
	assert.Contains(t, out, "[complete] 已测 17576 | 结果 1 | 总用时 5.1s")
	assert.NotContains(t, out, "[search]")
}

func TestTerminalTTYProgressThrottle(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	term.RunStart("hybrid", 2)
	term.PhaseStart(8, "heuristic", 0)
	assert.Contains(t, sb.String(), "[phase] 密钥长度=8 | heuristic\n")

	term.Progress(1000, 0, 100, 3)
	first := sb.String()
	assert.Contains(t, first, "\r[search] L=8 | 已测 1000 |")

	term.Progress(2000, 0, 100, 3)
	assert.Equal(t, first, sb.String(), "100ms 内应被节流")

	time.Sleep(120 * time.Millisecond)
	term.Progress(3000, 0, 100, 3)
	assert.Greater(t, len(sb.String()), len(first))

	term.Result("ABCD", 10, "WERE")
	final := sb.String()
	idx := strings.LastIndex(final, "[result]")
	require.Positive(t, idx)
	seg := final[:idx]
	cr := strings.LastIndex(seg, "\r")
	require.GreaterOrEqual(t, cr, 0)
	// 结果行之前先以空格覆盖进度行
	assert.Contains(t, final[strings.LastIndex(seg[:cr], "\r")+1:cr], " ")
}

type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

func TestTerminalDisableOnWriteError(t *testing.T) {
	term := NewTerminal(&flakyWriter{fail: true}, true)
	term.RunStart("cribdrag", 1)
	assert.False(t, term.enabled)
	term.PhaseStart(1, "x", 0)
	term.Progress(0, 0, 0, 0)
	term.Result("a", 0, "")
	term.RunFinish("complete", 0, 0)

	tty := NewTerminal(&flakyWriter{fail: true}, true)
	tty.isTTY = true
	tty.Progress(1, 2, 0, 0)
	assert.False(t, tty.enabled)
}

func TestTerminalNilAndDisabled(t *testing.T) {
	var tn *Terminal
	tn.RunStart("x", 1)
	tn.PhaseStart(1, "x", 0)
	tn.Progress(0, 0, 0, 0)
	tn.Result("a", 0, "")
	tn.RunFinish("x", 0, 0)

	var sb strings.Builder
	off := NewTerminal(&sb, false)
	off.RunStart("x", 1)
	assert.Empty(t, sb.String())
}

func TestTerminalCIEnv(t *testing.T) {
	t.Setenv("CI", "true")
	term := NewTerminal(os.Stderr, true)
	assert.False(t, term.isTTY)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "abcd…", shorten("abcdefgh", 5))
	assert.Equal(t, "abc", shorten("abc", 5))
	assert.Equal(t, "", shorten("abc", 0))
	assert.Equal(t, "a b c", safe("a\nb\rc"))
	assert.Equal(t, "0ms", formatDur(0))
	assert.Equal(t, "1.5s", formatDur(1500*time.Millisecond))

	SetTerminal(nil)
	assert.Nil(t, GetTerminal())
	t1 := NewTerminal(os.Stderr, false)
	SetTerminal(t1)
	assert.Same(t, t1, GetTerminal())
	SetTerminal(nil)
}
