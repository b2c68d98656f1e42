package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认 stderr）。
// - TTY: 进度单行 \r 覆盖；非 TTY: 仅关键节点分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	mode     string
	workers  int
	runStart time.Time
	results  int

	keyLength  int
	discipline string

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			t.isTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		}
	}
	return t
}

// RunStart: 记录运行上下文。
func (t *Terminal) RunStart(mode string, workers int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.mode = mode
	t.workers = workers
	t.results = 0
	t.runStart = time.Now()
	t.println(fmt.Sprintf("[run] 模式=%s | 并发=%d", safe(mode), workers))
}

// PhaseStart: 一个密钥长度阶段开始；total=0 表示无界。
func (t *Terminal) PhaseStart(keyLength int, discipline string, total uint64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.keyLength = keyLength
	t.discipline = discipline
	t.clearInline()
	if total > 0 {
		t.println(fmt.Sprintf("[phase] 密钥长度=%d | %s | 空间=%d", keyLength, safe(discipline), total))
	} else {
		t.println(fmt.Sprintf("[phase] 密钥长度=%d | %s", keyLength, safe(discipline)))
	}
}

// Progress: 周期性进度（≥100ms 节流，仅 TTY）。
func (t *Terminal) Progress(processed, total uint64, keysPerSec, best float64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.isTTY {
		return
	}
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	var done string
	if total > 0 {
		done = fmt.Sprintf("%d/%d (%.1f%%)", processed, total, float64(processed)*100/float64(total))
	} else {
		done = fmt.Sprintf("%d", processed)
	}
	t.printInline(fmt.Sprintf("[search] L=%d | 已测 %s | %.0f keys/s | 最佳 %.2f | 用时 %s",
		t.keyLength, done, keysPerSec, best, formatSince(t.runStart)))
}

// Result: 新进入 top-K 的结果（TTY 与非 TTY 均打印）。
func (t *Terminal) Result(key string, score float64, sample string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.results++
	t.clearInline()
	t.println(fmt.Sprintf("[result] %s | %.2f | %s", shorten(safe(key), 32), score, shorten(safe(sample), 40)))
}

// RunFinish: 结束总览。state 为 complete/stopped/fail。
func (t *Terminal) RunFinish(state string, processed uint64, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.clearInline()
	t.println(fmt.Sprintf("[%s] 已测 %d | 结果 %d | 总用时 %s", safe(state), processed, t.results, formatDur(dur)))
}

func (t *Terminal) clearInline() {
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
		if t.enabled {
			_, _ = io.WriteString(t.w, "\r")
		}
	}
}

func (t *Terminal) println(s string) {
	if !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

// printInline: \r + 内容；新行比旧行短时以空格覆盖尾部。
func (t *Terminal) printInline(s string) {
	if !t.enabled {
		return
	}
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	b.WriteString(strings.Repeat(" ", pad))
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shorten: 按 rune 截断（尾部省略号）。
func shorten(s string, max int) string {
	if max <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= max {
		return s
	}
	return string(rs[:max-1]) + "…"
}

func visLen(s string) int { return len([]rune(s)) }

// safe 避免换行等控制字符污染终端。
func safe(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms < 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
