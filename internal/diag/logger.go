package diag

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// DefaultLogDir 为默认日志目录。
const DefaultLogDir = "logs"

// Logger 为最小结构化日志器：单行 JSON 写入轮转文件；文件不可用时退回 stderr。
type Logger struct {
	corrID string
	level  Level
	sink   *RotatingFile
	mu     sync.Mutex
}

// NewLogger 通过配置的 level 初始化，日志写入 logs/，10 MiB 轮转。
// corrID 为空时生成 uuid。
func NewLogger(corrID, level string) *Logger {
	return NewLoggerDir(corrID, level, DefaultLogDir)
}

// NewLoggerDir 同 NewLogger，但指定日志目录；dir 为空时仅写 stderr。
func NewLoggerDir(corrID, level, dir string) *Logger {
	if strings.TrimSpace(corrID) == "" {
		corrID = uuid.NewString()
	}
	l := &Logger{corrID: corrID, level: ParseLevel(level)}
	if strings.TrimSpace(dir) != "" {
		l.sink = NewRotatingFile(dir, 10*1024*1024)
	}
	return l
}

// ParseLevel 解析级别名；未知值按 info。
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// CorrID 返回本次运行的关联 id。
func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

// Event 为标准事件结构。
type Event struct {
	Level  string            `json:"level"`
	TS     string            `json:"ts"`
	CorrID string            `json:"corr_id"`
	Comp   string            `json:"comp"`
	Stage  string            `json:"stage"` // start|finish|error|info|warn
	Code   string            `json:"code,omitempty"`
	DurMS  int64             `json:"dur_ms,omitempty"`
	Count  int64             `json:"count,omitempty"`
	JobID  string            `json:"job_id,omitempty"`
	TaskID string            `json:"task_id,omitempty"`
	Msg    string            `json:"msg"`
	KV     map[string]string `json:"kv,omitempty"`
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	ev.Level = lv.String()
	ev.TS = NowUTC()
	ev.CorrID = l.corrID
	b, _ := json.Marshal(ev)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		_, _ = os.Stderr.Write(append(b, '\n'))
		return
	}
	if err := l.sink.WriteLine(b); err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		_, _ = os.Stderr.Write(append(b, '\n'))
	}
}

// Enabled 报告该级别是否会被输出。
func (l *Logger) Enabled(lv Level) bool { return l != nil && lv >= l.level }

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 job_id/task_id 的 start。
func (l *Logger) StartWith(comp, msg, jobID, taskID string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", JobID: jobID, TaskID: taskID, Msg: msg})
	return &Timer{l: l, comp: comp, jobID: jobID, taskID: taskID, t0: time.Now()}
}

// StartWithKV 记录带 job_id/task_id 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, jobID, taskID string, kv map[string]string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", JobID: jobID, TaskID: taskID, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, jobID: jobID, taskID: taskID, t0: time.Now()}
}

// InfoKV 记录一条 info 事件。
func (l *Logger) InfoKV(comp, msg, jobID string, kv map[string]string) {
	l.log(Info, Event{Comp: comp, Stage: "info", JobID: jobID, Msg: msg, KV: kv})
}

// WarnKV 记录一条 warn 事件。
func (l *Logger) WarnKV(comp, msg, jobID string, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: "warn", JobID: jobID, Msg: msg, KV: kv})
}

// Error 记录 error 事件（不采样）。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 job_id/task_id。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, jobID, taskID string) {
	l.ErrorWithKV(comp, code, msg, durSince, jobID, taskID, nil)
}

// ErrorWithKV 支持附带键值对（例如恢复的 panic 值）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, jobID, taskID string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, JobID: jobID, TaskID: taskID, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, jobID, taskID string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "start", JobID: jobID, TaskID: taskID, Msg: msg, KV: kv})
}

// Close 关闭底层文件。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	jobID  string
	taskID string
	t0     time.Time
}

// Finish 记录 finish 并上报阶段耗时；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	dur := time.Since(t.t0).Milliseconds()
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: dur, Count: count, JobID: t.jobID, TaskID: t.taskID, Msg: msg})
	ObserveDuration(t.comp, msg, dur)
}
