package contract

import "time"

// EventType: 协调器与调用方、任务与协调器之间的单向消息类型。
type EventType string

const (
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
	EventFailure  EventType = "failure"
	// EventCompleted: 单个任务耗尽区间/预算。
	EventCompleted EventType = "completed"
	// EventStopped: 任务或整体运行被取消。
	EventStopped EventType = "stopped"
	// EventComplete: 整体运行完成（全部阶段结束）。
	EventComplete EventType = "complete"
)

// Progress: 进度负载。任务侧 Delta 为增量；调用方侧 Processed 为累计。
type Progress struct {
	Delta      uint64  `json:"delta,omitempty"`
	Processed  uint64  `json:"processed"`
	Total      uint64  `json:"total,omitempty"` // 0 表示无界（启发式）
	Percent    float64 `json:"percent,omitempty"`
	KeysPerSec float64 `json:"keysPerSec,omitempty"`
	Best       float64 `json:"best"`
	KeyLength  int     `json:"keyLength,omitempty"`
}

// Event: 单条事件。Result/Progress/Err 按 Type 取用。
type Event struct {
	Type     EventType     `json:"type"`
	JobID    string        `json:"jobId,omitempty"`
	TaskID   int           `json:"taskId"`
	Result   *ScoredResult `json:"result,omitempty"`
	Progress *Progress     `json:"progress,omitempty"`
	Err      string        `json:"error,omitempty"`
	Summary  *Summary      `json:"summary,omitempty"`
	At       time.Time     `json:"at"`
}

// Summary: 运行终态汇总。
type Summary struct {
	JobID      string         `json:"jobId"`
	Mode       Mode           `json:"mode"`
	State      string         `json:"state"`            // complete|stopped
	Reason     string         `json:"reason,omitempty"` // stop|threshold|deadline|context
	Processed  uint64         `json:"processed"`
	Elapsed    time.Duration  `json:"elapsed"`
	KeysPerSec float64        `json:"keysPerSec"`
	Seed       uint64         `json:"seed,omitempty"` // 启发式阶段实际使用的种子
	Failures   []string       `json:"failures,omitempty"`
	Top        []ScoredResult `json:"top"`
}
