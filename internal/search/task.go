package search

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"k4ai/internal/codec"
	"k4ai/internal/diag"
	"k4ai/internal/keyspace"
	"k4ai/pkg/contract"
)

// DefaultBatchSize: 两次进度上报 / 取消检查之间评估的密钥数。
const DefaultBatchSize = 1000

// DefaultSampleLen: 结果样本长度（符号数）。
const DefaultSampleLen = 20

// State: 任务状态。Idle → Running → (Stopped | Completed | Failed)。
type State int32

const (
	Idle State = iota
	Running
	Stopped
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Rewarder 由支持自适应权重的来源实现（启发式流）。
type Rewarder interface {
	Reward(contract.Strategy)
}

// Positioner 由能给出目标模式出现位置的评分器实现。
type Positioner interface {
	Positions(text string) []int
}

// Config: 单个任务的只读输入。Cipher 为已编码（已过滤）的密文。
type Config struct {
	ID        int
	JobID     string
	KeyLength int
	Source    keyspace.Source
	Alphabet  *codec.Alphabet
	Cipher    []int
	// Offsets[i] 为 Cipher[i] 在原始密文中的偏移；nil 表示未过滤。
	Offsets   []int
	Scorer    contract.TextScorer
	BatchSize int
	SampleLen int
	// PrefixLen > 0 时先解密前 PrefixLen 个符号打分，低于 PrefixThreshold 则跳过全文评估。
	PrefixLen       int
	PrefixThreshold float64
	Logger          *diag.Logger
}

// Task 独占一个密钥来源与本地最优值；仅通过 out 通道与协调器通信。
type Task struct {
	cfg   Config
	state atomic.Int32

	best    float64
	hasBest bool
}

// New 校验并构造任务。
func New(cfg Config) (*Task, error) {
	switch {
	case cfg.Source == nil:
		return nil, fmt.Errorf("%w: task %d has no key source", contract.ErrConfiguration, cfg.ID)
	case cfg.Alphabet == nil:
		return nil, fmt.Errorf("%w: task %d has no alphabet", contract.ErrConfiguration, cfg.ID)
	case cfg.Scorer == nil:
		return nil, fmt.Errorf("%w: task %d has no scorer", contract.ErrConfiguration, cfg.ID)
	case cfg.KeyLength < 1:
		return nil, fmt.Errorf("%w: task %d key length %d", contract.ErrConfiguration, cfg.ID, cfg.KeyLength)
	case len(cfg.Cipher) == 0:
		return nil, fmt.Errorf("%w: task %d has empty ciphertext", contract.ErrConfiguration, cfg.ID)
	case cfg.Offsets != nil && len(cfg.Offsets) != len(cfg.Cipher):
		return nil, fmt.Errorf("%w: task %d offsets %d != cipher %d", contract.ErrConfiguration, cfg.ID, len(cfg.Offsets), len(cfg.Cipher))
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.SampleLen <= 0 {
		cfg.SampleLen = DefaultSampleLen
	}
	if cfg.PrefixLen >= len(cfg.Cipher) {
		cfg.PrefixLen = 0
	}
	return &Task{cfg: cfg}, nil
}

// State 返回当前状态（可并发读取）。
func (t *Task) State() State { return State(t.state.Load()) }

// Run 执行任务直到来源耗尽（completed）、ctx 取消（stopped）或内部故障（failure）。
// 取消仅在批边界检查。每个批次后发送一条 progress；本地最优严格提升时发送 result。
// 最后恰好发送一条终态事件。内部 panic 被恢复为包装 ErrTaskFailure 的错误。
func (t *Task) Run(ctx context.Context, out chan<- contract.Event) (err error) {
	if !t.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return fmt.Errorf("%w: task %d already started", contract.ErrConfiguration, t.cfg.ID)
	}
	tid := strconv.Itoa(t.cfg.ID)
	var timer *diag.Timer
	if t.cfg.Logger != nil {
		timer = t.cfg.Logger.StartWithKV("task", "search", t.cfg.JobID, tid, map[string]string{
			"key_length": strconv.Itoa(t.cfg.KeyLength),
			"total":      strconv.FormatUint(t.cfg.Source.Total(), 10),
		})
	}
	var processed uint64
	defer func() {
		if r := recover(); r != nil {
			t.state.Store(int32(Failed))
			err = fmt.Errorf("%w: task %d: %v", contract.ErrTaskFailure, t.cfg.ID, r)
			diag.Report(t.cfg.Logger, "task", "task panicked", err, t.cfg.JobID, tid)
			out <- t.event(contract.EventFailure, func(ev *contract.Event) { ev.Err = err.Error() })
			return
		}
		timer.Finish(t.State().String(), int64(processed))
	}()

	n := len(t.cfg.Cipher)
	key := make([]int, t.cfg.KeyLength)
	plain := make([]int, n)
	for {
		select {
		case <-ctx.Done():
			t.state.Store(int32(Stopped))
			out <- t.event(contract.EventStopped, nil)
			return nil
		default:
		}
		batch := 0
		exhausted := false
		for batch < t.cfg.BatchSize {
			st, ok := t.cfg.Source.Next(key)
			if !ok {
				exhausted = true
				break
			}
			batch++
			if r, ok := t.evaluate(key, plain, st); ok {
				out <- t.event(contract.EventResult, func(ev *contract.Event) { ev.Result = &r })
			}
		}
		processed += uint64(batch)
		if batch > 0 {
			out <- t.event(contract.EventProgress, func(ev *contract.Event) {
				ev.Progress = &contract.Progress{
					Delta:     uint64(batch),
					Processed: processed,
					Total:     t.cfg.Source.Total(),
					Best:      t.bestOrZero(),
					KeyLength: t.cfg.KeyLength,
				}
			})
		}
		if exhausted {
			t.state.Store(int32(Completed))
			out <- t.event(contract.EventCompleted, nil)
			return nil
		}
	}
}

// evaluate 解密并打分；严格优于本地最优时返回结果。
func (t *Task) evaluate(key, plain []int, st contract.Strategy) (contract.ScoredResult, bool) {
	size := t.cfg.Alphabet.Size()
	if p := t.cfg.PrefixLen; p > 0 {
		codec.DecryptInto(plain[:p], t.cfg.Cipher, key, size)
		if t.cfg.Scorer.ScoreText(t.cfg.Alphabet.Decode(plain[:p])) < t.cfg.PrefixThreshold {
			return contract.ScoredResult{}, false
		}
	}
	codec.DecryptInto(plain, t.cfg.Cipher, key, size)
	text := t.cfg.Alphabet.Decode(plain)
	score := t.cfg.Scorer.ScoreText(text)
	if t.hasBest && score <= t.best {
		return contract.ScoredResult{}, false
	}
	t.best, t.hasBest = score, true
	if rw, ok := t.cfg.Source.(Rewarder); ok {
		rw.Reward(st)
	}
	sampleLen := t.cfg.SampleLen
	if sampleLen > len(plain) {
		sampleLen = len(plain)
	}
	r := contract.ScoredResult{
		Key:             t.cfg.Alphabet.Decode(key),
		KeyLength:       t.cfg.KeyLength,
		DecryptedSample: t.cfg.Alphabet.Decode(plain[:sampleLen]),
		Score:           score,
		Plaintext:       text,
		Strategy:        st,
		TaskID:          t.cfg.ID,
	}
	if pz, ok := t.cfg.Scorer.(Positioner); ok {
		r.Positions = pz.Positions(text)
		if t.cfg.Offsets != nil {
			for i, p := range r.Positions {
				r.Positions[i] = t.cfg.Offsets[p]
			}
		}
	}
	return r, true
}

func (t *Task) bestOrZero() float64 {
	if !t.hasBest {
		return 0
	}
	return t.best
}

func (t *Task) event(typ contract.EventType, fill func(*contract.Event)) contract.Event {
	ev := contract.Event{Type: typ, JobID: t.cfg.JobID, TaskID: t.cfg.ID, At: time.Now()}
	if fill != nil {
		fill(&ev)
	}
	return ev
}
