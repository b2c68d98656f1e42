package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"k4ai/internal/codec"
	"k4ai/internal/diag"
	"k4ai/internal/keyspace"
	"k4ai/pkg/contract"
)

// - 单点并发：仅此层创建 goroutine；codec/scorer/cribdrag/keyspace 均为同步组件。
// - 单写者：聚合状态（top-K、计数、失败列表）只由运行 goroutine 修改，快照读取经互斥锁拷贝。
// - 任务隔离：单个任务失败只记录 failure，其余任务继续。
// - 协作取消：Stop/阈值/时限统一走 halt → cancel，任务在批边界观察。

// ScorerFactory 按目标模式与次要词构造评分器（hybrid 会追加 crib 作为目标）。
type ScorerFactory func(targets, words []string) (contract.Scorer, error)

// Options: 协调器级设置（与具体任务无关）。
type Options struct {
	Scorer      ScorerFactory
	Logger      *diag.Logger
	StopTimeout time.Duration
	EventBuffer int
}

// Coordinator 校验任务并启动运行。自身无可变状态，可并发使用。
type Coordinator struct {
	opts Options
}

// New 构造协调器。
func New(opts Options) *Coordinator {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	return &Coordinator{opts: opts}
}

// StartCribDrag 启动 crib-drag 运行。
func (c *Coordinator) StartCribDrag(ctx context.Context, job Job) (*Run, error) {
	job.Mode = contract.ModeCribDrag
	return c.Start(ctx, job)
}

// StartBruteForce 启动暴力搜索运行。
func (c *Coordinator) StartBruteForce(ctx context.Context, job Job) (*Run, error) {
	job.Mode = contract.ModeBruteForce
	return c.Start(ctx, job)
}

// StartHybrid 启动 crib-drag + 暴力搜索运行。
func (c *Coordinator) StartHybrid(ctx context.Context, job Job) (*Run, error) {
	job.Mode = contract.ModeHybrid
	return c.Start(ctx, job)
}

// Start 按 job.Mode 分派。校验失败时同步返回，不启动任何任务。
func (c *Coordinator) Start(ctx context.Context, job Job) (*Run, error) {
	if err := Validate(job); err != nil {
		diag.Report(c.opts.Logger, "coordinator", "validate failed", err, job.ID, "")
		return nil, err
	}
	if c.opts.Scorer == nil {
		return nil, fmt.Errorf("%w: scorer factory missing", contract.ErrConfiguration)
	}
	job = job.withDefaults()
	if strings.TrimSpace(job.ID) == "" {
		job.ID = uuid.NewString()
	}
	// 未指定种子时随机选取，并记入汇总以便复现
	if job.Mode != contract.ModeCribDrag && job.Seed == 0 {
		job.Seed = keyspace.FreshSeed()
	}
	alpha, err := codec.NewAlphabet(job.Alphabet)
	if err != nil {
		return nil, err
	}
	scorer, err := c.opts.Scorer(job.Targets, job.Words)
	if err != nil {
		return nil, fmt.Errorf("%w: scorer: %w", contract.ErrConfiguration, err)
	}
	var searchScorer contract.Scorer = scorer
	if job.Mode == contract.ModeHybrid {
		if searchScorer, err = c.opts.Scorer(job.searchTargets(), job.Words); err != nil {
			return nil, fmt.Errorf("%w: scorer: %w", contract.ErrConfiguration, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &Run{
		job:          job,
		alpha:        alpha,
		scorer:       scorer,
		searchScorer: searchScorer,
		logger:       c.opts.Logger,
		stopTimeout:  c.opts.StopTimeout,
		parent:       ctx,
		cancel:       cancel,
		emit:         newEmitter(c.opts.EventBuffer),
		top:          NewTopK(job.TopK),
		done:         make(chan struct{}),
		start:        time.Now(),
	}
	if job.MaxDuration > 0 {
		r.deadline = time.AfterFunc(job.MaxDuration, func() { r.halt("deadline") })
	}
	go r.loop(runCtx)
	return r, nil
}

// Run: 一次运行的句柄。
type Run struct {
	job          Job
	alpha        *codec.Alphabet
	scorer       contract.Scorer
	searchScorer contract.Scorer
	logger       *diag.Logger
	stopTimeout  time.Duration

	parent   context.Context
	cancel   context.CancelFunc
	deadline *time.Timer
	stopOnce sync.Once
	emit     *emitter
	done     chan struct{}
	start    time.Time

	mu        sync.Mutex
	top       *TopK
	processed uint64
	failures  []string
	reason    string
	settled   bool // 工作已自然结束；之后到达的停止原因不再生效
	summary   contract.Summary
}

// ID 返回运行 id。
func (r *Run) ID() string { return r.job.ID }

// Job 返回补齐默认值后的任务配置。
func (r *Run) Job() Job { return r.job }

// Events 返回调用方事件流；终态事件（complete|stopped）之后关闭。
// progress 在缓冲满时丢弃，result/failure/终态事件不丢。
func (r *Run) Events() <-chan contract.Event { return r.emit.out }

// Done 在运行结束（汇总已就绪）时关闭。
func (r *Run) Done() <-chan struct{} { return r.done }

// Stop 请求停止并最多等待 StopTimeout；幂等。返回是否在时限内结束。
func (r *Run) Stop() bool {
	r.stopOnce.Do(func() { r.halt("stop") })
	t := time.NewTimer(r.stopTimeout)
	defer t.Stop()
	select {
	case <-r.done:
		return true
	case <-t.C:
		if r.logger != nil {
			r.logger.WarnKV("coordinator", "stop timeout", r.job.ID, map[string]string{"timeout": r.stopTimeout.String()})
		}
		return false
	}
}

// Wait 阻塞到运行结束并返回汇总。
func (r *Run) Wait() contract.Summary {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.summary
	s.Top = append([]contract.ScoredResult(nil), s.Top...)
	s.Failures = append([]string(nil), s.Failures...)
	return s
}

// Top 返回当前 top-K 快照。
func (r *Run) Top() []contract.ScoredResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.top.Items()
}

// Processed 返回已评估的候选数。
func (r *Run) Processed() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed
}

// halt 记录首个停止原因并取消运行。
func (r *Run) halt(reason string) {
	r.mu.Lock()
	if r.reason == "" && !r.settled {
		r.reason = reason
	}
	r.mu.Unlock()
	r.cancel()
}

func (r *Run) loop(ctx context.Context) {
	defer close(r.done)
	defer r.cancel()
	timer := (*diag.Timer)(nil)
	if r.logger != nil {
		timer = r.logger.StartWithKV("coordinator", "run", r.job.ID, "", map[string]string{
			"mode":    string(r.job.Mode),
			"workers": fmt.Sprintf("%d", r.job.Workers),
			"seed":    strconv.FormatUint(r.job.Seed, 10),
		})
	}
	if t := diag.GetTerminal(); t != nil {
		t.RunStart(string(r.job.Mode), r.job.Workers)
	}

	var err error
	switch r.job.Mode {
	case contract.ModeCribDrag:
		err = r.runCribDrag(ctx)
	case contract.ModeBruteForce:
		err = r.runPhases(ctx)
	case contract.ModeHybrid:
		if err = r.runHybridCrib(ctx); err == nil && ctx.Err() == nil {
			err = r.runPhases(ctx)
		}
	}
	if err != nil && ctx.Err() == nil {
		code := diag.Report(r.logger, "coordinator", "run failed", err, r.job.ID, "")
		r.mu.Lock()
		r.failures = append(r.failures, fmt.Sprintf("%s: %v", code, err))
		r.mu.Unlock()
	}
	r.settle(err == nil && ctx.Err() == nil)
	if r.deadline != nil {
		r.deadline.Stop()
	}
	s := r.finish()
	if timer != nil {
		timer.Finish(s.State, int64(s.Processed))
	}
	diag.IncOp("coordinator", "run", "success")
	if t := diag.GetTerminal(); t != nil {
		t.RunFinish(s.State, s.Processed, s.Elapsed)
	}
	typ := contract.EventComplete
	if s.State == string(contract.EventStopped) {
		typ = contract.EventStopped
	}
	r.emit.close(contract.Event{Type: typ, JobID: r.job.ID, Summary: &s, At: time.Now()})
}

// settle 在全部阶段结束后调用。done 表示结束时运行 ctx 未被取消：
// 此前竞争写入的停止原因（如刚触发的时限）作废，运行按完成汇总。
func (r *Run) settle(done bool) {
	if !done {
		return
	}
	r.mu.Lock()
	r.settled = true
	r.reason = ""
	r.mu.Unlock()
}

// finish 生成汇总。存在停止原因（或父 ctx 已取消）时状态为 stopped。
func (r *Run) finish() contract.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reason == "" && !r.settled && r.parent.Err() != nil {
		r.reason = "context"
	}
	state := string(contract.EventComplete)
	if r.reason != "" {
		state = string(contract.EventStopped)
	}
	elapsed := time.Since(r.start)
	r.summary = contract.Summary{
		JobID:      r.job.ID,
		Mode:       r.job.Mode,
		State:      state,
		Reason:     r.reason,
		Processed:  r.processed,
		Elapsed:    elapsed,
		KeysPerSec: rate(r.processed, elapsed),
		Seed:       r.job.Seed,
		Failures:   append([]string(nil), r.failures...),
		Top:        r.top.Items(),
	}
	return r.summary
}

func rate(n uint64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

// offer 将结果并入 top-K；被接受时转发给调用方并检查分数阈值。
func (r *Run) offer(res contract.ScoredResult) bool {
	r.mu.Lock()
	accepted := r.top.Offer(res)
	best, _ := r.top.Best()
	r.mu.Unlock()
	if !accepted {
		return false
	}
	diag.SetBestScore(best)
	if t := diag.GetTerminal(); t != nil {
		t.Result(res.Key, res.Score, res.DecryptedSample)
	}
	rc := res.Clone()
	r.emit.must(contract.Event{Type: contract.EventResult, JobID: r.job.ID, TaskID: res.TaskID, Result: &rc, At: time.Now()})
	if r.job.ScoreThreshold > 0 && res.Score >= r.job.ScoreThreshold {
		r.halt("threshold")
	}
	return true
}

// failure 记录任务失败并转发。
func (r *Run) failure(ev contract.Event) {
	r.mu.Lock()
	r.failures = append(r.failures, fmt.Sprintf("task %d: %s", ev.TaskID, ev.Err))
	r.mu.Unlock()
	ev.JobID = r.job.ID
	r.emit.must(ev)
}

// progress 累加计数并（尽力）通知调用方。
func (r *Run) progress(delta, total uint64, keyLength int, percent float64) {
	r.mu.Lock()
	r.processed += delta
	processed := r.processed
	best, _ := r.top.Best()
	r.mu.Unlock()
	kps := rate(processed, time.Since(r.start))
	if t := diag.GetTerminal(); t != nil {
		t.Progress(processed, total, kps, best)
	}
	r.emit.progress(contract.Event{
		Type:  contract.EventProgress,
		JobID: r.job.ID,
		Progress: &contract.Progress{
			Delta:      delta,
			Processed:  processed,
			Total:      total,
			Percent:    percent,
			KeysPerSec: kps,
			Best:       best,
			KeyLength:  keyLength,
		},
		At: time.Now(),
	})
}
