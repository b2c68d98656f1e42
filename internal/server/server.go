package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"k4ai/internal/coordinator"
	"k4ai/internal/diag"
	jobrate "k4ai/internal/rate"
	"k4ai/pkg/contract"
	"k4ai/pkg/registry"
)

const (
	DefaultEventRate  = 10
	DefaultEventBurst = 5
	DefaultMaxJobs    = 8
	// 已结束任务的保留数量（超出后按结束时间淘汰最旧的）
	defaultRetain = 64
)

// Options: 服务端依赖与限额。
type Options struct {
	Coordinator *coordinator.Coordinator
	// Template: 请求未给出的字段取自此模板（通常来自配置文件）。
	Template coordinator.Job
	// Exporter: export 未指定 format 时使用；Writer 非空时 export?save=true 同时落盘。
	Exporter contract.Exporter
	Writer   contract.Writer
	Logger   *diag.Logger

	EventRate  float64
	EventBurst int
	MaxJobs    int
	// SubmitPerMinute/SubmitBurst: 每个客户端地址的任务提交限额；0 表示不限。
	SubmitPerMinute int
	SubmitBurst     int
}

// Server: 任务管理 + HTTP/WebSocket 前端。
type Server struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	engine *gin.Engine
	submit *jobrate.Gate

	mu   sync.Mutex
	jobs map[string]*entry
}

type entry struct {
	run     *coordinator.Run
	hub     *hub
	created time.Time
	ended   time.Time
}

func (e *entry) finished() bool {
	select {
	case <-e.run.Done():
		return true
	default:
		return false
	}
}

// New 创建服务端；运行的生命周期独立于单个请求，随 Shutdown 结束。
func New(opts Options) *Server {
	if opts.EventRate <= 0 {
		opts.EventRate = DefaultEventRate
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = DefaultEventBurst
	}
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = DefaultMaxJobs
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{opts: opts, ctx: ctx, cancel: cancel, jobs: map[string]*entry{}}
	s.submit = jobrate.NewGate(jobrate.Limits{PerMinute: opts.SubmitPerMinute, Burst: opts.SubmitBurst}, nil)
	s.engine = s.routes()
	return s
}

// Handler 返回 HTTP 处理器。
func (s *Server) Handler() http.Handler { return s.engine }

// Shutdown 停止全部运行并等待其结束（受 ctx 约束）。
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.mu.Lock()
	runs := make([]*coordinator.Run, 0, len(s.jobs))
	for _, e := range s.jobs {
		runs = append(runs, e.run)
	}
	s.mu.Unlock()
	for _, r := range runs {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		jobs := v1.Group("/jobs")
		jobs.POST("/cribdrag", s.handleStart(contract.ModeCribDrag))
		jobs.POST("/bruteforce", s.handleStart(contract.ModeBruteForce))
		jobs.POST("/hybrid", s.handleStart(contract.ModeHybrid))
		jobs.GET("", s.handleList)
		jobs.GET("/:id", s.handleStatus)
		jobs.DELETE("/:id", s.handleStop)
		jobs.GET("/:id/events", s.handleEvents)
		jobs.GET("/:id/export", s.handleExport)
	}
	return r
}

// accessLog: 以 debug 级别记录每个请求。
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		t0 := time.Now()
		c.Next()
		s.opts.Logger.DebugStart("server", c.Request.Method+" "+c.FullPath(), c.Param("id"), "", map[string]string{
			"status": strconv.Itoa(c.Writer.Status()),
			"dur_ms": strconv.FormatInt(time.Since(t0).Milliseconds(), 10),
		})
	}
}

// fail 按错误分类映射 HTTP 状态码。
func (s *Server) fail(c *gin.Context, status int, err error, jobID string) {
	code := diag.Report(s.opts.Logger, "server", c.Request.Method+" "+c.FullPath(), err, jobID, "")
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": string(code)})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, contract.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, contract.ErrConfiguration), errors.Is(err, contract.ErrKeySpaceTooLarge):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var (
	errTooManyJobs = errors.New("too many running jobs")
	errRateLimited = errors.New("job submission rate exceeded")
)

func (s *Server) handleStart(mode contract.Mode) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := jobrate.Key(c.ClientIP())
		if !s.submit.Try(client) {
			s.fail(c, http.StatusTooManyRequests, errRateLimited, "")
			return
		}
		if n := s.submit.Snapshot(client); n >= 0 {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(n))
		}
		var req JobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, http.StatusBadRequest, fmt.Errorf("%w: %w", contract.ErrConfiguration, err), "")
			return
		}
		job := req.apply(s.opts.Template, mode)

		s.mu.Lock()
		if s.runningLocked() >= s.opts.MaxJobs {
			s.mu.Unlock()
			s.fail(c, http.StatusTooManyRequests, errTooManyJobs, "")
			return
		}
		run, err := s.opts.Coordinator.Start(s.ctx, job)
		if err != nil {
			s.mu.Unlock()
			s.fail(c, statusOf(err), err, "")
			return
		}
		e := &entry{run: run, hub: newHub(), created: time.Now()}
		s.jobs[run.ID()] = e
		s.evictLocked()
		s.mu.Unlock()

		go func() {
			e.hub.pump(run.Events())
			s.mu.Lock()
			e.ended = time.Now()
			s.mu.Unlock()
		}()
		s.opts.Logger.InfoKV("server", "job started", run.ID(), map[string]string{"mode": string(mode)})
		c.JSON(http.StatusCreated, gin.H{
			"id":     run.ID(),
			"mode":   mode,
			"status": "/v1/jobs/" + run.ID(),
			"events": "/v1/jobs/" + run.ID() + "/events",
		})
	}
}

func (s *Server) runningLocked() int {
	n := 0
	for _, e := range s.jobs {
		if !e.finished() {
			n++
		}
	}
	return n
}

// evictLocked 淘汰超出保留数量的已结束任务。
func (s *Server) evictLocked() {
	var ended []string
	for id, e := range s.jobs {
		if !e.ended.IsZero() {
			ended = append(ended, id)
		}
	}
	if len(ended) <= defaultRetain {
		return
	}
	sort.Slice(ended, func(i, j int) bool { return s.jobs[ended[i]].ended.Before(s.jobs[ended[j]].ended) })
	for _, id := range ended[:len(ended)-defaultRetain] {
		delete(s.jobs, id)
	}
}

func (s *Server) lookup(id string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contract.ErrJobNotFound, id)
	}
	return e, nil
}

func status(id string, e *entry) JobStatus {
	st := JobStatus{
		ID:        id,
		Mode:      e.run.Job().Mode,
		State:     "running",
		Processed: e.run.Processed(),
		Created:   e.created,
		Top:       e.run.Top(),
	}
	if e.finished() {
		sum := e.run.Wait()
		st.State = sum.State
		st.Processed = sum.Processed
		st.Summary = &sum
	}
	if st.Top == nil {
		st.Top = []contract.ScoredResult{}
	}
	return st
}

func (s *Server) handleList(c *gin.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.jobs))
	entries := make(map[string]*entry, len(s.jobs))
	for id, e := range s.jobs {
		ids = append(ids, id)
		entries[id] = e
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return entries[ids[i]].created.Before(entries[ids[j]].created) })
	out := make([]JobStatus, 0, len(ids))
	for _, id := range ids {
		st := status(id, entries[id])
		st.Top = nil
		out = append(out, st)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

func (s *Server) handleStatus(c *gin.Context) {
	id := c.Param("id")
	e, err := s.lookup(id)
	if err != nil {
		s.fail(c, statusOf(err), err, id)
		return
	}
	c.JSON(http.StatusOK, status(id, e))
}

func (s *Server) handleStop(c *gin.Context) {
	id := c.Param("id")
	e, err := s.lookup(id)
	if err != nil {
		s.fail(c, statusOf(err), err, id)
		return
	}
	if !e.run.Stop() {
		c.JSON(http.StatusAccepted, gin.H{"id": id, "state": "stopping"})
		return
	}
	sum := e.run.Wait()
	c.JSON(http.StatusOK, gin.H{"id": id, "state": sum.State, "reason": sum.Reason, "processed": sum.Processed})
}

// handleExport 导出 top-K 中指定密钥（缺省为最佳结果）的记录。
func (s *Server) handleExport(c *gin.Context) {
	id := c.Param("id")
	e, err := s.lookup(id)
	if err != nil {
		s.fail(c, statusOf(err), err, id)
		return
	}
	exp := s.opts.Exporter
	if f := c.Query("format"); f != "" {
		newExp, ok := registry.Exporter[f]
		if !ok {
			s.fail(c, http.StatusBadRequest, fmt.Errorf("%w: unknown format %q", contract.ErrConfiguration, f), id)
			return
		}
		if exp, err = newExp(nil); err != nil {
			s.fail(c, statusOf(err), err, id)
			return
		}
	}
	if exp == nil {
		exp, _ = registry.Exporter["json"](nil)
	}

	top := e.run.Top()
	key := c.Query("key")
	var found *contract.ScoredResult
	for i := range top {
		if key == "" || top[i].Key == key {
			found = &top[i]
			break
		}
	}
	if found == nil {
		s.fail(c, http.StatusNotFound, fmt.Errorf("%w: no result for key %q", contract.ErrJobNotFound, key), id)
		return
	}
	job := e.run.Job()
	rec := contract.NewExportRecord(*found, job.Alphabet, job.Ciphertext, job.Crib)
	body, err := exp.Encode(rec)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err, id)
		return
	}
	name := contract.ArtifactFor(found.Key, exp.Ext())
	if c.Query("save") == "true" && s.opts.Writer != nil {
		if err := s.opts.Writer.Write(c.Request.Context(), name, bytes.NewReader(body)); err != nil {
			s.fail(c, statusOf(err), err, id)
			return
		}
		diag.IncOp("server", "export", "success")
	}
	ctype := "application/json"
	if exp.Ext() == "yaml" {
		ctype = "application/yaml"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", string(name)))
	c.Data(http.StatusOK, ctype, body)
}
