package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	cfgpkg "k4ai/internal/config"
	"k4ai/internal/coordinator"
	"k4ai/internal/diag"
	"k4ai/internal/server"
)

// listen 可在测试中替换为随机端口。
var listen = net.Listen

const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	addr      string
	maxJobs   int
	eventRate float64
}

func (a *app) newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP/WebSocket 服务：提交任务、订阅事件、导出结果",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", "", "监听地址 host:port（覆盖配置）")
	fl.IntVar(&f.maxJobs, "max-jobs", 0, "同时运行的任务上限（覆盖配置）")
	fl.Float64Var(&f.eventRate, "event-rate", 0, "每个 WebSocket 连接每秒推送的 progress 上限（覆盖配置）")
	return cmd
}

func (a *app) runServe(ctx context.Context, f serveFlags) error {
	start := time.Now()
	var over cfgpkg.Config
	over.Server.Addr = f.addr
	over.Server.MaxJobs = f.maxJobs
	over.Server.EventRate = f.eventRate
	cfg, err := a.loadConfig(over)
	if err != nil {
		return a.configError("配置解析失败", nil, err)
	}
	logger := newLogger(cfg)
	defer logger.Close()

	parts, err := cfgpkg.Build(cfg)
	if err != nil {
		logger.Error("cli", string(diag.Classify(err)), "first error", &start)
		return a.configError("装配失败", &cfg, err)
	}
	if logger.Enabled(diag.Debug) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(server.Options{
		Coordinator: coordinator.New(coordinator.Options{Scorer: parts.Scorer, Logger: logger}),
		Template:    cfgpkg.JobTemplate(cfg),
		Exporter:    parts.Exporter,
		Writer:      parts.Writer,
		Logger:      logger,
		EventRate:   cfg.Server.EventRate,
		EventBurst:  cfg.Server.EventBurst,
		MaxJobs:     cfg.Server.MaxJobs,

		SubmitPerMinute: cfg.Server.SubmitRPM,
		SubmitBurst:     cfg.Server.SubmitBurst,
	})

	ln, err := listen("tcp", cfg.Server.Addr)
	if err != nil {
		return withCode(exitConfig, fmt.Errorf("监听失败: %w", err))
	}
	hs := &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	logger.InfoKV("cli", "serving", "", map[string]string{"addr": ln.Addr().String()})
	fprintf(a.stderr, "k4ai 服务已启动: http://%s\n", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- hs.Serve(ln) }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			diag.Report(logger, "cli", "serve failed", err, "", "")
			return withCode(exitFailure, err)
		}
		return nil
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// 先停止接收请求（WebSocket 连接会被劫持，不受 Shutdown 等待），再停止全部运行
	_ = hs.Shutdown(sctx)
	if err := srv.Shutdown(sctx); err != nil {
		logger.WarnKV("cli", "shutdown incomplete", "", map[string]string{"error": err.Error()})
	}
	logger.InfoFinish("cli", "server stopped", start, 0)
	return nil
}
