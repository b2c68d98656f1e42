package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "k4ai/internal/config"
	"k4ai/internal/coordinator"
	"k4ai/internal/diag"
	"k4ai/pkg/contract"
)

// searchMode: 子命令名与运行模式的对应。
type searchMode struct {
	use   string
	mode  contract.Mode
	short string
	crib  bool
	brute bool
}

var (
	modeCrib = searchMode{
		use: "crib", mode: contract.ModeCribDrag, crib: true,
		short: "crib-drag：沿密文滑动已知明文，推导并排序候选密钥",
	}
	modeBrute = searchMode{
		use: "brute", mode: contract.ModeBruteForce, brute: true,
		short: "暴力搜索：穷举或启发式生成密钥，按明文统计评分",
	}
	modeHybrid = searchMode{
		use: "hybrid", mode: contract.ModeHybrid, crib: true, brute: true,
		short: "混合：先以 crib 候选播种，再进行暴力搜索",
	}
)

// searchFlags: 搜索子命令的命令行覆盖项；零值表示未设置。
type searchFlags struct {
	alphabet     string
	ciphertext   string
	crib         string
	cribFile     string
	keepCase     bool
	minKeyLength int
	keyLength    int
	keyLengthMax int
	workers      int
	targets      []string
	words        []string
	threshold    float64
	maxDuration  time.Duration
	maxKeys      uint64
	discipline   string
	topK         int
	seed         uint64
	exportBest   bool
	format       string
	outputDir    string
	jsonOut      bool
}

func (a *app) newSearchCmd(m searchMode) *cobra.Command {
	var f searchFlags
	cmd := &cobra.Command{
		Use:   m.use + " [ciphertext-file|-]",
		Short: m.short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSearch(cmd.Context(), m, f, args)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.alphabet, "alphabet", "", "字母表（有序、无重复，至少 2 个符号）")
	fl.StringVarP(&f.ciphertext, "ciphertext", "c", "", "密文文本（与位置参数文件二选一）")
	fl.BoolVar(&f.keepCase, "keep-case", false, "保留输入大小写（默认在全大写字母表下统一转为大写）")
	fl.IntVar(&f.workers, "workers", 0, "并行任务数")
	fl.StringSliceVar(&f.targets, "targets", nil, "评分目标模式，逗号分隔")
	fl.StringSliceVar(&f.words, "words", nil, "常见词表，逗号分隔")
	fl.Float64Var(&f.threshold, "threshold", 0, "分数阈值；达到即提前停止（0 表示不启用）")
	fl.DurationVar(&f.maxDuration, "max-duration", 0, "运行时长上限（如 30s、5m）")
	fl.IntVar(&f.topK, "top-k", 0, "保留的最佳结果数")
	fl.BoolVar(&f.exportBest, "export", false, "运行结束后导出最佳结果")
	fl.StringVar(&f.format, "format", "", "导出格式 json|yaml（覆盖配置）")
	fl.StringVar(&f.outputDir, "output-dir", "", "导出目录（覆盖配置）")
	fl.BoolVar(&f.jsonOut, "json", false, "以 JSON 输出运行汇总（替代结果卡片）")
	if m.crib {
		fl.StringVar(&f.crib, "crib", "", "已知明文片段（至少 3 个符号）")
		fl.StringVar(&f.cribFile, "crib-file", "", "从文件读取 crib；\"-\" 表示 STDIN")
		fl.IntVar(&f.minKeyLength, "min-key-length", 0, "候选密钥的最小长度")
	}
	if m.brute {
		fl.IntVarP(&f.keyLength, "key-length", "l", 0, "密钥长度")
		fl.IntVar(&f.keyLengthMax, "key-length-max", 0, "密钥长度上限；大于 --key-length 时逐个长度搜索")
		fl.Uint64Var(&f.maxKeys, "max-keys", 0, "每个任务的候选上限（0 表示不限）")
		fl.StringVar(&f.discipline, "discipline", "", "密钥生成方式 auto|exhaustive|heuristic")
		fl.Uint64Var(&f.seed, "seed", 0, "启发式随机种子（0 表示随机选取，实际种子见汇总）")
	}
	return cmd
}

// overlay 把命令行参数转为配置覆盖层。
func (f searchFlags) overlay(m searchMode, args []string) cfgpkg.Config {
	var c cfgpkg.Config
	c.Mode = string(m.mode)
	c.Alphabet = f.alphabet
	switch {
	case f.ciphertext != "":
		c.Input.Ciphertext = f.ciphertext
	case len(args) == 1:
		c.Input.CiphertextFile = args[0]
	}
	c.Input.Crib = f.crib
	if f.crib == "" {
		c.Input.CribFile = f.cribFile
	}
	c.Input.KeepCase = f.keepCase
	s := &c.Search
	s.MinKeyLength = f.minKeyLength
	s.KeyLength = f.keyLength
	s.KeyLengthMax = f.keyLengthMax
	s.Workers = f.workers
	s.Targets = f.targets
	s.Words = f.words
	s.ScoreThreshold = f.threshold
	s.MaxDuration = cfgpkg.Duration(f.maxDuration)
	s.MaxKeysPerTask = f.maxKeys
	s.Discipline = f.discipline
	s.TopK = f.topK
	s.Seed = f.seed
	c.Components.Exporter = f.format
	return c
}

func (a *app) runSearch(ctx context.Context, m searchMode, f searchFlags, args []string) error {
	start := time.Now()
	if f.ciphertext != "" && len(args) == 1 {
		return withCode(exitConfig, fmt.Errorf("%w: --ciphertext and a ciphertext file are mutually exclusive", contract.ErrConfiguration))
	}
	cfg, err := a.loadConfig(f.overlay(m, args))
	if err != nil {
		return a.configError("配置解析失败", nil, err)
	}
	if f.outputDir != "" {
		w := map[string]any{}
		for k, v := range cfg.Options.Writer {
			w[k] = v
		}
		w["output_dir"] = f.outputDir
		cfg.Options.Writer = w
	}

	logger := newLogger(cfg)
	defer logger.Close()

	job, parts, err := cfgpkg.Assemble(ctx, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return withCode(exitSignal, ctx.Err())
		}
		logger.Error("cli", string(diag.Classify(err)), "first error", &start)
		return a.configError("装配失败", &cfg, err)
	}
	logger.DebugStart("config", "effective", "", "", map[string]string{
		"mode":       string(job.Mode),
		"alphabet":   job.Alphabet,
		"workers":    fmt.Sprintf("%d", job.Workers),
		"key_length": fmt.Sprintf("%d-%d", job.KeyLength, job.KeyLengthMax),
		"discipline": string(job.Discipline),
		"scorer":     cfg.Components.Scorer,
		"exporter":   cfg.Components.Exporter,
	})

	defer a.setupTerminal()()
	coord := coordinator.New(coordinator.Options{Scorer: parts.Scorer, Logger: logger})
	r, err := coord.Start(ctx, job)
	if err != nil {
		logger.Error("cli", string(diag.Classify(err)), "first error", &start)
		return a.configError("启动失败", &cfg, err)
	}
	// 事件已由协调器写入终端与日志；此处只需排空通道
	for range r.Events() {
	}
	sum := r.Wait()
	logger.InfoKV("cli", "run finished", sum.JobID, map[string]string{
		"state":     sum.State,
		"reason":    sum.Reason,
		"processed": fmt.Sprintf("%d", sum.Processed),
	})

	if f.jsonOut {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return withCode(exitFailure, err)
		}
	} else {
		fprintf(a.stdout, "%s\n", renderSummary(job, sum))
	}

	if f.exportBest && len(sum.Top) > 0 {
		// 被信号中止时仍导出已找到的最佳结果
		name, err := exportBest(context.WithoutCancel(ctx), parts, job, sum.Top[0])
		if err != nil {
			diag.Report(logger, "cli", "export failed", err, sum.JobID, "")
			return withCode(exitFailure, fmt.Errorf("导出失败: %w", err))
		}
		fprintf(a.stderr, "已导出: %s\n", name)
	}

	diag.ObserveDuration("cli", "run", time.Since(start).Milliseconds())
	return exitFor(sum)
}

// exitFor 由运行汇总决定退出码：信号中止为 2；无结果且有任务失败为 1。
func exitFor(sum contract.Summary) error {
	if sum.State == string(contract.EventStopped) && sum.Reason == "context" {
		return withCode(exitSignal, errors.New("已中止"))
	}
	if len(sum.Failures) > 0 && len(sum.Top) == 0 {
		return withCode(exitFailure, fmt.Errorf("%w: %s", contract.ErrTaskFailure, sum.Failures[0]))
	}
	return nil
}

// exportBest 以配置的 exporter 编码记录并交给 writer 落盘。
func exportBest(ctx context.Context, parts cfgpkg.Parts, job coordinator.Job, best contract.ScoredResult) (string, error) {
	rec := contract.NewExportRecord(best, job.Alphabet, job.Ciphertext, job.Crib)
	body, err := parts.Exporter.Encode(rec)
	if err != nil {
		return "", err
	}
	name := contract.ArtifactFor(best.Key, parts.Exporter.Ext())
	if err := parts.Writer.Write(ctx, name, bytes.NewReader(body)); err != nil {
		return "", err
	}
	diag.IncOp("cli", "export", "success")
	return string(name), nil
}
