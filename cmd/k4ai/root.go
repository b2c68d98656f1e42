package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "k4ai/internal/config"
	"k4ai/internal/diag"
)

// globalFlags: 所有子命令共享的旗标。
type globalFlags struct {
	config   string
	logLevel string
	logDir   string
	status   bool
}

// app: 一次命令执行的上下文。
type app struct {
	stdout io.Writer
	stderr io.Writer
	flags  globalFlags
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:   "k4ai",
		Short: "Vigenère 密钥恢复：crib-drag 与启发式并行暴力搜索",
		Long: `k4ai 通过已知明文（crib）拖拽与按语言统计评分的并行暴力搜索恢复 Vigenère 密钥。

配置优先级：默认值 < 配置文件（--config / K4AI_CONFIG_FILE / ./config.yaml）
< K4AI_CONFIG_JSON < 环境变量 K4AI_* < 命令行参数。`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.config, "config", "", "配置文件路径（.yaml/.yml/.json）；缺省读取 ./config.yaml 或 ./config.json（若存在）")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "日志级别 debug|info|warn|error（覆盖配置）")
	pf.StringVar(&a.flags.logDir, "log-dir", "", "日志目录；\"-\" 表示仅写 stderr（覆盖配置）")
	pf.BoolVar(&a.flags.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")

	root.AddCommand(
		a.newSearchCmd(modeCrib),
		a.newSearchCmd(modeBrute),
		a.newSearchCmd(modeHybrid),
		a.newServeCmd(),
		a.newInitCmd(),
	)
	return root
}

// loadConfig 依次叠加 默认值 → 文件 → K4AI_CONFIG_JSON → ENV → CLI。
func (a *app) loadConfig(over cfgpkg.Config) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()

	path := a.flags.config
	if path == "" {
		path = os.Getenv(configFileKey)
	}
	if path == "" {
		for _, p := range []string{"config.yaml", "config.yml", "config.json"} {
			if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
				path = p
				break
			}
		}
	}
	if path != "" {
		base, err := cfgpkg.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	if s := strings.TrimSpace(os.Getenv(configJSONKey)); s != "" {
		base, err := cfgpkg.LoadJSON("", []byte(s))
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	env, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	cfg = cfgpkg.Merge(cfg, env)

	over.Logging.Level = a.flags.logLevel
	over.Logging.Dir = a.flags.logDir
	return cfgpkg.Merge(cfg, over), nil
}

// newLogger 按最终配置构造日志器；目录 "-" 表示仅写 stderr。
func newLogger(cfg cfgpkg.Config) *diag.Logger {
	dir := cfg.Logging.Dir
	if dir == "-" {
		dir = ""
	}
	return diag.NewLoggerDir("", cfg.Logging.Level, dir)
}

// setupTerminal 安装终端状态输出，返回卸载函数。
func (a *app) setupTerminal() func() {
	t := diag.NewTerminal(a.stderr, a.flags.status)
	diag.SetTerminal(t)
	return func() { diag.SetTerminal(nil) }
}

// configError 打印有效配置便于诊断，并标记退出码 3。
func (a *app) configError(stage string, cfg *cfgpkg.Config, err error) error {
	if cfg != nil && diag.Classify(err) == diag.CodeConfig {
		_ = dumpConfig(a.stderr, *cfg)
	}
	return withCode(exitConfig, fmt.Errorf("%s: %w", stage, err))
}
