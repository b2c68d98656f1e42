package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	cfgpkg "k4ai/internal/config"
)

func (a *app) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir|-]",
		Short: "在目录中生成 config.yaml 与 .env 模板（已存在则不覆盖）；\"-\" 输出到 STDOUT",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			return a.runInit(dir)
		},
	}
}

func (a *app) runInit(dir string) error {
	b, err := cfgpkg.TemplateYAML()
	if err != nil {
		return withCode(exitFailure, err)
	}
	if dir == "-" {
		_, err := a.stdout.Write(b)
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return withCode(exitConfig, fmt.Errorf("生成默认配置失败: %w", err))
	}
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := writeNew(cfgPath, b); err != nil {
		return withCode(exitConfig, fmt.Errorf("生成默认配置失败: %w", err))
	}
	fprintf(a.stderr, "已生成: %s\n", cfgPath)
	envPath := filepath.Join(dir, ".env")
	switch err := writeNew(envPath, []byte(cfgpkg.EnvTemplate)); {
	case err == nil:
		fprintf(a.stderr, "已生成: %s\n", envPath)
	case os.IsExist(err):
		fprintf(a.stderr, "提示：%s 已存在（已跳过）\n", envPath)
	default:
		fprintf(a.stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return nil
}

// writeNew 创建文件并写入；已存在时返回 os.ErrExist，不覆盖。
func writeNew(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// dumpConfig 以 YAML 打印有效配置。
func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "有效配置:\n%s", b)
	return err
}

// loadDotEnv 读取简单的 .env 文件并注入进程环境。
// 规则：
// - 文件不存在时忽略；
// - 跳过空行与 # 注释行；支持可选的 "export " 前缀；
// - 仅按首个 '=' 分割，key/value 去首尾空白；
// - 成对的单/双引号会被去除，双引号内处理 \n \t \r \" \\ 转义；
// - 不覆盖已存在的环境变量。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		val = unquote(strings.TrimSpace(val))
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

func unquote(val string) string {
	if len(val) < 2 {
		return val
	}
	q := val[0]
	if (q != '\'' && q != '"') || val[len(val)-1] != q {
		return val
	}
	val = val[1 : len(val)-1]
	if q == '"' {
		val = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\\`, `\`).Replace(val)
	}
	return val
}
