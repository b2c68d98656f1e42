package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "k4ai/internal/config"
	"k4ai/pkg/contract"
)

// "WEAREATBERLINCLOCKNOW" 以 KEY 加密
const keyCipher = "GIYBIYDFCBPGXGJYGIXSU"

// invoke 在临时工作目录中执行一次命令。
func invoke(t *testing.T, ctx context.Context, args ...string) (int, string, string) {
	t.Helper()
	var out, errb bytes.Buffer
	base := []string{"--status=false", "--log-dir", "-", "--log-level", "error"}
	code := run(ctx, append(append([]string{}, args...), base...), &out, &errb)
	return code, out.String(), errb.String()
}

func inTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestBruteExport(t *testing.T) {
	dir := inTemp(t)
	out := filepath.Join(dir, "exports")
	code, stdout, stderr := invoke(t, context.Background(),
		"brute", "-c", strings.ToLower(keyCipher), "-l", "3", "--discipline", "exhaustive",
		"--workers", "2", "--export", "--output-dir", out)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "KEY")
	assert.Contains(t, stdout, "17576")
	assert.Contains(t, stderr, "kryptos-key-KEY.json")

	b, err := os.ReadFile(filepath.Join(out, "kryptos-key-KEY.json"))
	require.NoError(t, err)
	var rec contract.ExportRecord
	require.NoError(t, json.Unmarshal(b, &rec))
	assert.Equal(t, "KEY", rec.Key)
	assert.Equal(t, keyCipher, rec.Ciphertext, "导出应带原始密文")
	assert.Equal(t, "ABCDEFGHIJKLMNOPQRSTUVWXYZ", rec.Alphabet)
}

func TestCribFromFileJSON(t *testing.T) {
	dir := inTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ct.txt"), []byte("LXFOPVEFRNHR\n"), 0o644))
	code, stdout, stderr := invoke(t, context.Background(),
		"crib", "ct.txt", "--crib", "attackatdawn", "--min-key-length", "3", "--json")
	require.Equal(t, exitOK, code, stderr)

	var sum contract.Summary
	require.NoError(t, json.Unmarshal([]byte(stdout), &sum))
	assert.Equal(t, contract.ModeCribDrag, sum.Mode)
	assert.Equal(t, "complete", sum.State)
	keys := make([]string, 0, len(sum.Top))
	for _, r := range sum.Top {
		keys = append(keys, r.Key)
	}
	assert.Contains(t, keys, "LEMON")
}

// 配置文件 → ENV → CLI 逐层覆盖
func TestConfigLayering(t *testing.T) {
	dir := inTemp(t)
	yml := "mode: cribdrag\ninput:\n  ciphertext: " + keyCipher + "\nsearch:\n  key_length: 2\n  workers: 1\n  discipline: exhaustive\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yml), 0o644))
	t.Setenv("K4AI_KEY_LENGTH", "3")

	code, stdout, stderr := invoke(t, context.Background(), "brute", "--workers", "3", "--json")
	require.Equal(t, exitOK, code, stderr)
	var sum contract.Summary
	require.NoError(t, json.Unmarshal([]byte(stdout), &sum))
	assert.Equal(t, contract.ModeBruteForce, sum.Mode, "子命令决定模式")
	assert.Equal(t, uint64(17576), sum.Processed, "ENV 覆盖文件中的 key_length")
	assert.Equal(t, "KEY", sum.Top[0].Key)
}

func TestConfigJSONEnv(t *testing.T) {
	inTemp(t)
	t.Setenv(configJSONKey, `{"input":{"ciphertext":"`+keyCipher+`"},"search":{"key_length":3,"discipline":"exhaustive"}}`)
	code, stdout, stderr := invoke(t, context.Background(), "brute", "--json")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, `"key": "KEY"`)

	t.Setenv(configJSONKey, `{"unknown":1}`)
	code, _, _ = invoke(t, context.Background(), "brute")
	assert.Equal(t, exitConfig, code, "K4AI_CONFIG_JSON 未知字段")
}

func TestConfigErrors(t *testing.T) {
	inTemp(t)
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"缺少密文", []string{"brute", "-l", "3"}, "有效配置"},
		{"crib 过短", []string{"crib", "-c", "ABCDEF", "--crib", "AB"}, "crib"},
		{"配置文件不存在", []string{"brute", "--config", "missing.yaml"}, "missing.yaml"},
		{"未知旗标", []string{"brute", "--nope"}, "nope"},
		{"密文重复给出", []string{"brute", "-c", "ABC", "ct.txt"}, "mutually exclusive"},
		{"非法日志级别", []string{"brute", "-c", "ABC", "-l", "2", "--log-level", "loud"}, "logging.level"},
		{"穷举溢出", []string{"brute", "-c", "ABC", "-l", "14", "--discipline", "exhaustive"}, "key space"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out, errb bytes.Buffer
			args := append(append([]string{}, tc.args...), "--status=false", "--log-dir", "-")
			code := run(context.Background(), args, &out, &errb)
			assert.Equal(t, exitConfig, code)
			assert.Contains(t, errb.String(), tc.want, "stderr 应指明原因")
		})
	}
}

func TestSignalExit(t *testing.T) {
	inTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	code, _, _ := invoke(t, ctx, "brute", "-c", keyCipher, "-l", "8", "--discipline", "heuristic")
	assert.Equal(t, exitSignal, code, "信号中断应退出 2")
}

func TestExitFor(t *testing.T) {
	assert.NoError(t, exitFor(contract.Summary{State: "complete"}))
	assert.NoError(t, exitFor(contract.Summary{State: "stopped", Reason: "deadline"}))

	var xe *exitError
	require.ErrorAs(t, exitFor(contract.Summary{State: "stopped", Reason: "context"}), &xe)
	assert.Equal(t, exitSignal, xe.code, "ctx 取消")

	require.ErrorAs(t, exitFor(contract.Summary{State: "complete", Failures: []string{"task: boom"}}), &xe)
	assert.Equal(t, exitFailure, xe.code, "只有失败没有结果")
	assert.ErrorIs(t, xe, contract.ErrTaskFailure)

	assert.NoError(t, exitFor(contract.Summary{
		State: "complete", Failures: []string{"task: boom"},
		Top: []contract.ScoredResult{{Key: "A"}},
	}), "有结果时单个任务失败不影响退出码")
}

func TestInitConfig(t *testing.T) {
	dir := inTemp(t)
	code, _, stderr := invoke(t, context.Background(), "init-config", "gen")
	require.Equal(t, exitOK, code, stderr)

	cfg, err := cfgpkg.Load(filepath.Join(dir, "gen", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, cfgpkg.DefaultTemplateConfig(), cfg, "生成的 config.yaml 应与模板一致")
	env, err := os.ReadFile(filepath.Join(dir, "gen", ".env"))
	require.NoError(t, err)
	assert.Equal(t, cfgpkg.EnvTemplate, string(env), ".env 模板")

	// 不覆盖已有配置
	code, _, stderr = invoke(t, context.Background(), "init-config", "gen")
	assert.Equal(t, exitConfig, code, "不覆盖已有配置")
	assert.Contains(t, stderr, "config.yaml")

	code, stdout, _ := invoke(t, context.Background(), "init-config", "-")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "mode: hybrid")

	// 缺省为当前目录，生成的模板可直接运行
	code, _, _ = invoke(t, context.Background(), "init-config")
	require.Equal(t, exitOK, code)
	_, err = os.Stat(filepath.Join(dir, "config.yaml"))
	assert.NoError(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := inTemp(t)
	for _, k := range []string{"K4AI_T_PLAIN", "K4AI_T_QUOTED", "K4AI_T_SINGLE", "K4AI_T_EXPORT"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	t.Setenv("K4AI_T_KEEP", "outer")
	content := strings.Join([]string{
		"# comment",
		"",
		"K4AI_T_PLAIN = a b ",
		`K4AI_T_QUOTED="x\ny \"z\""`,
		`K4AI_T_SINGLE='raw\n'`,
		"export K4AI_T_EXPORT=1",
		"K4AI_T_KEEP=inner",
		"=novalue",
		"garbage",
	}, "\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o644))
	require.NoError(t, loadDotEnv(".env"))

	assert.Equal(t, "a b", os.Getenv("K4AI_T_PLAIN"))
	assert.Equal(t, "x\ny \"z\"", os.Getenv("K4AI_T_QUOTED"))
	assert.Equal(t, `raw\n`, os.Getenv("K4AI_T_SINGLE"))
	assert.Equal(t, "1", os.Getenv("K4AI_T_EXPORT"))
	assert.Equal(t, "outer", os.Getenv("K4AI_T_KEEP"), "不覆盖已存在的变量")
	assert.NoError(t, loadDotEnv("missing.env"))
}

func TestRenderSummary(t *testing.T) {
	job := cfgpkg.JobTemplate(cfgpkg.Defaults())
	job.Crib = "BERLINCLOCK"
	s := renderSummary(job, contract.Summary{
		Mode: contract.ModeHybrid, State: "stopped", Reason: "threshold", Processed: 42, Seed: 1234,
		Top: []contract.ScoredResult{
			{Key: "KRYPTOS", KeyLength: 7, Score: 88.5, DecryptedSample: "BERLINCLOCK", Positions: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, Strategy: contract.StrategyCrib},
			{Key: "ABC", KeyLength: 3, Score: 1},
		},
	})
	assert.Contains(t, s, "KRYPTOS")
	assert.Contains(t, s, "stopped (threshold)")
	assert.Contains(t, s, "(+2)")
	assert.Contains(t, s, "BERLINCLOCK")
	assert.Contains(t, s, "#2")
	assert.Contains(t, s, "1234", "汇总应显示实际种子")

	s = renderSummary(job, contract.Summary{Mode: contract.ModeBruteForce, State: "complete", Failures: []string{"task: x"}})
	assert.Contains(t, s, "未找到候选密钥")
	assert.Contains(t, s, "failure: task: x")
	assert.NotContains(t, s, "种子")
}

func TestServe(t *testing.T) {
	inTemp(t)
	addrc := make(chan string, 1)
	orig := listen
	listen = func(network, _ string) (net.Listener, error) {
		ln, err := net.Listen(network, "127.0.0.1:0")
		if err == nil {
			addrc <- ln.Addr().String()
		}
		return ln, err
	}
	t.Cleanup(func() { listen = orig })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		code, _, _ := invoke(t, ctx, "serve", "--max-jobs", "2")
		done <- code
	}()

	var addr string
	select {
	case addr = <-addrc:
	case <-time.After(10 * time.Second):
		t.Fatal("服务未启动")
	}
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post("http://"+addr+"/v1/jobs/bruteforce", "application/json",
		strings.NewReader(`{"ciphertext":"`+keyCipher+`","keyLength":8,"discipline":"heuristic"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	cancel()
	select {
	case code := <-done:
		assert.Equal(t, exitOK, code)
	case <-time.After(15 * time.Second):
		t.Fatal("服务未退出")
	}
}

func TestServeConfigError(t *testing.T) {
	inTemp(t)
	code, _, stderr := invoke(t, context.Background(), "serve", "--addr", "not-an-address")
	assert.Equal(t, exitConfig, code, "非法监听地址")
	assert.Contains(t, stderr, "server.addr")
}
