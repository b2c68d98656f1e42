package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k4ai/internal/keyspace"
	"k4ai/pkg/contract"
)

// 解析完整 config.json
func TestLoadJSON(t *testing.T) {
	cfg, err := LoadJSON("../../testdata/config/basic.json", nil)
	require.NoError(t, err)
	assert.Equal(t, "bruteforce", cfg.Mode)
	assert.Equal(t, 3, cfg.Search.KeyLength)
	assert.Equal(t, 30*time.Second, cfg.Search.MaxDuration.Std())
	assert.Equal(t, keyspace.Weights{Frequency: 1}, cfg.Heuristic.Weights)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, float64(120), cfg.Options.Scorer["exact_weight"])
	require.NoError(t, Validate(Merge(Defaults(), cfg)))
}

// 按扩展名选择 YAML
func TestLoadYAML(t *testing.T) {
	cfg, err := Load("../../testdata/config/basic.yaml")
	require.NoError(t, err)
	assert.Equal(t, "cribdrag", cfg.Mode)
	assert.Equal(t, "k4.txt", cfg.Input.CiphertextFile)
	assert.Equal(t, 2*time.Minute, cfg.Search.MaxDuration.Std())
	assert.Equal(t, 4, cfg.Options.Exporter["indent"])
	assert.Equal(t, "warn", cfg.Logging.Level)
	require.NoError(t, Validate(Merge(Defaults(), cfg)))
}

func TestLoadUnknownFields(t *testing.T) {
	_, err := LoadJSON("", []byte(`{"unknown":1}`))
	assert.ErrorIs(t, err, contract.ErrConfiguration, "未知 JSON 字段")
	_, err = LoadYAML("", []byte("search:\n  wrkers: 2\n"))
	assert.ErrorIs(t, err, contract.ErrConfiguration, "未知 YAML 字段")
	_, err = LoadJSON("", []byte(`{"search":{"max_duration":30}}`))
	assert.ErrorIs(t, err, contract.ErrConfiguration, "时长必须是字符串")
	_, err = LoadJSON("", nil)
	assert.ErrorIs(t, err, contract.ErrConfiguration, "空 JSON")
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist, "文件不存在")

	cfg, err := LoadYAML("", []byte("# 仅注释\n"))
	require.NoError(t, err, "空 YAML 文档等价于空配置")
	assert.Equal(t, Config{}, cfg)
}

// ENV 覆盖部分字段
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"K4AI_MODE=hybrid",
		"K4AI_CRIB=BERLINCLOCK",
		"K4AI_KEY_LENGTH=4",
		"K4AI_WORKERS=3",
		"K4AI_TARGETS=A, B ,,C",
		"K4AI_MAX_DURATION=90s",
		"K4AI_SEED=42",
		"K4AI_SCORE_THRESHOLD=1500.5",
		"K4AI_KEEP_CASE=true",
		"K4AI_OUTPUT_DIR=exports",
		"K4AI_SERVER_SUBMIT_RPM=30",
		"K4AI_OPTIONS__SCORER_JSON={\"exact_weight\":50}",
		"K4AI_CONFIG_JSON={}",
		"OTHER_KEY=1",
		"K4AI_=x",
	}
	over, err := EnvOverlay(env)
	require.NoError(t, err)
	assert.Equal(t, "hybrid", over.Mode)
	assert.Equal(t, "BERLINCLOCK", over.Input.Crib)
	assert.Equal(t, 4, over.Search.KeyLength, "ENV KEY_LENGTH")
	assert.Equal(t, 3, over.Search.Workers)
	assert.Equal(t, []string{"A", "B", "C"}, over.Search.Targets)
	assert.Equal(t, 90*time.Second, over.Search.MaxDuration.Std())
	assert.Equal(t, uint64(42), over.Search.Seed, "ENV SEED")
	assert.Equal(t, 1500.5, over.Search.ScoreThreshold)
	assert.True(t, over.Input.KeepCase, "ENV KEEP_CASE")
	assert.Equal(t, map[string]any{"output_dir": "exports"}, over.Options.Writer)
	assert.Equal(t, float64(50), over.Options.Scorer["exact_weight"])
	assert.Equal(t, 30, over.Server.SubmitRPM, "ENV SERVER_SUBMIT_RPM")
}

func TestEnvOverlayMalformed(t *testing.T) {
	_, err := EnvOverlay([]string{"K4AI_WORKERS=many", "K4AI_MAX_DURATION=soon"})
	require.ErrorIs(t, err, contract.ErrConfiguration)
	assert.Contains(t, err.Error(), "K4AI_WORKERS")
	assert.Contains(t, err.Error(), "K4AI_MAX_DURATION")

	_, err = EnvOverlay([]string{"K4AI_OPTIONS__WRITER_JSON=[1]"})
	assert.ErrorIs(t, err, contract.ErrConfiguration)
}

// 分层：Defaults < file < ENV < CLI；零值不覆盖
func TestMergeLayering(t *testing.T) {
	file := Config{
		Mode:   "bruteforce",
		Input:  Input{CiphertextFile: "k4.txt"},
		Search: Search{KeyLength: 3, Workers: 2, Targets: []string{"X"}},
		Options: Options{
			Writer: map[string]any{"output_dir": "from-file"},
		},
	}
	env := Config{Search: Search{Workers: 6}, Input: Input{Ciphertext: "ABC"}}
	cli := Config{Search: Search{KeyLength: 5}, Logging: Logging{Level: " debug "}}

	got := Merge(Merge(Merge(Defaults(), file), env), cli)
	assert.Equal(t, "bruteforce", got.Mode)
	assert.Equal(t, 5, got.Search.KeyLength, "CLI 覆盖 ENV")
	assert.Equal(t, 6, got.Search.Workers, "ENV 覆盖文件")
	assert.Equal(t, []string{"X"}, got.Search.Targets)
	assert.Equal(t, "ABC", got.Input.Ciphertext)
	assert.Empty(t, got.Input.CiphertextFile, "后层文本输入清除前层文件输入")
	assert.Equal(t, "debug", got.Logging.Level)
	assert.Equal(t, "from-file", got.Options.Writer["output_dir"])
	assert.Equal(t, Defaults().Search.TopK, got.Search.TopK, "零值不覆盖默认值")

	// 合并结果不与覆盖层共享底层存储
	file.Search.Targets[0] = "Y"
	file.Options.Writer["output_dir"] = "mutated"
	assert.Equal(t, []string{"X"}, got.Search.Targets)
	assert.Equal(t, "from-file", got.Options.Writer["output_dir"])
}

func TestValidateErrors(t *testing.T) {
	base := func() Config {
		c := Defaults()
		c.Mode = "hybrid"
		c.Input = Input{Ciphertext: "OBKR", Crib: "BERLIN"}
		c.Search.KeyLength = 2
		return c
	}
	require.NoError(t, Validate(base()))

	cases := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"未知模式", func(c *Config) { c.Mode = "vigenere" }, "mode"},
		{"字母表为空", func(c *Config) { c.Alphabet = "" }, "alphabet"},
		{"字母表重复", func(c *Config) { c.Alphabet = "AAB" }, "duplicate"},
		{"并发为负", func(c *Config) { c.Search.Workers = -1 }, "search.workers"},
		{"未知纪律", func(c *Config) { c.Search.Discipline = "greedy" }, "search.discipline"},
		{"偏置越界", func(c *Config) { c.Heuristic.TopLetterBias = 1.5 }, "heuristic.top_letter_bias"},
		{"日志等级", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"监听地址", func(c *Config) { c.Server.Addr = "nowhere" }, "server.addr"},
		{"文本与文件同时给出", func(c *Config) { c.Input.CiphertextFile = "k4.txt" }, "input.ciphertext"},
		{"空线索", func(c *Config) { c.Search.Targets = []string{"A", ""} }, "search.targets"},
		{"区间颠倒", func(c *Config) { c.Search.KeyLength = 5; c.Search.KeyLengthMax = 3 }, "key_length_max"},
		{"缺少密文", func(c *Config) { c.Input.Ciphertext = "" }, "ciphertext"},
		{"缺少 crib", func(c *Config) { c.Input.Crib = "" }, "crib"},
		{"缺少密钥长度", func(c *Config) { c.Search.KeyLength = 0 }, "key_length"},
		{"未注册评分器", func(c *Config) { c.Components.Scorer = "german" }, "german"},
		{"未注册导出器", func(c *Config) { c.Components.Exporter = "xml" }, "xml"},
		{"STDIN 复用", func(c *Config) {
			c.Input = Input{CiphertextFile: "-", CribFile: "-"}
		}, "stdin"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mut(&c)
			err := Validate(c)
			require.ErrorIs(t, err, contract.ErrConfiguration)
			assert.Contains(t, err.Error(), tc.want, "错误信息应指向字段")
		})
	}

	// serve 不要求输入
	serve := Defaults()
	assert.NoError(t, Validate(serve))
}

// Assemble 读取文件输入并统一大小写
func TestAssemble(t *testing.T) {
	dir := t.TempDir()
	ct := filepath.Join(dir, "k4.txt")
	require.NoError(t, os.WriteFile(ct, []byte("obkr uoxo ghul\n"), 0o644))

	cfg := Defaults()
	cfg.Mode = "cribdrag"
	cfg.Input = Input{CiphertextFile: ct, Crib: "berlin"}
	cfg.Search.Targets = []string{"berlinclock"}
	cfg.Search.MaxDuration = Duration(time.Minute)
	cfg.Options.Writer = map[string]any{"output_dir": filepath.Join(dir, "out")}

	job, parts, err := Assemble(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, contract.ModeCribDrag, job.Mode)
	assert.Equal(t, "OBKR UOXO GHUL", job.Ciphertext)
	assert.Equal(t, "BERLIN", job.Crib)
	assert.Equal(t, []string{"BERLINCLOCK"}, job.Targets)
	assert.Equal(t, time.Minute, job.MaxDuration)
	assert.Equal(t, cfg.Search.Workers, job.Workers)

	require.NotNil(t, parts.Scorer)
	sc, err := parts.Scorer(job.Targets, nil)
	require.NoError(t, err)
	assert.Greater(t, sc.ScoreText("XBERLINCLOCKX"), sc.ScoreText("XQWERTYUIOPAX"))
	assert.Equal(t, "json", parts.Exporter.Ext())
	assert.NotNil(t, parts.Writer)

	cfg.Mode = ""
	_, _, err = Assemble(context.Background(), cfg)
	assert.ErrorIs(t, err, contract.ErrConfiguration)

	cfg.Mode = "cribdrag"
	cfg.Input.CiphertextFile = filepath.Join(dir, "missing.txt")
	_, _, err = Assemble(context.Background(), cfg)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// 组件选项在启动前严格校验
func TestBuildRejectsOptions(t *testing.T) {
	cfg := Defaults()
	cfg.Options.Scorer = map[string]any{"exact_wieght": 1}
	_, err := Build(cfg)
	assert.ErrorIs(t, err, contract.ErrConfiguration)

	cfg = Defaults()
	cfg.Options.Writer = map[string]any{}
	_, err = Build(cfg)
	assert.ErrorIs(t, err, contract.ErrConfiguration, "writer 缺少 output_dir")

	cfg = Defaults()
	cfg.Components.Exporter = "yaml"
	cfg.Options.Exporter = map[string]any{"indent": 4}
	parts, err := Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, "yaml", parts.Exporter.Ext())
}

func TestNormalize(t *testing.T) {
	j := JobTemplate(Defaults())
	j.Ciphertext, j.Crib = " abc ", "xyz"
	j = Normalize(j, false)
	assert.Equal(t, "ABC", j.Ciphertext)
	assert.Equal(t, "XYZ", j.Crib)

	j.Alphabet = "abcdefghijklmnopqrstuvwxyz"
	j.Ciphertext = "abc"
	assert.Equal(t, "abc", Normalize(j, false).Ciphertext, "小写字母表不转大写")

	j.Alphabet = DefaultAlphabet
	assert.Equal(t, "abc", Normalize(j, true).Ciphertext)
}

// 模板可被重新解析且通过校验
func TestTemplateRoundTrip(t *testing.T) {
	raw, err := TemplateYAML()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# k4ai 配置模板")
	assert.Contains(t, string(raw), "max_duration: 10m0s")

	back, err := LoadYAML("", raw)
	require.NoError(t, err)
	assert.Equal(t, DefaultTemplateConfig(), back, "模板读回不一致")
	require.NoError(t, Validate(back))

	over, err := EnvOverlay(nil)
	require.NoError(t, err)
	assert.Equal(t, Config{}, over)
	assert.Contains(t, EnvTemplate, "K4AI_CONFIG_JSON")
}

func TestSplitComma(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitComma("a, b , ,c"))
	assert.Nil(t, splitComma(""))
}
