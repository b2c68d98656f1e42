package config

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"k4ai/internal/keyspace"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 密文为 K4 公开密文，crib 为 BERLINCLOCK；
// - 评分线索使用 K4 已公开的明文片段；
// - 选项给出全部键与中性默认值，便于直接修改。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.Mode = "hybrid"
	cfg.Input = Input{
		Ciphertext: "OBKRUOXOGHULBSOLIFBBWFLRVQQPRNGKSSOTWTQSJQSSEKZZWATJKLUDIAWINFBNYPVTTMZFPKWGDKZXTJCDIGKUHUAUEKCAR",
		Crib:       "BERLINCLOCK",
	}
	cfg.Search.KeyLength = 4
	cfg.Search.KeyLengthMax = 5
	cfg.Search.Targets = []string{"BERLINCLOCK", "EASTNORTHEAST"}
	cfg.Search.Words = []string{"BERLIN", "CLOCK", "EAST", "NORTH", "NORTHEAST"}
	cfg.Search.MaxKeysPerTask = 2_000_000
	cfg.Search.MaxDuration = Duration(10 * time.Minute)
	cfg.Heuristic = Heuristic{
		Weights:       keyspace.DefaultWeights(),
		TopLetterBias: keyspace.DefaultTopLetterBias,
		AdaptRate:     0.05,
	}
	cfg.Options = Options{
		Scorer: map[string]any{
			"exact_weight":     100,
			"partial_weight":   80,
			"freq_weight":      1,
			"shape_weight":     1,
			"key_repeat_bonus": 1.5,
		},
		Exporter: map[string]any{"indent": 2},
		Reader:   map[string]any{"buf_size": 65536, "max_bytes": 1 << 20, "keep_space": false},
		Writer:   map[string]any{"output_dir": "out", "atomic": true, "no_clobber": false},
	}
	return cfg
}

const templateHeader = `# k4ai 配置模板（init-config 生成）
# 优先级：默认值 < 本文件 < 环境变量 K4AI_* < 命令行参数
# mode 通常由子命令（crib/brute/hybrid）决定，此处仅作默认值。
`

// TemplateYAML 渲染带注释头的 YAML 模板。
func TemplateYAML() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(templateHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(DefaultTemplateConfig()); err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return buf.Bytes(), nil
}

// EnvTemplate: .env 模板；所有键均注释，取消注释后生效。
const EnvTemplate = `# k4ai 环境变量（启动时加载，不覆盖已存在的变量）
# K4AI_CONFIG_JSON={"search":{"workers":8}}
# K4AI_LOG_LEVEL=info
# K4AI_LOG_DIR=logs
# K4AI_WORKERS=4
# K4AI_KEY_LENGTH=4
# K4AI_KEY_LENGTH_MAX=6
# K4AI_TARGETS=BERLINCLOCK,EASTNORTHEAST
# K4AI_SCORE_THRESHOLD=0
# K4AI_MAX_DURATION=10m
# K4AI_SEED=1
# K4AI_OUTPUT_DIR=out
# K4AI_SERVER_ADDR=:8080
# K4AI_SERVER_SUBMIT_RPM=60
# K4AI_OPTIONS__SCORER_JSON={"exact_weight":100}
`
