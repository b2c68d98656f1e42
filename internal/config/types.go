package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"k4ai/internal/keyspace"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 均使用 snake_case；未知字段在解析期失败。
type Config struct {
	// Mode 通常由子命令决定；serve 下为空。
	Mode     string `json:"mode" yaml:"mode" validate:"omitempty,oneof=cribdrag bruteforce hybrid"`
	Alphabet string `json:"alphabet" yaml:"alphabet" validate:"required"`
	Input    Input  `json:"input" yaml:"input"`

	Search    Search    `json:"search" yaml:"search"`
	Heuristic Heuristic `json:"heuristic" yaml:"heuristic"`
	Logging   Logging   `json:"logging" yaml:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components" yaml:"components"`
	// 各组件 Options 子树，转为 JSON 后传入工厂严格解码。
	Options Options `json:"options" yaml:"options"`

	Server Server `json:"server" yaml:"server"`
}

// Input: 密文与 crib 来源；文本与文件二选一，文件 "-" 表示 STDIN。
type Input struct {
	Ciphertext     string `json:"ciphertext" yaml:"ciphertext" validate:"excluded_with=CiphertextFile"`
	CiphertextFile string `json:"ciphertext_file" yaml:"ciphertext_file"`
	Crib           string `json:"crib" yaml:"crib" validate:"excluded_with=CribFile"`
	CribFile       string `json:"crib_file" yaml:"crib_file"`
	// KeepCase: 为 false 时密文、crib 与线索统一转为大写。
	KeepCase bool `json:"keep_case" yaml:"keep_case"`
}

// Search: 搜索参数（零值表示使用协调器默认）。
type Search struct {
	MinKeyLength    int      `json:"min_key_length" yaml:"min_key_length" validate:"gte=0"`
	KeyLength       int      `json:"key_length" yaml:"key_length" validate:"gte=0"`
	KeyLengthMax    int      `json:"key_length_max" yaml:"key_length_max" validate:"gte=0"`
	Workers         int      `json:"workers" yaml:"workers" validate:"gte=0,lte=1024"`
	Targets         []string `json:"targets" yaml:"targets" validate:"dive,required"`
	Words           []string `json:"words" yaml:"words" validate:"dive,required"`
	ScoreThreshold  float64  `json:"score_threshold" yaml:"score_threshold" validate:"gte=0"`
	MaxDuration     Duration `json:"max_duration" yaml:"max_duration" validate:"gte=0"`
	MaxKeysPerTask  uint64   `json:"max_keys_per_task" yaml:"max_keys_per_task"`
	Discipline      string   `json:"discipline" yaml:"discipline" validate:"omitempty,oneof=auto exhaustive heuristic"`
	ExhaustiveLimit uint64   `json:"exhaustive_limit" yaml:"exhaustive_limit"`
	BatchSize       int      `json:"batch_size" yaml:"batch_size" validate:"gte=0"`
	TopK            int      `json:"top_k" yaml:"top_k" validate:"gte=0"`
	SampleLen       int      `json:"sample_len" yaml:"sample_len" validate:"gte=0"`
	Seed            uint64   `json:"seed" yaml:"seed"`
	PrefixLen       int      `json:"prefix_len" yaml:"prefix_len" validate:"gte=0"`
	PrefixThreshold float64  `json:"prefix_threshold" yaml:"prefix_threshold" validate:"gte=0"`
}

// Heuristic: 启发式生成器参数。
type Heuristic struct {
	Weights       keyspace.Weights `json:"weights" yaml:"weights"`
	TopLetterBias float64          `json:"top_letter_bias" yaml:"top_letter_bias" validate:"gte=0,lte=1"`
	AdaptRate     float64          `json:"adapt_rate" yaml:"adapt_rate" validate:"gte=0"`
}

// Logging: 日志等级与目录；Dir 为 "-" 时仅输出到 stderr。
type Logging struct {
	Level string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `json:"dir" yaml:"dir"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Scorer   string `json:"scorer" yaml:"scorer"`
	Exporter string `json:"exporter" yaml:"exporter"`
	Reader   string `json:"reader" yaml:"reader"`
	Writer   string `json:"writer" yaml:"writer"`
}

// Options: 各组件的原样 Options。整棵子树替换，不做深度合并。
type Options struct {
	Scorer   map[string]any `json:"scorer,omitempty" yaml:"scorer,omitempty"`
	Exporter map[string]any `json:"exporter,omitempty" yaml:"exporter,omitempty"`
	Reader   map[string]any `json:"reader,omitempty" yaml:"reader,omitempty"`
	Writer   map[string]any `json:"writer,omitempty" yaml:"writer,omitempty"`
}

// Server: serve 子命令的监听与事件推送参数。
type Server struct {
	Addr string `json:"addr" yaml:"addr" validate:"omitempty,hostname_port"`
	// EventRate/EventBurst: 每个 WebSocket 连接的 progress 推送速率（条/秒）；result 与终态不受限。
	EventRate  float64 `json:"event_rate" yaml:"event_rate" validate:"gte=0"`
	EventBurst int     `json:"event_burst" yaml:"event_burst" validate:"gte=0"`
	// MaxJobs: 同时运行的任务上限。
	MaxJobs int `json:"max_jobs" yaml:"max_jobs" validate:"gte=0"`
	// SubmitRPM/SubmitBurst: 每个客户端地址每分钟可提交的任务数；0 表示不限。
	SubmitRPM   int `json:"submit_rpm" yaml:"submit_rpm" validate:"gte=0"`
	SubmitBurst int `json:"submit_burst" yaml:"submit_burst" validate:"gte=0"`
}

// Duration: 以 "90s"/"5m" 文本表示的时长。
type Duration time.Duration

// Std 返回 time.Duration。
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"90s\": %w", err)
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
