package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"k4ai/internal/coordinator"
	"k4ai/internal/diag"
	"k4ai/internal/keyspace"
	"k4ai/pkg/contract"
)

// EnvPrefix: 环境变量前缀。
const EnvPrefix = "K4AI_"

// DefaultAlphabet: 标准 26 字母表。
const DefaultAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：Mode 与输入不设默认（由子命令/文件/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Alphabet: DefaultAlphabet,
		Search: Search{
			MinKeyLength:    1,
			Workers:         coordinator.DefaultWorkers,
			Discipline:      string(contract.DisciplineAuto),
			ExhaustiveLimit: coordinator.DefaultExhaustiveLimit,
			BatchSize:       1000,
			TopK:            coordinator.DefaultTopK,
			SampleLen:       20,
		},
		Logging: Logging{Level: "info", Dir: diag.DefaultLogDir},
		Components: Components{
			Scorer:   "english",
			Exporter: "json",
			Reader:   "fs",
			Writer:   "fs",
		},
		Options: Options{
			Writer: map[string]any{"output_dir": "out"},
		},
		Server: Server{Addr: ":8080", EventRate: 10, EventBurst: 5, MaxJobs: 8, SubmitRPM: 60, SubmitBurst: 10},
	}
}

// Load 按扩展名选择解析器：.yaml/.yml 为 YAML，其余为 JSON。
func Load(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path, nil)
	default:
		return LoadJSON(path, nil)
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	r, closeFn, err := source(path, raw)
	if err != nil {
		return cfg, err
	}
	defer closeFn()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: json: %w", contract.ErrConfiguration, err)
	}
	return cfg, nil
}

// LoadYAML 从文件路径或原始 YAML 解析 Config（KnownFields 拒绝未知字段）。
func LoadYAML(path string, raw []byte) (Config, error) {
	var cfg Config
	r, closeFn, err := source(path, raw)
	if err != nil {
		return cfg, err
	}
	defer closeFn()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("%w: yaml: %w", contract.ErrConfiguration, err)
	}
	return cfg, nil
}

func source(path string, raw []byte) (io.Reader, func(), error) {
	switch {
	case len(raw) > 0:
		return bytes.NewReader(raw), func() {}, nil
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { _ = f.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("%w: no config source provided", contract.ErrConfiguration)
	}
}

// Merge 按优先级合并（后者覆盖前者）。
// 零值视为“未设置”不覆盖；切片与 Options 子树为整体替换，不做深度合并。
func Merge(base, over Config) Config {
	out := base
	setStr(&out.Mode, over.Mode)
	setStr(&out.Alphabet, over.Alphabet)

	// 输入：文本与文件互斥，后层给出其一时清除前层的另一项
	if over.Input.Ciphertext != "" || over.Input.CiphertextFile != "" {
		out.Input.Ciphertext = over.Input.Ciphertext
		out.Input.CiphertextFile = over.Input.CiphertextFile
	}
	if over.Input.Crib != "" || over.Input.CribFile != "" {
		out.Input.Crib = over.Input.Crib
		out.Input.CribFile = over.Input.CribFile
	}
	if over.Input.KeepCase {
		out.Input.KeepCase = true
	}

	s, o := &out.Search, over.Search
	setInt(&s.MinKeyLength, o.MinKeyLength)
	setInt(&s.KeyLength, o.KeyLength)
	setInt(&s.KeyLengthMax, o.KeyLengthMax)
	setInt(&s.Workers, o.Workers)
	if len(o.Targets) > 0 {
		s.Targets = cloneStrings(o.Targets)
	}
	if len(o.Words) > 0 {
		s.Words = cloneStrings(o.Words)
	}
	setFloat(&s.ScoreThreshold, o.ScoreThreshold)
	if o.MaxDuration != 0 {
		s.MaxDuration = o.MaxDuration
	}
	setU64(&s.MaxKeysPerTask, o.MaxKeysPerTask)
	setStr(&s.Discipline, o.Discipline)
	setU64(&s.ExhaustiveLimit, o.ExhaustiveLimit)
	setInt(&s.BatchSize, o.BatchSize)
	setInt(&s.TopK, o.TopK)
	setInt(&s.SampleLen, o.SampleLen)
	setU64(&s.Seed, o.Seed)
	setInt(&s.PrefixLen, o.PrefixLen)
	setFloat(&s.PrefixThreshold, o.PrefixThreshold)

	h, oh := &out.Heuristic, over.Heuristic
	if oh.Weights != (keyspace.Weights{}) {
		h.Weights = oh.Weights
	}
	setFloat(&h.TopLetterBias, oh.TopLetterBias)
	setFloat(&h.AdaptRate, oh.AdaptRate)

	setStr(&out.Logging.Level, strings.TrimSpace(over.Logging.Level))
	setStr(&out.Logging.Dir, over.Logging.Dir)

	// 组件名（空不覆盖）
	setStr(&out.Components.Scorer, over.Components.Scorer)
	setStr(&out.Components.Exporter, over.Components.Exporter)
	setStr(&out.Components.Reader, over.Components.Reader)
	setStr(&out.Components.Writer, over.Components.Writer)

	// Options（存在即替换）
	if over.Options.Scorer != nil {
		out.Options.Scorer = cloneMap(over.Options.Scorer)
	}
	if over.Options.Exporter != nil {
		out.Options.Exporter = cloneMap(over.Options.Exporter)
	}
	if over.Options.Reader != nil {
		out.Options.Reader = cloneMap(over.Options.Reader)
	}
	if over.Options.Writer != nil {
		out.Options.Writer = cloneMap(over.Options.Writer)
	}

	setStr(&out.Server.Addr, over.Server.Addr)
	setFloat(&out.Server.EventRate, over.Server.EventRate)
	setInt(&out.Server.EventBurst, over.Server.EventBurst)
	setInt(&out.Server.MaxJobs, over.Server.MaxJobs)
	setInt(&out.Server.SubmitRPM, over.Server.SubmitRPM)
	setInt(&out.Server.SubmitBurst, over.Server.SubmitBurst)
	return out
}

// EnvOverlay 从环境变量构造覆盖层（K4AI_*）。数值格式非法时返回 ErrConfiguration。
// 组件 Options 以原样 JSON 提供：K4AI_OPTIONS__<COMPONENT>_JSON。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	var errs []error
	num := func(key, val string, set func(string) error) {
		if err := set(strings.TrimSpace(val)); err != nil {
			errs = append(errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, key, val, err))
		}
	}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[len(EnvPrefix):eq]
		val := kv[eq+1:]
		tv := strings.TrimSpace(val)
		switch key {
		case "MODE":
			over.Mode = tv
		case "ALPHABET":
			over.Alphabet = tv
		case "CIPHERTEXT":
			over.Input.Ciphertext = tv
		case "CIPHERTEXT_FILE":
			over.Input.CiphertextFile = tv
		case "CRIB":
			over.Input.Crib = tv
		case "CRIB_FILE":
			over.Input.CribFile = tv
		case "KEEP_CASE":
			num(key, val, boolInto(&over.Input.KeepCase))
		case "MIN_KEY_LENGTH":
			num(key, val, intInto(&over.Search.MinKeyLength))
		case "KEY_LENGTH":
			num(key, val, intInto(&over.Search.KeyLength))
		case "KEY_LENGTH_MAX":
			num(key, val, intInto(&over.Search.KeyLengthMax))
		case "WORKERS":
			num(key, val, intInto(&over.Search.Workers))
		case "TARGETS":
			over.Search.Targets = splitComma(val)
		case "WORDS":
			over.Search.Words = splitComma(val)
		case "SCORE_THRESHOLD":
			num(key, val, floatInto(&over.Search.ScoreThreshold))
		case "MAX_DURATION":
			num(key, val, func(s string) error { return over.Search.MaxDuration.parse(s) })
		case "MAX_KEYS_PER_TASK":
			num(key, val, u64Into(&over.Search.MaxKeysPerTask))
		case "DISCIPLINE":
			over.Search.Discipline = tv
		case "EXHAUSTIVE_LIMIT":
			num(key, val, u64Into(&over.Search.ExhaustiveLimit))
		case "BATCH_SIZE":
			num(key, val, intInto(&over.Search.BatchSize))
		case "TOP_K":
			num(key, val, intInto(&over.Search.TopK))
		case "SAMPLE_LEN":
			num(key, val, intInto(&over.Search.SampleLen))
		case "SEED":
			num(key, val, u64Into(&over.Search.Seed))
		case "PREFIX_LEN":
			num(key, val, intInto(&over.Search.PrefixLen))
		case "PREFIX_THRESHOLD":
			num(key, val, floatInto(&over.Search.PrefixThreshold))
		case "LOG_LEVEL":
			over.Logging.Level = tv
		case "LOG_DIR":
			over.Logging.Dir = tv
		case "COMPONENTS_SCORER":
			over.Components.Scorer = tv
		case "COMPONENTS_EXPORTER":
			over.Components.Exporter = tv
		case "COMPONENTS_READER":
			over.Components.Reader = tv
		case "COMPONENTS_WRITER":
			over.Components.Writer = tv
		case "OUTPUT_DIR":
			if tv != "" {
				over.Options.Writer = map[string]any{"output_dir": tv}
			}
		case "SERVER_ADDR":
			over.Server.Addr = tv
		case "SERVER_EVENT_RATE":
			num(key, val, floatInto(&over.Server.EventRate))
		case "SERVER_MAX_JOBS":
			num(key, val, intInto(&over.Server.MaxJobs))
		case "SERVER_SUBMIT_RPM":
			num(key, val, intInto(&over.Server.SubmitRPM))
		default:
			if comp, ok := strings.CutPrefix(key, "OPTIONS__"); ok && strings.HasSuffix(comp, "_JSON") && tv != "" {
				comp = strings.TrimSuffix(comp, "_JSON")
				m, err := decodeObject(tv)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
					continue
				}
				switch comp {
				case "SCORER":
					over.Options.Scorer = m
				case "EXPORTER":
					over.Options.Exporter = m
				case "READER":
					over.Options.Reader = m
				case "WRITER":
					over.Options.Writer = m
				}
			}
			// 其余键（CONFIG_JSON 等）由调用方处理
		}
	}
	if len(errs) > 0 {
		return over, fmt.Errorf("%w: %w", contract.ErrConfiguration, errors.Join(errs...))
	}
	return over, nil
}

func decodeObject(s string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setU64(dst *uint64, v uint64) {
	if v != 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func intInto(dst *int) func(string) error {
	return func(s string) (err error) { *dst, err = strconv.Atoi(s); return }
}

func u64Into(dst *uint64) func(string) error {
	return func(s string) (err error) { *dst, err = strconv.ParseUint(s, 10, 64); return }
}

func floatInto(dst *float64) func(string) error {
	return func(s string) (err error) { *dst, err = strconv.ParseFloat(s, 64); return }
}

func boolInto(dst *bool) func(string) error {
	return func(s string) (err error) { *dst, err = strconv.ParseBool(s); return }
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// cloneMap: 浅拷贝顶层键；嵌套值在运行期只读。
func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
