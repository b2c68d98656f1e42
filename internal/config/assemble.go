package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"k4ai/internal/codec"
	"k4ai/internal/coordinator"
	"k4ai/pkg/contract"
	"k4ai/pkg/registry"
)

var validate = newValidator()

// newValidator: 错误信息中的字段名使用 yaml 标签（与配置文件一致）。
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate 对最小必要边界做静态校验；错误均包装 ErrConfiguration。
// Mode 为空（serve）时不要求输入。
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %s", contract.ErrConfiguration, describe(err))
	}
	if _, err := codec.NewAlphabet(cfg.Alphabet); err != nil {
		return err
	}
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{contract.ErrConfiguration}, args...)...)
	}
	s := cfg.Search
	if s.KeyLengthMax > 0 && s.KeyLengthMax < s.KeyLength {
		return bad("search.key_length_max(%d) < search.key_length(%d)", s.KeyLengthMax, s.KeyLength)
	}
	if s.KeyLengthMax > 0 && s.KeyLength == 0 {
		return bad("search.key_length_max requires search.key_length")
	}

	d := Defaults()
	if name := effName(cfg.Components.Scorer, d.Components.Scorer); registry.Scorer[name] == nil {
		return bad("scorer %q not registered (have %v)", name, registry.Names(registry.Scorer))
	}
	if name := effName(cfg.Components.Exporter, d.Components.Exporter); registry.Exporter[name] == nil {
		return bad("exporter %q not registered (have %v)", name, registry.Names(registry.Exporter))
	}
	if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Reader[name] == nil {
		return bad("reader %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
		return bad("writer %q not registered", name)
	}

	if cfg.Mode == "" {
		return nil
	}
	in := cfg.Input
	if in.Ciphertext == "" && in.CiphertextFile == "" {
		return bad("input.ciphertext or input.ciphertext_file is required")
	}
	switch contract.Mode(cfg.Mode) {
	case contract.ModeCribDrag, contract.ModeHybrid:
		if in.Crib == "" && in.CribFile == "" {
			return bad("input.crib or input.crib_file is required in %s mode", cfg.Mode)
		}
		if in.CiphertextFile == "-" && in.CribFile == "-" {
			return bad("stdin '-' cannot feed both ciphertext and crib")
		}
	}
	switch contract.Mode(cfg.Mode) {
	case contract.ModeBruteForce, contract.ModeHybrid:
		if s.KeyLength < 1 {
			return bad("search.key_length must be >= 1 in %s mode", cfg.Mode)
		}
	}
	return nil
}

// describe 把 validator 的字段错误压缩为一行。
func describe(err error) string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err.Error()
	}
	parts := make([]string, 0, len(ves))
	for _, fe := range ves {
		ns := fe.Namespace()
		if _, rest, ok := strings.Cut(ns, "."); ok {
			ns = rest
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", ns, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", ns, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// Parts: 由注册表构造的组件实例。
type Parts struct {
	Scorer   coordinator.ScorerFactory
	Exporter contract.Exporter
	Reader   contract.Reader
	Writer   contract.Writer
}

// Build 校验配置并构造组件（不读取输入）。serve 直接使用。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Build(cfg Config) (Parts, error) {
	if err := Validate(cfg); err != nil {
		return Parts{}, err
	}
	d := Defaults()
	sn := effName(cfg.Components.Scorer, d.Components.Scorer)
	en := effName(cfg.Components.Exporter, d.Components.Exporter)
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	wn := effName(cfg.Components.Writer, d.Components.Writer)

	raws := map[string]json.RawMessage{}
	for name, m := range map[string]map[string]any{
		"scorer": cfg.Options.Scorer, "exporter": cfg.Options.Exporter,
		"reader": cfg.Options.Reader, "writer": cfg.Options.Writer,
	} {
		raw, err := rawOf(m)
		if err != nil {
			return Parts{}, fmt.Errorf("%w: options.%s: %w", contract.ErrConfiguration, name, err)
		}
		raws[name] = raw
	}

	newScorer := registry.Scorer[sn]
	scorerRaw := raws["scorer"]
	// 先构造一次，让选项错误在启动前暴露
	if _, err := newScorer(scorerRaw, nil, nil); err != nil {
		return Parts{}, err
	}
	exp, err := registry.Exporter[en](raws["exporter"])
	if err != nil {
		return Parts{}, err
	}
	rd, err := registry.Reader[rn](raws["reader"])
	if err != nil {
		return Parts{}, err
	}
	wr, err := registry.Writer[wn](raws["writer"])
	if err != nil {
		return Parts{}, err
	}
	return Parts{
		Scorer: func(targets, words []string) (contract.Scorer, error) {
			return newScorer(scorerRaw, targets, words)
		},
		Exporter: exp,
		Reader:   rd,
		Writer:   wr,
	}, nil
}

// Assemble 构造组件并读取输入，返回可直接交给协调器的 Job。
func Assemble(ctx context.Context, cfg Config) (coordinator.Job, Parts, error) {
	parts, err := Build(cfg)
	if err != nil {
		return coordinator.Job{}, Parts{}, err
	}
	if cfg.Mode == "" {
		return coordinator.Job{}, Parts{}, fmt.Errorf("%w: mode not set", contract.ErrConfiguration)
	}
	job := JobTemplate(cfg)
	job.Ciphertext, err = readInput(ctx, parts.Reader, cfg.Input.Ciphertext, cfg.Input.CiphertextFile)
	if err != nil {
		return coordinator.Job{}, Parts{}, fmt.Errorf("read ciphertext: %w", err)
	}
	job.Crib, err = readInput(ctx, parts.Reader, cfg.Input.Crib, cfg.Input.CribFile)
	if err != nil {
		return coordinator.Job{}, Parts{}, fmt.Errorf("read crib: %w", err)
	}
	return Normalize(job, cfg.Input.KeepCase), parts, nil
}

// JobTemplate 把搜索参数映射为 Job（不含密文与 crib）。
func JobTemplate(cfg Config) coordinator.Job {
	s, h := cfg.Search, cfg.Heuristic
	return coordinator.Job{
		Mode:            contract.Mode(cfg.Mode),
		Alphabet:        cfg.Alphabet,
		MinKeyLength:    s.MinKeyLength,
		KeyLength:       s.KeyLength,
		KeyLengthMax:    s.KeyLengthMax,
		Workers:         s.Workers,
		Targets:         cloneStrings(s.Targets),
		Words:           cloneStrings(s.Words),
		ScoreThreshold:  s.ScoreThreshold,
		MaxDuration:     s.MaxDuration.Std(),
		MaxKeysPerTask:  s.MaxKeysPerTask,
		Discipline:      contract.Discipline(s.Discipline),
		ExhaustiveLimit: s.ExhaustiveLimit,
		BatchSize:       s.BatchSize,
		TopK:            s.TopK,
		SampleLen:       s.SampleLen,
		Seed:            s.Seed,
		PrefixLen:       s.PrefixLen,
		PrefixThreshold: s.PrefixThreshold,
		Weights:         h.Weights,
		TopLetterBias:   h.TopLetterBias,
		AdaptRate:       h.AdaptRate,
	}
}

// Normalize 去除首尾空白，并在字母表不含小写符号且未要求保留大小写时统一转为大写。
func Normalize(j coordinator.Job, keepCase bool) coordinator.Job {
	upper := !keepCase && j.Alphabet == strings.ToUpper(j.Alphabet)
	conv := func(s string) string {
		s = strings.TrimSpace(s)
		if upper {
			s = strings.ToUpper(s)
		}
		return s
	}
	j.Ciphertext = conv(j.Ciphertext)
	j.Crib = conv(j.Crib)
	j.Targets = mapStrings(j.Targets, conv)
	j.Words = mapStrings(j.Words, conv)
	return j
}

func mapStrings(in []string, f func(string) string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = f(s)
	}
	return out
}

func readInput(ctx context.Context, r contract.Reader, inline, path string) (string, error) {
	if inline != "" || path == "" {
		return inline, nil
	}
	return r.ReadText(ctx, path)
}

func rawOf(m map[string]any) (json.RawMessage, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
