package coordinator

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"k4ai/internal/codec"
	"k4ai/internal/cribdrag"
	"k4ai/internal/keyspace"
	"k4ai/pkg/contract"
)

const (
	DefaultTopK            = 10
	DefaultWorkers         = 4
	DefaultExhaustiveLimit = 20_000_000
	DefaultStopTimeout     = 5 * time.Second
	DefaultEventBuffer     = 256
)

// Job: 一次运行的不可变配置。零值字段在 Start 时按默认值补齐。
type Job struct {
	ID         string
	Mode       contract.Mode
	Ciphertext string
	Alphabet   string

	// crib-drag / hybrid
	Crib         string
	MinKeyLength int

	// bruteforce / hybrid；KeyLengthMax=0 表示只搜 KeyLength
	KeyLength    int
	KeyLengthMax int

	Workers int
	Targets []string
	Words   []string

	// 早停：任一结果分数 >= ScoreThreshold（>0 时生效）；运行超过 MaxDuration（>0 时生效）
	ScoreThreshold float64
	MaxDuration    time.Duration
	// MaxKeysPerTask: 启发式任务的抽取预算；0 表示直到停止
	MaxKeysPerTask uint64

	Discipline      contract.Discipline
	ExhaustiveLimit uint64
	BatchSize       int
	TopK            int
	SampleLen       int
	Seed            uint64

	PrefixLen       int
	PrefixThreshold float64

	Weights       keyspace.Weights
	TopLetterBias float64
	AdaptRate     float64
}

// withDefaults 返回补齐默认值后的副本。
func (j Job) withDefaults() Job {
	if j.Workers == 0 {
		j.Workers = DefaultWorkers
	}
	if j.TopK == 0 {
		j.TopK = DefaultTopK
	}
	if j.BatchSize == 0 {
		j.BatchSize = 1000
	}
	if j.SampleLen == 0 {
		j.SampleLen = 20
	}
	if j.MinKeyLength == 0 {
		j.MinKeyLength = 1
	}
	if j.Discipline == "" {
		j.Discipline = contract.DisciplineAuto
	}
	if j.ExhaustiveLimit == 0 {
		j.ExhaustiveLimit = DefaultExhaustiveLimit
	}
	if j.KeyLengthMax == 0 {
		j.KeyLengthMax = j.KeyLength
	}
	if j.Weights == (keyspace.Weights{}) {
		j.Weights = keyspace.DefaultWeights()
	}
	if j.TopLetterBias == 0 {
		j.TopLetterBias = keyspace.DefaultTopLetterBias
	}
	j.Targets = append([]string(nil), j.Targets...)
	j.Words = append([]string(nil), j.Words...)
	return j
}

// Validate 在任何任务启动前同步校验；错误均包装 ErrConfiguration。
func Validate(j Job) error {
	j = j.withDefaults()
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{contract.ErrConfiguration}, args...)...)
	}
	alpha, err := codec.NewAlphabet(j.Alphabet)
	if err != nil {
		return err
	}
	if j.Ciphertext == "" {
		return bad("ciphertext is empty")
	}
	if j.Workers < 1 {
		return bad("workers must be >= 1, got %d", j.Workers)
	}
	if j.TopK < 1 {
		return bad("top_k must be >= 1, got %d", j.TopK)
	}
	if j.BatchSize < 1 || j.SampleLen < 1 {
		return bad("batch_size and sample_len must be >= 1")
	}
	if j.ScoreThreshold < 0 || j.MaxDuration < 0 || j.PrefixLen < 0 {
		return bad("score_threshold, max_duration and prefix_len must be >= 0")
	}
	switch j.Mode {
	case contract.ModeCribDrag:
		return validateCrib(j)
	case contract.ModeBruteForce:
		return validateBrute(j, alpha)
	case contract.ModeHybrid:
		if err := validateCrib(j); err != nil {
			return err
		}
		return validateBrute(j, alpha)
	default:
		return bad("unknown mode %q", j.Mode)
	}
}

func validateCrib(j Job) error {
	if n := utf8.RuneCountInString(j.Crib); n < cribdrag.MinCribLength {
		return fmt.Errorf("%w: crib must be at least %d symbols, got %d", contract.ErrConfiguration, cribdrag.MinCribLength, n)
	}
	if j.MinKeyLength < 1 {
		return fmt.Errorf("%w: min_key_length must be >= 1", contract.ErrConfiguration)
	}
	return nil
}

func validateBrute(j Job, alpha *codec.Alphabet) error {
	if j.KeyLength < 1 {
		return fmt.Errorf("%w: key_length must be >= 1, got %d", contract.ErrConfiguration, j.KeyLength)
	}
	if j.KeyLengthMax < j.KeyLength {
		return fmt.Errorf("%w: key_length_max %d < key_length %d", contract.ErrConfiguration, j.KeyLengthMax, j.KeyLength)
	}
	if filtered, _ := alpha.Filter(j.Ciphertext); filtered == "" {
		return fmt.Errorf("%w: ciphertext has no symbols from the alphabet", contract.ErrConfiguration)
	}
	switch j.Discipline {
	case contract.DisciplineAuto, contract.DisciplineHeuristic:
	case contract.DisciplineExhaustive:
		if _, err := keyspace.Size(alpha.Size(), j.KeyLengthMax); err != nil {
			return fmt.Errorf("%w: %w", contract.ErrConfiguration, err)
		}
	default:
		return fmt.Errorf("%w: unknown discipline %q", contract.ErrConfiguration, j.Discipline)
	}
	w := j.Weights
	if w.Frequency < 0 || w.Pattern < 0 || w.Markov < 0 || w.Random < 0 {
		return fmt.Errorf("%w: strategy weights must be >= 0", contract.ErrConfiguration)
	}
	if j.TopLetterBias < 0 || j.TopLetterBias > 1 {
		return fmt.Errorf("%w: top_letter_bias must be within [0,1]", contract.ErrConfiguration)
	}
	if j.AdaptRate < 0 {
		return fmt.Errorf("%w: adapt_rate must be >= 0", contract.ErrConfiguration)
	}
	return nil
}

// searchTargets: hybrid 阶段把 crib 追加为目标模式。
func (j Job) searchTargets() []string {
	out := append([]string(nil), j.Targets...)
	if j.Mode == contract.ModeHybrid {
		crib := strings.TrimSpace(j.Crib)
		for _, t := range out {
			if t == crib {
				return out
			}
		}
		out = append(out, crib)
	}
	return out
}
