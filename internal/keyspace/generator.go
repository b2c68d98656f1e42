package keyspace

import (
	"fmt"
	"math/rand/v2"

	"k4ai/pkg/contract"
)

// Weights: 启发式策略的抽取权重（相对值，无需归一）。
type Weights struct {
	Frequency float64 `json:"frequency" yaml:"frequency"`
	Pattern   float64 `json:"pattern" yaml:"pattern"`
	Markov    float64 `json:"markov" yaml:"markov"`
	Random    float64 `json:"random" yaml:"random"`
}

// DefaultWeights 返回默认策略权重。
func DefaultWeights() Weights {
	return Weights{Frequency: 0.4, Pattern: 0.2, Markov: 0.2, Random: 0.2}
}

// DefaultTopLetterBias: frequency 策略中每个符号取自高频字母的概率。
const DefaultTopLetterBias = 0.7

// weightCap: 自适应放大后超过此值时整体归一，避免浮点溢出。
const weightCap = 1e6

var strategies = [...]contract.Strategy{
	contract.StrategyFrequency,
	contract.StrategyPattern,
	contract.StrategyMarkov,
	contract.StrategyRandom,
}

// GeneratorOptions: 生成器输入。所有符号均为字母表下标。
type GeneratorOptions struct {
	Size          int // 字母表大小 N
	Length        int // 密钥长度 L
	Weights       Weights
	TopLetters    []int
	TopLetterBias float64
	Patterns      [][]int
	// Corpus 用于训练二元转移表；为空时 markov 退化为均匀分布。
	Corpus    [][]int
	AdaptRate float64
}

// Generator 按权重逐次选择策略生成候选密钥。
// 非并发安全：每个任务持有独立实例与独立随机源。
type Generator struct {
	n, l     int
	rng      *rand.Rand
	weights  [len(strategies)]float64
	top      []int
	bias     float64
	patterns [][]int
	// bigram[prev][next] 为平滑后的计数；rowSum 为行和。
	bigram    [][]float64
	rowSum    []float64
	adaptRate float64
}

// NewRand 构造可复现的随机源。seed 相同、stream 相同则序列相同。
func NewRand(seed, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream))
}

// FreshSeed 返回非零随机种子；0 保留为“未指定”。
func FreshSeed() uint64 {
	for {
		if s := rand.Uint64(); s != 0 {
			return s
		}
	}
}

// NewGenerator 校验选项并构造生成器。rng 为 nil 时返回配置错误。
func NewGenerator(opts GeneratorOptions, rng *rand.Rand) (*Generator, error) {
	if rng == nil {
		return nil, fmt.Errorf("%w: generator needs a random source", contract.ErrConfiguration)
	}
	if opts.Size < 2 || opts.Length < 1 {
		return nil, fmt.Errorf("%w: generator needs size >= 2 and length >= 1", contract.ErrConfiguration)
	}
	w := [len(strategies)]float64{opts.Weights.Frequency, opts.Weights.Pattern, opts.Weights.Markov, opts.Weights.Random}
	sum := 0.0
	for i, v := range w {
		if v < 0 {
			return nil, fmt.Errorf("%w: negative weight for %s", contract.ErrConfiguration, strategies[i])
		}
		sum += v
	}
	if sum == 0 {
		return nil, fmt.Errorf("%w: all strategy weights are zero", contract.ErrConfiguration)
	}
	if opts.TopLetterBias < 0 || opts.TopLetterBias > 1 {
		return nil, fmt.Errorf("%w: top letter bias %.2f outside [0,1]", contract.ErrConfiguration, opts.TopLetterBias)
	}
	if opts.AdaptRate < 0 {
		return nil, fmt.Errorf("%w: adapt rate must be >= 0", contract.ErrConfiguration)
	}
	g := &Generator{
		n:         opts.Size,
		l:         opts.Length,
		rng:       rng,
		weights:   w,
		bias:      opts.TopLetterBias,
		adaptRate: opts.AdaptRate,
	}
	for _, s := range opts.TopLetters {
		if s >= 0 && s < g.n {
			g.top = append(g.top, s)
		}
	}
	for _, p := range opts.Patterns {
		if len(p) > 0 && inRange(p, g.n) {
			g.patterns = append(g.patterns, append([]int(nil), p...))
		}
	}
	g.train(opts.Corpus)
	return g, nil
}

func inRange(p []int, n int) bool {
	for _, s := range p {
		if s < 0 || s >= n {
			return false
		}
	}
	return true
}

// train 统计语料二元组并做加一平滑。
func (g *Generator) train(corpus [][]int) {
	g.bigram = make([][]float64, g.n)
	g.rowSum = make([]float64, g.n)
	for i := range g.bigram {
		row := make([]float64, g.n)
		for j := range row {
			row[j] = 1
		}
		g.bigram[i] = row
		g.rowSum[i] = float64(g.n)
	}
	for _, seq := range corpus {
		for i := 1; i < len(seq); i++ {
			a, b := seq[i-1], seq[i]
			if a < 0 || a >= g.n || b < 0 || b >= g.n {
				continue
			}
			g.bigram[a][b]++
			g.rowSum[a]++
		}
	}
}

// Next 写入一个候选密钥并返回所用策略。
func (g *Generator) Next(dst []int) contract.Strategy {
	st := g.pick()
	switch st {
	case contract.StrategyFrequency:
		g.frequency(dst)
	case contract.StrategyPattern:
		g.pattern(dst)
	case contract.StrategyMarkov:
		g.markov(dst)
	default:
		g.random(dst)
	}
	return st
}

func (g *Generator) pick() contract.Strategy {
	sum := 0.0
	for _, w := range g.weights {
		sum += w
	}
	x := g.rng.Float64() * sum
	for i, w := range g.weights {
		if x < w {
			return strategies[i]
		}
		x -= w
	}
	return contract.StrategyRandom
}

func (g *Generator) random(dst []int) {
	for i := range dst {
		dst[i] = g.rng.IntN(g.n)
	}
}

func (g *Generator) frequency(dst []int) {
	if len(g.top) == 0 {
		g.random(dst)
		return
	}
	for i := range dst {
		if g.rng.Float64() < g.bias {
			dst[i] = g.top[g.rng.IntN(len(g.top))]
		} else {
			dst[i] = g.rng.IntN(g.n)
		}
	}
}

// pattern 在随机密钥中拼入一个目标词；词长超过密钥时截取随机窗口。
func (g *Generator) pattern(dst []int) {
	g.random(dst)
	if len(g.patterns) == 0 {
		return
	}
	p := g.patterns[g.rng.IntN(len(g.patterns))]
	if len(p) >= len(dst) {
		off := g.rng.IntN(len(p) - len(dst) + 1)
		copy(dst, p[off:off+len(dst)])
		return
	}
	off := g.rng.IntN(len(dst) - len(p) + 1)
	copy(dst[off:], p)
}

func (g *Generator) markov(dst []int) {
	if len(dst) == 0 {
		return
	}
	dst[0] = g.rng.IntN(g.n)
	for i := 1; i < len(dst); i++ {
		row := g.bigram[dst[i-1]]
		x := g.rng.Float64() * g.rowSum[dst[i-1]]
		next := g.n - 1
		for j, c := range row {
			if x < c {
				next = j
				break
			}
			x -= c
		}
		dst[i] = next
	}
}

// Reward 将策略权重乘以 (1+AdaptRate)。未知策略忽略。
func (g *Generator) Reward(st contract.Strategy) {
	if g.adaptRate == 0 {
		return
	}
	for i, s := range strategies {
		if s != st {
			continue
		}
		g.weights[i] *= 1 + g.adaptRate
		if g.weights[i] > weightCap {
			sum := 0.0
			for _, w := range g.weights {
				sum += w
			}
			for j := range g.weights {
				g.weights[j] /= sum
			}
		}
		return
	}
}

// Weights 返回当前（可能已自适应调整的）权重。
func (g *Generator) Weights() Weights {
	return Weights{Frequency: g.weights[0], Pattern: g.weights[1], Markov: g.weights[2], Random: g.weights[3]}
}

// Length 返回密钥长度。
func (g *Generator) Length() int { return g.l }
