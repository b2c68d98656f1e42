package english

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"k4ai/pkg/contract"
)

// Frequencies: 英文字母频率（百分比，近似值）。
var Frequencies = map[string]float64{
	"E": 12.7, "T": 9.1, "A": 8.2, "O": 7.5, "I": 7.0,
	"N": 6.7, "S": 6.3, "H": 6.1, "R": 6.0, "D": 4.3,
	"L": 4.0, "C": 2.8, "U": 2.8, "M": 2.4, "W": 2.4,
	"F": 2.2, "G": 2.0, "Y": 2.0, "P": 1.9, "B": 1.5,
	"V": 1.0, "K": 0.8, "J": 0.2, "X": 0.2, "Q": 0.1,
	"Z": 0.1,
}

// DefaultTargets / DefaultWords: K4 已公开的明文线索。
var (
	DefaultTargets = []string{"BERLINCLOCK", "EASTNORTHEAST"}
	DefaultWords   = []string{"BERLIN", "CLOCK", "EAST", "NORTH", "NORTHEAST"}
)

// Options: 评分数据（均为数据而非代码）。权重为 nil 时使用默认值，显式 0 表示关闭该项。
type Options struct {
	Targets       []string           `json:"targets" yaml:"targets"`
	Words         []string           `json:"words" yaml:"words"`
	Frequencies   map[string]float64 `json:"frequencies,omitempty" yaml:"frequencies,omitempty"`
	Vowels        string             `json:"vowels,omitempty" yaml:"vowels,omitempty"`
	ExactWeight   *float64           `json:"exact_weight,omitempty" yaml:"exact_weight,omitempty"`
	PartialWeight *float64           `json:"partial_weight,omitempty" yaml:"partial_weight,omitempty"`
	FreqWeight    *float64           `json:"freq_weight,omitempty" yaml:"freq_weight,omitempty"`
	ShapeWeight   *float64           `json:"shape_weight,omitempty" yaml:"shape_weight,omitempty"`
	// KeyRepeatBonus: 密钥前后两半相同时的乘数（默认 1.5）。
	KeyRepeatBonus *float64 `json:"key_repeat_bonus,omitempty" yaml:"key_repeat_bonus,omitempty"`
}

// Scorer 同时实现 KeyScorer 与 TextScorer。构造后只读，可并发使用。
type Scorer struct {
	freq    map[rune]float64
	top     []rune // 频率前 10 的字母（降序）
	vowels  map[rune]bool
	targets []string
	words   []string

	exactW, partialW, freqW, shapeW, repeatBonus float64
}

var (
	_ contract.KeyScorer  = (*Scorer)(nil)
	_ contract.TextScorer = (*Scorer)(nil)
)

// New 根据 Options 构造评分器。
func New(opts *Options) (*Scorer, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	table := o.Frequencies
	if len(table) == 0 {
		table = Frequencies
	}
	s := &Scorer{
		freq:        make(map[rune]float64, len(table)),
		vowels:      map[rune]bool{},
		targets:     normalize(o.Targets),
		words:       normalize(o.Words),
		exactW:      pick(o.ExactWeight, 100),
		partialW:    pick(o.PartialWeight, 80),
		freqW:       pick(o.FreqWeight, 1),
		shapeW:      pick(o.ShapeWeight, 1),
		repeatBonus: pick(o.KeyRepeatBonus, 1.5),
	}
	for k, v := range table {
		r, size := utf8.DecodeRuneInString(k)
		if size == 0 || size != len(k) {
			return nil, fmt.Errorf("%w: frequency key %q must be a single symbol", contract.ErrConfiguration, k)
		}
		if v < 0 || math.IsNaN(v) {
			return nil, fmt.Errorf("%w: frequency for %q must be >= 0", contract.ErrConfiguration, k)
		}
		s.freq[r] = v
	}
	vowels := o.Vowels
	if vowels == "" {
		vowels = "AEIOU"
	}
	for _, r := range vowels {
		s.vowels[r] = true
	}
	s.top = topLetters(s.freq, 10)
	return s, nil
}

func pick(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// topLetters 按频率降序取前 n 个符号；同频按符号升序，保证确定性。
func topLetters(freq map[rune]float64, n int) []rune {
	rs := make([]rune, 0, len(freq))
	for r := range freq {
		rs = append(rs, r)
	}
	sort.Slice(rs, func(i, j int) bool {
		if freq[rs[i]] != freq[rs[j]] {
			return freq[rs[i]] > freq[rs[j]]
		}
		return rs[i] < rs[j]
	})
	if len(rs) > n {
		rs = rs[:n]
	}
	return rs
}

// TopLetters 返回频率前 10 的符号（副本）。
func (s *Scorer) TopLetters() []rune { return append([]rune(nil), s.top...) }

// Patterns 返回目标模式与次要词（去重），供启发式生成器注入。
func (s *Scorer) Patterns() []string {
	out := append([]string(nil), s.targets...)
	seen := map[string]bool{}
	for _, t := range out {
		seen[t] = true
	}
	for _, w := range s.words {
		if !seen[w] {
			out = append(out, w)
		}
	}
	return out
}

// ScoreKey: 按频率表求平均符号权重；偶数长度 >= 6 且前后两半相同时乘以 repeatBonus。
func (s *Scorer) ScoreKey(key string) float64 {
	rs := []rune(key)
	if len(rs) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range rs {
		sum += s.freq[r]
	}
	score := sum / float64(len(rs))
	if n := len(rs); n >= 6 && n%2 == 0 && string(rs[:n/2]) == string(rs[n/2:]) {
		score *= s.repeatBonus
	}
	return score
}

// Breakdown: 明文评分的各项贡献。
type Breakdown struct {
	Exact     float64 `json:"exact"`
	Partial   float64 `json:"partial"`
	Frequency float64 `json:"frequency"`
	Shape     float64 `json:"shape"`
	Total     float64 `json:"total"`
}

// ScoreText 返回明文可信度（>= 0）。
func (s *Scorer) ScoreText(text string) float64 { return s.Breakdown(text).Total }

// Breakdown 计算各项贡献；纯函数，不修改评分器状态。
func (s *Scorer) Breakdown(text string) Breakdown {
	var b Breakdown
	if text == "" {
		return b
	}
	for _, p := range s.targets {
		if strings.Contains(text, p) {
			b.Exact += float64(utf8.RuneCountInString(p)) * s.exactW
		}
	}
	for _, w := range s.words {
		if strings.Contains(text, w) {
			b.Partial += float64(utf8.RuneCountInString(w)) * s.partialW
		}
	}
	b.Frequency = s.frequencyFit(text) * s.freqW
	b.Shape = float64(s.shapeRuns(text)) * s.shapeW
	b.Total = b.Exact + b.Partial + b.Frequency + b.Shape
	if b.Total < 0 {
		b.Total = 0
	}
	return b
}

// frequencyFit: 对前 10 字母，累加 max(0, 期望 − |观测 − 期望|)（百分比）。
func (s *Scorer) frequencyFit(text string) float64 {
	counts := make(map[rune]int, len(s.top))
	n := 0
	for _, r := range text {
		n++
		counts[r]++
	}
	if n == 0 {
		return 0
	}
	total := 0.0
	for _, r := range s.top {
		exp := s.freq[r]
		obs := float64(counts[r]) / float64(n) * 100
		if v := exp - math.Abs(obs-exp); v > 0 {
			total += v
		}
	}
	return total
}

// shapeRuns: 统计极大元音串（长 1–3）与辅音串（长 1–5）的个数；非字母打断。
func (s *Scorer) shapeRuns(text string) int {
	count := 0
	runLen := 0
	runVowel := false
	flush := func() {
		if runLen == 0 {
			return
		}
		if runVowel && runLen <= 3 {
			count++
		} else if !runVowel && runLen <= 5 {
			count++
		}
		runLen = 0
	}
	for _, r := range text {
		if !unicode.IsLetter(r) {
			flush()
			continue
		}
		v := s.vowels[r]
		if runLen > 0 && v != runVowel {
			flush()
		}
		runVowel = v
		runLen++
	}
	flush()
	return count
}

// Positions 返回所有目标模式在明文中的出现位置（符号偏移，升序去重）。
func (s *Scorer) Positions(text string) []int {
	var out []int
	seen := map[int]bool{}
	for _, p := range s.targets {
		from := 0
		for {
			i := strings.Index(text[from:], p)
			if i < 0 {
				break
			}
			byteIdx := from + i
			pos := utf8.RuneCountInString(text[:byteIdx])
			if !seen[pos] {
				seen[pos] = true
				out = append(out, pos)
			}
			_, size := utf8.DecodeRuneInString(text[byteIdx:])
			from = byteIdx + size
		}
	}
	sort.Ints(out)
	return out
}
