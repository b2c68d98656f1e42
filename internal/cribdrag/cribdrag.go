package cribdrag

import (
	"context"
	"fmt"
	"sort"
	"unicode/utf8"

	"k4ai/internal/codec"
	"k4ai/pkg/contract"
)

// MinCribLength 为 crib 的实用下限（避免海量伪对齐）。
const MinCribLength = 3

// Options: crib-drag 参数。
type Options struct {
	// MinKeyLength: 前缀截断的最小长度；短于该值的片段整体丢弃。<=0 视为 1。
	MinKeyLength int
	// SampleLen: 解密样本长度（默认 20）。
	SampleLen int
	// Placeholder: 样本中未知符号的占位字符（默认 '?'）。
	Placeholder rune
	// OnProgress: 可选；按唯一片段处理进度回调百分比（0..100）。
	OnProgress func(percent int)
}

// Alignment: 一次有效对齐。
type Alignment struct {
	Position int
	Fragment string
}

// Stats: 单次分析的计数。
type Stats struct {
	Alignments int // 尝试的对齐数
	Valid      int // 有效对齐数
	Skipped    int // 因未知符号跳过的对齐数
	Unique     int // 唯一片段数
}

// Align 在密文上滑动 crib，逐偏移推导密钥片段：k = (c − p + N) mod N。
// 任一位置符号不在字母表中则跳过该对齐（ErrUnknownSymbol 不致命）。
func Align(alpha *codec.Alphabet, ciphertext, crib []rune) ([]Alignment, Stats) {
	var st Stats
	n := alpha.Size()
	m := len(crib)
	if m == 0 || len(ciphertext) < m {
		return nil, st
	}
	// crib 下标只需计算一次；含未知符号时所有对齐都无效
	pi := make([]int, m)
	cribOK := true
	for j, r := range crib {
		i, err := alpha.Index(r)
		if err != nil {
			cribOK = false
			break
		}
		pi[j] = i
	}
	out := make([]Alignment, 0, len(ciphertext)-m+1)
	frag := make([]rune, m)
	for i := 0; i <= len(ciphertext)-m; i++ {
		st.Alignments++
		if !cribOK {
			st.Skipped++
			continue
		}
		valid := true
		for j := 0; j < m; j++ {
			ci, err := alpha.Index(ciphertext[i+j])
			if err != nil {
				valid = false
				break
			}
			frag[j] = alpha.Symbol(codec.DecryptAt(ci, pi[j], n))
		}
		if !valid {
			st.Skipped++
			continue
		}
		st.Valid++
		out = append(out, Alignment{Position: i, Fragment: string(frag)})
	}
	return out, st
}

// Analyze 执行完整 crib-drag：对齐、按片段分组、前缀截断、评分、排序。
// 结果按分数降序；同分时短密钥优先（更短的周期是更强的信号），再按密钥与首位置升序。
func Analyze(ctx context.Context, alpha *codec.Alphabet, ciphertext, crib string, scorer contract.KeyScorer, opts Options) ([]contract.ScoredResult, Stats, error) {
	if utf8.RuneCountInString(crib) < MinCribLength {
		return nil, Stats{}, fmt.Errorf("%w: crib must be at least %d symbols", contract.ErrConfiguration, MinCribLength)
	}
	if scorer == nil {
		return nil, Stats{}, fmt.Errorf("%w: key scorer missing", contract.ErrConfiguration)
	}
	minLen := opts.MinKeyLength
	if minLen < 1 {
		minLen = 1
	}
	sampleLen := opts.SampleLen
	if sampleLen <= 0 {
		sampleLen = 20
	}
	ph := opts.Placeholder
	if ph == 0 {
		ph = codec.Placeholder
	}

	ct := []rune(ciphertext)
	aligns, st := Align(alpha, ct, []rune(crib))

	// 按片段值分组；对齐按位置递增产生，位置列表天然有序
	groups := make(map[string][]int)
	order := make([]string, 0)
	for _, a := range aligns {
		if _, ok := groups[a.Fragment]; !ok {
			order = append(order, a.Fragment)
		}
		groups[a.Fragment] = append(groups[a.Fragment], a.Position)
	}
	st.Unique = len(order)

	// 候选按密钥身份合并（不同片段可截断出相同前缀）
	cands := make(map[string][]int)
	for done, frag := range order {
		if err := ctx.Err(); err != nil {
			return nil, st, err
		}
		rs := []rune(frag)
		if len(rs) >= minLen {
			for l := len(rs); l >= minLen; l-- {
				key := string(rs[:l])
				cands[key] = mergeSorted(cands[key], groups[frag])
			}
		}
		if opts.OnProgress != nil {
			opts.OnProgress((done + 1) * 100 / len(order))
		}
	}

	results := make([]contract.ScoredResult, 0, len(cands))
	for key, pos := range cands {
		kr := []rune(key)
		results = append(results, contract.ScoredResult{
			Key:             key,
			KeyLength:       len(kr),
			Positions:       pos,
			DecryptedSample: alpha.Sample(ct, kr, pos[0], sampleLen, ph),
			Score:           scorer.ScoreKey(key),
			Strategy:        contract.StrategyCrib,
		})
	}
	Sort(results)
	return results, st, nil
}

// Sort 按分数降序；同分时短密钥优先，再按密钥、首位置升序。
func Sort(rs []contract.ScoredResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.KeyLength != b.KeyLength {
			return a.KeyLength < b.KeyLength
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return firstPos(a) < firstPos(b)
	})
}

func firstPos(r contract.ScoredResult) int {
	if len(r.Positions) == 0 {
		return -1
	}
	return r.Positions[0]
}

// mergeSorted 合并两个升序位置列表并去重。
func mergeSorted(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var v int
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			v = a[i]
			i++
		case i >= len(a) || b[j] < a[i]:
			v = b[j]
			j++
		default:
			v = a[i]
			i++
			j++
		}
		if len(out) == 0 || out[len(out)-1] != v {
			out = append(out, v)
		}
	}
	return out
}

// AlignKey 将位置 pos 处推导出的片段（长度 L）还原为从密文位置 0 起算的密钥：
// key[m] = frag[(m − pos) mod L]。
func AlignKey(fragment string, pos int) string {
	rs := []rune(fragment)
	l := len(rs)
	if l == 0 {
		return ""
	}
	out := make([]rune, l)
	shift := pos % l
	for m := 0; m < l; m++ {
		out[m] = rs[((m-shift)%l+l)%l]
	}
	return string(out)
}
