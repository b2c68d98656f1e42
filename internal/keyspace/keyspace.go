package keyspace

import (
	"fmt"
	"math/bits"

	"k4ai/pkg/contract"
)

// Size 返回 N^L；uint64 溢出时返回 ErrKeySpaceTooLarge。
func Size(n, l int) (uint64, error) {
	if n < 2 || l < 1 {
		return 0, fmt.Errorf("%w: key space needs n >= 2 and l >= 1 (n=%d l=%d)", contract.ErrConfiguration, n, l)
	}
	s := uint64(1)
	for i := 0; i < l; i++ {
		hi, lo := bits.Mul64(s, uint64(n))
		if hi != 0 {
			return 0, fmt.Errorf("%w: %d^%d", contract.ErrKeySpaceTooLarge, n, l)
		}
		s = lo
	}
	return s, nil
}

// KeyAt 将 [0, N^L) 内的整数映射为长度 L 的密钥（N 进制展开，最高位在前）。
// 所有任务使用同一映射，分区因此不会产生重复或遗漏。
func KeyAt(idx uint64, n int, dst []int) {
	base := uint64(n)
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = int(idx % base)
		idx /= base
	}
}

// IndexOf 为 KeyAt 的逆映射。
func IndexOf(key []int, n int) uint64 {
	var idx uint64
	for _, d := range key {
		idx = idx*uint64(n) + uint64(d)
	}
	return idx
}

// Partition 将 [0, S) 切分为 W 个互不重叠、并集恰为全集的半开区间：
// 任务 w 取 [w·⌈S/W⌉, min((w+1)·⌈S/W⌉, S))。W > S 时尾部区间为空。
func Partition(total uint64, workers int) ([]contract.Range, error) {
	if workers < 1 {
		return nil, fmt.Errorf("%w: workers must be >= 1, got %d", contract.ErrConfiguration, workers)
	}
	w := uint64(workers)
	chunk := total / w
	if total%w != 0 {
		chunk++
	}
	out := make([]contract.Range, workers)
	for i := uint64(0); i < w; i++ {
		out[i] = contract.Range{Start: clampMul(i, chunk, total), End: clampMul(i+1, chunk, total)}
	}
	return out, nil
}

// clampMul 返回 min(a·b, limit)，乘法溢出视为超过 limit。
func clampMul(a, b, limit uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 || lo > limit {
		return limit
	}
	return lo
}

// Source: 任务的候选密钥来源（区间枚举或启发式流）。
// Next 将下一个密钥写入 dst（长度 L），耗尽时返回 false。
type Source interface {
	Next(dst []int) (contract.Strategy, bool)
	// Total 返回来源大小；0 表示无界。
	Total() uint64
}

// Enumerator 按序遍历单个区间。非并发安全：由单个任务独占。
type Enumerator struct {
	r    contract.Range
	n    int
	next uint64
}

// NewEnumerator 构造区间枚举器。
func NewEnumerator(r contract.Range, n int) *Enumerator {
	return &Enumerator{r: r, n: n, next: r.Start}
}

func (e *Enumerator) Next(dst []int) (contract.Strategy, bool) {
	if e.next >= e.r.End {
		return contract.StrategyEnumerate, false
	}
	KeyAt(e.next, e.n, dst)
	e.next++
	return contract.StrategyEnumerate, true
}

func (e *Enumerator) Total() uint64 { return e.r.Len() }

// Stream 从生成器无界抽取；budget > 0 时最多产出 budget 个。
type Stream struct {
	g      *Generator
	budget uint64
	drawn  uint64
}

// NewStream 构造启发式流。
func NewStream(g *Generator, budget uint64) *Stream {
	return &Stream{g: g, budget: budget}
}

func (s *Stream) Next(dst []int) (contract.Strategy, bool) {
	if s.budget > 0 && s.drawn >= s.budget {
		return "", false
	}
	s.drawn++
	return s.g.Next(dst), true
}

func (s *Stream) Total() uint64 { return s.budget }

// Reward 将改进归功于最近一次抽取所用策略。
func (s *Stream) Reward(st contract.Strategy) { s.g.Reward(st) }
