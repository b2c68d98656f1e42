package coordinator

import (
	"sort"

	"k4ai/pkg/contract"
)

// TopK 维护按密钥去重的最优 K 个结果。
// 插入满足交换律与幂等：最终内容只取决于结果集合，与到达顺序无关。
// 非并发安全：由 Run 在互斥锁下持有。
type TopK struct {
	k     int
	items []contract.ScoredResult
}

// NewTopK 构造容量为 k 的列表；k<1 视为 1。
func NewTopK(k int) *TopK {
	if k < 1 {
		k = 1
	}
	return &TopK{k: k, items: make([]contract.ScoredResult, 0, k)}
}

// better: 分数降序；同分短密钥优先；再按密钥字典序。
func better(a, b contract.ScoredResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.KeyLength != b.KeyLength {
		return a.KeyLength < b.KeyLength
	}
	return a.Key < b.Key
}

// Offer 尝试插入；列表发生变化时返回 true。
// 同一密钥只保留最高分；分数不高于已有记录时为 no-op。
func (t *TopK) Offer(r contract.ScoredResult) bool {
	for i := range t.items {
		if t.items[i].Key != r.Key {
			continue
		}
		if r.Score <= t.items[i].Score {
			return false
		}
		t.items[i] = r.Clone()
		t.sort()
		return true
	}
	if len(t.items) < t.k {
		t.items = append(t.items, r.Clone())
		t.sort()
		return true
	}
	last := len(t.items) - 1
	if !better(r, t.items[last]) {
		return false
	}
	t.items[last] = r.Clone()
	t.sort()
	return true
}

func (t *TopK) sort() {
	sort.SliceStable(t.items, func(i, j int) bool { return better(t.items[i], t.items[j]) })
}

// Items 返回快照（深拷贝）。
func (t *TopK) Items() []contract.ScoredResult {
	out := make([]contract.ScoredResult, len(t.items))
	for i, r := range t.items {
		out[i] = r.Clone()
	}
	return out
}

// Best 返回最高分；列表为空时 ok=false。
func (t *TopK) Best() (float64, bool) {
	if len(t.items) == 0 {
		return 0, false
	}
	return t.items[0].Score, true
}

// Len 返回当前条数。
func (t *TopK) Len() int { return len(t.items) }
