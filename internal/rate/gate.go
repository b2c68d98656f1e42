package rate

import (
	"sync"
	"time"

	xrate "golang.org/x/time/rate"
)

// Key: 限流分组键（例如客户端地址）。
type Key string

// Limits: 每分组的限额。PerMinute <= 0 表示不限；Burst <= 0 时取 PerMinute。
type Limits struct {
	PerMinute int
	Burst     int
}

// 空闲超过 idleTTL 的分组在下次清扫时回收；分组数超过 sweepAt 才触发清扫。
const (
	idleTTL = 10 * time.Minute
	sweepAt = 1024
)

// Gate: 按键分组的令牌桶闸门（并发安全）。nil Gate 放行一切。
type Gate struct {
	clk func() time.Time
	lim Limits

	mu sync.Mutex
	m  map[Key]*entry
}

type entry struct {
	l    *xrate.Limiter
	seen time.Time
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now。不限额时返回 nil。
func NewGate(lim Limits, clk func() time.Time) *Gate {
	if lim.PerMinute <= 0 {
		return nil
	}
	if lim.Burst <= 0 {
		lim.Burst = lim.PerMinute
	}
	if clk == nil {
		clk = time.Now
	}
	return &Gate{clk: clk, lim: lim, m: make(map[Key]*entry)}
}

func (g *Gate) get(key Key, now time.Time) *entry {
	e := g.m[key]
	if e == nil {
		if len(g.m) >= sweepAt {
			g.sweepLocked(now)
		}
		e = &entry{l: xrate.NewLimiter(xrate.Limit(float64(g.lim.PerMinute)/60.0), g.lim.Burst)}
		g.m[key] = e
	}
	e.seen = now
	return e
}

// sweepLocked 回收空闲分组；空闲期间令牌必然已回满，回收不改变语义。
func (g *Gate) sweepLocked(now time.Time) {
	for k, e := range g.m {
		if now.Sub(e.seen) > idleTTL {
			delete(g.m, k)
		}
	}
}

// Try: 非阻塞尝试取一个令牌；不足时返回 false。
func (g *Gate) Try(key Key) bool {
	if g == nil {
		return true
	}
	now := g.clk()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.get(key, now).l.AllowN(now, 1)
}

// Snapshot: 返回当前可用令牌的向下取整估值（仅诊断）；不限额时返回 -1。
func (g *Gate) Snapshot(key Key) int {
	if g == nil {
		return -1
	}
	now := g.clk()
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.m[key]
	if !ok {
		return g.lim.Burst
	}
	n := int(e.l.TokensAt(now))
	if n < 0 {
		n = 0
	}
	return n
}

// Len 返回当前跟踪的分组数。
func (g *Gate) Len() int {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}
