package coordinator

import (
	"sync"

	"k4ai/pkg/contract"
)

// emitter 将事件转发给调用方。
// - result/failure/终态事件进入无界队列，按序送达，从不丢弃；
// - progress 仅在队列为空且通道有空位时送达，否则丢弃（慢消费者不拖慢搜索）。
// 终态事件送达后关闭通道。
type emitter struct {
	out chan contract.Event

	mu       sync.Mutex
	queue    []contract.Event
	inflight bool
	closing  bool
	wake     chan struct{}
	dropped  uint64
}

func newEmitter(buf int) *emitter {
	if buf < 1 {
		buf = 1
	}
	e := &emitter{out: make(chan contract.Event, buf), wake: make(chan struct{}, 1)}
	go e.forward()
	return e
}

// must 入队必达事件。
func (e *emitter) must(ev contract.Event) {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, ev)
	e.mu.Unlock()
	e.signal()
}

// progress 尝试非阻塞投递。
func (e *emitter) progress(ev contract.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing || e.inflight || len(e.queue) > 0 {
		e.dropped++
		return
	}
	select {
	case e.out <- ev:
	default:
		e.dropped++
	}
}

// close 入队终态事件；其后的事件全部忽略。
func (e *emitter) close(final contract.Event) {
	e.mu.Lock()
	e.queue = append(e.queue, final)
	e.closing = true
	e.mu.Unlock()
	e.signal()
}

func (e *emitter) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *emitter) forward() {
	for range e.wake {
		for {
			e.mu.Lock()
			if len(e.queue) == 0 {
				closing := e.closing
				e.inflight = false
				e.mu.Unlock()
				if closing {
					close(e.out)
					return
				}
				break
			}
			ev := e.queue[0]
			e.queue = e.queue[1:]
			e.inflight = true
			e.mu.Unlock()
			e.out <- ev
		}
	}
}

// Dropped 返回被丢弃的 progress 数。
func (e *emitter) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}
