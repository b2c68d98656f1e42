package server

import (
	"sync"

	"k4ai/pkg/contract"
)

// hub 把一个运行的事件流扇出给任意多个订阅者。
// result/failure/终态事件完整保留并按序重放；progress 只保留最新一条。
type hub struct {
	mu       sync.Mutex
	events   []contract.Event
	progress *contract.Event
	progSeq  uint64
	done     bool
	changed  chan struct{}
}

func newHub() *hub { return &hub{changed: make(chan struct{})} }

// pump 消费运行事件直到通道关闭。
func (h *hub) pump(in <-chan contract.Event) {
	for ev := range in {
		h.publish(ev)
	}
	h.mu.Lock()
	h.done = true
	h.notifyLocked()
	h.mu.Unlock()
}

func (h *hub) publish(ev contract.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ev.Type == contract.EventProgress {
		e := ev
		h.progress = &e
		h.progSeq++
	} else {
		h.events = append(h.events, ev)
	}
	h.notifyLocked()
}

// notifyLocked 唤醒所有等待者：关闭旧通道并换新。
func (h *hub) notifyLocked() {
	close(h.changed)
	h.changed = make(chan struct{})
}

// view: 订阅者一次读取的快照。
type view struct {
	events  []contract.Event
	prog    *contract.Event
	progSeq uint64
	done    bool
	wait    <-chan struct{}
}

// since 返回下标 from 之后的事件、最新 progress 与下一次变更通知。
func (h *hub) since(from int) view {
	h.mu.Lock()
	defer h.mu.Unlock()
	v := view{progSeq: h.progSeq, done: h.done, wait: h.changed}
	if from < len(h.events) {
		v.events = append([]contract.Event(nil), h.events[from:]...)
	}
	if h.progress != nil {
		p := *h.progress
		v.prog = &p
	}
	return v
}
