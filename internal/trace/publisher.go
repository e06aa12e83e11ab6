package trace

import (
	"errors"
	"sync"
)

// Publisher 事件发布者
//
// Publish 在仿真协程中调用，实现不得阻塞。
type Publisher interface {
	Publish(ev Event)
	Close() error
}

// Nop 丢弃所有事件
type Nop struct{}

// Publish 丢弃事件
func (Nop) Publish(Event) {}

// Close 无操作
func (Nop) Close() error { return nil }

// Multi 同时发布到多个发布者
type Multi []Publisher

// Publish 依次发布
func (m Multi) Publish(ev Event) {
	for _, p := range m {
		p.Publish(ev)
	}
}

// Close 关闭全部发布者并合并错误
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithRun 为事件补上运行 ID
type WithRun struct {
	Run  string
	Next Publisher
}

// Publish 填充 Run 后转发
func (w WithRun) Publish(ev Event) {
	ev.Run = w.Run
	w.Next.Publish(ev)
}

// Close 关闭下游
func (w WithRun) Close() error { return w.Next.Close() }

// Memory 在内存中保存事件，测试与汇总使用
type Memory struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewMemory 创建内存发布者，limit <= 0 表示不限
func NewMemory(limit int) *Memory {
	return &Memory{limit: limit}
}

// Publish 保存事件，超过上限时丢弃最早的事件
func (m *Memory) Publish(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limit > 0 && len(m.events) >= m.limit {
		copy(m.events, m.events[1:])
		m.events = m.events[:len(m.events)-1]
	}
	m.events = append(m.events, ev)
}

// Close 无操作
func (m *Memory) Close() error { return nil }

// Events 事件快照
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Count 指定类型的事件数
func (m *Memory) Count(kind Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
