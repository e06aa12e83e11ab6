// =============================================================================
// 文件: internal/sim/scheduler.go
// 描述: 离散事件调度器 - 单协程推进仿真时间，定时器取消为同步操作
// =============================================================================
package sim

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped 调度器已停止
var ErrStopped = errors.New("调度器已停止")

// Scheduler 离散事件调度器
//
// Schedule / Stop 只能在仿真协程（事件回调内或 Run 之前）调用；
// 其他协程通过 Inspect 读取状态。
type Scheduler struct {
	now     time.Duration
	seq     uint64
	queue   eventQueue
	stopped bool
	events  uint64

	mu sync.Mutex // 事件执行期间持有
}

// Timer 已调度的事件
type Timer struct {
	at    time.Duration
	seq   uint64
	fn    func()
	index int
	s     *Scheduler
}

// NewScheduler 创建调度器
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Now 当前仿真时间
func (s *Scheduler) Now() time.Duration {
	return s.now
}

// Schedule 在 delay 之后执行 fn，同一时刻的事件按调度顺序执行
func (s *Scheduler) Schedule(delay time.Duration, fn func()) *Timer {
	if delay < 0 {
		delay = 0
	}
	s.seq++
	t := &Timer{at: s.now + delay, seq: s.seq, fn: fn, s: s}
	heap.Push(&s.queue, t)
	return t
}

// Stop 取消事件，返回事件此前是否仍在等待
func (t *Timer) Stop() bool {
	if t == nil || t.index < 0 {
		return false
	}
	heap.Remove(&t.s.queue, t.index)
	return true
}

// Active 事件是否仍在等待
func (t *Timer) Active() bool {
	return t != nil && t.index >= 0
}

// At 事件触发时刻
func (t *Timer) At() time.Duration {
	return t.at
}

// Pending 等待中的事件数
func (s *Scheduler) Pending() int {
	return s.queue.Len()
}

// Processed 已执行的事件数
func (s *Scheduler) Processed() uint64 {
	return s.events
}

// Step 执行下一个事件，队列为空时返回 false
func (s *Scheduler) Step() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.queue.Len() == 0 {
		return false
	}
	t := heap.Pop(&s.queue).(*Timer)
	s.now = t.at
	s.events++
	t.fn()
	return true
}

// RunUntil 运行到 end 时刻（含）或队列耗尽，ctx 取消时提前返回
func (s *Scheduler) RunUntil(ctx context.Context, end time.Duration) error {
	for i := 0; ; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if s.stopped {
			return ErrStopped
		}
		if s.queue.Len() == 0 || s.queue[0].at > end {
			break
		}
		s.Step()
	}
	s.mu.Lock()
	if s.now < end {
		s.now = end
	}
	s.mu.Unlock()
	return nil
}

// Run 运行到队列耗尽
func (s *Scheduler) Run(ctx context.Context) error {
	for i := 0; ; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if !s.Step() {
			if s.stopped {
				return ErrStopped
			}
			return nil
		}
	}
}

// Stop 停止调度器，之后 Step 不再执行事件
func (s *Scheduler) Stop() {
	s.stopped = true
}

// Inspect 在两个事件之间执行 fn，供其他协程安全读取仿真状态
func (s *Scheduler) Inspect(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// eventQueue 按 (时刻, 序号) 排序的最小堆
type eventQueue []*Timer

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x any) {
	t := x.(*Timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
