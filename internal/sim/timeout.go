package sim

import "time"

// Timeout 可重置的单次超时
type Timeout struct {
	s      *Scheduler
	t      *Timer
	onFire func()
}

// NewTimeout 创建超时，触发时调用 onFire
func NewTimeout(s *Scheduler, onFire func()) *Timeout {
	return &Timeout{s: s, onFire: onFire}
}

// Set 设置超时，已有的超时被取消
func (o *Timeout) Set(d time.Duration) {
	o.Cancel()
	o.t = o.s.Schedule(d, func() {
		o.t = nil
		o.onFire()
	})
}

// Cancel 取消超时
func (o *Timeout) Cancel() {
	if o.t != nil {
		o.t.Stop()
		o.t = nil
	}
}

// IsSet 超时是否在等待
func (o *Timeout) IsSet() bool {
	return o.t != nil
}

// Remaining 距离触发的剩余时间
func (o *Timeout) Remaining() time.Duration {
	if o.t == nil {
		return 0
	}
	return o.t.At() - o.s.Now()
}
