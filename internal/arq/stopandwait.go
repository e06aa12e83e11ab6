// =============================================================================
// 文件: internal/arq/stopandwait.go
// 描述: 停等 ARQ - 单帧在途、ACK 超时、短/长重传上限、接收端 SIFS 应答
// =============================================================================
package arq

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/mib"
	"github.com/mrcgq/wifimac/internal/sim"
	"github.com/mrcgq/wifimac/internal/timing"
)

// Config 停等 ARQ 参数
type Config struct {
	ShortRetryLimit int
	LongRetryLimit  int
	RTSThreshold    int // 与 RTS/CTS 共用的长短帧分界 (bit)
	ACKBits         int
	ACKMode         frame.Mode
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		ShortRetryLimit: 7,
		LongRetryLimit:  4,
		RTSThreshold:    3000 * 8,
		ACKBits:         14 * 8,
		ACKMode:         frame.DefaultModeTable().Lowest(),
	}
}

// RetryLimit 帧允许的最大传输次数
func (c Config) RetryLimit(f *frame.Frame) int {
	if f.Bits >= c.RTSThreshold {
		return c.LongRetryLimit
	}
	return c.ShortRetryLimit
}

type swState int

const (
	swIdle swState = iota
	swToSend
	swTransmitting
	swWaitACK
	swReceivingACK
)

// StopAndWait 停等 ARQ
type StopAndWait struct {
	s     *sim.Scheduler
	tm    *timing.Timing
	calc  timing.Calculator
	self  frame.Address
	cfg   Config
	per   *mib.PER
	hooks Hooks
	log   zerolog.Logger

	active  *frame.Frame
	state   swState
	timeout *sim.Timeout
	stats   Stats
}

// NewStopAndWait 创建停等 ARQ
func NewStopAndWait(s *sim.Scheduler, tm *timing.Timing, calc timing.Calculator, self frame.Address,
	cfg Config, per *mib.PER, hooks Hooks, log zerolog.Logger) *StopAndWait {
	a := &StopAndWait{
		s:     s,
		tm:    tm,
		calc:  calc,
		self:  self,
		cfg:   cfg,
		per:   per,
		hooks: hooks,
		log:   log.With().Str("component", "arq").Logger(),
	}
	a.timeout = sim.NewTimeout(s, a.onACKTimeout)
	return a
}

// Accepts 无在途帧时可接收
func (a *StopAndWait) Accepts(*frame.Frame) bool {
	return a.active == nil
}

// Outgoing 接收上层帧
func (a *StopAndWait) Outgoing(f *frame.Frame) {
	if f.TxCounter < 1 {
		f.TxCounter = 1
	}
	f.RequiresReply = f.IsUnicast()
	a.active = f
	a.state = swToSend
}

// NextFrame 待发送的帧
func (a *StopAndWait) NextFrame() *frame.Frame {
	if a.state == swToSend {
		return a.active
	}
	return nil
}

// TakeFrame 取出待发送帧的副本
func (a *StopAndWait) TakeFrame() *frame.Frame {
	if a.state != swToSend {
		return nil
	}
	a.state = swTransmitting
	a.stats.Sent++
	if a.active.TxCounter > 1 {
		a.stats.Retransmissions++
	}
	return a.active.Clone()
}

// OnTxEnd 数据帧发送完毕后开始等待 ACK
func (a *StopAndWait) OnTxEnd(f *frame.Frame) {
	if a.active == nil || f.ID != a.active.ID || a.state != swTransmitting {
		return
	}
	if !a.active.IsUnicast() {
		a.finish()
		return
	}
	a.state = swWaitACK
	a.timeout.Set(a.tm.ACKTimeout)
}

// OnRxStart 等待期间检测到前导，转入接收 ACK 状态
func (a *StopAndWait) OnRxStart() {
	if a.state == swWaitACK {
		a.timeout.Cancel()
		a.state = swReceivingACK
	}
}

// OnRxEnd 接收结束仍未拿到 ACK 视为失败
func (a *StopAndWait) OnRxEnd() {
	if a.state == swReceivingACK {
		a.onFailure()
	}
}

// OnRxError 接收出错视为失败
func (a *StopAndWait) OnRxError() {
	if a.state == swReceivingACK {
		a.onFailure()
	}
}

// Incoming 处理寻址本站的帧
func (a *StopAndWait) Incoming(f *frame.Frame) ([]*frame.Frame, *frame.Frame) {
	switch {
	case f.Type == frame.ACK:
		if (a.state == swReceivingACK || a.state == swWaitACK) && f.Transmitter == a.active.Receiver {
			a.timeout.Cancel()
			a.per.ReportSuccess(a.active.Receiver)
			a.stats.Acked++
			a.log.Debug().
				Dur("sim_time", a.s.Now()).
				Str("frame", a.active.String()).
				Msg("收到 ACK")
			a.finish()
		} else {
			a.log.Warn().
				Dur("sim_time", a.s.Now()).
				Str("from", f.Transmitter.String()).
				Msg("非等待状态收到 ACK，忽略")
		}
		return nil, nil

	case f.IsData():
		a.stats.Delivered++
		if !f.IsUnicast() {
			return []*frame.Frame{f}, nil
		}
		a.stats.RepliesSent++
		return []*frame.Frame{f}, a.newACK(f)
	}
	return nil, nil
}

// TransmissionFailed 帧未发出，按失败计入重传次数
//
// 单次失败不更新 PER，最终丢弃时仍报告一次失败。
func (a *StopAndWait) TransmissionFailed(f *frame.Frame) {
	if a.active == nil || f.ID != a.active.ID || a.state != swTransmitting {
		return
	}
	a.retryOrDrop(false)
}

// Stats 统计
func (a *StopAndWait) Stats() Stats {
	st := a.stats
	if a.active != nil {
		st.Outstanding = 1
	}
	return st
}

func (a *StopAndWait) newACK(f *frame.Frame) *frame.Frame {
	d := replyDuration(f.Duration, a.tm.SIFS, a.calc.PPDU(a.cfg.ACKBits, a.cfg.ACKMode))
	return &frame.Frame{
		Type:        frame.ACK,
		Transmitter: a.self,
		Receiver:    f.Transmitter,
		Bits:        a.cfg.ACKBits,
		Mode:        a.cfg.ACKMode,
		Duration:    d,
		TxCounter:   1,
		Created:     a.s.Now(),
	}
}

func (a *StopAndWait) onACKTimeout() {
	if a.state != swWaitACK {
		return
	}
	a.onFailure()
}

func (a *StopAndWait) onFailure() {
	a.timeout.Cancel()
	a.per.ReportFailure(a.active.Receiver)
	a.retryOrDrop(true)
}

// retryOrDrop 失败次数达到上限时丢弃，否则增加传输计数并等待重传
func (a *StopAndWait) retryOrDrop(reported bool) {
	f := a.active
	limit := a.cfg.RetryLimit(f)
	if f.TxCounter >= limit {
		if !reported {
			a.per.ReportFailure(f.Receiver)
		}
		a.log.Warn().
			Dur("sim_time", a.s.Now()).
			Str("frame", f.String()).
			Int("limit", limit).
			Msg("达到重传上限，丢弃")
		a.stats.Dropped++
		a.active = nil
		a.state = swIdle
		a.hooks.dropped(f, DropRetryLimit)
		a.hooks.ready()
		return
	}

	f.TxCounter++
	a.state = swToSend
	a.log.Debug().
		Dur("sim_time", a.s.Now()).
		Str("frame", f.String()).
		Msg("传输失败，等待重传")
	a.hooks.failed(f)
	a.hooks.ready()
}

func (a *StopAndWait) finish() {
	f := a.active
	a.active = nil
	a.state = swIdle
	a.hooks.acked(f)
	a.hooks.ready()
}

var _ ARQ = (*StopAndWait)(nil)

// replyDuration 应答帧的 Duration 字段，不足 SIFS 时为 0
func replyDuration(fExDur, sifs, replyDur time.Duration) time.Duration {
	d := fExDur - sifs - replyDur
	if d < sifs {
		return 0
	}
	return d
}
