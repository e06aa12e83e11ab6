// =============================================================================
// 文件: internal/rtscts/rtscts.go
// 描述: RTS/CTS 虚拟载波预约 - 门限判断、CTS 超时、CTS 应答
// =============================================================================
package rtscts

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/sim"
	"github.com/mrcgq/wifimac/internal/timing"
)

// Config RTS/CTS 参数
type Config struct {
	Threshold  int  // PSDU 位数不小于此值时先发 RTS
	OnTXOPData bool // TXOP 后续帧也使用 RTS
	RTSBits    int
	CTSBits    int
	Mode       frame.Mode

	// FastLinkFeedback CTS 回送 RTS 的接收 SINR，发送方据此选择数据帧速率
	FastLinkFeedback bool
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		Threshold: 3000 * 8,
		RTSBits:   16*8 + 4*8,
		CTSBits:   10*8 + 4*8,
		Mode:      frame.DefaultModeTable().Lowest(),
	}
}

// NAV 回复 CTS 前需要查询的信道状态
type NAV interface {
	NAVBusy() bool
	NAVSetter() frame.Address
}

// Hooks RTS/CTS 事件
type Hooks struct {
	// Failed 未收到 CTS，被保护的帧已恢复为 DATA
	Failed func(msdu *frame.Frame)
	// Release 收到 CTS，被保护的帧在 SIFS 后发送
	Release func(msdu *frame.Frame)
	// Feedback CTS 携带的对端 SINR
	Feedback func(peer frame.Address, sinrDB float64)
}

type state int

const (
	stateIdle state = iota
	stateContending
	stateWaitCTS
	stateReceivingCTS
)

// RTSCTS RTS/CTS 组件
type RTSCTS struct {
	s     *sim.Scheduler
	tm    *timing.Timing
	calc  timing.Calculator
	self  frame.Address
	cfg   Config
	nav   NAV
	hooks Hooks
	log   zerolog.Logger

	pending *frame.Frame
	rts     *frame.Frame
	state   state
	timeout *sim.Timeout
	rtsSeq  uint64

	stats Stats
}

// Stats RTS/CTS 统计
type Stats struct {
	RTSSent     uint64
	CTSReceived uint64
	Failures    uint64
	CTSSent     uint64
	CTSRefused  uint64
}

// rtsIDBase RTS 帧 ID 空间
const rtsIDBase uint64 = 1 << 62

// New 创建 RTS/CTS 组件
func New(s *sim.Scheduler, tm *timing.Timing, calc timing.Calculator, self frame.Address,
	cfg Config, nav NAV, hooks Hooks, log zerolog.Logger) *RTSCTS {
	r := &RTSCTS{
		s:     s,
		tm:    tm,
		calc:  calc,
		self:  self,
		cfg:   cfg,
		nav:   nav,
		hooks: hooks,
		log:   log.With().Str("component", "rtscts").Logger(),
	}
	r.timeout = sim.NewTimeout(s, r.onTimeout)
	return r
}

// NeedsRTS 单播数据帧大小达到门限时需要 RTS
func (r *RTSCTS) NeedsRTS(f *frame.Frame) bool {
	if !f.IsUnicast() || f.Bits < r.cfg.Threshold {
		return false
	}
	switch f.Type {
	case frame.Data, frame.BlockACKReq:
		return true
	case frame.DataTXOP:
		return r.cfg.OnTXOPData
	}
	return false
}

// Busy 是否正持有被保护的帧
func (r *RTSCTS) Busy() bool {
	return r.pending != nil
}

// Wrap 需要 RTS 时持有 f 并返回 RTS，否则原样返回 f
func (r *RTSCTS) Wrap(f *frame.Frame) *frame.Frame {
	if !r.NeedsRTS(f) {
		return f
	}

	r.rtsSeq++
	rts := &frame.Frame{
		ID:          rtsIDBase | r.rtsSeq,
		Type:        frame.RTS,
		Transmitter: r.self,
		Receiver:    f.Receiver,
		Bits:        r.cfg.RTSBits,
		Mode:        r.cfg.Mode,
		Duration:    r.ReservationFor(f),
		TxCounter:   f.TxCounter,
		Created:     r.s.Now(),
	}

	if f.Type == frame.Data {
		f.Type = frame.DataTXOP
	}
	r.pending = f
	r.rts = rts
	r.state = stateContending
	r.stats.RTSSent++

	r.log.Debug().
		Dur("sim_time", r.s.Now()).
		Str("frame", f.String()).
		Dur("nav", rts.Duration).
		Msg("使用 RTS 保护")
	return rts
}

// OnTxEnd RTS 发送完毕，等待 CTS 前导
func (r *RTSCTS) OnTxEnd(f *frame.Frame) {
	if r.rts == nil || f.ID != r.rts.ID {
		return
	}
	r.state = stateWaitCTS
	r.timeout.Set(r.tm.SIFS + r.tm.PreambleProcessingDelay)
}

// OnRxStart 检测到前导，延长等待到 CTS 接收完毕
func (r *RTSCTS) OnRxStart() {
	if r.state != stateWaitCTS {
		return
	}
	r.state = stateReceivingCTS
	r.timeout.Set(r.calc.PPDU(r.cfg.CTSBits, r.cfg.Mode) + r.tm.Slot)
}

// OnRxEnd 接收结束仍未拿到 CTS 视为失败
func (r *RTSCTS) OnRxEnd() {
	if r.state == stateReceivingCTS {
		r.fail()
	}
}

// OnRxError 接收出错视为失败
func (r *RTSCTS) OnRxError() {
	if r.state == stateReceivingCTS {
		r.fail()
	}
}

// OnCTS 收到寻址本站的 CTS
func (r *RTSCTS) OnCTS(f *frame.Frame) {
	if r.pending == nil || (r.state != stateWaitCTS && r.state != stateReceivingCTS) {
		return
	}
	if f.Transmitter != r.pending.Receiver {
		r.log.Warn().
			Str("from", f.Transmitter.String()).
			Str("expected", r.pending.Receiver.String()).
			Msg("CTS 来源与待发帧接收方不符，忽略")
		return
	}
	r.timeout.Cancel()
	msdu := r.pending
	r.reset()
	r.stats.CTSReceived++
	// 反馈先于释放写入，数据帧即可使用新速率
	if f.FLA != nil && r.hooks.Feedback != nil {
		r.hooks.Feedback(f.Transmitter, f.FLA.SINR)
	}
	if r.hooks.Release != nil {
		r.hooks.Release(msdu)
	}
}

// OnRTS 收到寻址本站的 RTS，NAV 未被其他站点占用时返回 CTS
func (r *RTSCTS) OnRTS(f *frame.Frame, sinrDB float64) *frame.Frame {
	if r.nav != nil && r.nav.NAVBusy() && r.nav.NAVSetter() != f.Transmitter {
		r.stats.CTSRefused++
		r.log.Debug().
			Dur("sim_time", r.s.Now()).
			Str("from", f.Transmitter.String()).
			Msg("NAV 忙，不回复 CTS")
		return nil
	}

	ctsDur := r.calc.PPDU(r.cfg.CTSBits, r.cfg.Mode)
	d := f.Duration - r.tm.SIFS - ctsDur
	if d < 0 {
		d = 0
	}
	r.stats.CTSSent++
	cts := &frame.Frame{
		Type:        frame.CTS,
		Transmitter: r.self,
		Receiver:    f.Transmitter,
		Bits:        r.cfg.CTSBits,
		Mode:        r.cfg.Mode,
		Duration:    d,
		TxCounter:   1,
		Created:     r.s.Now(),
	}
	if r.cfg.FastLinkFeedback {
		cts.FLA = &frame.LinkFeedback{SINR: sinrDB}
	}
	return cts
}

// Stats 统计
func (r *RTSCTS) Stats() Stats { return r.stats }

// ReservationFor 数据帧被 RTS 保护时 RTS 的 Duration: CTS 与数据帧加上数据帧自身的预约
func (r *RTSCTS) ReservationFor(f *frame.Frame) time.Duration {
	return r.tm.SIFS + r.calc.PPDU(r.cfg.CTSBits, r.cfg.Mode) + r.tm.SIFS + r.calc.PPDU(f.Bits, f.Mode) + f.Duration
}

func (r *RTSCTS) onTimeout() {
	if r.state == stateWaitCTS || r.state == stateReceivingCTS {
		r.fail()
	}
}

func (r *RTSCTS) fail() {
	r.timeout.Cancel()
	msdu := r.pending
	r.reset()
	r.stats.Failures++
	if msdu.Type == frame.DataTXOP {
		msdu.Type = frame.Data
	}
	r.log.Debug().
		Dur("sim_time", r.s.Now()).
		Str("frame", msdu.String()).
		Msg("未收到 CTS")
	if r.hooks.Failed != nil {
		r.hooks.Failed(msdu)
	}
}

func (r *RTSCTS) reset() {
	r.pending = nil
	r.rts = nil
	r.state = stateIdle
}
