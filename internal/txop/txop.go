// =============================================================================
// 文件: internal/txop/txop.go
// 描述: 传输机会 (TXOP) - 一次退避后以 SIFS 间隔连续发送多个帧交换
// =============================================================================
package txop

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/sim"
	"github.com/mrcgq/wifimac/internal/timing"
)

// ErrLimitTooShort TXOP 上限容纳不了一次 SIFS + ACK
var ErrLimitTooShort = errors.New("txop limit too short")

// Config TXOP 参数
type Config struct {
	// Limit 窗口长度，0 表示关闭
	Limit time.Duration
	// SingleReceiver 窗口内只发往同一接收方
	SingleReceiver bool
	// MaxOutTXOP Duration 字段覆盖整个剩余窗口
	MaxOutTXOP bool
	// Impatient 退避后的第一个数据帧自动开启窗口；否则只能由 Start 开启
	Impatient bool
}

// DefaultConfig 默认关闭
func DefaultConfig() Config {
	return Config{
		SingleReceiver: true,
		Impatient:      true,
	}
}

// Validate 校验参数
func (c Config) Validate(tm *timing.Timing) error {
	if c.Limit < 0 {
		return fmt.Errorf("%w: %v", ErrLimitTooShort, c.Limit)
	}
	if c.Limit > 0 && c.Limit <= tm.SIFS+tm.MaxACKDuration {
		return fmt.Errorf("%w: %v <= SIFS + ACK (%v)", ErrLimitTooShort, c.Limit, tm.SIFS+tm.MaxACKDuration)
	}
	return nil
}

// Stats TXOP 统计
type Stats struct {
	Opened    uint64
	Continued uint64
	Closed    uint64
}

// TXOP 传输机会
type TXOP struct {
	s       *sim.Scheduler
	tm      *timing.Timing
	calc    timing.Calculator
	cfg     Config
	ackBits int
	ackMode frame.Mode
	log     zerolog.Logger

	active      bool
	end         time.Duration
	receiver    frame.Address
	hasReceiver bool

	stats Stats
}

// New 创建 TXOP
func New(s *sim.Scheduler, tm *timing.Timing, calc timing.Calculator, cfg Config,
	ackBits int, ackMode frame.Mode, log zerolog.Logger) (*TXOP, error) {
	if err := cfg.Validate(tm); err != nil {
		return nil, err
	}
	return &TXOP{
		s:       s,
		tm:      tm,
		calc:    calc,
		cfg:     cfg,
		ackBits: ackBits,
		ackMode: ackMode,
		log:     log.With().Str("component", "txop").Logger(),
	}, nil
}

// Enabled 是否启用
func (t *TXOP) Enabled() bool { return t.cfg.Limit > 0 }

// Active 窗口是否开启
func (t *TXOP) Active() bool { return t.active }

// Remaining 窗口剩余时间
func (t *TXOP) Remaining() time.Duration {
	if !t.active {
		return 0
	}
	if r := t.end - t.s.Now(); r > 0 {
		return r
	}
	return 0
}

// Start 从当前时刻开启一个长度为 d 的窗口
func (t *TXOP) Start(d time.Duration) {
	t.active = true
	t.end = t.s.Now() + d
	t.hasReceiver = false
	t.stats.Opened++
	t.log.Debug().
		Dur("sim_time", t.s.Now()).
		Dur("limit", d).
		Msg("开启 TXOP")
}

// Close 结束窗口
func (t *TXOP) Close() {
	if !t.active {
		return
	}
	t.active = false
	t.hasReceiver = false
	t.stats.Closed++
}

// eligible 只有单播、非聚合的数据帧参与 TXOP
func eligible(f *frame.Frame) bool {
	return f.IsUnicast() && f.IsData() && !f.IsAggregate()
}

// Process 数据帧开始发送前调用，next 为随后可能发送的帧
//
// 退避获得的 DATA 在 impatient 模式下开启窗口；下一次帧交换能放进窗口时
// 延长 f 的 Duration 覆盖它，否则窗口在本次交换后结束。
func (t *TXOP) Process(f, next *frame.Frame) {
	if !t.Enabled() || !eligible(f) {
		return
	}
	now := t.s.Now()
	if f.Type == frame.Data && !t.active && t.cfg.Impatient {
		t.Start(t.cfg.Limit)
	}
	if !t.active {
		return
	}
	if !t.hasReceiver {
		t.receiver = f.Receiver
		t.hasReceiver = true
	}

	ack := t.calc.PPDU(t.ackBits, t.ackMode)
	txEnd := now + t.calc.PPDU(f.Bits, f.Mode)
	exEnd := txEnd + t.tm.SIFS + ack
	if exEnd > t.end {
		t.Close()
		return
	}
	if next == nil || !t.fits(next, f.Mode, exEnd) {
		return
	}

	if t.cfg.MaxOutTXOP {
		f.Duration = t.end - txEnd
		return
	}
	nextEx := t.tm.SIFS + t.calc.PPDU(next.Bits, f.Mode) + t.tm.SIFS + ack
	f.Duration = exEnd - txEnd + nextEx
}

// Continue 上一次交换成功后判断 next 能否在 SIFS 后直接发送，可以时标记为 DATA_TXOP
func (t *TXOP) Continue(next *frame.Frame) bool {
	if !t.active || next == nil || !eligible(next) {
		t.Close()
		return false
	}
	if !t.fits(next, next.Mode, t.s.Now()) {
		t.Close()
		return false
	}
	next.Type = frame.DataTXOP
	t.stats.Continued++
	return true
}

// fits next 在 start 之后 SIFS 开始的交换能否放进窗口
func (t *TXOP) fits(next *frame.Frame, mode frame.Mode, start time.Duration) bool {
	if !eligible(next) {
		return false
	}
	if t.cfg.SingleReceiver && t.hasReceiver && next.Receiver != t.receiver {
		return false
	}
	if mode.DataBitsPerSymbol == 0 {
		mode = t.ackMode
	}
	ack := t.calc.PPDU(t.ackBits, t.ackMode)
	end := start + t.tm.SIFS + t.calc.PPDU(next.Bits, mode) + t.tm.SIFS + ack
	return end <= t.end
}

// Incoming 接收到的 DATA_TXOP 还原为 DATA
func Incoming(f *frame.Frame) *frame.Frame {
	if f.Type == frame.DataTXOP {
		f.Type = frame.Data
	}
	return f
}

// Stats 统计
func (t *TXOP) Stats() Stats { return t.stats }
