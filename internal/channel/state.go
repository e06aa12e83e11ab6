// =============================================================================
// 文件: internal/channel/state.go
// 描述: 信道状态 - 融合能量检测、载波侦听、NAV、自身收发与应答等待
// =============================================================================
package channel

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/sim"
	"github.com/mrcgq/wifimac/internal/timing"
)

// Observer 信道忙/闲边沿通知
type Observer interface {
	OnChannelBusy()
	// OnChannelIdle afterError 为 true 表示最近一次接收出错，应使用 EIFS
	OnChannelIdle(afterError bool)
}

// NAVObserver NAV 状态通知
type NAVObserver interface {
	OnNAVBusy(setter frame.Address)
	OnNAVIdle()
}

// Config 信道状态参数
type Config struct {
	EnergyThresholdDBm       float64
	CarrierSenseThresholdDBm float64
	ProbeInterval            time.Duration // 0 表示关闭忙碌比例探针
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		EnergyThresholdDBm:       -62,
		CarrierSenseThresholdDBm: -82,
	}
}

// ErrInvalidConfig 门限参数非法
var ErrInvalidConfig = errors.New("invalid channel config")

// Validate 载波侦听门限不得高于能量检测门限
func (c Config) Validate() error {
	if c.CarrierSenseThresholdDBm > c.EnergyThresholdDBm {
		return fmt.Errorf("%w: carrier_sense=%.1f dBm above energy=%.1f dBm",
			ErrInvalidConfig, c.CarrierSenseThresholdDBm, c.EnergyThresholdDBm)
	}
	if c.ProbeInterval < 0 {
		return fmt.Errorf("%w: probe_interval=%v", ErrInvalidConfig, c.ProbeInterval)
	}
	return nil
}

// State 信道状态
type State struct {
	s    *sim.Scheduler
	tm   *timing.Timing
	self frame.Address
	cfg  Config
	log  zerolog.Logger

	transmitting bool
	receiving    bool
	energyBusy   bool
	waitReply    bool
	lastRxError  bool

	navActive bool
	navExpiry time.Duration
	navSetter frame.Address
	navTimer  *sim.Timeout
	waitTimer *sim.Timeout

	busy      bool
	observers []Observer
	navObs    []NAVObserver

	// 忙碌比例探针
	busySince   time.Duration
	busyInProbe time.Duration
	probeStart  time.Duration
	onProbe     func(fraction float64)
}

// New 创建信道状态
func New(s *sim.Scheduler, tm *timing.Timing, self frame.Address, cfg Config, log zerolog.Logger) *State {
	c := &State{
		s:    s,
		tm:   tm,
		self: self,
		cfg:  cfg,
		log:  log.With().Str("component", "channel").Logger(),
	}
	c.navTimer = sim.NewTimeout(s, c.onNAVExpired)
	c.waitTimer = sim.NewTimeout(s, c.onReplyWaitExpired)
	return c
}

// Attach 注册忙/闲观察者
func (c *State) Attach(o Observer) {
	c.observers = append(c.observers, o)
}

// AttachNAV 注册 NAV 观察者
func (c *State) AttachNAV(o NAVObserver) {
	c.navObs = append(c.navObs, o)
}

// OnProbe 设置忙碌比例回调，每 ProbeInterval 调用一次
func (c *State) OnProbe(fn func(fraction float64)) {
	c.onProbe = fn
	if c.cfg.ProbeInterval > 0 && fn != nil {
		c.probeStart = c.s.Now()
		c.s.Schedule(c.cfg.ProbeInterval, c.probe)
	}
}

// IsBusy 信道是否忙
func (c *State) IsBusy() bool {
	return c.busy
}

// NAVBusy NAV 是否有效
func (c *State) NAVBusy() bool {
	return c.navActive
}

// NAVSetter 最近一次延长 NAV 的站点
func (c *State) NAVSetter() frame.Address {
	return c.navSetter
}

// NAVExpiry NAV 到期时刻
func (c *State) NAVExpiry() time.Duration {
	return c.navExpiry
}

// LastRxError 最近一次接收是否出错
func (c *State) LastRxError() bool {
	return c.lastRxError
}

// OnTxStart 本站开始发送
func (c *State) OnTxStart() {
	c.transmitting = true
	c.update()
}

// OnTxEnd 本站发送结束，waitReply > 0 时在此期间保持忙以等待应答
func (c *State) OnTxEnd(waitReply time.Duration) {
	c.transmitting = false
	if waitReply > 0 {
		c.waitReply = true
		c.waitTimer.Set(waitReply)
	}
	c.update()
}

// OnRxStart 检测到前导，功率达到载波侦听门限时视为正在接收
func (c *State) OnRxStart(powerDBm float64) {
	if powerDBm >= c.cfg.CarrierSenseThresholdDBm {
		c.receiving = true
		c.update()
	}
}

// OnRxEnd 接收结束，f 为 nil 表示接收出错
func (c *State) OnRxEnd(f *frame.Frame) {
	c.receiving = false
	if f == nil {
		c.lastRxError = true
		c.abortReplyWait()
	} else {
		c.lastRxError = false
		c.onFrame(f)
	}
	c.update()
}

// OnEnergy 接收能量变化
func (c *State) OnEnergy(dBm float64) {
	busy := dBm >= c.cfg.EnergyThresholdDBm
	if busy != c.energyBusy {
		c.energyBusy = busy
		c.update()
	}
}

// SetNAV 将 NAV 延长到 now+d，不会缩短
func (c *State) SetNAV(d time.Duration, setter frame.Address) {
	expiry := c.s.Now() + d
	if expiry <= c.navExpiry && c.navActive {
		return
	}
	c.navExpiry = expiry
	c.navSetter = setter
	c.navTimer.Set(d)

	if !c.navActive {
		c.navActive = true
		for _, o := range c.navObs {
			o.OnNAVBusy(setter)
		}
	}
	c.log.Debug().
		Dur("sim_time", c.s.Now()).
		Dur("nav_expiry", expiry).
		Str("setter", setter.String()).
		Msg("NAV 更新")
}

// onFrame 处理成功接收的帧：寻址本站的帧结束应答等待，其余按 Duration 设置 NAV
func (c *State) onFrame(f *frame.Frame) {
	if f.Receiver == c.self {
		c.abortReplyWait()
		return
	}
	if f.Transmitter == c.self {
		return
	}

	d := f.Duration
	if d < c.tm.SIFS {
		return
	}
	if f.Type == frame.RTS {
		// 旁听到的 RTS 只保留到数据帧应开始的时刻
		window := 2*c.tm.SIFS + c.tm.MaxCTSDuration + 2*c.tm.Slot
		if window < d {
			d = window
		}
	}
	c.SetNAV(d, f.Transmitter)
}

func (c *State) abortReplyWait() {
	if c.waitReply {
		c.waitReply = false
		c.waitTimer.Cancel()
	}
}

func (c *State) onReplyWaitExpired() {
	c.waitReply = false
	c.update()
}

func (c *State) onNAVExpired() {
	c.navActive = false
	for _, o := range c.navObs {
		o.OnNAVIdle()
	}
	c.update()
}

// update 重新计算忙/闲并在边沿通知观察者
func (c *State) update() {
	busy := c.transmitting || c.receiving || c.energyBusy || c.navActive || c.waitReply
	if busy == c.busy {
		return
	}
	c.busy = busy
	now := c.s.Now()
	if busy {
		c.busySince = now
		for _, o := range c.observers {
			o.OnChannelBusy()
		}
		return
	}

	c.busyInProbe += now - maxDuration(c.busySince, c.probeStart)
	afterError := c.lastRxError
	for _, o := range c.observers {
		o.OnChannelIdle(afterError)
	}
}

func (c *State) probe() {
	now := c.s.Now()
	busy := c.busyInProbe
	if c.busy {
		busy += now - maxDuration(c.busySince, c.probeStart)
	}
	interval := now - c.probeStart
	if interval > 0 && c.onProbe != nil {
		c.onProbe(float64(busy) / float64(interval))
	}
	c.busyInProbe = 0
	c.probeStart = now
	c.s.Schedule(c.cfg.ProbeInterval, c.probe)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
