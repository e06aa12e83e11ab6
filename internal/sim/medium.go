// =============================================================================
// 文件: internal/sim/medium.go
// 描述: 单冲突域无线信道 - 传播时延、功率叠加、碰撞、随机丢失、半双工
// =============================================================================
package sim

import (
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
)

// Listener 无线电事件接收者
type Listener interface {
	OnTxEnd(f *frame.Frame)
	OnRxStart(powerDBm float64)
	OnRxEnd(f *frame.Frame, sinrDB float64)
	OnRxError()
	OnEnergy(dBm float64)
}

// Link 单向链路参数
type Link struct {
	From       frame.Address
	To         frame.Address
	RxPowerDBm float64
	LossRate   float64
}

// MediumConfig 信道参数
type MediumConfig struct {
	PropagationDelay  time.Duration
	NoiseFloorDBm     float64
	DefaultRxPowerDBm float64
	LossRate          float64 // 整帧丢失概率
	EntryLossRate     float64 // 聚合子帧独立丢失概率
	Links             []Link
	Hidden            [][2]frame.Address // 互相听不到的站点对
}

// DefaultMediumConfig 默认信道参数
func DefaultMediumConfig() MediumConfig {
	return MediumConfig{
		PropagationDelay:  time.Microsecond,
		NoiseFloorDBm:     -95,
		DefaultRxPowerDBm: -60,
	}
}

type linkKey struct{ from, to frame.Address }

// Medium 共享信道
type Medium struct {
	s   *Scheduler
	cfg MediumConfig
	rng *rand.Rand
	log zerolog.Logger

	radios []*Radio
	links  map[linkKey]Link
	hidden map[linkKey]bool

	// OnDelivered 成功接收时回调，用于把接收方 SINR 反馈给发送方
	OnDelivered func(from, to frame.Address, sinrDB float64)
}

// signal 一次传输在某个接收端的信号
type signal struct {
	f         *frame.Frame
	powerDBm  float64
	lossRate  float64
	corrupted bool
}

// Radio 挂在信道上的收发机
type Radio struct {
	m        *Medium
	addr     frame.Address
	listener Listener

	transmitting bool
	signals      map[*signal]struct{}
	rx           *signal
}

// NewMedium 创建信道
func NewMedium(s *Scheduler, cfg MediumConfig, rng *rand.Rand, log zerolog.Logger) *Medium {
	m := &Medium{
		s:      s,
		cfg:    cfg,
		rng:    rng,
		log:    log.With().Str("component", "medium").Logger(),
		links:  make(map[linkKey]Link),
		hidden: make(map[linkKey]bool),
	}
	for _, l := range cfg.Links {
		m.links[linkKey{l.From, l.To}] = l
	}
	for _, h := range cfg.Hidden {
		m.hidden[linkKey{h[0], h[1]}] = true
		m.hidden[linkKey{h[1], h[0]}] = true
	}
	return m
}

// Attach 挂载收发机
func (m *Medium) Attach(addr frame.Address, l Listener) *Radio {
	r := &Radio{
		m:        m,
		addr:     addr,
		listener: l,
		signals:  make(map[*signal]struct{}),
	}
	m.radios = append(m.radios, r)
	return r
}

// Address 收发机地址
func (r *Radio) Address() frame.Address { return r.addr }

// Transmitting 是否正在发送
func (r *Radio) Transmitting() bool { return r.transmitting }

// Transmit 发送一个 PPDU，持续 d
func (r *Radio) Transmit(f *frame.Frame, d time.Duration) {
	m := r.m
	if r.rx != nil {
		// 半双工：开始发送即放弃当前接收
		r.rx = nil
		r.listener.OnRxError()
	}
	r.transmitting = true

	for _, peer := range m.radios {
		if peer == r || m.hidden[linkKey{r.addr, peer.addr}] {
			continue
		}
		sig := &signal{
			f:        f,
			powerDBm: m.rxPower(r.addr, peer.addr),
			lossRate: m.lossRate(r.addr, peer.addr),
		}
		peer := peer
		m.s.Schedule(m.cfg.PropagationDelay, func() { peer.signalStart(sig) })
		m.s.Schedule(m.cfg.PropagationDelay+d, func() { peer.signalEnd(sig) })
	}

	m.s.Schedule(d, func() {
		r.transmitting = false
		r.listener.OnTxEnd(f)
	})
}

func (r *Radio) signalStart(sig *signal) {
	r.signals[sig] = struct{}{}
	r.listener.OnEnergy(r.energy())

	if r.transmitting {
		return
	}
	if r.rx != nil {
		// 重叠信号：正在接收的帧与新信号都无法解码
		r.rx.corrupted = true
		return
	}
	if len(r.signals) > 1 {
		return
	}
	r.rx = sig
	r.listener.OnRxStart(sig.powerDBm)
}

func (r *Radio) signalEnd(sig *signal) {
	delete(r.signals, sig)
	r.listener.OnEnergy(r.energy())

	if r.rx != sig {
		return
	}
	r.rx = nil

	m := r.m
	sinr := sig.powerDBm - m.cfg.NoiseFloorDBm
	if sig.corrupted || sinr < sig.f.Mode.MinSINR || m.rng.Float64() < sig.lossRate {
		m.log.Debug().
			Str("station", r.addr.String()).
			Str("frame", sig.f.String()).
			Bool("collision", sig.corrupted).
			Msg("接收失败")
		r.listener.OnRxError()
		return
	}

	rx := sig.f.Clone()
	if m.cfg.EntryLossRate > 0 {
		for _, e := range rx.Entries {
			if m.rng.Float64() < m.cfg.EntryLossRate {
				e.Corrupted = true
			}
		}
	}
	r.listener.OnRxEnd(rx, sinr)
	if m.OnDelivered != nil {
		m.OnDelivered(sig.f.Transmitter, r.addr, sinr)
	}
}

// energy 当前接收到的总功率 (dBm)，无信号时为噪底
func (r *Radio) energy() float64 {
	if len(r.signals) == 0 {
		return r.m.cfg.NoiseFloorDBm
	}
	mw := 0.0
	for s := range r.signals {
		mw += math.Pow(10, s.powerDBm/10)
	}
	return 10 * math.Log10(mw)
}

func (m *Medium) rxPower(from, to frame.Address) float64 {
	if l, ok := m.links[linkKey{from, to}]; ok && l.RxPowerDBm != 0 {
		return l.RxPowerDBm
	}
	return m.cfg.DefaultRxPowerDBm
}

func (m *Medium) lossRate(from, to frame.Address) float64 {
	if l, ok := m.links[linkKey{from, to}]; ok && l.LossRate > 0 {
		return l.LossRate
	}
	return m.cfg.LossRate
}
