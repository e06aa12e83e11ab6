package rate

import (
	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/mib"
	"github.com/mrcgq/wifimac/internal/sim"
)

// constant 固定模式
type constant struct {
	mode frame.Mode
}

func (c *constant) Mode(int) frame.Mode { return c.mode }

func (c *constant) SetCurrent(frame.Mode) {}

func (c *constant) Current() frame.Mode { return c.mode }

// perStrategy 按 PER 门限升降一档，模式变化时清空 PER 统计
type perStrategy struct {
	peer  frame.Address
	table *frame.ModeTable
	per   *mib.PER
	down  float64
	up    float64
	cur   frame.Mode
	log   zerolog.Logger
}

func newPERStrategy(peer frame.Address, table *frame.ModeTable, per *mib.PER, initial frame.Mode,
	cfg Config, log zerolog.Logger) *perStrategy {
	return &perStrategy{
		peer:  peer,
		table: table,
		per:   per,
		down:  cfg.PERForGoingDown,
		up:    cfg.PERForGoingUp,
		cur:   initial,
		log:   log,
	}
}

func (p *perStrategy) Mode(int) frame.Mode {
	if !p.per.Knows(p.peer) {
		return p.cur
	}
	rate := p.per.PER(p.peer)
	switch {
	case rate > p.down:
		return p.table.Down(p.cur)
	case rate < p.up:
		return p.table.Up(p.cur)
	}
	return p.cur
}

func (p *perStrategy) SetCurrent(m frame.Mode) {
	if m == p.cur {
		return
	}
	p.log.Info().Str("from", p.cur.Name).Str("to", m.Name).Msg("切换 PHY 模式")
	p.per.Reset(p.peer)
	p.cur = m
}

func (p *perStrategy) Current() frame.Mode { return p.cur }

// arf 自动速率回退
//
// 连续成功达到门限时以探测帧上调一档；探测帧首次失败或普通帧第三次传输时下调。
// 开启指数退避后，探测失败使门限加倍，普通下调使门限减半。下调后启动定时器，
// 超时未变化则强制上调探测。
type arf struct {
	peer  frame.Address
	table *frame.ModeTable
	per   *mib.PER
	cfg   Config
	log   zerolog.Logger

	cur       frame.Mode
	threshold int
	probe     bool
	timer     *sim.Timeout
}

func newARF(s *sim.Scheduler, peer frame.Address, table *frame.ModeTable, per *mib.PER, initial frame.Mode,
	cfg Config, log zerolog.Logger) *arf {
	a := &arf{
		peer:      peer,
		table:     table,
		per:       per,
		cfg:       cfg,
		log:       log,
		cur:       initial,
		threshold: cfg.InitialSuccessThreshold,
	}
	a.timer = sim.NewTimeout(s, a.onTimer)
	return a
}

func (a *arf) Mode(txCounter int) frame.Mode {
	if (a.probe && txCounter == 2) || txCounter >= 3 {
		return a.table.Down(a.cur)
	}
	if a.per.Successes(a.peer) >= a.threshold {
		return a.table.Up(a.cur)
	}
	return a.cur
}

func (a *arf) SetCurrent(m frame.Mode) {
	if m == a.cur {
		a.probe = false
		return
	}

	down := m == a.table.Down(a.cur)
	a.cur = m
	a.per.Reset(a.peer)

	if !down {
		a.probe = true
		a.timer.Cancel()
		a.log.Debug().Str("mode", m.Name).Msg("发送探测帧")
		return
	}

	if a.cfg.ARFTimer > 0 && !a.timer.IsSet() {
		a.timer.Set(a.cfg.ARFTimer)
	}
	if a.probe {
		a.probe = false
		if a.cfg.ExponentialBackoff && a.threshold < a.cfg.MaxSuccessThreshold {
			a.threshold *= 2
			if a.threshold > a.cfg.MaxSuccessThreshold {
				a.threshold = a.cfg.MaxSuccessThreshold
			}
		}
		a.log.Debug().Str("mode", m.Name).Int("threshold", a.threshold).Msg("探测失败，下调")
		return
	}
	if a.cfg.ExponentialBackoff {
		a.threshold /= 2
		if a.threshold < a.cfg.InitialSuccessThreshold {
			a.threshold = a.cfg.InitialSuccessThreshold
		}
	}
	a.log.Debug().Str("mode", m.Name).Int("threshold", a.threshold).Msg("连续失败，下调")
}

func (a *arf) Current() frame.Mode { return a.cur }

func (a *arf) onTimer() {
	if a.table.IsHighest(a.cur) {
		return
	}
	a.cur = a.table.Up(a.cur)
	a.per.Reset(a.peer)
	a.probe = true
	a.log.Debug().Str("mode", a.cur.Name).Msg("ARF 定时器到期，上调")
}

// sinrStrategy 按对端反馈的 SINR 选择模式，未知时退回 ARF
type sinrStrategy struct {
	*arf
	peer      frame.Address
	table     *frame.ModeTable
	sinr      *mib.SINR
	reduction float64
}

func newSINRStrategy(fallback *arf, peer frame.Address, table *frame.ModeTable, sinr *mib.SINR, cfg Config) *sinrStrategy {
	return &sinrStrategy{
		arf:       fallback,
		peer:      peer,
		table:     table,
		sinr:      sinr,
		reduction: cfg.RetransmissionLQMReduction,
	}
}

func (s *sinrStrategy) Mode(txCounter int) frame.Mode {
	if s.sinr == nil || !s.sinr.KnowsPeer(s.peer) {
		return s.arf.Mode(txCounter)
	}
	lqm := s.sinr.PeerSINR(s.peer) - float64(txCounter-1)*s.reduction
	if m, ok := s.table.ForSINR(lqm); ok {
		return m
	}
	return s.table.Lowest()
}

func (s *sinrStrategy) SetCurrent(m frame.Mode) {
	if s.sinr == nil || !s.sinr.KnowsPeer(s.peer) {
		s.arf.SetCurrent(m)
	}
}
