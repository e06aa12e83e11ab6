// =============================================================================
// 文件: internal/rate/rate.go
// 描述: 速率自适应 - 按对端维护策略实例，为待发帧选择 PHY 模式
// =============================================================================
package rate

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/mib"
	"github.com/mrcgq/wifimac/internal/sim"
)

// 策略名称
const (
	StrategyConstant    = "constant"
	StrategyConstantLow = "constant_low"
	StrategyPER         = "per"
	StrategyARF         = "arf"
	StrategySINR        = "sinr"
)

var (
	// ErrUnknownStrategy 未知的策略名称
	ErrUnknownStrategy = errors.New("unknown rate adaptation strategy")
	// ErrUnknownMode 模式 ID 不在模式表中
	ErrUnknownMode = errors.New("unknown phy mode id")
)

// Config 速率自适应参数
type Config struct {
	Strategy string
	// ModeID constant 策略的模式，其他策略的初始模式
	ModeID         int
	ACKModeID      int
	RAForACKFrames bool

	PERForGoingDown float64
	PERForGoingUp   float64

	ARFTimer                time.Duration
	ExponentialBackoff      bool
	InitialSuccessThreshold int
	MaxSuccessThreshold     int

	// RetransmissionLQMReduction 每次重传降低的链路质量 (dB)
	RetransmissionLQMReduction float64
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		Strategy:                   StrategyConstant,
		ModeID:                     0,
		ACKModeID:                  0,
		PERForGoingDown:            0.25,
		PERForGoingUp:              0.05,
		ARFTimer:                   100 * time.Millisecond,
		ExponentialBackoff:         true,
		InitialSuccessThreshold:    10,
		MaxSuccessThreshold:        50,
		RetransmissionLQMReduction: 3.0,
	}
}

// Strategy 单个对端的速率选择策略
type Strategy interface {
	// Mode 第 txCounter 次传输建议使用的模式
	Mode(txCounter int) frame.Mode
	// SetCurrent 帧实际使用的模式
	SetCurrent(m frame.Mode)
	// Current 当前模式
	Current() frame.Mode
}

// Adaptation 速率自适应
type Adaptation struct {
	s     *sim.Scheduler
	table *frame.ModeTable
	per   *mib.PER
	sinr  *mib.SINR
	cfg   Config
	log   zerolog.Logger

	initial frame.Mode
	ackMode frame.Mode
	peers   map[frame.Address]Strategy
}

// New 创建速率自适应，策略名称与模式 ID 在此校验
func New(s *sim.Scheduler, table *frame.ModeTable, per *mib.PER, sinr *mib.SINR,
	cfg Config, log zerolog.Logger) (*Adaptation, error) {
	switch cfg.Strategy {
	case StrategyConstant, StrategyConstantLow, StrategyPER, StrategyARF, StrategySINR:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.Strategy)
	}
	initial, ok := table.ByID(cfg.ModeID)
	if !ok {
		return nil, fmt.Errorf("%w: phy_mode_id=%d", ErrUnknownMode, cfg.ModeID)
	}
	ackMode, ok := table.ByID(cfg.ACKModeID)
	if !ok {
		return nil, fmt.Errorf("%w: ack_phy_mode_id=%d", ErrUnknownMode, cfg.ACKModeID)
	}
	if cfg.InitialSuccessThreshold < 1 {
		cfg.InitialSuccessThreshold = 1
	}
	if cfg.MaxSuccessThreshold < cfg.InitialSuccessThreshold {
		cfg.MaxSuccessThreshold = cfg.InitialSuccessThreshold
	}

	return &Adaptation{
		s:       s,
		table:   table,
		per:     per,
		sinr:    sinr,
		cfg:     cfg,
		log:     log.With().Str("component", "rate").Logger(),
		initial: initial,
		ackMode: ackMode,
		peers:   make(map[frame.Address]Strategy),
	}, nil
}

// Assign 为帧选择模式并写入 f.Mode，聚合帧的子帧使用相同模式
func (a *Adaptation) Assign(f *frame.Frame) {
	m := a.modeFor(f)
	f.Mode = m
	for _, e := range f.Entries {
		e.Mode = m
	}
}

// ModeFor 对端第 txCounter 次传输的模式，不改变策略状态
func (a *Adaptation) ModeFor(peer frame.Address, txCounter int) frame.Mode {
	if peer == frame.Broadcast {
		return a.table.Lowest()
	}
	return a.strategy(peer).Mode(txCounter)
}

// Current 对端当前模式
func (a *Adaptation) Current(peer frame.Address) frame.Mode {
	if st, ok := a.peers[peer]; ok {
		return st.Current()
	}
	return a.initial
}

// Peers 已建立策略的对端数量
func (a *Adaptation) Peers() int { return len(a.peers) }

func (a *Adaptation) modeFor(f *frame.Frame) frame.Mode {
	if !f.IsUnicast() {
		return a.table.Lowest()
	}
	if f.Type.IsResponse() || f.Type == frame.RTS {
		if !a.cfg.RAForACKFrames {
			return a.ackMode
		}
		return a.strategy(f.Receiver).Mode(1)
	}

	st := a.strategy(f.Receiver)
	txCounter := f.TxCounter
	if txCounter < 1 {
		txCounter = 1
	}
	m := st.Mode(txCounter)
	st.SetCurrent(m)
	return m
}

// strategy 首次使用时为对端创建策略实例
func (a *Adaptation) strategy(peer frame.Address) Strategy {
	if st, ok := a.peers[peer]; ok {
		return st
	}
	log := a.log.With().Str("peer", peer.String()).Logger()
	var st Strategy
	switch a.cfg.Strategy {
	case StrategyConstantLow:
		st = &constant{mode: a.table.Lowest()}
	case StrategyPER:
		st = newPERStrategy(peer, a.table, a.per, a.initial, a.cfg, log)
	case StrategyARF:
		st = newARF(a.s, peer, a.table, a.per, a.initial, a.cfg, log)
	case StrategySINR:
		st = newSINRStrategy(newARF(a.s, peer, a.table, a.per, a.initial, a.cfg, log), peer, a.table, a.sinr, a.cfg)
	default:
		st = &constant{mode: a.initial}
	}
	a.peers[peer] = st
	return st
}
