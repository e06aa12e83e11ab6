// =============================================================================
// 文件: internal/mac/manager.go
// 描述: 站点管理 - 地址、时长计算、帧工厂、MSDU 生存期
// =============================================================================
package mac

import (
	"time"

	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/sim"
	"github.com/mrcgq/wifimac/internal/timing"
)

// Manager 站点级共享服务
type Manager struct {
	s        *sim.Scheduler
	addr     frame.Address
	tm       *timing.Timing
	calc     timing.Calculator
	modes    *frame.ModeTable
	ackBits  int
	ackMode  frame.Mode
	header   int
	lifetime time.Duration

	nextID uint64
}

// NewManager 创建站点管理
func NewManager(s *sim.Scheduler, addr frame.Address, tm *timing.Timing, calc timing.Calculator,
	modes *frame.ModeTable, cfg Config) *Manager {
	ackMode, ok := modes.ByID(cfg.Rate.ACKModeID)
	if !ok {
		ackMode = modes.Lowest()
	}
	return &Manager{
		s:        s,
		addr:     addr,
		tm:       tm,
		calc:     calc,
		modes:    modes,
		ackBits:  cfg.ARQ.ACKBits,
		ackMode:  ackMode,
		header:   cfg.HeaderBits,
		lifetime: cfg.MSDULifetime,
	}
}

// Address 本站地址
func (m *Manager) Address() frame.Address { return m.addr }

// Timing 共享时序参数
func (m *Manager) Timing() *timing.Timing { return m.tm }

// Calculator 时长计算器
func (m *Manager) Calculator() timing.Calculator { return m.calc }

// Modes PHY 模式表
func (m *Manager) Modes() *frame.ModeTable { return m.modes }

// ACKMode 控制应答使用的模式
func (m *Manager) ACKMode() frame.Mode { return m.ackMode }

// NewFrame 创建发往 rx 的数据帧，Bits 含 MAC 头
func (m *Manager) NewFrame(rx frame.Address, payloadBits int) *frame.Frame {
	m.nextID++
	return &frame.Frame{
		ID:          m.nextID,
		Type:        frame.Data,
		Transmitter: m.addr,
		Receiver:    rx,
		PayloadBits: payloadBits,
		Bits:        payloadBits + m.header,
		Created:     m.s.Now(),
	}
}

// assignID 上层直接构造的帧没有 ID 时补上
func (m *Manager) assignID(f *frame.Frame) {
	if f.ID == 0 {
		m.nextID++
		f.ID = m.nextID
	}
}

// ACKDuration ACK 的空口时长
func (m *Manager) ACKDuration() time.Duration {
	return m.calc.PPDU(m.ackBits, m.ackMode)
}

// FrameExchangeDuration 需要 ACK 的单播数据帧之后剩余的交换时长 (SIFS + ACK)
func (m *Manager) FrameExchangeDuration(f *frame.Frame) time.Duration {
	if !f.IsUnicast() || !f.RequiresReply || !f.IsData() {
		return 0
	}
	return m.tm.SIFS + m.ACKDuration()
}

// SetDuration 写入数据帧的 Duration 字段，BAR 等控制帧保持原值
func (m *Manager) SetDuration(f *frame.Frame) {
	if f.IsData() {
		f.Duration = m.FrameExchangeDuration(f)
	}
}

// LifetimeExpired MSDU 是否已超过生存期，0 表示不限
func (m *Manager) LifetimeExpired(f *frame.Frame) bool {
	return m.lifetime > 0 && m.s.Now()-f.Created > m.lifetime
}
