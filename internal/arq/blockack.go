// =============================================================================
// 文件: internal/arq/blockack.go
// 描述: Block-ACK - 发送窗口、BAR 时机、位图确认、乱序重排接收
// =============================================================================
package arq

import (
	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/mib"
	"github.com/mrcgq/wifimac/internal/sim"
	"github.com/mrcgq/wifimac/internal/timing"
)

// BlockACKConfig Block-ACK 参数
type BlockACKConfig struct {
	// Capacity 发送队列与在途帧总数上限
	Capacity int
	// MaxOnAir 未确认帧窗口
	MaxOnAir             int
	MaximumTransmissions int
	// Impatient 队列耗尽即发送 BAR；否则等待窗口填满或上层无后续帧
	Impatient           bool
	BlockACKBits        int
	BlockACKRequestBits int
	// Mode BAR / BA 使用的 PHY 模式
	Mode frame.Mode
	// Expired 返回 true 表示 MSDU 已超过生存期
	Expired func(f *frame.Frame) bool
}

// DefaultBlockACKConfig 默认参数
func DefaultBlockACKConfig() BlockACKConfig {
	return BlockACKConfig{
		Capacity:             100,
		MaxOnAir:             10,
		MaximumTransmissions: 4,
		Impatient:            true,
		BlockACKBits:         32 * 8,
		BlockACKRequestBits:  24 * 8,
		Mode:                 frame.DefaultModeTable().Lowest(),
	}
}

// BlockACK Block-ACK 发送与接收
type BlockACK struct {
	s     *sim.Scheduler
	tm    *timing.Timing
	calc  timing.Calculator
	self  frame.Address
	cfg   BlockACKConfig
	per   *mib.PER
	hooks Hooks
	log   zerolog.Logger

	tx *transmissionQueue
	rx map[frame.Address]*receptionQueue

	stats Stats
}

// NewBlockACK 创建 Block-ACK
func NewBlockACK(s *sim.Scheduler, tm *timing.Timing, calc timing.Calculator, self frame.Address,
	cfg BlockACKConfig, per *mib.PER, hooks Hooks, log zerolog.Logger) *BlockACK {
	if cfg.MaxOnAir < 1 {
		cfg.MaxOnAir = 1
	}
	if cfg.Capacity < cfg.MaxOnAir {
		cfg.Capacity = cfg.MaxOnAir
	}
	b := &BlockACK{
		s:     s,
		tm:    tm,
		calc:  calc,
		self:  self,
		cfg:   cfg,
		per:   per,
		hooks: hooks,
		log:   log.With().Str("component", "blockack").Logger(),
		rx:    make(map[frame.Address]*receptionQueue),
	}
	b.tx = newTransmissionQueue(b)
	return b
}

// Accepts 同一时刻只服务一个接收方，且总数不超过容量
func (b *BlockACK) Accepts(f *frame.Frame) bool {
	return b.tx.accepts(f)
}

// Outgoing 加入发送队列并分配序号
func (b *BlockACK) Outgoing(f *frame.Frame) {
	b.tx.enqueue(f)
}

// NextFrame 下一个数据帧或 BAR
func (b *BlockACK) NextFrame() *frame.Frame {
	return b.tx.next()
}

// TakeFrame 取出下一个数据帧或 BAR
func (b *BlockACK) TakeFrame() *frame.Frame {
	f := b.tx.take()
	if f == nil {
		return nil
	}
	if f.IsData() {
		b.stats.Sent++
		if f.TxCounter > 1 {
			b.stats.Retransmissions++
		}
	}
	return f.Clone()
}

// OnTxEnd BAR 发送完毕后等待 Block-ACK
func (b *BlockACK) OnTxEnd(f *frame.Frame) {
	if f.Type == frame.BlockACKReq {
		b.tx.onBARSent(f)
	}
}

// OnRxStart 等待 BA 时检测到前导
func (b *BlockACK) OnRxStart() { b.tx.onRxStart() }

// OnRxEnd 接收结束仍未拿到 BA 视为失败
func (b *BlockACK) OnRxEnd() { b.tx.onRxEndWithoutBA() }

// OnRxError 接收出错视为失败
func (b *BlockACK) OnRxError() { b.tx.onRxEndWithoutBA() }

// Incoming 处理寻址本站的帧
func (b *BlockACK) Incoming(f *frame.Frame) ([]*frame.Frame, *frame.Frame) {
	switch {
	case f.Type == frame.BlockACK:
		b.tx.onBlockACK(f)
		return nil, nil

	case f.Type == frame.BlockACKReq:
		q := b.receptionQueue(f.Transmitter)
		deliver, reply := q.onBAR(f)
		b.stats.Delivered += uint64(len(deliver))
		b.stats.RepliesSent++
		return deliver, reply

	case f.IsData():
		if !f.IsUnicast() {
			b.stats.Delivered++
			return []*frame.Frame{f}, nil
		}
		deliver := b.receptionQueue(f.Transmitter).onData(f)
		b.stats.Delivered += uint64(len(deliver))
		return deliver, nil
	}
	return nil, nil
}

// TransmissionFailed RTS/CTS 失败：BAR 失败时全部在途帧按未确认处理，仅在放弃帧时更新 PER
func (b *BlockACK) TransmissionFailed(f *frame.Frame) {
	if f.Type == frame.BlockACKReq {
		b.tx.onBARFailed()
	}
}

// Stats 统计
func (b *BlockACK) Stats() Stats {
	st := b.stats
	st.Outstanding = b.tx.outstanding()
	return st
}

func (b *BlockACK) receptionQueue(tx frame.Address) *receptionQueue {
	q, ok := b.rx[tx]
	if !ok {
		q = newReceptionQueue(b, tx)
		b.rx[tx] = q
	}
	return q
}

var _ ARQ = (*BlockACK)(nil)
