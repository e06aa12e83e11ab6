// =============================================================================
// 文件: internal/timing/timing.go
// 描述: 共享时序参数与协议时长计算 (OFDM PPDU 时长)
// =============================================================================
package timing

import (
	"time"

	"github.com/mrcgq/wifimac/internal/frame"
)

// Timing 全部组件共享的时序参数
//
// 每个收发器只持有一份 Timing，各组件保存指针，不复制 SIFS 等常量。
type Timing struct {
	SIFS                    time.Duration
	Slot                    time.Duration
	AIFS                    time.Duration
	EIFS                    time.Duration
	PreambleProcessingDelay time.Duration
	ACKTimeout              time.Duration
	MaxACKDuration          time.Duration
	MaxCTSDuration          time.Duration
}

// Default 802.11a 默认时序
func Default() *Timing {
	t := &Timing{
		SIFS:                    16 * time.Microsecond,
		Slot:                    9 * time.Microsecond,
		PreambleProcessingDelay: 21 * time.Microsecond,
		MaxACKDuration:          44 * time.Microsecond,
		MaxCTSDuration:          44 * time.Microsecond,
	}
	t.Derive()
	return t
}

// Derive 填充未设置的派生参数
func (t *Timing) Derive() {
	if t.AIFS == 0 {
		t.AIFS = t.SIFS + 2*t.Slot
	}
	if t.EIFS == 0 {
		t.EIFS = t.SIFS + t.MaxACKDuration + t.AIFS
	}
	if t.ACKTimeout == 0 {
		t.ACKTimeout = t.SIFS + t.Slot + t.PreambleProcessingDelay
	}
}

// Calculator 协议时长计算器
type Calculator interface {
	// PPDU 整个 PPDU 的空口时长
	PPDU(bits int, m frame.Mode) time.Duration
	// Preamble 前导码与 SIGNAL 字段时长
	Preamble(m frame.Mode) time.Duration
}

// OFDM 802.11a OFDM 时长计算
type OFDM struct {
	PreambleDuration time.Duration
	SignalDuration   time.Duration
	SymbolDuration   time.Duration
	ServiceBits      int
	TailBits         int
}

// NewOFDM 默认参数：16µs 前导 + 4µs SIGNAL，4µs 符号
func NewOFDM() *OFDM {
	return &OFDM{
		PreambleDuration: 16 * time.Microsecond,
		SignalDuration:   4 * time.Microsecond,
		SymbolDuration:   4 * time.Microsecond,
		ServiceBits:      16,
		TailBits:         6,
	}
}

// Preamble 前导时长
func (o *OFDM) Preamble(frame.Mode) time.Duration {
	return o.PreambleDuration + o.SignalDuration
}

// Symbols 数据符号数
func (o *OFDM) Symbols(bits int, m frame.Mode) int {
	if m.DataBitsPerSymbol <= 0 {
		return 0
	}
	total := o.ServiceBits + bits + o.TailBits
	return (total + m.DataBitsPerSymbol - 1) / m.DataBitsPerSymbol
}

// PPDU 空口时长
func (o *OFDM) PPDU(bits int, m frame.Mode) time.Duration {
	return o.Preamble(m) + time.Duration(o.Symbols(bits, m))*o.SymbolDuration
}
