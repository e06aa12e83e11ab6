// =============================================================================
// 文件: internal/arq/arq.go
// 描述: ARQ 公共接口 - 停等 ARQ 与 Block-ACK 共用的发送/接收契约
// =============================================================================
package arq

import (
	"github.com/mrcgq/wifimac/internal/frame"
)

// DropReason 丢弃原因
type DropReason string

const (
	DropRetryLimit      DropReason = "retry_limit"
	DropLifetime        DropReason = "lifetime"
	DropMaxTransmission DropReason = "max_transmissions"
	DropDuplicate       DropReason = "duplicate"
	DropOld             DropReason = "old_sequence"
)

// Hooks ARQ 向收发器报告的事件
type Hooks struct {
	// Acked 帧已被对端确认
	Acked func(f *frame.Frame)
	// Failed 一次传输失败，帧将重传
	Failed func(f *frame.Frame)
	// Dropped 帧被放弃
	Dropped func(f *frame.Frame, reason DropReason)
	// Ready 有新的帧可发送或容量已释放
	Ready func()
	// Backlogged 上层缓冲区中是否还有发往 peer 的帧
	Backlogged func(peer frame.Address) bool
}

func (h *Hooks) acked(f *frame.Frame) {
	if h.Acked != nil {
		h.Acked(f)
	}
}

func (h *Hooks) failed(f *frame.Frame) {
	if h.Failed != nil {
		h.Failed(f)
	}
}

func (h *Hooks) dropped(f *frame.Frame, reason DropReason) {
	if h.Dropped != nil {
		h.Dropped(f, reason)
	}
}

func (h *Hooks) ready() {
	if h.Ready != nil {
		h.Ready()
	}
}

func (h *Hooks) backlogged(peer frame.Address) bool {
	return h.Backlogged != nil && h.Backlogged(peer)
}

// ARQ 可靠传输层
type ARQ interface {
	// Accepts 是否能接收这个上层帧
	Accepts(f *frame.Frame) bool
	// Outgoing 接收上层帧
	Outgoing(f *frame.Frame)
	// NextFrame 查看下一个待发送的帧，不移除
	NextFrame() *frame.Frame
	// TakeFrame 取出下一个待发送的帧（副本）
	TakeFrame() *frame.Frame
	// OnTxEnd 帧发送完毕
	OnTxEnd(f *frame.Frame)
	// OnRxStart / OnRxEnd / OnRxError PHY 接收事件
	OnRxStart()
	OnRxEnd()
	OnRxError()
	// Incoming 处理寻址本站的帧，返回需上交的帧与 SIFS 后发送的应答
	Incoming(f *frame.Frame) (deliver []*frame.Frame, reply *frame.Frame)
	// TransmissionFailed 帧未能发出（如 RTS/CTS 失败），计入重传次数
	TransmissionFailed(f *frame.Frame)
	// Stats 统计
	Stats() Stats
}

// Stats ARQ 统计
type Stats struct {
	Sent            uint64
	Retransmissions uint64
	Acked           uint64
	Dropped         uint64
	RepliesSent     uint64
	Delivered       uint64
	Outstanding     int
}
