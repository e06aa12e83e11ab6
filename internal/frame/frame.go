// =============================================================================
// 文件: internal/frame/frame.go
// 描述: MAC 帧定义 - 帧类型、站点地址、Block-ACK 位图
// =============================================================================
package frame

import (
	"fmt"
	"time"

	"github.com/bits-and-blooms/bitset"
)

// Type 帧类型
type Type uint8

const (
	Data Type = iota
	DataTXOP
	ACK
	RTS
	CTS
	BlockACK
	BlockACKReq
	Beacon
)

// String 返回帧类型名称
func (t Type) String() string {
	switch t {
	case Data:
		return "DATA"
	case DataTXOP:
		return "DATA_TXOP"
	case ACK:
		return "ACK"
	case RTS:
		return "RTS"
	case CTS:
		return "CTS"
	case BlockACK:
		return "BLOCK_ACK"
	case BlockACKReq:
		return "BLOCK_ACK_REQ"
	case Beacon:
		return "BEACON"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// IsResponse 是否为 SIFS 后立即发送的控制应答
func (t Type) IsResponse() bool {
	return t == ACK || t == CTS || t == BlockACK
}

// Address 站点 MAC 地址
type Address uint32

// Broadcast 广播地址
const Broadcast Address = 0xFFFFFFFF

// String 返回地址的可读形式
func (a Address) String() string {
	if a == Broadcast {
		return "broadcast"
	}
	return fmt.Sprintf("sta-%d", uint32(a))
}

// LinkFeedback 接收方在 RTS 上测得的 SINR
type LinkFeedback struct {
	SINR float64
}

// BlockACKInfo Block-ACK 应答内容
type BlockACKInfo struct {
	StartSeq uint32
	Bitmap   *bitset.BitSet
}

// Acked 判断序号是否被确认
func (b *BlockACKInfo) Acked(seq uint32) bool {
	if b == nil || b.Bitmap == nil || seq < b.StartSeq {
		return false
	}
	return b.Bitmap.Test(uint(seq - b.StartSeq))
}

// Frame MAC 帧
//
// 除 TxCounter 外，帧进入发送队列后不再修改；重传使用 Clone 得到的副本。
type Frame struct {
	ID          uint64
	Type        Type
	Transmitter Address
	Receiver    Address

	Seq    uint32 // 去重序号，发送路径上由 DuplicateFilter 分配
	ARQSeq uint32 // Block-ACK 序号

	Duration    time.Duration // NAV / 帧交换时长字段
	Bits        int           // PSDU 大小
	PayloadBits int
	Mode        Mode

	TxCounter     int
	RequiresReply bool
	Corrupted     bool

	Entries []*Frame // 聚合容器内的子帧
	BA      *BlockACKInfo
	FLA     *LinkFeedback // CTS 携带的快速链路反馈

	Created time.Duration // 进入 MAC 的仿真时间
}

// IsUnicast 是否为单播帧
func (f *Frame) IsUnicast() bool {
	return f.Receiver != Broadcast
}

// IsData 是否为数据帧
func (f *Frame) IsData() bool {
	return f.Type == Data || f.Type == DataTXOP
}

// IsAggregate 是否为聚合容器
func (f *Frame) IsAggregate() bool {
	return len(f.Entries) > 0
}

// Clone 深拷贝
func (f *Frame) Clone() *Frame {
	c := *f
	if f.Entries != nil {
		c.Entries = make([]*Frame, len(f.Entries))
		for i, e := range f.Entries {
			c.Entries[i] = e.Clone()
		}
	}
	if f.BA != nil {
		ba := &BlockACKInfo{StartSeq: f.BA.StartSeq}
		if f.BA.Bitmap != nil {
			ba.Bitmap = f.BA.Bitmap.Clone()
		}
		c.BA = ba
	}
	return &c
}

// Units 返回帧本身或聚合容器内的全部子帧
func (f *Frame) Units() []*Frame {
	if f.IsAggregate() {
		return f.Entries
	}
	return []*Frame{f}
}

// String 简短描述
func (f *Frame) String() string {
	return fmt.Sprintf("%s#%d %s->%s seq=%d bits=%d tx=%d",
		f.Type, f.ID, f.Transmitter, f.Receiver, f.Seq, f.Bits, f.TxCounter)
}
