// =============================================================================
// 文件: internal/trace/event.go
// 描述: 仿真事件 - 收发器向外发布的帧级事件
// =============================================================================
package trace

import (
	"encoding/json"
	"time"

	"github.com/mrcgq/wifimac/internal/frame"
)

// Kind 事件类型
type Kind string

const (
	KindEnqueue      Kind = "enqueue"
	KindTx           Kind = "tx"
	KindRxError      Kind = "rx_error"
	KindDeliver      Kind = "deliver"
	KindAck          Kind = "ack"
	KindRetry        Kind = "retry"
	KindDrop         Kind = "drop"
	KindRTSFailure   Kind = "rts_failure"
	KindDuplicate    Kind = "duplicate"
	KindBusyFraction Kind = "busy_fraction"
	KindNAV          Kind = "nav"
)

// Event 单个事件
type Event struct {
	Run       string        `json:"run,omitempty"`
	Station   uint32        `json:"station"`
	Kind      Kind          `json:"kind"`
	SimTime   time.Duration `json:"sim_time_ns"`
	FrameID   uint64        `json:"frame_id,omitempty"`
	FrameType string        `json:"frame_type,omitempty"`
	Peer      uint32        `json:"peer,omitempty"`
	Seq       uint32        `json:"seq,omitempty"`
	Bits      int           `json:"bits,omitempty"`
	Mode      string        `json:"mode,omitempty"`
	TxCounter int           `json:"tx_counter,omitempty"`
	Entries   int           `json:"entries,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Delay     time.Duration `json:"delay_ns,omitempty"`
	Value     float64       `json:"value,omitempty"`
}

// FrameEvent 用帧字段填充事件
func FrameEvent(station frame.Address, kind Kind, now time.Duration, f *frame.Frame) Event {
	ev := Event{
		Station: uint32(station),
		Kind:    kind,
		SimTime: now,
	}
	if f == nil {
		return ev
	}
	ev.FrameID = f.ID
	ev.FrameType = f.Type.String()
	ev.Seq = f.Seq
	ev.Bits = f.Bits
	ev.Mode = f.Mode.Name
	ev.TxCounter = f.TxCounter
	ev.Entries = len(f.Entries)
	if f.Transmitter == station {
		ev.Peer = uint32(f.Receiver)
	} else {
		ev.Peer = uint32(f.Transmitter)
	}
	return ev
}

// Marshal JSON 编码
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
