package arq

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/mib"
	"github.com/mrcgq/wifimac/internal/sim"
	"github.com/mrcgq/wifimac/internal/timing"
)

type hookRecorder struct {
	acked   []*frame.Frame
	failed  int
	dropped []DropReason
	ready   int
}

func (r *hookRecorder) hooks() Hooks {
	return Hooks{
		Acked:   func(f *frame.Frame) { r.acked = append(r.acked, f) },
		Failed:  func(*frame.Frame) { r.failed++ },
		Dropped: func(_ *frame.Frame, reason DropReason) { r.dropped = append(r.dropped, reason) },
		Ready:   func() { r.ready++ },
	}
}

func newStopAndWait(cfg Config) (*sim.Scheduler, *StopAndWait, *mib.PER, *hookRecorder) {
	s := sim.NewScheduler()
	per := mib.NewPER(mib.DefaultPERConfig())
	rec := &hookRecorder{}
	a := NewStopAndWait(s, timing.Default(), timing.NewOFDM(), 1, cfg, per, rec.hooks(), zerolog.Nop())
	return s, a, per, rec
}

func TestRetryExhaustion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RTSThreshold = 6400
	s, a, per, rec := newStopAndWait(cfg)

	// 10000 位大于门限，使用长重传上限 4
	f := &frame.Frame{ID: 1, Type: frame.Data, Transmitter: 1, Receiver: 2, Bits: 10000}
	a.Outgoing(f)

	attempts := 0
	for a.NextFrame() != nil && attempts < 20 {
		c := a.TakeFrame()
		attempts++
		if c.TxCounter != attempts {
			t.Errorf("第 %d 次传输计数错误: got %d", attempts, c.TxCounter)
		}
		a.OnTxEnd(c)
		s.Run(context.Background())
	}

	if attempts != 4 {
		t.Errorf("传输次数错误: got %d, want 4", attempts)
	}
	if len(rec.dropped) != 1 || rec.dropped[0] != DropRetryLimit {
		t.Errorf("应恰好丢弃一次: %v", rec.dropped)
	}
	if per.Failures(2) != 4 {
		t.Errorf("PER-MIB 失败次数错误: got %d, want 4", per.Failures(2))
	}
	if !a.Accepts(&frame.Frame{}) {
		t.Error("丢弃后应释放容量")
	}

	s.Run(context.Background())
	if a.NextFrame() != nil {
		t.Error("丢弃后不应再重传")
	}
}

func TestRetryExhaustionWithoutTransmission(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RTSThreshold = 6400
	_, a, per, rec := newStopAndWait(cfg)

	// 每次 RTS 都未换来 CTS，数据帧从未发出
	a.Outgoing(&frame.Frame{ID: 1, Type: frame.Data, Transmitter: 1, Receiver: 2, Bits: 10000})
	attempts := 0
	for a.NextFrame() != nil && attempts < 20 {
		a.TransmissionFailed(a.TakeFrame())
		attempts++
	}

	if attempts != 4 {
		t.Errorf("尝试次数错误: got %d, want 4", attempts)
	}
	if len(rec.dropped) != 1 || rec.dropped[0] != DropRetryLimit {
		t.Fatalf("应因重传上限丢弃: %v", rec.dropped)
	}
	if total, lost := per.Totals(2); total != 1 || lost != 1 {
		t.Errorf("丢弃时应向 PER-MIB 报告一次失败: total=%d lost=%d", total, lost)
	}
}

func TestShortRetryLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RTSThreshold = 6400
	s, a, _, rec := newStopAndWait(cfg)

	a.Outgoing(&frame.Frame{ID: 1, Type: frame.Data, Transmitter: 1, Receiver: 2, Bits: 1000})
	attempts := 0
	for a.NextFrame() != nil && attempts < 20 {
		a.OnTxEnd(a.TakeFrame())
		attempts++
		s.Run(context.Background())
	}
	if attempts != 7 {
		t.Errorf("短帧传输次数错误: got %d, want 7", attempts)
	}
	if rec.failed != 6 {
		t.Errorf("重传通知次数错误: got %d, want 6", rec.failed)
	}
}

func TestStopAndWaitACK(t *testing.T) {
	s, a, per, rec := newStopAndWait(DefaultConfig())

	a.Outgoing(&frame.Frame{ID: 7, Type: frame.Data, Transmitter: 1, Receiver: 2, Bits: 800})
	if a.Accepts(&frame.Frame{}) {
		t.Error("有在途帧时不应接收新帧")
	}
	c := a.TakeFrame()
	a.OnTxEnd(c)
	a.OnRxStart()
	a.Incoming(&frame.Frame{Type: frame.ACK, Transmitter: 2, Receiver: 1})
	a.OnRxEnd()
	s.Run(context.Background())

	if len(rec.acked) != 1 || rec.acked[0].ID != 7 {
		t.Fatalf("应确认帧 7: %v", rec.acked)
	}
	if per.Successes(2) != 1 || per.Failures(2) != 0 {
		t.Errorf("PER 统计错误: successes=%d failures=%d", per.Successes(2), per.Failures(2))
	}

	t.Run("接收到非ACK视为失败", func(t *testing.T) {
		a.Outgoing(&frame.Frame{ID: 8, Type: frame.Data, Transmitter: 1, Receiver: 2, Bits: 800})
		a.OnTxEnd(a.TakeFrame())
		a.OnRxStart()
		a.Incoming(&frame.Frame{Type: frame.Data, Transmitter: 3, Receiver: 1})
		a.OnRxEnd()
		next := a.NextFrame()
		if next == nil || next.TxCounter != 2 {
			t.Errorf("应准备第二次传输: %v", next)
		}
	})
}

func TestStopAndWaitReceiver(t *testing.T) {
	_, a, _, _ := newStopAndWait(DefaultConfig())

	deliver, reply := a.Incoming(&frame.Frame{Type: frame.Data, Transmitter: 2, Receiver: 1, Duration: 200 * time.Microsecond})
	if len(deliver) != 1 {
		t.Fatal("数据帧应上交")
	}
	if reply == nil || reply.Type != frame.ACK || reply.Receiver != 2 {
		t.Fatalf("应回复 ACK: %v", reply)
	}
	// 200 - 16 - 44
	if reply.Duration != 140*time.Microsecond {
		t.Errorf("ACK Duration 错误: got %v, want 140µs", reply.Duration)
	}

	_, reply = a.Incoming(&frame.Frame{Type: frame.Data, Transmitter: 2, Receiver: 1, Duration: 60 * time.Microsecond})
	if reply.Duration != 0 {
		t.Errorf("剩余不足 SIFS 时 Duration 应为 0: got %v", reply.Duration)
	}

	_, reply = a.Incoming(&frame.Frame{Type: frame.Data, Transmitter: 2, Receiver: frame.Broadcast})
	if reply != nil {
		t.Error("广播帧不应回复 ACK")
	}
}
