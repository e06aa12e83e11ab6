package arq

import (
	"context"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/mib"
	"github.com/mrcgq/wifimac/internal/sim"
	"github.com/mrcgq/wifimac/internal/timing"
)

func newBlockACK(cfg BlockACKConfig, rec *hookRecorder) (*sim.Scheduler, *BlockACK, *mib.PER) {
	s := sim.NewScheduler()
	per := mib.NewPER(mib.DefaultPERConfig())
	b := NewBlockACK(s, timing.Default(), timing.NewOFDM(), 1, cfg, per, rec.hooks(), zerolog.Nop())
	return s, b, per
}

func dataTo(id uint64, rx frame.Address) *frame.Frame {
	return &frame.Frame{ID: id, Type: frame.Data, Transmitter: 1, Receiver: rx, Bits: 8000}
}

func TestBlockACKSender(t *testing.T) {
	rec := &hookRecorder{}
	_, b, per := newBlockACK(DefaultBlockACKConfig(), rec)

	for i := uint64(1); i <= 3; i++ {
		if !b.Accepts(dataTo(i, 2)) {
			t.Fatalf("应接收发往同一接收方的帧 %d", i)
		}
		b.Outgoing(dataTo(i, 2))
	}
	if b.Accepts(dataTo(9, 3)) {
		t.Error("服务其他接收方时不应接收")
	}

	for i := 0; i < 3; i++ {
		f := b.TakeFrame()
		if f == nil || f.Type != frame.Data || f.ARQSeq != uint32(i) {
			t.Fatalf("第 %d 个帧错误: %v", i, f)
		}
		b.OnTxEnd(f)
	}

	bar := b.TakeFrame()
	if bar == nil || bar.Type != frame.BlockACKReq || bar.ARQSeq != 0 {
		t.Fatalf("队列耗尽后应发送 BAR: %v", bar)
	}
	if b.NextFrame() != nil {
		t.Error("BAR 未结算前不应有新帧")
	}
	b.OnTxEnd(bar)
	b.OnRxStart()

	bm := bitset.New(8)
	bm.Set(0)
	bm.Set(2)
	b.Incoming(&frame.Frame{Type: frame.BlockACK, Transmitter: 2, Receiver: 1,
		BA: &frame.BlockACKInfo{StartSeq: 0, Bitmap: bm}})
	b.OnRxEnd()

	if len(rec.acked) != 2 {
		t.Errorf("应确认 2 帧: got %d", len(rec.acked))
	}
	if total, lost := per.Totals(2); total != 3 || lost != 1 {
		t.Errorf("PER 记录错误: total=%d lost=%d", total, lost)
	}

	retry := b.NextFrame()
	if retry == nil || retry.ARQSeq != 1 || retry.TxCounter != 2 {
		t.Fatalf("未确认帧应重新排在队首: %v", retry)
	}
}

func TestBlockACKMaxTransmissions(t *testing.T) {
	rec := &hookRecorder{}
	cfg := DefaultBlockACKConfig()
	cfg.MaximumTransmissions = 3
	s, b, per := newBlockACK(cfg, rec)

	b.Outgoing(dataTo(1, 2))
	rounds := 0
	for b.NextFrame() != nil && rounds < 10 {
		rounds++
		b.OnTxEnd(b.TakeFrame())
		bar := b.TakeFrame()
		b.OnTxEnd(bar)
		s.Run(context.Background()) // BA 超时
	}

	if rounds != 3 {
		t.Errorf("传输轮数错误: got %d, want 3", rounds)
	}
	if len(rec.dropped) != 1 || rec.dropped[0] != DropMaxTransmission {
		t.Errorf("应因传输次数上限丢弃: %v", rec.dropped)
	}
	if per.Failures(2) != 3 {
		t.Errorf("超时应报告 PER 失败: got %d", per.Failures(2))
	}
	if !b.Accepts(dataTo(2, 3)) {
		t.Error("队列清空后应可服务新的接收方")
	}
}

func TestBlockACKRequestNeverSent(t *testing.T) {
	rec := &hookRecorder{}
	cfg := DefaultBlockACKConfig()
	cfg.MaximumTransmissions = 2
	_, b, per := newBlockACK(cfg, rec)

	b.Outgoing(dataTo(1, 2))
	b.Outgoing(dataTo(2, 2))

	rounds := 0
	for b.NextFrame() != nil && rounds < 10 {
		rounds++
		b.OnTxEnd(b.TakeFrame())
		b.OnTxEnd(b.TakeFrame())
		bar := b.TakeFrame()
		if bar == nil || bar.Type != frame.BlockACKReq {
			t.Fatalf("第 %d 轮应发送 BAR: %v", rounds, bar)
		}
		b.TransmissionFailed(bar)
	}

	if rounds != 2 {
		t.Errorf("轮数错误: got %d, want 2", rounds)
	}
	if len(rec.dropped) != 2 {
		t.Fatalf("两帧都应被放弃: %v", rec.dropped)
	}
	if total, lost := per.Totals(2); total != 2 || lost != 2 {
		t.Errorf("放弃的帧应各报告一次失败: total=%d lost=%d", total, lost)
	}
}

func TestBlockACKPatient(t *testing.T) {
	rec := &hookRecorder{}
	cfg := DefaultBlockACKConfig()
	cfg.Impatient = false
	cfg.MaxOnAir = 2
	backlog := true
	h := rec.hooks()
	h.Backlogged = func(frame.Address) bool { return backlog }

	s := sim.NewScheduler()
	b := NewBlockACK(s, timing.Default(), timing.NewOFDM(), 1, cfg, mib.NewPER(mib.DefaultPERConfig()), h, zerolog.Nop())

	b.Outgoing(dataTo(1, 2))
	b.OnTxEnd(b.TakeFrame())
	if b.NextFrame() != nil {
		t.Error("上层仍有积压且窗口未满时不应发送 BAR")
	}

	backlog = false
	if f := b.NextFrame(); f == nil || f.Type != frame.BlockACKReq {
		t.Error("无积压时应发送 BAR")
	}

	backlog = true
	b.Outgoing(dataTo(2, 2))
	if f := b.NextFrame(); f == nil || f.Type != frame.Data {
		t.Fatal("窗口未满时应先发数据")
	}
	b.OnTxEnd(b.TakeFrame())
	if f := b.NextFrame(); f == nil || f.Type != frame.BlockACKReq {
		t.Error("窗口已满时应发送 BAR")
	}
}

func TestReceptionQueue(t *testing.T) {
	rec := &hookRecorder{}
	_, b, _ := newBlockACK(DefaultBlockACKConfig(), rec)
	in := func(seq uint32) []*frame.Frame {
		d, _ := b.Incoming(&frame.Frame{Type: frame.Data, Transmitter: 2, Receiver: 1, ARQSeq: seq})
		return d
	}

	if len(in(1)) != 0 {
		t.Error("乱序帧应缓存")
	}
	got := in(0)
	if len(got) != 2 || got[0].ARQSeq != 0 || got[1].ARQSeq != 1 {
		t.Fatalf("按序上交错误: %v", got)
	}
	if len(in(0)) != 0 {
		t.Error("重复帧应丢弃")
	}

	in(3) // 缓存，等待 2
	deliver, reply := b.Incoming(&frame.Frame{Type: frame.BlockACKReq, Transmitter: 2, Receiver: 1, ARQSeq: 3})
	if len(deliver) != 1 || deliver[0].ARQSeq != 3 {
		t.Errorf("BAR 应推进窗口并上交缓存帧: %v", deliver)
	}
	if reply == nil || reply.Type != frame.BlockACK || reply.BA.StartSeq != 3 {
		t.Fatalf("应回复 Block-ACK: %v", reply)
	}
	if !reply.BA.Acked(3) || reply.BA.Acked(4) {
		t.Error("位图内容错误")
	}

	if len(in(2)) != 0 {
		t.Error("窗口推进后旧帧应丢弃")
	}
}
