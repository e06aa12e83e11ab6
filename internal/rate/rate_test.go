package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/mib"
	"github.com/mrcgq/wifimac/internal/sim"
)

func newAdaptation(t *testing.T, cfg Config) (*sim.Scheduler, *Adaptation, *mib.PER, *mib.SINR) {
	t.Helper()
	s := sim.NewScheduler()
	per := mib.NewPER(mib.PERConfig{WindowSize: 20, MinSamples: 5})
	sinr := mib.NewSINR(mib.SINRConfig{WindowSize: 10})
	a, err := New(s, frame.DefaultModeTable(), per, sinr, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	return s, a, per, sinr
}

func data(rx frame.Address, txCounter int) *frame.Frame {
	return &frame.Frame{Type: frame.Data, Transmitter: 1, Receiver: rx, Bits: 8000, TxCounter: txCounter}
}

func TestNewValidation(t *testing.T) {
	s := sim.NewScheduler()
	table := frame.DefaultModeTable()

	cfg := DefaultConfig()
	cfg.Strategy = "minstrel"
	if _, err := New(s, table, nil, nil, cfg, zerolog.Nop()); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("应拒绝未知策略: %v", err)
	}

	cfg = DefaultConfig()
	cfg.ModeID = 42
	if _, err := New(s, table, nil, nil, cfg, zerolog.Nop()); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("应拒绝未知模式: %v", err)
	}
}

func TestConstant(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModeID = 5
	cfg.ACKModeID = 0
	_, a, _, _ := newAdaptation(t, cfg)

	f := data(2, 3)
	a.Assign(f)
	if f.Mode.ID != 5 {
		t.Errorf("固定模式错误: got %d", f.Mode.ID)
	}

	ack := &frame.Frame{Type: frame.ACK, Transmitter: 1, Receiver: 2}
	a.Assign(ack)
	if ack.Mode.ID != 0 {
		t.Errorf("ACK 应使用 ack 模式: got %d", ack.Mode.ID)
	}

	bc := data(frame.Broadcast, 1)
	a.Assign(bc)
	if bc.Mode.ID != 0 {
		t.Errorf("广播应使用最低模式: got %d", bc.Mode.ID)
	}
}

func TestPERStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyPER
	cfg.ModeID = 3
	_, a, per, _ := newAdaptation(t, cfg)

	a.Assign(data(2, 1))
	for i := 0; i < 10; i++ {
		per.ReportFailure(2)
	}
	f := data(2, 1)
	a.Assign(f)
	if f.Mode.ID != 2 {
		t.Fatalf("PER 过高应下调: got %d", f.Mode.ID)
	}
	if per.Knows(2) {
		t.Error("模式变化后应清空 PER 统计")
	}

	for i := 0; i < 10; i++ {
		per.ReportSuccess(2)
	}
	f = data(2, 1)
	a.Assign(f)
	if f.Mode.ID != 3 {
		t.Errorf("PER 很低应上调: got %d", f.Mode.ID)
	}
}

func TestARF(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyARF
	cfg.ModeID = 3
	cfg.InitialSuccessThreshold = 4
	cfg.MaxSuccessThreshold = 16
	cfg.ARFTimer = time.Second
	s, a, per, _ := newAdaptation(t, cfg)

	t.Run("连续成功上调探测", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			per.ReportSuccess(2)
		}
		f := data(2, 1)
		a.Assign(f)
		if f.Mode.ID != 4 {
			t.Fatalf("应上调: got %d", f.Mode.ID)
		}
	})

	t.Run("探测失败立即下调并加倍门限", func(t *testing.T) {
		f := data(2, 2)
		a.Assign(f)
		if f.Mode.ID != 3 {
			t.Fatalf("探测失败应下调: got %d", f.Mode.ID)
		}
		st := a.peers[2].(*arf)
		if st.threshold != 8 {
			t.Errorf("门限应加倍: got %d", st.threshold)
		}
	})

	t.Run("第三次传输下调", func(t *testing.T) {
		f := data(2, 3)
		a.Assign(f)
		if f.Mode.ID != 2 {
			t.Fatalf("应下调: got %d", f.Mode.ID)
		}
		if st := a.peers[2].(*arf); st.threshold != 4 {
			t.Errorf("普通下调应减半门限: got %d", st.threshold)
		}
	})

	t.Run("定时器强制上调", func(t *testing.T) {
		if err := s.RunUntil(context.Background(), 2*time.Second); err != nil {
			t.Fatal(err)
		}
		if got := a.Current(2).ID; got != 3 {
			t.Errorf("定时器到期应上调: got %d", got)
		}
	})
}

func TestSINRStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategySINR
	cfg.ModeID = 1
	_, a, _, sinr := newAdaptation(t, cfg)

	if m := a.ModeFor(2, 1); m.ID != 1 {
		t.Errorf("SINR 未知时应使用 ARF: got %d", m.ID)
	}

	sinr.PutPeerSINR(2, 19)
	if m := a.ModeFor(2, 1); m.ID != 5 {
		t.Errorf("19 dB 应选择模式 5: got %d", m.ID)
	}
	// 每次重传降低 3 dB：19 - 6 = 13
	if m := a.ModeFor(2, 3); m.ID != 3 {
		t.Errorf("重传应降档: got %d", m.ID)
	}
	sinr.PutPeerSINR(3, 0)
	if m := a.ModeFor(3, 1); m.ID != 0 {
		t.Errorf("SINR 过低应使用最低模式: got %d", m.ID)
	}
}
