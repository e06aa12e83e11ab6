package aggregation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/sim"
	"github.com/mrcgq/wifimac/internal/timing"
)

func entry(id uint64, rx frame.Address, bits int) *frame.Frame {
	return &frame.Frame{ID: id, Type: frame.Data, Transmitter: 1, Receiver: rx, Bits: bits,
		Mode: frame.DefaultModeTable().Lowest()}
}

func TestSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BitsIfConcatenated = 8
	cfg.BitsIfNotConcatenated = 16

	// 1000 + 32 = 1032 -> 1056；2000 + 32 = 2032 -> 2048
	got := cfg.Size([]*frame.Frame{entry(1, 2, 1000), entry(2, 2, 2000)})
	if want := 1056 + 2048 + 8; got != want {
		t.Errorf("容器大小错误: got %d, want %d", got, want)
	}
	if got := cfg.Size([]*frame.Frame{entry(1, 2, 1000)}); got != 1016 {
		t.Errorf("单子帧大小错误: got %d", got)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("max_entries=0 应报错: %v", err)
	}
	cfg = DefaultConfig()
	cfg.Impatient = false
	cfg.MaxDelay = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("patient 模式缺少 max_delay 应报错: %v", err)
	}
}

func TestAggregationBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 3
	cfg.MaxSize = 5000
	a, err := NewAggregator(sim.NewScheduler(), cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	t.Run("子帧数上限", func(t *testing.T) {
		for i := uint64(1); i <= 3; i++ {
			if !a.Offer(entry(i, 2, 800)) {
				t.Fatalf("第 %d 个子帧应被接收", i)
			}
		}
		if a.Offer(entry(4, 2, 800)) {
			t.Error("超过 max_entries 不应接收")
		}
		c := a.Flush()
		if len(c.Entries) != 3 {
			t.Errorf("子帧数错误: got %d", len(c.Entries))
		}
		if c.Bits > cfg.MaxSize {
			t.Errorf("容器超过上限: %d", c.Bits)
		}
	})

	t.Run("大小上限", func(t *testing.T) {
		a.Offer(entry(5, 2, 3000))
		if a.Fits(entry(6, 2, 2000)) {
			t.Error("超过 max_size 不应接收")
		}
		if !a.Fits(entry(7, 2, 1000)) {
			t.Error("未超过 max_size 应接收")
		}
		a.Flush()
	})

	t.Run("单帧超限原样发送", func(t *testing.T) {
		big := entry(13, 2, 6000)
		if !a.Offer(big) {
			t.Fatal("空容器应接收任意大小的帧")
		}
		if a.Fits(entry(14, 2, 100)) {
			t.Error("超限帧之后不应再加入子帧")
		}
		if f := a.Flush(); f != big || f.IsAggregate() {
			t.Errorf("超限单帧应原样发送: %v", f)
		}
	})

	t.Run("不同接收方", func(t *testing.T) {
		a.Offer(entry(8, 2, 800))
		if a.Offer(entry(9, 3, 800)) {
			t.Error("不同接收方不应合并")
		}
		f := a.Flush()
		if f.IsAggregate() || f.ID != 8 {
			t.Errorf("单子帧应原样发送: %v", f)
		}
	})

	t.Run("BAR结束容器", func(t *testing.T) {
		a.Offer(entry(10, 2, 800))
		bar := &frame.Frame{ID: 11, Type: frame.BlockACKReq, Transmitter: 1, Receiver: 2, Bits: 192,
			RequiresReply: true, Duration: 60 * time.Microsecond}
		a.Offer(bar)
		if a.Offer(entry(12, 2, 800)) {
			t.Error("BAR 之后不应再加入子帧")
		}
		c := a.Flush()
		if !c.RequiresReply || c.Duration != 60*time.Microsecond {
			t.Errorf("容器应继承 BAR 的应答要求: %v", c)
		}
	})
}

func TestPatientDelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Impatient = false
	cfg.MaxDelay = 50 * time.Microsecond
	s := sim.NewScheduler()
	fired := 0
	a, err := NewAggregator(s, cfg, func() { fired++ }, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	a.Offer(entry(1, 2, 800))
	if a.Ready() {
		t.Error("patient 模式不应立即发送")
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fired != 1 || !a.Ready() {
		t.Errorf("等待超时后应就绪: fired=%d", fired)
	}
	if s.Now() != 50*time.Microsecond {
		t.Errorf("超时时刻错误: %v", s.Now())
	}
}

func TestDeaggregation(t *testing.T) {
	cfg := DefaultConfig()
	calc := timing.NewOFDM()
	a, _ := NewAggregator(sim.NewScheduler(), cfg, nil, zerolog.Nop())
	a.Offer(entry(1, 2, 800))
	a.Offer(entry(2, 2, 800))
	a.Offer(entry(3, 2, 800))
	c := a.Flush()
	c.Duration = 60 * time.Microsecond
	c.Entries[1].Corrupted = true

	d := NewDeaggregator(calc, cfg, zerolog.Nop())
	out := d.Split(c)
	if len(out) != 2 || out[0].ID != 1 || out[1].ID != 3 {
		t.Fatalf("拆分结果错误: %v", out)
	}
	if out[1].Duration != 60*time.Microsecond {
		t.Errorf("最后一个子帧 Duration 应等于容器 Duration: got %v", out[1].Duration)
	}
	if out[0].Duration <= out[1].Duration {
		t.Errorf("靠前的子帧 Duration 应更长: %v <= %v", out[0].Duration, out[1].Duration)
	}
	if received, lost := d.Stats(); received != 2 || lost != 1 {
		t.Errorf("统计错误: received=%d lost=%d", received, lost)
	}

	single := entry(9, 2, 800)
	if got := d.Split(single); len(got) != 1 || got[0] != single {
		t.Error("非聚合帧应原样返回")
	}
}
