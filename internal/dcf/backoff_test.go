package dcf

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/sim"
	"github.com/mrcgq/wifimac/internal/timing"
)

func TestContentionWindowBound(t *testing.T) {
	t.Run("15到127", func(t *testing.T) {
		want := []int{15, 31, 63, 127}
		for i, w := range want {
			if got := ContentionWindow(15, 1023, i+1); got != w {
				t.Errorf("第 %d 次传输 CW 错误: got %d, want %d", i+1, got, w)
			}
		}
	})

	t.Run("公式与上限", func(t *testing.T) {
		for n := 0; n < 12; n++ {
			expect := 15*(1<<n) + (1 << n) - 1
			if expect > 1023 {
				expect = 1023
			}
			if got := ContentionWindow(15, 1023, n+1); got != expect {
				t.Errorf("重传 %d 次 CW 错误: got %d, want %d", n, got, expect)
			}
		}
	})

	t.Run("广播固定窗口", func(t *testing.T) {
		cfg := BroadcastConfig()
		if got := ContentionWindow(cfg.CWMin, cfg.CWMax, 5); got != 7 {
			t.Errorf("广播 CW 错误: got %d, want 7", got)
		}
	})
}

func newTestBackoff(seed int64, granted func()) (*sim.Scheduler, *Backoff) {
	s := sim.NewScheduler()
	b := NewBackoff(s, timing.Default(), DefaultConfig(), rand.New(rand.NewSource(seed)), granted, zerolog.Nop())
	return s, b
}

func TestBackoffGrantTime(t *testing.T) {
	var grantedAt time.Duration = -1
	var s *sim.Scheduler
	s, b := newTestBackoff(7, func() { grantedAt = s.Now() })

	if b.Request(1) {
		t.Fatal("初始 AIFS 未结束时不应立即授权")
	}
	if b.CW() != 15 {
		t.Errorf("首次传输 CW 错误: got %d", b.CW())
	}
	s.Run(context.Background())

	if grantedAt < 0 {
		t.Fatal("退避结束后应授权")
	}
	slots := grantedAt - 34*time.Microsecond
	if slots < 0 || slots%(9*time.Microsecond) != 0 || slots/(9*time.Microsecond) > 15 {
		t.Errorf("授权时刻不符合 AIFS + k·slot (k≤15): %v", grantedAt)
	}
	if b.State() != StateGranted {
		t.Errorf("状态错误: got %s", b.State())
	}
}

func TestBackoffFreeze(t *testing.T) {
	// 寻找首次抽取计数不小于 3 的种子
	for seed := int64(1); seed < 200; seed++ {
		var grantedAt time.Duration = -1
		var s *sim.Scheduler
		s, b := newTestBackoff(seed, func() { grantedAt = s.Now() })
		b.Request(1)

		s.RunUntil(context.Background(), 34*time.Microsecond)
		k := b.Counter()
		if k < 3 {
			continue
		}

		s.Schedule(10*time.Microsecond, b.OnChannelBusy) // t=44µs，已递减一次
		s.Schedule(166*time.Microsecond, func() { b.OnChannelIdle(false) })
		s.RunUntil(context.Background(), 100*time.Microsecond)
		if b.State() != StateFrozen {
			t.Fatalf("忙时应冻结: got %s", b.State())
		}
		if b.Counter() != k-1 {
			t.Fatalf("冻结时计数应保留: got %d, want %d", b.Counter(), k-1)
		}

		s.Run(context.Background())
		want := 200*time.Microsecond + 34*time.Microsecond + time.Duration(k-1)*9*time.Microsecond
		if grantedAt != want {
			t.Errorf("冻结后授权时刻错误: got %v, want %v", grantedAt, want)
		}
		return
	}
	t.Fatal("未找到合适的种子")
}

func TestPostBackoff(t *testing.T) {
	grants := 0
	s, b := newTestBackoff(3, func() { grants++ })

	// 无等待发送时仍完成一次后退避
	s.Run(context.Background())
	if b.State() != StateIdle {
		t.Fatalf("后退避结束状态错误: got %s", b.State())
	}
	if !b.Request(1) {
		t.Error("后退避完成且信道空闲时应立即授权")
	}
	if grants != 0 {
		t.Error("立即授权不应再调用回调")
	}

	t.Run("忙时不立即授权", func(t *testing.T) {
		s, b := newTestBackoff(3, func() {})
		s.Run(context.Background())
		b.OnChannelBusy()
		if b.Request(1) {
			t.Error("信道忙时不应立即授权")
		}
	})
}

func TestEIFSAfterError(t *testing.T) {
	var grantedAt time.Duration = -1
	var s *sim.Scheduler
	s, b := newTestBackoff(11, func() { grantedAt = s.Now() })
	b.OnChannelBusy()

	s.Schedule(10*time.Microsecond, func() {
		b.Request(1)
		b.OnChannelIdle(true)
	})
	s.Run(context.Background())

	if grantedAt < 10*time.Microsecond+94*time.Microsecond {
		t.Errorf("接收出错后应等待 EIFS: granted at %v", grantedAt)
	}
}
