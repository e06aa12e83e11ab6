package timing

import (
	"testing"
	"time"

	"github.com/mrcgq/wifimac/internal/frame"
)

func TestDefaultTiming(t *testing.T) {
	tm := Default()

	if tm.AIFS != 34*time.Microsecond {
		t.Errorf("AIFS 错误: got %v, want 34µs", tm.AIFS)
	}
	if tm.EIFS != 94*time.Microsecond {
		t.Errorf("EIFS 错误: got %v, want 94µs", tm.EIFS)
	}
	if tm.ACKTimeout != 46*time.Microsecond {
		t.Errorf("ACKTimeout 错误: got %v, want 46µs", tm.ACKTimeout)
	}
}

func TestDeriveKeepsExplicitValues(t *testing.T) {
	tm := &Timing{SIFS: 10 * time.Microsecond, Slot: 20 * time.Microsecond, AIFS: 100 * time.Microsecond}
	tm.Derive()
	if tm.AIFS != 100*time.Microsecond {
		t.Errorf("显式 AIFS 被覆盖: got %v", tm.AIFS)
	}
	if tm.ACKTimeout != 30*time.Microsecond {
		t.Errorf("ACKTimeout 派生错误: got %v, want 30µs", tm.ACKTimeout)
	}
}

func TestOFDMDuration(t *testing.T) {
	calc := NewOFDM()
	table := frame.DefaultModeTable()
	low := table.Lowest()

	t.Run("ACK时长", func(t *testing.T) {
		// 112 位 ACK 在 6 Mbit/s 下为 6 个符号
		if got := calc.PPDU(112, low); got != 44*time.Microsecond {
			t.Errorf("ACK 时长错误: got %v, want 44µs", got)
		}
	})

	t.Run("RTS时长", func(t *testing.T) {
		if got := calc.PPDU(160, low); got != 52*time.Microsecond {
			t.Errorf("RTS 时长错误: got %v, want 52µs", got)
		}
	})

	t.Run("高速模式更短", func(t *testing.T) {
		high := table.Highest()
		if calc.PPDU(12000, high) >= calc.PPDU(12000, low) {
			t.Error("高速模式时长应更短")
		}
	})
}
