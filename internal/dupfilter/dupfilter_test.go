package dupfilter

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
)

func newFilter(t *testing.T, cfg Config) *Filter {
	t.Helper()
	f, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	return f
}

func TestStamp(t *testing.T) {
	d := newFilter(t, DefaultConfig())
	a := &frame.Frame{Type: frame.Data}
	b := &frame.Frame{Type: frame.Data}
	d.Stamp(a)
	d.Stamp(b)
	if a.Seq != 1 || b.Seq != 2 {
		t.Errorf("序号错误: %d %d", a.Seq, b.Seq)
	}

	d.Stamp(a)
	if a.Seq != 1 {
		t.Error("重传不应重新编号")
	}
	ack := &frame.Frame{Type: frame.ACK}
	d.Stamp(ack)
	if ack.Seq != 0 {
		t.Error("控制帧不编号")
	}
}

func TestDuplicateSuppression(t *testing.T) {
	d := newFilter(t, DefaultConfig())
	in := func(tx frame.Address, seq uint32) bool {
		return d.Accept(&frame.Frame{Type: frame.Data, Transmitter: tx, Receiver: 9, Seq: seq})
	}

	if !in(1, 1) {
		t.Fatal("新帧应接收")
	}
	if in(1, 1) {
		t.Error("重复帧应丢弃")
	}
	if !in(2, 1) {
		t.Error("不同发送方的相同序号应接收")
	}
	if !in(1, 2) {
		t.Error("新序号应接收")
	}
	if !in(1, 1) {
		t.Error("只比较最近序号时非连续重复无法识别")
	}
	if !d.Accept(&frame.Frame{Type: frame.Data, Transmitter: 1}) {
		t.Error("未编号的帧应接收")
	}
	if st := d.Stats(); st.Duplicates != 1 {
		t.Errorf("重复计数错误: %d", st.Duplicates)
	}
}

func TestHistoryGenerations(t *testing.T) {
	d := newFilter(t, Config{HistoryGenerations: 2, GenerationSize: 4, FalsePositiveRate: 1e-9})
	in := func(seq uint32) bool {
		return d.Accept(&frame.Frame{Type: frame.Data, Transmitter: 1, Seq: seq})
	}

	in(1)
	in(2)
	if in(1) {
		t.Error("历史中的非连续重复应丢弃")
	}
	if st := d.Stats(); st.HistoryHits != 1 {
		t.Errorf("历史命中计数错误: %d", st.HistoryHits)
	}

	// 填满两代后最老的一代被清空
	for seq := uint32(10); seq < 18; seq++ {
		in(seq)
	}
	if !in(1) {
		t.Error("过期的历史应被遗忘")
	}
}

func TestValidate(t *testing.T) {
	if err := (Config{HistoryGenerations: -1}).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("负的代数应报错: %v", err)
	}
	if err := (Config{HistoryGenerations: 1}).Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("缺少 generation_size 应报错: %v", err)
	}
}
