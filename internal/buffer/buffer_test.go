package buffer

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
)

func pdu(id uint64, rx frame.Address, bits int) *frame.Frame {
	return &frame.Frame{ID: id, Type: frame.Data, Transmitter: 1, Receiver: rx, Bits: bits}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"容量为0", Config{Size: 0, Unit: UnitPDU, Policy: TailDrop}},
		{"未知单位", Config{Size: 1, Unit: "byte", Policy: TailDrop}},
		{"未知策略", Config{Size: 1, Unit: UnitPDU, Policy: "red"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("应报错: %v", err)
			}
		})
	}
}

func TestTailDrop(t *testing.T) {
	var dropped []uint64
	b, err := New(Config{Size: 2, Unit: UnitPDU, Policy: TailDrop},
		func(f *frame.Frame) { dropped = append(dropped, f.ID) }, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	b.Enqueue(pdu(1, 2, 100))
	b.Enqueue(pdu(2, 2, 100))
	if b.Enqueue(pdu(3, 2, 100)) {
		t.Error("满时应拒绝新帧")
	}
	if len(dropped) != 1 || dropped[0] != 3 {
		t.Errorf("应丢弃新帧: %v", dropped)
	}
	if f := b.Dequeue(); f.ID != 1 {
		t.Errorf("FIFO 顺序错误: got %d", f.ID)
	}
	if b.Len() != 1 || b.Size() != 1 {
		t.Errorf("占用错误: len=%d size=%d", b.Len(), b.Size())
	}
}

func TestFrontDropBits(t *testing.T) {
	var dropped []uint64
	b, err := New(Config{Size: 1000, Unit: UnitBit, Policy: FrontDrop},
		func(f *frame.Frame) { dropped = append(dropped, f.ID) }, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	b.Enqueue(pdu(1, 2, 400))
	b.Enqueue(pdu(2, 2, 400))
	if !b.Enqueue(pdu(3, 2, 400)) {
		t.Fatal("首部丢弃时新帧应被接收")
	}
	if len(dropped) != 1 || dropped[0] != 1 {
		t.Errorf("应丢弃最早的帧: %v", dropped)
	}
	if b.Size() != 800 {
		t.Errorf("位数占用错误: %d", b.Size())
	}
	if b.Enqueue(pdu(4, 2, 2000)) {
		t.Error("超过总容量的帧应拒绝")
	}
	if b.Dropped() != 2 {
		t.Errorf("丢弃计数错误: %d", b.Dropped())
	}
}

func TestMultiBufferRoundRobin(t *testing.T) {
	m, err := NewMulti(Config{Size: 10, Unit: UnitPDU, Policy: TailDrop, SendSize: 2}, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	for i := uint64(1); i <= 3; i++ {
		m.Enqueue(pdu(i, 2, 100))
	}
	for i := uint64(4); i <= 5; i++ {
		m.Enqueue(pdu(i, 3, 100))
	}

	var got []uint64
	for m.Len() > 0 {
		got = append(got, m.Dequeue().ID)
	}
	want := []uint64{1, 2, 4, 5, 3}
	if len(got) != len(want) {
		t.Fatalf("出队数量错误: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("轮询顺序错误: got %v, want %v", got, want)
		}
	}
	if m.Peek() != nil || m.Dequeue() != nil {
		t.Error("空缓冲区应返回 nil")
	}
}

func TestMultiBufferSharedCapacity(t *testing.T) {
	m, _ := NewMulti(Config{Size: 3, Unit: UnitPDU, Policy: FrontDrop}, nil, zerolog.Nop())
	m.Enqueue(pdu(1, 2, 100))
	m.Enqueue(pdu(2, 2, 100))
	m.Enqueue(pdu(3, 3, 100))
	m.Enqueue(pdu(4, 3, 100))

	if m.Len() != 3 {
		t.Errorf("共享容量错误: %d", m.Len())
	}
	if m.LenFor(2) != 1 {
		t.Errorf("应从最长队列丢弃: %d", m.LenFor(2))
	}
	if f := m.Peek(); f == nil || f.ID != 2 {
		t.Errorf("队首错误: %v", f)
	}
}
