package buffer

import (
	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
)

// MultiBuffer 按接收方分队列的缓冲区，共享同一容量
//
// 轮询选择接收方，选中后连续服务最多 SendSize 个帧，
// 便于 Block-ACK 与聚合形成突发。
type MultiBuffer struct {
	cfg    Config
	onDrop DropFunc
	log    zerolog.Logger

	queues  map[frame.Address][]*frame.Frame
	order   []frame.Address
	current frame.Address
	hasCur  bool
	served  int
	next    int
	used    int
	count   int
	dropped uint64
}

// NewMulti 创建多队列缓冲区
func NewMulti(cfg Config, onDrop DropFunc, log zerolog.Logger) (*MultiBuffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MultiBuffer{
		cfg:    cfg,
		onDrop: onDrop,
		log:    log.With().Str("component", "multibuffer").Logger(),
		queues: make(map[frame.Address][]*frame.Frame),
	}, nil
}

// Enqueue 入队；首部丢弃时挤出最长队列的队首
func (m *MultiBuffer) Enqueue(f *frame.Frame) bool {
	c := m.cfg.cost(f)
	if c > m.cfg.Size {
		m.drop(f)
		return false
	}
	if m.cfg.Policy == TailDrop {
		if m.used+c > m.cfg.Size {
			m.drop(f)
			return false
		}
	} else {
		for m.used+c > m.cfg.Size {
			m.drop(m.dequeueFrom(m.longest()))
		}
	}

	rx := f.Receiver
	if _, ok := m.queues[rx]; !ok {
		m.order = append(m.order, rx)
	}
	m.queues[rx] = append(m.queues[rx], f)
	m.used += c
	m.count++
	return true
}

// Peek 当前接收方的队首
func (m *MultiBuffer) Peek() *frame.Frame {
	rx, ok := m.selectReceiver()
	if !ok {
		return nil
	}
	return m.queues[rx][0]
}

// Dequeue 出队
func (m *MultiBuffer) Dequeue() *frame.Frame {
	rx, ok := m.selectReceiver()
	if !ok {
		return nil
	}
	f := m.dequeueFrom(rx)
	m.served++
	if m.cfg.SendSize > 0 && m.served >= m.cfg.SendSize {
		m.hasCur = false
	}
	return f
}

// Len 帧数
func (m *MultiBuffer) Len() int { return m.count }

// Size 占用量
func (m *MultiBuffer) Size() int { return m.used }

// Dropped 累计丢弃数
func (m *MultiBuffer) Dropped() uint64 { return m.dropped }

// LenFor 发往 rx 的帧数
func (m *MultiBuffer) LenFor(rx frame.Address) int { return len(m.queues[rx]) }

// selectReceiver 当前接收方仍有帧且未用完配额时继续服务，否则轮询下一个
func (m *MultiBuffer) selectReceiver() (frame.Address, bool) {
	if m.hasCur && len(m.queues[m.current]) > 0 {
		return m.current, true
	}
	m.hasCur = false
	n := len(m.order)
	for i := 0; i < n; i++ {
		rx := m.order[(m.next+i)%n]
		if len(m.queues[rx]) > 0 {
			m.current = rx
			m.hasCur = true
			m.served = 0
			m.next = (m.next + i + 1) % n
			return rx, true
		}
	}
	return 0, false
}

func (m *MultiBuffer) dequeueFrom(rx frame.Address) *frame.Frame {
	q := m.queues[rx]
	if len(q) == 0 {
		return nil
	}
	f := q[0]
	q[0] = nil
	m.queues[rx] = q[1:]
	m.used -= m.cfg.cost(f)
	m.count--
	return f
}

func (m *MultiBuffer) longest() frame.Address {
	var best frame.Address
	bestLen := -1
	for _, rx := range m.order {
		if l := len(m.queues[rx]); l > bestLen {
			best, bestLen = rx, l
		}
	}
	return best
}

func (m *MultiBuffer) drop(f *frame.Frame) {
	if f == nil {
		return
	}
	m.dropped++
	m.log.Debug().
		Str("frame", f.String()).
		Int("used", m.used).
		Msg("缓冲区溢出")
	if m.onDrop != nil {
		m.onDrop(f)
	}
}

var _ Queue = (*MultiBuffer)(nil)
