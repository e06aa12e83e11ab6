// =============================================================================
// 文件: internal/aggregation/aggregation.go
// 描述: 帧聚合 - 发往同一接收方的帧合并为一个 PPDU，接收端按子帧拆分
// =============================================================================
package aggregation

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/sim"
	"github.com/mrcgq/wifimac/internal/timing"
)

// ErrInvalidConfig 聚合参数非法
var ErrInvalidConfig = errors.New("invalid aggregation config")

// Config 聚合参数
type Config struct {
	MaxEntries int
	// MaxSize 容器上限 (bit)，含子帧开销与填充
	MaxSize int
	// MaxDelay patient 模式下第一个子帧最长等待时间
	MaxDelay  time.Duration
	Impatient bool

	BitsPerEntry          int
	EntryPaddingBoundary  int
	BitsIfConcatenated    int
	BitsIfNotConcatenated int
}

// DefaultConfig A-MPDU 风格的默认参数
func DefaultConfig() Config {
	return Config{
		MaxEntries:           10,
		MaxSize:              65535 * 8,
		MaxDelay:             100 * time.Microsecond,
		Impatient:            true,
		BitsPerEntry:         4 * 8,
		EntryPaddingBoundary: 4 * 8,
	}
}

// Validate 校验参数
func (c Config) Validate() error {
	if c.MaxEntries < 1 {
		return fmt.Errorf("%w: max_entries=%d", ErrInvalidConfig, c.MaxEntries)
	}
	if c.MaxSize <= 0 {
		return fmt.Errorf("%w: max_size=%d", ErrInvalidConfig, c.MaxSize)
	}
	if c.BitsPerEntry < 0 || c.EntryPaddingBoundary < 0 || c.BitsIfConcatenated < 0 || c.BitsIfNotConcatenated < 0 {
		return fmt.Errorf("%w: negative overhead", ErrInvalidConfig)
	}
	if !c.Impatient && c.MaxDelay <= 0 {
		return fmt.Errorf("%w: patient mode requires max_delay", ErrInvalidConfig)
	}
	return nil
}

// pad 向上对齐到 boundary
func pad(bits, boundary int) int {
	if boundary <= 1 {
		return bits
	}
	if r := bits % boundary; r != 0 {
		return bits + boundary - r
	}
	return bits
}

// EntrySize 单个子帧在容器中占用的位数
func (c Config) EntrySize(f *frame.Frame) int {
	return pad(f.Bits+c.BitsPerEntry, c.EntryPaddingBoundary)
}

// Size 给定子帧组成容器后的总位数
func (c Config) Size(entries []*frame.Frame) int {
	if len(entries) == 1 {
		return entries[0].Bits + c.BitsIfNotConcatenated
	}
	total := c.BitsIfConcatenated
	for _, e := range entries {
		total += c.EntrySize(e)
	}
	return total
}

// aggIDBase 容器帧 ID 空间
const aggIDBase uint64 = 1 << 61

// Aggregator 发送端聚合器
type Aggregator struct {
	s     *sim.Scheduler
	cfg   Config
	ready func()
	log   zerolog.Logger

	entries  []*frame.Frame
	size     int
	closed   bool
	expired  bool
	timer    *sim.Timeout
	seq      uint64
	sent     uint64
	combined uint64
}

// NewAggregator 创建聚合器，ready 在 patient 模式等待超时后调用
func NewAggregator(s *sim.Scheduler, cfg Config, ready func(), log zerolog.Logger) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Aggregator{
		s:     s,
		cfg:   cfg,
		ready: ready,
		log:   log.With().Str("component", "aggregation").Logger(),
	}
	a.timer = sim.NewTimeout(s, a.onTimer)
	return a, nil
}

// Len 已收集的子帧数
func (a *Aggregator) Len() int { return len(a.entries) }

// Bits 当前容器的位数
func (a *Aggregator) Bits() int { return a.size }

// Fits f 能否加入当前容器
//
// 空容器总是接收，超过 MaxSize 的单帧不聚合、原样发送。
func (a *Aggregator) Fits(f *frame.Frame) bool {
	if a.closed {
		return false
	}
	if len(a.entries) == 0 {
		return true
	}
	if !f.IsUnicast() || f.Receiver != a.entries[0].Receiver || len(a.entries) >= a.cfg.MaxEntries {
		return false
	}
	return a.cfg.Size(append(a.entries[:len(a.entries):len(a.entries)], f)) <= a.cfg.MaxSize
}

// Offer 加入子帧，放不下时返回 false
func (a *Aggregator) Offer(f *frame.Frame) bool {
	if !a.Fits(f) {
		return false
	}
	if len(a.entries) == 0 && !a.cfg.Impatient {
		a.timer.Set(a.cfg.MaxDelay)
	}
	a.entries = append(a.entries, f)
	a.size = a.cfg.Size(a.entries)
	if f.RequiresReply || !f.IsUnicast() {
		a.closed = true
	}
	return true
}

// Ready 容器是否应立即发送
func (a *Aggregator) Ready() bool {
	if len(a.entries) == 0 {
		return false
	}
	if a.cfg.Impatient || a.closed || a.expired {
		return true
	}
	return len(a.entries) >= a.cfg.MaxEntries
}

// Flush 生成容器；只有一个子帧时原样返回
func (a *Aggregator) Flush() *frame.Frame {
	if len(a.entries) == 0 {
		return nil
	}
	entries := a.entries
	a.entries = nil
	a.size = 0
	a.closed = false
	a.expired = false
	a.timer.Cancel()
	a.sent++

	if len(entries) == 1 {
		f := entries[0]
		f.Bits += a.cfg.BitsIfNotConcatenated
		return f
	}

	a.seq++
	a.combined += uint64(len(entries))
	first := entries[0]
	c := &frame.Frame{
		ID:          aggIDBase | a.seq,
		Type:        frame.Data,
		Transmitter: first.Transmitter,
		Receiver:    first.Receiver,
		Bits:        a.cfg.Size(entries),
		Mode:        first.Mode,
		TxCounter:   first.TxCounter,
		Entries:     entries,
		Created:     a.s.Now(),
	}
	for _, e := range entries {
		if e.Duration > c.Duration {
			c.Duration = e.Duration
		}
		if e.RequiresReply {
			c.RequiresReply = true
		}
		if e.TxCounter > c.TxCounter {
			c.TxCounter = e.TxCounter
		}
		c.PayloadBits += e.PayloadBits
	}
	a.log.Debug().
		Dur("sim_time", a.s.Now()).
		Int("entries", len(entries)).
		Int("bits", c.Bits).
		Msg("生成聚合帧")
	return c
}

// Stats 已发送容器数与被合并的子帧总数
func (a *Aggregator) Stats() (sent, combined uint64) { return a.sent, a.combined }

func (a *Aggregator) onTimer() {
	if len(a.entries) == 0 {
		return
	}
	a.expired = true
	if a.ready != nil {
		a.ready()
	}
}

// Deaggregator 接收端拆分
type Deaggregator struct {
	calc timing.Calculator
	cfg  Config
	log  zerolog.Logger

	received uint64
	lost     uint64
}

// NewDeaggregator 创建拆分器
func NewDeaggregator(calc timing.Calculator, cfg Config, log zerolog.Logger) *Deaggregator {
	return &Deaggregator{
		calc: calc,
		cfg:  cfg,
		log:  log.With().Str("component", "deaggregation").Logger(),
	}
}

// Split 拆分容器，损坏的子帧被丢弃
//
// 每个子帧的 Duration 为容器 Duration 加上其后子帧剩余的空口时间，
// 剩余时间按位数比例从容器有效载荷时长中分摊。
func (d *Deaggregator) Split(c *frame.Frame) []*frame.Frame {
	if !c.IsAggregate() {
		return []*frame.Frame{c}
	}

	payload := d.calc.PPDU(c.Bits, c.Mode) - d.calc.Preamble(c.Mode)
	remaining := c.Bits
	out := make([]*frame.Frame, 0, len(c.Entries))
	for _, e := range c.Entries {
		remaining -= d.cfg.EntrySize(e)
		if remaining < 0 {
			remaining = 0
		}
		if e.Corrupted {
			d.lost++
			continue
		}
		d.received++
		e.Duration = c.Duration
		if c.Bits > 0 {
			e.Duration += time.Duration(int64(payload) * int64(remaining) / int64(c.Bits))
		}
		out = append(out, e)
	}
	if len(out) < len(c.Entries) {
		d.log.Debug().
			Int("entries", len(c.Entries)).
			Int("delivered", len(out)).
			Msg("聚合帧部分子帧损坏")
	}
	return out
}

// Stats 收到的子帧数与损坏的子帧数
func (d *Deaggregator) Stats() (received, lost uint64) { return d.received, d.lost }
