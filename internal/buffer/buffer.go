// =============================================================================
// 文件: internal/buffer/buffer.go
// 描述: 发送缓冲区 - 有界 FIFO，按帧数或位数计量，溢出丢弃队尾或队首
// =============================================================================
package buffer

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
)

// Unit 容量计量单位
type Unit string

const (
	UnitPDU Unit = "pdu"
	UnitBit Unit = "bit"
)

// Policy 溢出策略
type Policy string

const (
	TailDrop  Policy = "tail_drop"
	FrontDrop Policy = "front_drop"
)

// ErrInvalidConfig 缓冲区参数非法
var ErrInvalidConfig = errors.New("invalid buffer config")

// Config 缓冲区参数
type Config struct {
	Size   int
	Unit   Unit
	Policy Policy
	// SendSize MultiBuffer 连续服务同一接收方的帧数，0 表示不限
	SendSize int
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		Size:   100,
		Unit:   UnitPDU,
		Policy: TailDrop,
	}
}

// Validate 校验参数
func (c Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: size=%d", ErrInvalidConfig, c.Size)
	}
	switch c.Unit {
	case UnitPDU, UnitBit:
	default:
		return fmt.Errorf("%w: unit=%q", ErrInvalidConfig, c.Unit)
	}
	switch c.Policy {
	case TailDrop, FrontDrop:
	default:
		return fmt.Errorf("%w: policy=%q", ErrInvalidConfig, c.Policy)
	}
	if c.SendSize < 0 {
		return fmt.Errorf("%w: send_size=%d", ErrInvalidConfig, c.SendSize)
	}
	return nil
}

func (c Config) cost(f *frame.Frame) int {
	if c.Unit == UnitBit {
		return f.Bits
	}
	return 1
}

// Queue 收发器使用的缓冲区接口
type Queue interface {
	// Enqueue 入队，返回帧是否被接收
	Enqueue(f *frame.Frame) bool
	// Peek 下一个出队的帧
	Peek() *frame.Frame
	// Dequeue 出队
	Dequeue() *frame.Frame
	// Len 帧数
	Len() int
	// Size 按计量单位的占用量
	Size() int
	// Dropped 累计丢弃数
	Dropped() uint64
}

// DropFunc 溢出丢弃回调
type DropFunc func(f *frame.Frame)

// Buffer 单队列缓冲区
type Buffer struct {
	cfg    Config
	onDrop DropFunc
	log    zerolog.Logger

	frames  []*frame.Frame
	used    int
	dropped uint64
}

// New 创建缓冲区
func New(cfg Config, onDrop DropFunc, log zerolog.Logger) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Buffer{
		cfg:    cfg,
		onDrop: onDrop,
		log:    log.With().Str("component", "buffer").Logger(),
	}, nil
}

// Enqueue 入队；尾部丢弃时拒绝新帧，首部丢弃时挤出最早的帧
func (b *Buffer) Enqueue(f *frame.Frame) bool {
	c := b.cfg.cost(f)
	if c > b.cfg.Size {
		b.drop(f)
		return false
	}
	if b.cfg.Policy == TailDrop {
		if b.used+c > b.cfg.Size {
			b.drop(f)
			return false
		}
	} else {
		for b.used+c > b.cfg.Size {
			b.drop(b.Dequeue())
		}
	}
	b.frames = append(b.frames, f)
	b.used += c
	return true
}

// Peek 队首
func (b *Buffer) Peek() *frame.Frame {
	if len(b.frames) == 0 {
		return nil
	}
	return b.frames[0]
}

// Dequeue 出队
func (b *Buffer) Dequeue() *frame.Frame {
	if len(b.frames) == 0 {
		return nil
	}
	f := b.frames[0]
	b.frames[0] = nil
	b.frames = b.frames[1:]
	b.used -= b.cfg.cost(f)
	return f
}

// Len 帧数
func (b *Buffer) Len() int { return len(b.frames) }

// Size 占用量
func (b *Buffer) Size() int { return b.used }

// Dropped 累计丢弃数
func (b *Buffer) Dropped() uint64 { return b.dropped }

func (b *Buffer) drop(f *frame.Frame) {
	b.dropped++
	b.log.Debug().
		Str("frame", f.String()).
		Int("used", b.used).
		Str("policy", string(b.cfg.Policy)).
		Msg("缓冲区溢出")
	if b.onDrop != nil {
		b.onDrop(f)
	}
}

var _ Queue = (*Buffer)(nil)
