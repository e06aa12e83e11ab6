// =============================================================================
// 文件: internal/dupfilter/dupfilter.go
// 描述: 重复帧过滤 - 发送端编号，接收端按发送方丢弃重复序号
// =============================================================================
package dupfilter

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/frame"
)

// ErrInvalidConfig 参数非法
var ErrInvalidConfig = errors.New("invalid duplicate filter config")

// Config 过滤参数
type Config struct {
	// HistoryGenerations 大于 0 时额外用布隆过滤器记住最近若干代的 (发送方, 序号)
	HistoryGenerations int
	GenerationSize     uint
	FalsePositiveRate  float64
}

// DefaultConfig 只比较最近一个序号
func DefaultConfig() Config {
	return Config{
		GenerationSize:    4096,
		FalsePositiveRate: 1e-6,
	}
}

// Validate 校验参数
func (c Config) Validate() error {
	if c.HistoryGenerations < 0 {
		return fmt.Errorf("%w: history_generations=%d", ErrInvalidConfig, c.HistoryGenerations)
	}
	if c.HistoryGenerations > 0 {
		if c.GenerationSize == 0 {
			return fmt.Errorf("%w: generation_size=0", ErrInvalidConfig)
		}
		if c.FalsePositiveRate <= 0 || c.FalsePositiveRate >= 1 {
			return fmt.Errorf("%w: false_positive_rate=%v", ErrInvalidConfig, c.FalsePositiveRate)
		}
	}
	return nil
}

// Stats 过滤统计
type Stats struct {
	Checked        uint64
	Duplicates     uint64
	HistoryHits    uint64
	Generations    int
	CurrentEntries uint
}

// generation 一代历史
type generation struct {
	filter *bloom.BloomFilter
	count  uint
}

// Filter 重复帧过滤器
type Filter struct {
	cfg Config
	log zerolog.Logger

	nextSeq uint32
	last    map[frame.Address]uint32

	gens    []*generation
	current int

	stats Stats
}

// New 创建过滤器
func New(cfg Config, log zerolog.Logger) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Filter{
		cfg:  cfg,
		log:  log.With().Str("component", "dupfilter").Logger(),
		last: make(map[frame.Address]uint32),
	}
	for i := 0; i < cfg.HistoryGenerations; i++ {
		f.gens = append(f.gens, f.newGeneration())
	}
	return f, nil
}

func (d *Filter) newGeneration() *generation {
	return &generation{filter: bloom.NewWithEstimates(d.cfg.GenerationSize, d.cfg.FalsePositiveRate)}
}

// Stamp 为待发数据帧分配序号，从 1 开始
func (d *Filter) Stamp(f *frame.Frame) {
	if !f.IsData() || f.Seq != 0 {
		return
	}
	d.nextSeq++
	if d.nextSeq == 0 {
		d.nextSeq = 1
	}
	f.Seq = d.nextSeq
}

// Accept 接收到的帧是否为新帧，未编号的帧总是接收
func (d *Filter) Accept(f *frame.Frame) bool {
	if !f.IsData() || f.Seq == 0 {
		return true
	}
	d.stats.Checked++

	tx := f.Transmitter
	if last, ok := d.last[tx]; ok && last == f.Seq {
		d.duplicate(f, "last")
		return false
	}

	if len(d.gens) > 0 {
		key := historyKey(tx, f.Seq)
		for _, g := range d.gens {
			if g.filter.Test(key) {
				d.stats.HistoryHits++
				d.duplicate(f, "history")
				return false
			}
		}
		d.remember(key)
	}

	d.last[tx] = f.Seq
	return true
}

// Stats 统计
func (d *Filter) Stats() Stats {
	st := d.stats
	st.Generations = len(d.gens)
	if len(d.gens) > 0 {
		st.CurrentEntries = d.gens[d.current].count
	}
	return st
}

// remember 写入当前代，写满后轮换并清空最老的一代
func (d *Filter) remember(key []byte) {
	g := d.gens[d.current]
	if g.count >= d.cfg.GenerationSize {
		d.current = (d.current + 1) % len(d.gens)
		g = d.gens[d.current]
		g.filter.ClearAll()
		g.count = 0
	}
	g.filter.Add(key)
	g.count++
}

func (d *Filter) duplicate(f *frame.Frame, by string) {
	d.stats.Duplicates++
	d.log.Debug().
		Str("from", f.Transmitter.String()).
		Uint32("seq", f.Seq).
		Str("by", by).
		Msg("丢弃重复帧")
}

func historyKey(tx frame.Address, seq uint32) []byte {
	var key [8]byte
	binary.BigEndian.PutUint32(key[:4], uint32(tx))
	binary.BigEndian.PutUint32(key[4:], seq)
	return key[:]
}
