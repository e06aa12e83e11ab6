package mac

import (
	"errors"
	"fmt"
	"time"

	"github.com/mrcgq/wifimac/internal/aggregation"
	"github.com/mrcgq/wifimac/internal/arq"
	"github.com/mrcgq/wifimac/internal/buffer"
	"github.com/mrcgq/wifimac/internal/channel"
	"github.com/mrcgq/wifimac/internal/dcf"
	"github.com/mrcgq/wifimac/internal/dupfilter"
	"github.com/mrcgq/wifimac/internal/mib"
	"github.com/mrcgq/wifimac/internal/rate"
	"github.com/mrcgq/wifimac/internal/rtscts"
	"github.com/mrcgq/wifimac/internal/timing"
	"github.com/mrcgq/wifimac/internal/txop"
)

// Mode 收发器工作模式
type Mode string

const (
	// ModeBasic 停等 ARQ，可选 TXOP
	ModeBasic Mode = "basic"
	// ModeHT Block-ACK 加帧聚合
	ModeHT Mode = "ht"
)

// ErrUnknownMode 未知工作模式
var ErrUnknownMode = errors.New("unknown mac mode")

// Config 收发器全部参数
type Config struct {
	Mode         Mode
	HeaderBits   int
	MSDULifetime time.Duration

	DCF          dcf.Config
	BroadcastDCF dcf.Config
	Channel      channel.Config
	RTSCTS       rtscts.Config
	ARQ          arq.Config
	BlockACK     arq.BlockACKConfig
	Rate         rate.Config
	TXOP         txop.Config
	Aggregation  aggregation.Config
	Buffer       buffer.Config
	MultiBuffer  bool
	DupFilter    dupfilter.Config
	PER          mib.PERConfig
	SINR         mib.SINRConfig
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		Mode:         ModeBasic,
		HeaderBits:   28 * 8,
		DCF:          dcf.DefaultConfig(),
		BroadcastDCF: dcf.BroadcastConfig(),
		Channel:      channel.DefaultConfig(),
		RTSCTS:       rtscts.DefaultConfig(),
		ARQ:          arq.DefaultConfig(),
		BlockACK:     arq.DefaultBlockACKConfig(),
		Rate:         rate.DefaultConfig(),
		TXOP:         txop.DefaultConfig(),
		Aggregation:  aggregation.DefaultConfig(),
		Buffer:       buffer.DefaultConfig(),
		DupFilter:    dupfilter.DefaultConfig(),
		PER:          mib.DefaultPERConfig(),
		SINR:         mib.SINRConfig{WindowSize: 20},
	}
}

// Validate 构造前校验，各组件自身的校验在创建时执行
func (c Config) Validate(tm *timing.Timing) error {
	switch c.Mode {
	case ModeBasic, ModeHT:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, c.Mode)
	}
	if c.HeaderBits < 0 {
		return fmt.Errorf("header_bits 不能为负: %d", c.HeaderBits)
	}
	if c.DCF.CWMin < 1 || c.DCF.CWMax < c.DCF.CWMin {
		return fmt.Errorf("dcf 竞争窗口非法: cw_min=%d cw_max=%d", c.DCF.CWMin, c.DCF.CWMax)
	}
	if c.BroadcastDCF.CWMin < 1 || c.BroadcastDCF.CWMax < c.BroadcastDCF.CWMin {
		return fmt.Errorf("broadcast_dcf 竞争窗口非法: cw_min=%d cw_max=%d", c.BroadcastDCF.CWMin, c.BroadcastDCF.CWMax)
	}
	if c.ARQ.ShortRetryLimit < 1 || c.ARQ.LongRetryLimit < 1 {
		return fmt.Errorf("重传上限必须为正: short=%d long=%d", c.ARQ.ShortRetryLimit, c.ARQ.LongRetryLimit)
	}
	if c.BlockACK.MaximumTransmissions < 1 {
		return fmt.Errorf("block_ack.maximum_transmissions 必须为正: %d", c.BlockACK.MaximumTransmissions)
	}
	if err := c.Channel.Validate(); err != nil {
		return err
	}
	if err := c.TXOP.Validate(tm); err != nil {
		return err
	}
	if c.Mode == ModeHT {
		if err := c.Aggregation.Validate(); err != nil {
			return err
		}
	}
	if err := c.Buffer.Validate(); err != nil {
		return err
	}
	return c.DupFilter.Validate()
}
