// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - YAML 加载、启动前校验、共享时序的单一来源、转换为各组件参数
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mrcgq/wifimac/internal/aggregation"
	"github.com/mrcgq/wifimac/internal/arq"
	"github.com/mrcgq/wifimac/internal/buffer"
	"github.com/mrcgq/wifimac/internal/channel"
	"github.com/mrcgq/wifimac/internal/dcf"
	"github.com/mrcgq/wifimac/internal/dupfilter"
	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/mac"
	"github.com/mrcgq/wifimac/internal/metrics"
	"github.com/mrcgq/wifimac/internal/mib"
	"github.com/mrcgq/wifimac/internal/rate"
	"github.com/mrcgq/wifimac/internal/rtscts"
	"github.com/mrcgq/wifimac/internal/sim"
	"github.com/mrcgq/wifimac/internal/timing"
	"github.com/mrcgq/wifimac/internal/trace"
	"github.com/mrcgq/wifimac/internal/txop"
)

// 流量模式
const (
	TrafficUplink    = "uplink"    // 所有站点发往站点 1
	TrafficRing      = "ring"      // 站点 i 发往 i+1
	TrafficBroadcast = "broadcast" // 全部广播
)

// MaxStations 单次运行的站点上限
const MaxStations = 1000

// Duration YAML 中以 Go 时长字符串表示，如 "16us"
type Duration time.Duration

// UnmarshalYAML 解析时长字符串
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("第 %d 行: 无效时长 %q", value.Line, s)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML 输出时长字符串
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// D 转换为 time.Duration
func (d Duration) D() time.Duration { return time.Duration(d) }

// Config 主配置
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Trace   TraceConfig   `yaml:"trace"`
	Sim     SimConfig     `yaml:"sim"`
	Medium  MediumConfig  `yaml:"medium"`
	MAC     MACConfig     `yaml:"mac"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console, json
}

// MetricsConfig 指标服务配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// TraceConfig 事件发布配置
type TraceConfig struct {
	WebSocket bool       `yaml:"websocket"` // 在指标服务上开放 /trace
	NATS      NATSConfig `yaml:"nats"`
}

// NATSConfig NATS 发布配置
type NATSConfig struct {
	Enabled           bool     `yaml:"enabled"`
	URL               string   `yaml:"url"`
	SubjectPrefix     string   `yaml:"subject_prefix"`
	ReconnectInterval Duration `yaml:"reconnect_interval"`
	MaxReconnects     int      `yaml:"max_reconnects"`
}

// SimConfig 仿真驱动配置
type SimConfig struct {
	Runs           int      `yaml:"runs"`
	Seed           int64    `yaml:"seed"`
	Duration       Duration `yaml:"duration"`
	Stations       int      `yaml:"stations"`
	OfferedLoadBps float64  `yaml:"offered_load_bps"`
	PayloadBits    int      `yaml:"payload_bits"`
	Traffic        string   `yaml:"traffic"`
	SINRFeedback   bool     `yaml:"sinr_feedback"`
}

// MediumConfig 信道替身配置
type MediumConfig struct {
	PropagationDelay  Duration           `yaml:"propagation_delay"`
	NoiseFloorDBm     float64            `yaml:"noise_floor_dbm"`
	DefaultRxPowerDBm float64            `yaml:"default_rx_power_dbm"`
	LossRate          float64            `yaml:"loss_rate"`
	EntryLossRate     float64            `yaml:"entry_loss_rate"`
	Links             []LinkConfig       `yaml:"links"`
	Hidden            [][2]frame.Address `yaml:"hidden"`
}

// LinkConfig 单向链路
type LinkConfig struct {
	From       frame.Address `yaml:"from"`
	To         frame.Address `yaml:"to"`
	RxPowerDBm float64       `yaml:"rx_power_dbm"`
	LossRate   float64       `yaml:"loss_rate"`
}

// MACConfig 下层 MAC 配置
type MACConfig struct {
	Mode            string                `yaml:"mode"`
	Timing          TimingConfig          `yaml:"timing"`
	PHY             PHYConfig             `yaml:"phy"`
	Manager         ManagerConfig         `yaml:"manager"`
	DCF             DCFConfig             `yaml:"dcf"`
	BroadcastDCF    DCFConfig             `yaml:"broadcast_dcf"`
	Channel         ChannelConfig         `yaml:"channel"`
	RTSCTS          RTSCTSConfig          `yaml:"rtscts"`
	ARQ             ARQConfig             `yaml:"arq"`
	BlockACK        BlockACKConfig        `yaml:"block_ack"`
	Rate            RateConfig            `yaml:"rate"`
	TXOP            TXOPConfig            `yaml:"txop"`
	Aggregation     AggregationConfig     `yaml:"aggregation"`
	Buffer          BufferConfig          `yaml:"buffer"`
	DuplicateFilter DuplicateFilterConfig `yaml:"duplicate_filter"`
	PERMIB          PERMIBConfig          `yaml:"per_mib"`
	SINRMIB         SINRMIBConfig         `yaml:"sinr_mib"`
}

// TimingConfig 共享时序，派生项为 0 时自动计算
type TimingConfig struct {
	SIFS                    Duration `yaml:"sifs"`
	Slot                    Duration `yaml:"slot"`
	AIFS                    Duration `yaml:"aifs"`
	EIFS                    Duration `yaml:"eifs"`
	PreambleProcessingDelay Duration `yaml:"preamble_processing_delay"`
	ACKTimeout              Duration `yaml:"ack_timeout"`
	MaximumACKDuration      Duration `yaml:"maximum_ack_duration"`
	MaximumCTSDuration      Duration `yaml:"maximum_cts_duration"`
}

// PHYConfig PHY 模式表，为空时使用 802.11a 默认表
type PHYConfig struct {
	Modes []PHYModeConfig `yaml:"modes"`
}

// PHYModeConfig 单个 PHY 模式
type PHYModeConfig struct {
	ID                int     `yaml:"id"`
	Name              string  `yaml:"name"`
	DataBitsPerSymbol int     `yaml:"data_bits_per_symbol"`
	MinSINRDB         float64 `yaml:"min_sinr_db"`
}

// ManagerConfig 站点管理
type ManagerConfig struct {
	HeaderBits   int      `yaml:"header_bits"`
	MSDULifetime Duration `yaml:"msdu_lifetime"`
}

// DCFConfig 退避参数
type DCFConfig struct {
	CWMin int      `yaml:"cw_min"`
	CWMax int      `yaml:"cw_max"`
	AIFS  Duration `yaml:"aifs"`
}

// ChannelConfig 信道状态
type ChannelConfig struct {
	EnergyThresholdDBm       float64  `yaml:"energy_threshold_dbm"`
	CarrierSenseThresholdDBm float64  `yaml:"carrier_sense_threshold_dbm"`
	ProbeInterval            Duration `yaml:"probe_interval"`
}

// RTSCTSConfig RTS/CTS
type RTSCTSConfig struct {
	Threshold        int  `yaml:"threshold"`
	OnTXOPData       bool `yaml:"on_txop_data"`
	RTSBits          int  `yaml:"rts_bits"`
	CTSBits          int  `yaml:"cts_bits"`
	FastLinkFeedback bool `yaml:"fast_link_feedback"`
}

// ARQConfig 停等 ARQ
type ARQConfig struct {
	ShortRetryLimit int `yaml:"short_retry_limit"`
	LongRetryLimit  int `yaml:"long_retry_limit"`
	ACKBits         int `yaml:"ack_bits"`
}

// BlockACKConfig Block-ACK
type BlockACKConfig struct {
	Capacity             int  `yaml:"capacity"`
	MaxOnAir             int  `yaml:"max_on_air"`
	MaximumTransmissions int  `yaml:"maximum_transmissions"`
	Impatient            bool `yaml:"impatient"`
	BlockACKBits         int  `yaml:"block_ack_bits"`
	BlockACKRequestBits  int  `yaml:"block_ack_request_bits"`
}

// RateConfig 速率自适应
type RateConfig struct {
	Strategy                   string   `yaml:"strategy"`
	PHYModeID                  int      `yaml:"phy_mode_id"`
	ACKPHYModeID               int      `yaml:"ack_phy_mode_id"`
	RAForACKFrames             bool     `yaml:"ra_for_ack_frames"`
	PERForGoingDown            float64  `yaml:"per_for_going_down"`
	PERForGoingUp              float64  `yaml:"per_for_going_up"`
	ARFTimer                   Duration `yaml:"arf_timer"`
	ExponentialBackoff         bool     `yaml:"exponential_backoff"`
	InitialSuccessThreshold    int      `yaml:"initial_success_threshold"`
	MaxSuccessThreshold        int      `yaml:"max_success_threshold"`
	RetransmissionLQMReduction float64  `yaml:"retransmission_lqm_reduction"`
}

// TXOPConfig TXOP
type TXOPConfig struct {
	Limit          Duration `yaml:"limit"`
	SingleReceiver bool     `yaml:"single_receiver"`
	MaxOutTXOP     bool     `yaml:"max_out_txop"`
	Impatient      bool     `yaml:"impatient"`
}

// AggregationConfig 帧聚合
type AggregationConfig struct {
	MaxEntries               int      `yaml:"max_entries"`
	MaxSize                  int      `yaml:"max_size"`
	MaxDelay                 Duration `yaml:"max_delay"`
	Impatient                bool     `yaml:"impatient"`
	NumBitsPerEntry          int      `yaml:"num_bits_per_entry"`
	EntryPaddingBoundary     int      `yaml:"entry_padding_boundary"`
	NumBitsIfConcatenated    int      `yaml:"num_bits_if_concatenated"`
	NumBitsIfNotConcatenated int      `yaml:"num_bits_if_not_concatenated"`
}

// BufferConfig 上层缓冲区
type BufferConfig struct {
	Size     int    `yaml:"size"`
	SizeUnit string `yaml:"size_unit"`
	Policy   string `yaml:"policy"`
	Multi    bool   `yaml:"multi"`
	SendSize int    `yaml:"send_size"`
}

// DuplicateFilterConfig 去重
type DuplicateFilterConfig struct {
	HistoryGenerations int     `yaml:"history_generations"`
	GenerationSize     uint    `yaml:"generation_size"`
	FalsePositiveRate  float64 `yaml:"false_positive_rate"`
}

// PERMIBConfig PER 信息库
type PERMIBConfig struct {
	WindowSize int `yaml:"window_size"`
	MinSamples int `yaml:"min_samples"`
}

// SINRMIBConfig SINR 信息库
type SINRMIBConfig struct {
	WindowSize int `yaml:"window_size"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.syncRelatedConfig()

	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	tm := timing.Default()
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},

		Metrics: MetricsConfig{
			Enabled:    true,
			Listen:     ":9100",
			Path:       "/metrics",
			HealthPath: "/health",
		},

		Trace: TraceConfig{
			WebSocket: true,
			NATS: NATSConfig{
				URL:               "nats://127.0.0.1:4222",
				SubjectPrefix:     "wifimac",
				ReconnectInterval: Duration(2 * time.Second),
				MaxReconnects:     60,
			},
		},

		Sim: SimConfig{
			Runs:           1,
			Seed:           1,
			Duration:       Duration(10 * time.Second),
			Stations:       5,
			OfferedLoadBps: 1e6,
			PayloadBits:    1500 * 8,
			Traffic:        TrafficUplink,
		},

		Medium: MediumConfig{
			PropagationDelay:  Duration(time.Microsecond),
			NoiseFloorDBm:     -95,
			DefaultRxPowerDBm: -60,
		},

		MAC: MACConfig{
			Mode: string(mac.ModeBasic),
			Timing: TimingConfig{
				SIFS:                    Duration(tm.SIFS),
				Slot:                    Duration(tm.Slot),
				PreambleProcessingDelay: Duration(tm.PreambleProcessingDelay),
				MaximumACKDuration:      Duration(tm.MaxACKDuration),
				MaximumCTSDuration:      Duration(tm.MaxCTSDuration),
			},
			Manager: ManagerConfig{
				HeaderBits: 28 * 8,
			},
			DCF:          DCFConfig{CWMin: 15, CWMax: 1023},
			BroadcastDCF: DCFConfig{CWMin: 7, CWMax: 7},
			Channel: ChannelConfig{
				EnergyThresholdDBm:       -62,
				CarrierSenseThresholdDBm: -82,
				ProbeInterval:            Duration(100 * time.Millisecond),
			},
			RTSCTS: RTSCTSConfig{
				Threshold: 3000 * 8,
				RTSBits:   20 * 8,
				CTSBits:   14 * 8,
			},
			ARQ: ARQConfig{
				ShortRetryLimit: 7,
				LongRetryLimit:  4,
				ACKBits:         14 * 8,
			},
			BlockACK: BlockACKConfig{
				Capacity:             100,
				MaxOnAir:             10,
				MaximumTransmissions: 4,
				Impatient:            true,
				BlockACKBits:         32 * 8,
				BlockACKRequestBits:  24 * 8,
			},
			Rate: RateConfig{
				Strategy:                   rate.StrategyConstant,
				PERForGoingDown:            0.25,
				PERForGoingUp:              0.05,
				ARFTimer:                   Duration(100 * time.Millisecond),
				ExponentialBackoff:         true,
				InitialSuccessThreshold:    10,
				MaxSuccessThreshold:        50,
				RetransmissionLQMReduction: 3,
			},
			TXOP: TXOPConfig{
				SingleReceiver: true,
				Impatient:      true,
			},
			Aggregation: AggregationConfig{
				MaxEntries:           10,
				MaxSize:              65535 * 8,
				MaxDelay:             Duration(100 * time.Microsecond),
				Impatient:            true,
				NumBitsPerEntry:      4 * 8,
				EntryPaddingBoundary: 4 * 8,
			},
			Buffer: BufferConfig{
				Size:     100,
				SizeUnit: string(buffer.UnitPDU),
				Policy:   string(buffer.TailDrop),
			},
			DuplicateFilter: DuplicateFilterConfig{
				GenerationSize:    4096,
				FalsePositiveRate: 1e-6,
			},
			PERMIB:  PERMIBConfig{WindowSize: 100, MinSamples: 10},
			SINRMIB: SINRMIBConfig{WindowSize: 20},
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	// 日志
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level 无效: %s", c.Log.Level)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log.format 必须是 console 或 json: %s", c.Log.Format)
	}

	// 指标服务
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen 不能为空")
	}
	if c.Trace.WebSocket && !c.Metrics.Enabled {
		return fmt.Errorf("trace.websocket 需要启用 metrics 服务")
	}
	if c.Trace.NATS.Enabled && c.Trace.NATS.URL == "" {
		return fmt.Errorf("trace.nats.url 不能为空")
	}

	if err := c.validateSim(); err != nil {
		return err
	}
	if err := c.validateMedium(); err != nil {
		return err
	}
	return c.validateMAC()
}

func (c *Config) validateSim() error {
	s := c.Sim
	if s.Runs < 1 || s.Runs > 1000 {
		return fmt.Errorf("sim.runs 需在 1-1000 之间")
	}
	if s.Duration <= 0 {
		return fmt.Errorf("sim.duration 必须为正")
	}
	if s.Stations < 2 || s.Stations > MaxStations {
		return fmt.Errorf("sim.stations 需在 2-%d 之间", MaxStations)
	}
	if s.OfferedLoadBps < 0 {
		return fmt.Errorf("sim.offered_load_bps 不能为负")
	}
	if s.PayloadBits < 8 {
		return fmt.Errorf("sim.payload_bits 至少为 8")
	}
	switch s.Traffic {
	case TrafficUplink, TrafficRing, TrafficBroadcast:
	default:
		return fmt.Errorf("sim.traffic 无效: %s (可选 uplink, ring, broadcast)", s.Traffic)
	}
	return nil
}

func (c *Config) validateMedium() error {
	m := c.Medium
	if m.PropagationDelay < 0 {
		return fmt.Errorf("medium.propagation_delay 不能为负")
	}
	if m.LossRate < 0 || m.LossRate > 1 {
		return fmt.Errorf("medium.loss_rate 需在 0-1 之间")
	}
	if m.EntryLossRate < 0 || m.EntryLossRate > 1 {
		return fmt.Errorf("medium.entry_loss_rate 需在 0-1 之间")
	}
	valid := func(a frame.Address) bool { return a >= 1 && int(a) <= c.Sim.Stations }
	for i, l := range m.Links {
		if !valid(l.From) || !valid(l.To) || l.From == l.To {
			return fmt.Errorf("medium.links[%d] 地址无效: %d -> %d", i, l.From, l.To)
		}
		if l.LossRate < 0 || l.LossRate > 1 {
			return fmt.Errorf("medium.links[%d].loss_rate 需在 0-1 之间", i)
		}
	}
	for i, h := range m.Hidden {
		if !valid(h[0]) || !valid(h[1]) || h[0] == h[1] {
			return fmt.Errorf("medium.hidden[%d] 地址无效: %v", i, h)
		}
	}
	return nil
}

func (c *Config) validateMAC() error {
	m := c.MAC
	switch mac.Mode(m.Mode) {
	case mac.ModeBasic, mac.ModeHT:
	default:
		return fmt.Errorf("mac.mode 无效: %s (可选 basic, ht)", m.Mode)
	}

	// 时序
	if m.Timing.SIFS <= 0 || m.Timing.Slot <= 0 {
		return fmt.Errorf("mac.timing.sifs 与 mac.timing.slot 必须为正")
	}
	if m.Timing.MaximumACKDuration <= 0 || m.Timing.MaximumCTSDuration <= 0 {
		return fmt.Errorf("mac.timing.maximum_ack_duration 与 maximum_cts_duration 必须为正")
	}

	// 退避
	if err := validateCW("mac.dcf", m.DCF); err != nil {
		return err
	}
	if err := validateCW("mac.broadcast_dcf", m.BroadcastDCF); err != nil {
		return err
	}

	// 重传
	if m.ARQ.ShortRetryLimit < 1 || m.ARQ.ShortRetryLimit > 255 {
		return fmt.Errorf("mac.arq.short_retry_limit 需在 1-255 之间")
	}
	if m.ARQ.LongRetryLimit < 1 || m.ARQ.LongRetryLimit > 255 {
		return fmt.Errorf("mac.arq.long_retry_limit 需在 1-255 之间")
	}
	if m.RTSCTS.Threshold < 0 {
		return fmt.Errorf("mac.rtscts.threshold 不能为负")
	}
	if m.BlockACK.MaxOnAir < 1 || m.BlockACK.MaxOnAir > 64 {
		return fmt.Errorf("mac.block_ack.max_on_air 需在 1-64 之间")
	}
	if m.BlockACK.Capacity < m.BlockACK.MaxOnAir {
		return fmt.Errorf("mac.block_ack.capacity 不能小于 max_on_air")
	}

	// 信道门限：能量门限低于底噪时信道永远忙
	if m.Channel.CarrierSenseThresholdDBm > m.Channel.EnergyThresholdDBm {
		return fmt.Errorf("mac.channel.carrier_sense_threshold_dbm 不能高于 energy_threshold_dbm")
	}
	if m.Channel.EnergyThresholdDBm <= c.Medium.NoiseFloorDBm {
		return fmt.Errorf("mac.channel.energy_threshold_dbm 必须高于 medium.noise_floor_dbm (%.1f dBm)", c.Medium.NoiseFloorDBm)
	}

	// 超过 max_size 的帧只能单独发送，不再受聚合约束
	if mac.Mode(m.Mode) == mac.ModeHT && m.Aggregation.MaxSize < c.Sim.PayloadBits+m.Manager.HeaderBits {
		return fmt.Errorf("mac.aggregation.max_size 不能小于最大帧 sim.payload_bits + mac.manager.header_bits (%d)",
			c.Sim.PayloadBits+m.Manager.HeaderBits)
	}

	if m.PERMIB.WindowSize < 1 || m.PERMIB.MinSamples < 0 {
		return fmt.Errorf("mac.per_mib.window_size 必须为正")
	}
	if m.SINRMIB.WindowSize < 1 {
		return fmt.Errorf("mac.sinr_mib.window_size 必须为正")
	}

	// 速率
	modes, err := c.Modes()
	if err != nil {
		return fmt.Errorf("mac.phy.modes: %w", err)
	}
	if _, ok := modes.ByID(m.Rate.PHYModeID); !ok {
		return fmt.Errorf("mac.rate.phy_mode_id 不在模式表中: %d", m.Rate.PHYModeID)
	}
	if _, ok := modes.ByID(m.Rate.ACKPHYModeID); !ok {
		return fmt.Errorf("mac.rate.ack_phy_mode_id 不在模式表中: %d", m.Rate.ACKPHYModeID)
	}
	if m.Rate.PERForGoingUp < 0 || m.Rate.PERForGoingDown > 1 || m.Rate.PERForGoingUp >= m.Rate.PERForGoingDown {
		return fmt.Errorf("mac.rate.per_for_going_up 必须小于 per_for_going_down 且在 0-1 之间")
	}

	// 其余参数交给组件自身校验
	params := c.MACParams()
	if err := params.Validate(c.Timing()); err != nil {
		switch {
		case errors.Is(err, txop.ErrLimitTooShort):
			return fmt.Errorf("mac.txop.limit 必须大于 sifs + maximum_ack_duration: %w", err)
		case errors.Is(err, buffer.ErrInvalidConfig):
			return fmt.Errorf("mac.buffer: %w", err)
		case errors.Is(err, aggregation.ErrInvalidConfig):
			return fmt.Errorf("mac.aggregation: %w", err)
		case errors.Is(err, channel.ErrInvalidConfig):
			return fmt.Errorf("mac.channel: %w", err)
		case errors.Is(err, dupfilter.ErrInvalidConfig):
			return fmt.Errorf("mac.duplicate_filter: %w", err)
		}
		return fmt.Errorf("mac: %w", err)
	}
	if _, err := rate.New(sim.NewScheduler(), modes, mib.NewPER(params.PER), nil, params.Rate, zerolog.Nop()); err != nil {
		return fmt.Errorf("mac.rate: %w", err)
	}
	return nil
}

func validateCW(key string, d DCFConfig) error {
	if d.CWMin < 1 || d.CWMin > 1023 {
		return fmt.Errorf("%s.cw_min 需在 1-1023 之间", key)
	}
	if d.CWMax < d.CWMin || d.CWMax > 1023 {
		return fmt.Errorf("%s.cw_max 需在 cw_min-1023 之间", key)
	}
	return nil
}

// syncRelatedConfig 同步关联配置
func (c *Config) syncRelatedConfig() {
	// 派生时序只计算一次，写回配置
	tm := c.Timing()
	c.MAC.Timing.AIFS = Duration(tm.AIFS)
	c.MAC.Timing.EIFS = Duration(tm.EIFS)
	c.MAC.Timing.ACKTimeout = Duration(tm.ACKTimeout)

	// 聚合只在 ht 模式下生效，此时 TXOP 关闭
	if mac.Mode(c.MAC.Mode) == mac.ModeHT {
		c.MAC.TXOP.Limit = 0
	}

	// 多接收方缓冲区默认按 Block-ACK 窗口连续服务
	if c.MAC.Buffer.Multi && c.MAC.Buffer.SendSize == 0 && mac.Mode(c.MAC.Mode) == mac.ModeHT {
		c.MAC.Buffer.SendSize = c.MAC.BlockACK.MaxOnAir
	}

	if c.Trace.NATS.SubjectPrefix == "" {
		c.Trace.NATS.SubjectPrefix = "wifimac"
	}
}

// =============================================================================
// 转换为组件参数
// =============================================================================

// Timing 每个收发器共享的时序
func (c *Config) Timing() *timing.Timing {
	t := c.MAC.Timing
	tm := &timing.Timing{
		SIFS:                    t.SIFS.D(),
		Slot:                    t.Slot.D(),
		AIFS:                    t.AIFS.D(),
		EIFS:                    t.EIFS.D(),
		PreambleProcessingDelay: t.PreambleProcessingDelay.D(),
		ACKTimeout:              t.ACKTimeout.D(),
		MaxACKDuration:          t.MaximumACKDuration.D(),
		MaxCTSDuration:          t.MaximumCTSDuration.D(),
	}
	tm.Derive()
	return tm
}

// Modes PHY 模式表
func (c *Config) Modes() (*frame.ModeTable, error) {
	if len(c.MAC.PHY.Modes) == 0 {
		return frame.DefaultModeTable(), nil
	}
	modes := make([]frame.Mode, 0, len(c.MAC.PHY.Modes))
	for _, m := range c.MAC.PHY.Modes {
		modes = append(modes, frame.Mode{
			ID:                m.ID,
			Name:              m.Name,
			DataBitsPerSymbol: m.DataBitsPerSymbol,
			MinSINR:           m.MinSINRDB,
		})
	}
	return frame.NewModeTable(modes)
}

// MACParams 收发器参数
func (c *Config) MACParams() mac.Config {
	m := c.MAC
	return mac.Config{
		Mode:         mac.Mode(m.Mode),
		HeaderBits:   m.Manager.HeaderBits,
		MSDULifetime: m.Manager.MSDULifetime.D(),
		DCF:          dcf.Config{CWMin: m.DCF.CWMin, CWMax: m.DCF.CWMax, AIFS: m.DCF.AIFS.D()},
		BroadcastDCF: dcf.Config{CWMin: m.BroadcastDCF.CWMin, CWMax: m.BroadcastDCF.CWMax, AIFS: m.BroadcastDCF.AIFS.D()},
		Channel: channel.Config{
			EnergyThresholdDBm:       m.Channel.EnergyThresholdDBm,
			CarrierSenseThresholdDBm: m.Channel.CarrierSenseThresholdDBm,
			ProbeInterval:            m.Channel.ProbeInterval.D(),
		},
		RTSCTS: rtscts.Config{
			Threshold:        m.RTSCTS.Threshold,
			OnTXOPData:       m.RTSCTS.OnTXOPData,
			RTSBits:          m.RTSCTS.RTSBits,
			CTSBits:          m.RTSCTS.CTSBits,
			FastLinkFeedback: m.RTSCTS.FastLinkFeedback,
		},
		ARQ: arq.Config{
			ShortRetryLimit: m.ARQ.ShortRetryLimit,
			LongRetryLimit:  m.ARQ.LongRetryLimit,
			RTSThreshold:    m.RTSCTS.Threshold,
			ACKBits:         m.ARQ.ACKBits,
		},
		BlockACK: arq.BlockACKConfig{
			Capacity:             m.BlockACK.Capacity,
			MaxOnAir:             m.BlockACK.MaxOnAir,
			MaximumTransmissions: m.BlockACK.MaximumTransmissions,
			Impatient:            m.BlockACK.Impatient,
			BlockACKBits:         m.BlockACK.BlockACKBits,
			BlockACKRequestBits:  m.BlockACK.BlockACKRequestBits,
		},
		Rate: rate.Config{
			Strategy:                   m.Rate.Strategy,
			ModeID:                     m.Rate.PHYModeID,
			ACKModeID:                  m.Rate.ACKPHYModeID,
			RAForACKFrames:             m.Rate.RAForACKFrames,
			PERForGoingDown:            m.Rate.PERForGoingDown,
			PERForGoingUp:              m.Rate.PERForGoingUp,
			ARFTimer:                   m.Rate.ARFTimer.D(),
			ExponentialBackoff:         m.Rate.ExponentialBackoff,
			InitialSuccessThreshold:    m.Rate.InitialSuccessThreshold,
			MaxSuccessThreshold:        m.Rate.MaxSuccessThreshold,
			RetransmissionLQMReduction: m.Rate.RetransmissionLQMReduction,
		},
		TXOP: txop.Config{
			Limit:          m.TXOP.Limit.D(),
			SingleReceiver: m.TXOP.SingleReceiver,
			MaxOutTXOP:     m.TXOP.MaxOutTXOP,
			Impatient:      m.TXOP.Impatient,
		},
		Aggregation: aggregation.Config{
			MaxEntries:            m.Aggregation.MaxEntries,
			MaxSize:               m.Aggregation.MaxSize,
			MaxDelay:              m.Aggregation.MaxDelay.D(),
			Impatient:             m.Aggregation.Impatient,
			BitsPerEntry:          m.Aggregation.NumBitsPerEntry,
			EntryPaddingBoundary:  m.Aggregation.EntryPaddingBoundary,
			BitsIfConcatenated:    m.Aggregation.NumBitsIfConcatenated,
			BitsIfNotConcatenated: m.Aggregation.NumBitsIfNotConcatenated,
		},
		Buffer: buffer.Config{
			Size:     m.Buffer.Size,
			Unit:     buffer.Unit(m.Buffer.SizeUnit),
			Policy:   buffer.Policy(m.Buffer.Policy),
			SendSize: m.Buffer.SendSize,
		},
		MultiBuffer: m.Buffer.Multi,
		DupFilter: dupfilter.Config{
			HistoryGenerations: m.DuplicateFilter.HistoryGenerations,
			GenerationSize:     m.DuplicateFilter.GenerationSize,
			FalsePositiveRate:  m.DuplicateFilter.FalsePositiveRate,
		},
		PER:  mib.PERConfig{WindowSize: m.PERMIB.WindowSize, MinSamples: m.PERMIB.MinSamples},
		SINR: mib.SINRConfig{WindowSize: m.SINRMIB.WindowSize},
	}
}

// MediumParams 信道替身参数
func (c *Config) MediumParams() sim.MediumConfig {
	m := c.Medium
	out := sim.MediumConfig{
		PropagationDelay:  m.PropagationDelay.D(),
		NoiseFloorDBm:     m.NoiseFloorDBm,
		DefaultRxPowerDBm: m.DefaultRxPowerDBm,
		LossRate:          m.LossRate,
		EntryLossRate:     m.EntryLossRate,
		Hidden:            m.Hidden,
	}
	for _, l := range m.Links {
		out.Links = append(out.Links, sim.Link{
			From:       l.From,
			To:         l.To,
			RxPowerDBm: l.RxPowerDBm,
			LossRate:   l.LossRate,
		})
	}
	return out
}

// ServerParams 指标服务参数
func (c *Config) ServerParams() metrics.ServerConfig {
	return metrics.ServerConfig{
		Listen:      c.Metrics.Listen,
		MetricsPath: c.Metrics.Path,
		HealthPath:  c.Metrics.HealthPath,
		EnablePprof: c.Metrics.EnablePprof,
	}
}

// NATSParams NATS 发布参数
func (c *Config) NATSParams() trace.NATSConfig {
	n := c.Trace.NATS
	return trace.NATSConfig{
		URL:               n.URL,
		SubjectPrefix:     n.SubjectPrefix,
		ReconnectInterval: n.ReconnectInterval.D(),
		MaxReconnects:     n.MaxReconnects,
	}
}

// =============================================================================
// 配置文件示例生成
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# wifimac-sim 配置文件示例
# =============================================================================

log:
  level: "info"                     # debug, info, warn, error
  format: "console"                 # console, json

# Prometheus 指标、健康检查与 /trace 事件流
metrics:
  enabled: true
  listen: ":9100"
  path: "/metrics"
  health_path: "/health"
  enable_pprof: false

trace:
  websocket: true                   # 在指标服务上开放 /trace
  nats:
    enabled: false
    url: "nats://127.0.0.1:4222"
    subject_prefix: "wifimac"       # 主题: <prefix>.<run>.sta-<addr>.<kind>
    reconnect_interval: "2s"
    max_reconnects: 60

# 仿真驱动
sim:
  runs: 1                           # 并发运行的种子数
  seed: 1                           # 第 N 次运行使用 seed+N
  duration: "10s"                   # 仿真时长
  stations: 5
  offered_load_bps: 1000000         # 每站提供负载
  payload_bits: 12000
  traffic: "uplink"                 # uplink, ring, broadcast
  sinr_feedback: false              # 把接收方测得的 SINR 反馈给发送方

# 信道替身 (单一冲突域)
medium:
  propagation_delay: "1us"
  noise_floor_dbm: -95
  default_rx_power_dbm: -60
  loss_rate: 0                      # 整帧丢失概率
  entry_loss_rate: 0                # 聚合子帧独立丢失概率
  # links:
  #   - from: 2
  #     to: 1
  #     rx_power_dbm: -80
  #     loss_rate: 0.1
  # hidden:
  #   - [2, 3]

mac:
  mode: "basic"                     # basic (停等), ht (Block-ACK + 聚合)

  timing:
    sifs: "16us"
    slot: "9us"
    preamble_processing_delay: "21us"
    maximum_ack_duration: "44us"
    maximum_cts_duration: "44us"
    # 以下为 0 时自动派生
    # aifs: "34us"                  # sifs + 2*slot
    # eifs: "94us"                  # sifs + maximum_ack_duration + aifs
    # ack_timeout: "46us"           # sifs + slot + preamble_processing_delay

  # phy:
  #   modes:
  #     - {id: 0, name: "BPSK-1/2", data_bits_per_symbol: 24, min_sinr_db: 4}

  manager:
    header_bits: 224
    msdu_lifetime: "0s"             # 0 表示不限

  dcf:
    cw_min: 15
    cw_max: 1023
  broadcast_dcf:
    cw_min: 7
    cw_max: 7

  channel:
    energy_threshold_dbm: -62
    carrier_sense_threshold_dbm: -82
    probe_interval: "100ms"         # 忙碌比例探针，0 关闭

  rtscts:
    threshold: 24000                # 同时作为长短帧重传上限的分界 (bit)
    on_txop_data: false
    rts_bits: 160
    cts_bits: 112
    fast_link_feedback: false       # CTS 回送 RTS 的接收 SINR

  arq:
    short_retry_limit: 7
    long_retry_limit: 4
    ack_bits: 112

  block_ack:
    capacity: 100
    max_on_air: 10
    maximum_transmissions: 4
    impatient: true
    block_ack_bits: 256
    block_ack_request_bits: 192

  rate:
    strategy: "constant"            # constant, constant_low, per, arf, sinr
    phy_mode_id: 0
    ack_phy_mode_id: 0
    ra_for_ack_frames: false
    per_for_going_down: 0.25
    per_for_going_up: 0.05
    arf_timer: "100ms"
    exponential_backoff: true
    initial_success_threshold: 10
    max_success_threshold: 50
    retransmission_lqm_reduction: 3

  txop:
    limit: "0s"                     # 0 关闭
    single_receiver: true
    max_out_txop: false
    impatient: true

  aggregation:
    max_entries: 10
    max_size: 524280
    max_delay: "100us"
    impatient: true
    num_bits_per_entry: 32
    entry_padding_boundary: 32
    num_bits_if_concatenated: 0
    num_bits_if_not_concatenated: 0

  buffer:
    size: 100
    size_unit: "pdu"                # pdu, bit
    policy: "tail_drop"             # tail_drop, front_drop
    multi: false                    # 每个接收方独立队列，轮询服务
    send_size: 0

  duplicate_filter:
    history_generations: 0          # >0 时用布隆过滤器记住更早的序号
    generation_size: 4096
    false_positive_rate: 0.000001

  per_mib:
    window_size: 100
    min_samples: 10

  sinr_mib:
    window_size: 20
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
