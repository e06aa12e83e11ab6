// =============================================================================
// 文件: internal/config/config_test.go
// 描述: 配置鲁棒性测试 - 确保错误配置能在启动前被拦截
// =============================================================================
package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrcgq/wifimac/internal/buffer"
	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/mac"
)

// =============================================================================
// 默认值测试
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("默认配置应通过校验: %v", err)
	}

	t.Run("仿真默认值", func(t *testing.T) {
		if cfg.Sim.Stations != 5 || cfg.Sim.Traffic != TrafficUplink {
			t.Errorf("仿真默认值错误: %+v", cfg.Sim)
		}
	})

	t.Run("退避默认值", func(t *testing.T) {
		if cfg.MAC.DCF.CWMin != 15 || cfg.MAC.DCF.CWMax != 1023 {
			t.Errorf("单播退避默认值错误: %+v", cfg.MAC.DCF)
		}
		if cfg.MAC.BroadcastDCF.CWMin != 7 || cfg.MAC.BroadcastDCF.CWMax != 7 {
			t.Errorf("广播退避默认值错误: %+v", cfg.MAC.BroadcastDCF)
		}
	})

	t.Run("派生时序", func(t *testing.T) {
		tm := cfg.Timing()
		if tm.AIFS != 34*time.Microsecond {
			t.Errorf("AIFS 错误: got %v, want 34µs", tm.AIFS)
		}
		if tm.EIFS != 94*time.Microsecond {
			t.Errorf("EIFS 错误: got %v, want 94µs", tm.EIFS)
		}
		if tm.ACKTimeout != 46*time.Microsecond {
			t.Errorf("ACKTimeout 错误: got %v, want 46µs", tm.ACKTimeout)
		}
	})

	t.Run("组件参数转换", func(t *testing.T) {
		p := cfg.MACParams()
		if p.Mode != mac.ModeBasic {
			t.Errorf("模式错误: %s", p.Mode)
		}
		if p.ARQ.RTSThreshold != cfg.MAC.RTSCTS.Threshold {
			t.Error("ARQ 长短帧分界应与 RTS 门限一致")
		}
		if p.Buffer.Unit != buffer.UnitPDU || p.Buffer.Size != 100 {
			t.Errorf("缓冲区参数错误: %+v", p.Buffer)
		}
	})
}

// =============================================================================
// 校验测试
// =============================================================================

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(*Config)
		key    string
	}{
		{"日志级别", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"站点数过少", func(c *Config) { c.Sim.Stations = 1 }, "sim.stations"},
		{"流量模式", func(c *Config) { c.Sim.Traffic = "mesh" }, "sim.traffic"},
		{"丢包率越界", func(c *Config) { c.Medium.LossRate = 1.5 }, "medium.loss_rate"},
		{"链路地址越界", func(c *Config) {
			c.Medium.Links = []LinkConfig{{From: 1, To: 9}}
		}, "medium.links[0]"},
		{"隐藏站点相同", func(c *Config) {
			c.Medium.Hidden = [][2]frame.Address{{2, 2}}
		}, "medium.hidden[0]"},
		{"工作模式", func(c *Config) { c.MAC.Mode = "vht" }, "mac.mode"},
		{"聚合上限小于帧长", func(c *Config) {
			c.MAC.Mode = "ht"
			c.MAC.Aggregation.MaxSize = 8000
		}, "mac.aggregation.max_size"},
		{"信道门限顺序", func(c *Config) {
			c.MAC.Channel.CarrierSenseThresholdDBm = -40
		}, "mac.channel.carrier_sense_threshold_dbm"},
		{"能量门限低于底噪", func(c *Config) {
			c.MAC.Channel.EnergyThresholdDBm = -100
			c.MAC.Channel.CarrierSenseThresholdDBm = -100
		}, "mac.channel.energy_threshold_dbm"},
		{"能量门限与侦听门限均越界", func(c *Config) {
			c.MAC.Channel.EnergyThresholdDBm = -100
			c.MAC.Channel.CarrierSenseThresholdDBm = -40
		}, "mac.channel"},
		{"cw_min 越界", func(c *Config) { c.MAC.DCF.CWMin = 0 }, "mac.dcf.cw_min"},
		{"cw_max 小于 cw_min", func(c *Config) { c.MAC.BroadcastDCF.CWMax = 3 }, "mac.broadcast_dcf.cw_max"},
		{"重传上限", func(c *Config) { c.MAC.ARQ.ShortRetryLimit = 0 }, "mac.arq.short_retry_limit"},
		{"PHY 模式不存在", func(c *Config) { c.MAC.Rate.PHYModeID = 42 }, "mac.rate.phy_mode_id"},
		{"速率策略", func(c *Config) { c.MAC.Rate.Strategy = "minstrel" }, "mac.rate"},
		{"TXOP 过短", func(c *Config) { c.MAC.TXOP.Limit = Duration(10 * time.Microsecond) }, "mac.txop.limit"},
		{"缓冲区单位", func(c *Config) { c.MAC.Buffer.SizeUnit = "byte" }, "mac.buffer"},
		{"WebSocket 需要指标服务", func(c *Config) { c.Metrics.Enabled = false }, "trace.websocket"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("应该校验失败")
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Errorf("错误信息应包含 %q: %v", tc.key, err)
			}
		})
	}
}

// =============================================================================
// 同步测试
// =============================================================================

func TestConfigSync(t *testing.T) {
	t.Run("派生时序写回", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.syncRelatedConfig()
		if cfg.MAC.Timing.AIFS.D() != 34*time.Microsecond {
			t.Errorf("AIFS 未写回: %v", cfg.MAC.Timing.AIFS.D())
		}
	})

	t.Run("显式时序不被覆盖", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MAC.Timing.AIFS = Duration(50 * time.Microsecond)
		cfg.syncRelatedConfig()
		if cfg.Timing().AIFS != 50*time.Microsecond {
			t.Errorf("AIFS 被覆盖: %v", cfg.Timing().AIFS)
		}
	})

	t.Run("ht 模式关闭 TXOP", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MAC.Mode = string(mac.ModeHT)
		cfg.MAC.TXOP.Limit = Duration(2 * time.Millisecond)
		cfg.MAC.Buffer.Multi = true
		cfg.syncRelatedConfig()
		if cfg.MAC.TXOP.Limit != 0 {
			t.Error("ht 模式下 TXOP 应关闭")
		}
		if cfg.MAC.Buffer.SendSize != cfg.MAC.BlockACK.MaxOnAir {
			t.Errorf("send_size 应跟随 max_on_air: %d", cfg.MAC.Buffer.SendSize)
		}
	})
}

// =============================================================================
// 加载测试
// =============================================================================

func TestLoad(t *testing.T) {
	write := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("创建临时配置文件失败: %v", err)
		}
		return path
	}

	t.Run("文件不存在", func(t *testing.T) {
		if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
			t.Error("加载不存在的文件应该报错")
		}
	})

	t.Run("部分覆盖", func(t *testing.T) {
		path := write(t, `
sim:
  stations: 3
  duration: "250ms"
  traffic: "ring"
medium:
  links:
    - {from: 2, to: 1, loss_rate: 0.5}
  hidden:
    - [2, 3]
mac:
  mode: "ht"
  timing:
    slot: "20us"
  rate:
    strategy: "arf"
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("加载配置文件失败: %v", err)
		}
		if cfg.Sim.Stations != 3 || cfg.Sim.Duration.D() != 250*time.Millisecond {
			t.Errorf("仿真参数错误: %+v", cfg.Sim)
		}
		if cfg.MAC.DCF.CWMin != 15 {
			t.Error("未写的字段应保留默认值")
		}
		if cfg.Timing().AIFS != 56*time.Microsecond {
			t.Errorf("AIFS 应按新 slot 派生: %v", cfg.Timing().AIFS)
		}
		mc := cfg.MediumParams()
		if len(mc.Links) != 1 || mc.Links[0].LossRate != 0.5 || mc.Links[0].From != 2 {
			t.Errorf("链路参数错误: %+v", mc.Links)
		}
		if len(mc.Hidden) != 1 || mc.Hidden[0] != [2]frame.Address{2, 3} {
			t.Errorf("隐藏站点错误: %+v", mc.Hidden)
		}
	})

	t.Run("无效时长", func(t *testing.T) {
		path := write(t, `
sim:
  duration: "ten seconds"
`)
		if _, err := Load(path); err == nil {
			t.Error("无效时长应该报错")
		}
	})

	t.Run("无效YAML格式", func(t *testing.T) {
		path := write(t, `
sim:
  stations: 3
    invalid: indentation
`)
		if _, err := Load(path); err == nil {
			t.Error("解析无效YAML应该报错")
		}
	})

	t.Run("校验失败", func(t *testing.T) {
		path := write(t, `
mac:
  dcf:
    cw_min: 2048
`)
		_, err := Load(path)
		if err == nil || !strings.Contains(err.Error(), "mac.dcf.cw_min") {
			t.Errorf("应返回 cw_min 校验错误: %v", err)
		}
	})
}

// =============================================================================
// 示例配置测试
// =============================================================================

func TestExampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")
	if err := WriteExampleConfig(path); err != nil {
		t.Fatalf("写入示例配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("示例配置应能直接加载: %v", err)
	}

	def := DefaultConfig()
	def.syncRelatedConfig()
	if !reflect.DeepEqual(cfg.MACParams(), def.MACParams()) {
		t.Errorf("示例配置与默认值不一致:\n%+v\n%+v", cfg.MACParams(), def.MACParams())
	}
	if cfg.Sim != def.Sim {
		t.Errorf("仿真参数不一致: %+v", cfg.Sim)
	}
}

func TestDuration(t *testing.T) {
	var v struct {
		D Duration `yaml:"d"`
	}
	if err := yaml.Unmarshal([]byte(`d: "1.5ms"`), &v); err != nil {
		t.Fatal(err)
	}
	if v.D.D() != 1500*time.Microsecond {
		t.Errorf("解析错误: %v", v.D.D())
	}

	out, err := yaml.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(out)) != "d: 1.5ms" {
		t.Errorf("序列化错误: %q", out)
	}
}
