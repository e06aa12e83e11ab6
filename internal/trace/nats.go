// =============================================================================
// 文件: internal/trace/nats.go
// 描述: NATS 发布者 - 事件按 <前缀>.<运行>.<站点>.<类型> 主题发布
// =============================================================================
package trace

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig NATS 参数
type NATSConfig struct {
	URL               string
	SubjectPrefix     string
	ReconnectInterval time.Duration
	MaxReconnects     int
}

// NATSPublisher 通过 NATS 发布事件
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger

	published uint64
	failed    uint64
}

// NewNATSPublisher 连接 NATS
func NewNATSPublisher(cfg NATSConfig, log zerolog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("wifimac-sim"),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return NewNATSPublisherWithConn(nc, cfg.SubjectPrefix, log), nil
}

// NewNATSPublisherWithConn 使用已有连接
func NewNATSPublisherWithConn(nc *nats.Conn, prefix string, log zerolog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = "wifimac"
	}
	return &NATSPublisher{
		nc:     nc,
		prefix: prefix,
		log:    log.With().Str("component", "trace-nats").Logger(),
	}
}

// Subject 事件的发布主题
func (p *NATSPublisher) Subject(ev Event) string {
	run := ev.Run
	if run == "" {
		run = "default"
	}
	return fmt.Sprintf("%s.%s.sta-%d.%s", p.prefix, run, ev.Station, ev.Kind)
}

// Publish 发布事件；nats 客户端内部缓冲，不阻塞仿真
func (p *NATSPublisher) Publish(ev Event) {
	data, err := ev.Marshal()
	if err != nil {
		atomic.AddUint64(&p.failed, 1)
		return
	}
	if err := p.nc.Publish(p.Subject(ev), data); err != nil {
		if atomic.AddUint64(&p.failed, 1) == 1 {
			p.log.Warn().Err(err).Msg("发布事件失败")
		}
		return
	}
	atomic.AddUint64(&p.published, 1)
}

// Stats 已发布与失败次数
func (p *NATSPublisher) Stats() (published, failed uint64) {
	return atomic.LoadUint64(&p.published), atomic.LoadUint64(&p.failed)
}

// Close 刷新缓冲并关闭连接
func (p *NATSPublisher) Close() error {
	if err := p.nc.FlushTimeout(2 * time.Second); err != nil {
		p.log.Warn().Err(err).Msg("刷新 NATS 缓冲失败")
	}
	p.nc.Close()
	return nil
}
