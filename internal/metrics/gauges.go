// =============================================================================
// 文件: internal/metrics/gauges.go
// 描述: 实时埋点指标 - 由 MAC 事件流驱动的 Counter/Gauge/Histogram
// =============================================================================
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/wifimac/internal/trace"
)

// MACMetrics 事件驱动的指标集合，实现 trace.Publisher
type MACMetrics struct {
	// 事件相关
	Events *prometheus.CounterVec

	// 流量相关
	DeliveredBits *prometheus.CounterVec
	TxBits        *prometheus.CounterVec

	// 时延相关
	DeliveryDelay *prometheus.HistogramVec
	ACKDelay      *prometheus.HistogramVec

	// 丢弃与重传
	Drops       *prometheus.CounterVec
	Retransmits *prometheus.HistogramVec

	// 信道
	BusyFraction *prometheus.GaugeVec
	Aggregation  prometheus.Histogram
}

// NewMACMetrics 创建并注册指标
func NewMACMetrics(registry prometheus.Registerer) *MACMetrics {
	m := &MACMetrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wifimac",
			Name:      "events_total",
			Help:      "MAC events by station and kind",
		}, []string{"station", "kind"}),

		DeliveredBits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wifimac",
			Name:      "delivered_bits_total",
			Help:      "Payload bits delivered to the upper layer",
		}, []string{"station"}),

		TxBits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wifimac",
			Name:      "tx_bits_total",
			Help:      "PSDU bits put on the air by frame type",
		}, []string{"station", "type"}),

		DeliveryDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wifimac",
			Name:      "delivery_delay_seconds",
			Help:      "Simulated time from enqueue to delivery",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"station"}),

		ACKDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wifimac",
			Subsystem: "arq",
			Name:      "ack_delay_seconds",
			Help:      "Simulated time from enqueue to acknowledgement",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"station"}),

		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wifimac",
			Name:      "drops_total",
			Help:      "Dropped frames by reason",
		}, []string{"station", "reason"}),

		Retransmits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wifimac",
			Subsystem: "arq",
			Name:      "tx_counter",
			Help:      "Transmission counter of data frames put on the air",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 7},
		}, []string{"station"}),

		BusyFraction: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wifimac",
			Subsystem: "channel",
			Name:      "busy_fraction",
			Help:      "Fraction of the last probe interval the channel was busy",
		}, []string{"station"}),

		Aggregation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wifimac",
			Subsystem: "aggregation",
			Name:      "entries",
			Help:      "Entries per transmitted aggregate",
			Buckets:   prometheus.LinearBuckets(2, 2, 8),
		}),
	}

	registry.MustRegister(
		m.Events,
		m.DeliveredBits,
		m.TxBits,
		m.DeliveryDelay,
		m.ACKDelay,
		m.Drops,
		m.Retransmits,
		m.BusyFraction,
		m.Aggregation,
	)
	return m
}

// Publish 按事件类型更新指标
func (m *MACMetrics) Publish(ev trace.Event) {
	station := strconv.FormatUint(uint64(ev.Station), 10)
	m.Events.WithLabelValues(station, string(ev.Kind)).Inc()

	switch ev.Kind {
	case trace.KindTx:
		m.TxBits.WithLabelValues(station, ev.FrameType).Add(float64(ev.Bits))
		if ev.Entries > 1 {
			m.Aggregation.Observe(float64(ev.Entries))
		}
		if ev.FrameType == "DATA" || ev.FrameType == "DATA_TXOP" {
			m.Retransmits.WithLabelValues(station).Observe(float64(ev.TxCounter))
		}
	case trace.KindDeliver:
		m.DeliveredBits.WithLabelValues(station).Add(float64(ev.Bits))
		m.DeliveryDelay.WithLabelValues(station).Observe(ev.Delay.Seconds())
	case trace.KindAck:
		m.ACKDelay.WithLabelValues(station).Observe(ev.Delay.Seconds())
	case trace.KindDrop:
		m.Drops.WithLabelValues(station, ev.Reason).Inc()
	case trace.KindBusyFraction:
		m.BusyFraction.WithLabelValues(station).Set(ev.Value)
	}
}

// Close 指标无需关闭
func (m *MACMetrics) Close() error { return nil }

var _ trace.Publisher = (*MACMetrics)(nil)
