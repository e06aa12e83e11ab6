// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器定义
// =============================================================================
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/wifimac/internal/mac"
)

// =============================================================================
// 站点收集器
// =============================================================================

// StationSource 站点统计数据来源，实现方负责在仿真协程之外安全读取
type StationSource interface {
	StationStats() []mac.Stats
	SimTime() time.Duration
	EventsProcessed() uint64
}

// StationCollector 抓取时读取各站点快照
type StationCollector struct {
	source StationSource

	simTimeDesc     *prometheus.Desc
	eventsDesc      *prometheus.Desc
	bufferDesc      *prometheus.Desc
	outstandingDesc *prometheus.Desc
	cwDesc          *prometheus.Desc
	navDesc         *prometheus.Desc
	framesDesc      *prometheus.Desc
}

// NewStationCollector 创建站点收集器
func NewStationCollector(source StationSource) *StationCollector {
	namespace := "wifimac"
	subsystem := "station"

	return &StationCollector{
		source: source,

		simTimeDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "sim", "time_seconds"),
			"Current simulated time",
			nil, nil,
		),
		eventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "sim", "events_processed_total"),
			"Scheduler events processed",
			nil, nil,
		),
		bufferDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "buffer_frames"),
			"Frames waiting in the upper-layer buffer",
			[]string{"station"}, nil,
		),
		outstandingDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "arq_outstanding"),
			"Frames held by the ARQ entity",
			[]string{"station"}, nil,
		),
		cwDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "contention_window"),
			"Current contention window of the unicast DCF",
			[]string{"station"}, nil,
		),
		navDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "nav_busy"),
			"Whether the NAV is set (1 = yes)",
			[]string{"station"}, nil,
		),
		framesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "frames_total"),
			"Frame counters kept by the transceiver",
			[]string{"station", "counter"}, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *StationCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.simTimeDesc
	ch <- c.eventsDesc
	ch <- c.bufferDesc
	ch <- c.outstandingDesc
	ch <- c.cwDesc
	ch <- c.navDesc
	ch <- c.framesDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *StationCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.simTimeDesc, prometheus.GaugeValue,
		c.source.SimTime().Seconds())
	ch <- prometheus.MustNewConstMetric(c.eventsDesc, prometheus.CounterValue,
		float64(c.source.EventsProcessed()))

	for _, st := range c.source.StationStats() {
		station := strconv.FormatUint(uint64(st.Address), 10)

		ch <- prometheus.MustNewConstMetric(c.bufferDesc, prometheus.GaugeValue,
			float64(st.BufferLen), station)
		ch <- prometheus.MustNewConstMetric(c.outstandingDesc, prometheus.GaugeValue,
			float64(st.Outstanding), station)
		ch <- prometheus.MustNewConstMetric(c.cwDesc, prometheus.GaugeValue,
			float64(st.CW), station)
		nav := 0.0
		if st.NAVBusy {
			nav = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.navDesc, prometheus.GaugeValue, nav, station)

		for name, v := range map[string]uint64{
			"enqueued":    st.Enqueued,
			"transmitted": st.Transmissions,
			"delivered":   st.Delivered,
			"acked":       st.Acked,
			"retried":     st.Retries,
			"dropped":     st.Dropped,
			"rts_failed":  st.RTSFailures,
			"rx_errors":   st.RxErrors,
			"duplicates":  st.Duplicates,
			"aggregates":  st.Aggregates,
		} {
			ch <- prometheus.MustNewConstMetric(c.framesDesc, prometheus.CounterValue,
				float64(v), station, name)
		}
	}
}

// =============================================================================
// 运行收集器
// =============================================================================

// RunCollector 导出 RunStats
type RunCollector struct {
	stats *RunStats

	runsDesc   *prometheus.Desc
	activeDesc *prometheus.Desc
	uptimeDesc *prometheus.Desc
}

// NewRunCollector 创建运行收集器
func NewRunCollector(stats *RunStats) *RunCollector {
	return &RunCollector{
		stats: stats,
		runsDesc: prometheus.NewDesc(
			prometheus.BuildFQName("wifimac", "runs", "total"),
			"Simulation runs by outcome",
			[]string{"outcome"}, nil,
		),
		activeDesc: prometheus.NewDesc(
			prometheus.BuildFQName("wifimac", "runs", "active"),
			"Simulation runs in progress",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			prometheus.BuildFQName("wifimac", "", "uptime_seconds"),
			"Process uptime",
			nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *RunCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runsDesc
	ch <- c.activeDesc
	ch <- c.uptimeDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *RunCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.runsDesc, prometheus.CounterValue,
		float64(c.stats.started.Load()), "started")
	ch <- prometheus.MustNewConstMetric(c.runsDesc, prometheus.CounterValue,
		float64(c.stats.completed.Load()), "completed")
	ch <- prometheus.MustNewConstMetric(c.runsDesc, prometheus.CounterValue,
		float64(c.stats.failed.Load()), "failed")
	ch <- prometheus.MustNewConstMetric(c.activeDesc, prometheus.GaugeValue,
		float64(c.stats.Active()))
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue,
		c.stats.Uptime().Seconds())
}
