package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/mac"
	"github.com/mrcgq/wifimac/internal/trace"
)

type fakeSource struct{}

func (fakeSource) StationStats() []mac.Stats {
	return []mac.Stats{
		{Address: 1, Enqueued: 10, Acked: 8, BufferLen: 2, CW: 31, NAVBusy: true},
		{Address: 2, Delivered: 8},
	}
}
func (fakeSource) SimTime() time.Duration { return 2 * time.Second }
func (fakeSource) EventsProcessed() uint64 { return 1234 }

func TestMACMetricsPublish(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMACMetrics(reg)

	m.Publish(trace.Event{Station: 1, Kind: trace.KindTx, FrameType: "DATA", Bits: 1000, TxCounter: 2})
	m.Publish(trace.Event{Station: 2, Kind: trace.KindDeliver, Bits: 800, Delay: time.Millisecond})
	m.Publish(trace.Event{Station: 1, Kind: trace.KindDrop, Reason: "retry_limit"})
	m.Publish(trace.Event{Station: 1, Kind: trace.KindBusyFraction, Value: 0.4})

	if got := testutil.ToFloat64(m.Events.WithLabelValues("1", "tx")); got != 1 {
		t.Errorf("tx 事件计数 %v, 期望 1", got)
	}
	if got := testutil.ToFloat64(m.TxBits.WithLabelValues("1", "DATA")); got != 1000 {
		t.Errorf("发送位数 %v, 期望 1000", got)
	}
	if got := testutil.ToFloat64(m.DeliveredBits.WithLabelValues("2")); got != 800 {
		t.Errorf("上交位数 %v, 期望 800", got)
	}
	if got := testutil.ToFloat64(m.Drops.WithLabelValues("1", "retry_limit")); got != 1 {
		t.Errorf("丢弃计数 %v, 期望 1", got)
	}
	if got := testutil.ToFloat64(m.BusyFraction.WithLabelValues("1")); got != 0.4 {
		t.Errorf("忙碌比例 %v, 期望 0.4", got)
	}
	if err := m.Close(); err != nil {
		t.Error(err)
	}
}

func TestStationCollector(t *testing.T) {
	c := NewStationCollector(fakeSource{})
	// 2 个全局指标 + 每站 4 个 gauge + 10 个计数
	if n := testutil.CollectAndCount(c); n != 2+2*(4+10) {
		t.Errorf("指标数量 %d", n)
	}

	want := `
# HELP wifimac_station_contention_window Current contention window of the unicast DCF
# TYPE wifimac_station_contention_window gauge
wifimac_station_contention_window{station="1"} 31
wifimac_station_contention_window{station="2"} 0
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(want), "wifimac_station_contention_window"); err != nil {
		t.Error(err)
	}
}

func TestRunStatsHistory(t *testing.T) {
	rs := NewRunStats(2)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, id := range ids {
		rs.Begin()
		rec := RunRecord{ID: id, Delivered: uint64(i)}
		if i == 1 {
			rec.Error = "boom"
		}
		rs.End(rec)
	}

	h := rs.History(0)
	if len(h) != 2 || h[0].ID != ids[2] || h[1].ID != ids[1] {
		t.Errorf("历史应保留最近 2 条且新的在前: %+v", h)
	}
	if _, ok := rs.Find(ids[0]); ok {
		t.Error("被淘汰的记录不应再能找到")
	}
	if rs.Failed() != 1 || rs.Active() != 0 {
		t.Errorf("失败 %d 活跃 %d", rs.Failed(), rs.Active())
	}
}

func TestServerRoutes(t *testing.T) {
	runs := NewRunStats(10)
	id := uuid.New()
	runs.Begin()
	runs.End(RunRecord{ID: id, Delivered: 42})

	s := NewMetricsServer(ServerConfig{}, runs, zerolog.Nop())
	s.RegisterCollector(NewStationCollector(fakeSource{}))
	s.MountTrace(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("请求 %s 失败: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	t.Run("健康检查", func(t *testing.T) {
		if code, _ := get("/health"); code != http.StatusOK {
			t.Errorf("状态码 %d", code)
		}
		if code, body := get("/health/live"); code != http.StatusOK || body != "OK" {
			t.Errorf("存活探针 %d %q", code, body)
		}
		s.SetHealthCheck(func() HealthStatus { return HealthStatus{Status: "unhealthy"} })
		if code, _ := get("/health/ready"); code != http.StatusServiceUnavailable {
			t.Errorf("不健康时就绪探针应返回 503: %d", code)
		}
		s.SetHealthCheck(nil)
	})

	t.Run("指标", func(t *testing.T) {
		code, body := get("/metrics")
		if code != http.StatusOK {
			t.Fatalf("状态码 %d", code)
		}
		for _, name := range []string{"wifimac_sim_time_seconds", "wifimac_runs_total", "go_goroutines"} {
			if !strings.Contains(body, name) {
				t.Errorf("缺少指标 %s", name)
			}
		}
	})

	t.Run("运行记录", func(t *testing.T) {
		code, body := get("/runs/" + id.String())
		if code != http.StatusOK {
			t.Fatalf("状态码 %d", code)
		}
		var rec RunRecord
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			t.Fatal(err)
		}
		if rec.Delivered != 42 {
			t.Errorf("记录内容错误: %+v", rec)
		}
		if code, _ := get("/runs/not-a-uuid"); code != http.StatusBadRequest {
			t.Errorf("非法 ID 应返回 400: %d", code)
		}
		if code, _ := get("/runs/" + uuid.New().String()); code != http.StatusNotFound {
			t.Errorf("不存在的 ID 应返回 404: %d", code)
		}
	})

	t.Run("事件流挂载", func(t *testing.T) {
		if code, _ := get("/trace"); code != http.StatusTeapot {
			t.Errorf("应转发到事件流处理器: %d", code)
		}
	})
}
