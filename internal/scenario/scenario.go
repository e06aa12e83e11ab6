// =============================================================================
// 文件: internal/scenario/scenario.go
// 描述: 仿真场景 - 在同一信道上搭建站点、产生上层流量并汇总运行结果
// =============================================================================
package scenario

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/config"
	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/mac"
	"github.com/mrcgq/wifimac/internal/metrics"
	"github.com/mrcgq/wifimac/internal/sim"
	"github.com/mrcgq/wifimac/internal/timing"
	"github.com/mrcgq/wifimac/internal/trace"
)

// Scenario 一次独立运行：自有调度器、信道与站点，不与其他运行共享状态
type Scenario struct {
	id       uuid.UUID
	seed     int64
	duration time.Duration
	sim      config.SimConfig

	s        *sim.Scheduler
	medium   *sim.Medium
	rng      *rand.Rand
	stations []*mac.Transceiver
	log      zerolog.Logger

	rejected uint64
}

// New 按配置搭建场景
func New(id uuid.UUID, cfg *config.Config, seed int64, pub trace.Publisher, log zerolog.Logger) (*Scenario, error) {
	modes, err := cfg.Modes()
	if err != nil {
		return nil, err
	}
	if pub == nil {
		pub = trace.Nop{}
	}

	sc := &Scenario{
		id:       id,
		seed:     seed,
		duration: cfg.Sim.Duration.D(),
		sim:      cfg.Sim,
		s:        sim.NewScheduler(),
		rng:      rand.New(rand.NewSource(seed)),
		log:      log.With().Str("run", id.String()).Int64("seed", seed).Logger(),
	}
	sc.medium = sim.NewMedium(sc.s, cfg.MediumParams(), sc.rng, sc.log)

	// 每个收发器持有同一份派生后的时序
	tm := cfg.Timing()
	calc := timing.NewOFDM()
	params := cfg.MACParams()
	runPub := trace.WithRun{Run: id.String(), Next: pub}

	for i := 1; i <= cfg.Sim.Stations; i++ {
		addr := frame.Address(i)
		tr, err := mac.New(sc.s, addr, tm, calc, modes, params, sc.rng, runPub, mac.Events{}, sc.log)
		if err != nil {
			return nil, err
		}
		tr.BindPHY(sc.medium.Attach(addr, tr))
		sc.stations = append(sc.stations, tr)
	}

	if cfg.Sim.SINRFeedback {
		sc.medium.OnDelivered = func(from, to frame.Address, sinrDB float64) {
			if from == frame.Broadcast || from < 1 || int(from) > len(sc.stations) {
				return
			}
			sc.stations[from-1].ReportPeerSINR(to, sinrDB)
		}
	}
	return sc, nil
}

// ID 运行 ID
func (sc *Scenario) ID() uuid.UUID { return sc.id }

// Station 按地址取站点
func (sc *Scenario) Station(addr frame.Address) *mac.Transceiver {
	if addr < 1 || int(addr) > len(sc.stations) {
		return nil
	}
	return sc.stations[addr-1]
}

// destination 流量模式决定的目的地址，false 表示该站不产生流量
func (sc *Scenario) destination(addr frame.Address) (frame.Address, bool) {
	switch sc.sim.Traffic {
	case config.TrafficRing:
		return addr%frame.Address(len(sc.stations)) + 1, true
	case config.TrafficBroadcast:
		return frame.Broadcast, true
	default:
		// 站点 1 作为汇聚点
		return 1, addr != 1
	}
}

// startTraffic 每站一个泊松到达的源，平均间隔 = 负载 / 帧长
func (sc *Scenario) startTraffic() {
	if sc.sim.OfferedLoadBps <= 0 {
		return
	}
	mean := time.Duration(float64(sc.sim.PayloadBits) / sc.sim.OfferedLoadBps * float64(time.Second))
	if mean <= 0 {
		mean = time.Nanosecond
	}
	for _, tr := range sc.stations {
		dst, ok := sc.destination(tr.Address())
		if !ok {
			continue
		}
		sc.startSource(tr, dst, mean)
	}
}

func (sc *Scenario) startSource(tr *mac.Transceiver, dst frame.Address, mean time.Duration) {
	var next func()
	next = func() {
		f := tr.Manager().NewFrame(dst, sc.sim.PayloadBits)
		if !tr.Send(f) {
			sc.rejected++
		}
		sc.s.Schedule(sc.interarrival(mean), next)
	}
	// 随机起始偏移，避免所有源同时启动
	sc.s.Schedule(time.Duration(sc.rng.Int63n(int64(mean))+1), next)
}

func (sc *Scenario) interarrival(mean time.Duration) time.Duration {
	d := time.Duration(sc.rng.ExpFloat64() * float64(mean))
	if d <= 0 {
		d = 1
	}
	return d
}

// Run 运行到配置的仿真时长，ctx 取消时提前结束
func (sc *Scenario) Run(ctx context.Context) (metrics.RunRecord, error) {
	rec := metrics.RunRecord{
		ID:      sc.id,
		Seed:    sc.seed,
		Started: time.Now(),
	}

	sc.log.Info().
		Int("stations", len(sc.stations)).
		Dur("duration", sc.duration).
		Str("traffic", sc.sim.Traffic).
		Msg("运行开始")

	sc.startTraffic()
	err := sc.s.RunUntil(ctx, sc.duration)

	rec.Wall = time.Since(rec.Started)
	sc.s.Inspect(func() {
		rec.SimTime = sc.s.Now()
		rec.Events = sc.s.Processed()
		for _, tr := range sc.stations {
			st := tr.Stats()
			rec.Enqueued += st.Enqueued
			rec.Delivered += st.Delivered
			rec.DeliveredBits += st.DeliveredBits
			rec.Dropped += st.Dropped
			rec.Retransmissions += st.Retries
		}
	})
	if err != nil {
		rec.Error = err.Error()
		sc.log.Warn().Err(err).Dur("sim_time", rec.SimTime).Msg("运行中断")
		return rec, fmt.Errorf("run %s: %w", sc.id, err)
	}

	sc.log.Info().
		Dur("sim_time", rec.SimTime).
		Dur("wall", rec.Wall).
		Uint64("events", rec.Events).
		Uint64("delivered", rec.Delivered).
		Uint64("dropped", rec.Dropped).
		Uint64("rejected", sc.rejected).
		Float64("throughput_bps", rec.Throughput()).
		Msg("运行结束")
	return rec, nil
}

// =============================================================================
// 指标数据源
// =============================================================================

// StationStats 实现 metrics.StationSource，须经 Inspect 读取
func (sc *Scenario) StationStats() []mac.Stats {
	var out []mac.Stats
	sc.s.Inspect(func() {
		out = make([]mac.Stats, 0, len(sc.stations))
		for _, tr := range sc.stations {
			out = append(out, tr.Stats())
		}
	})
	return out
}

// SimTime 当前仿真时间
func (sc *Scenario) SimTime() time.Duration {
	var now time.Duration
	sc.s.Inspect(func() { now = sc.s.Now() })
	return now
}

// EventsProcessed 已执行的事件数
func (sc *Scenario) EventsProcessed() uint64 {
	var n uint64
	sc.s.Inspect(func() { n = sc.s.Processed() })
	return n
}

// Live 指标抓取跟随的场景
//
// 多个运行并发时只导出其中一个的站点状态，
// 当前场景结束后由下一个 Watch 的场景接替。
type Live struct {
	mu  sync.RWMutex
	cur *Scenario
}

// Watch 若当前无场景则跟随 sc
func (l *Live) Watch(sc *Scenario) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur != nil {
		return false
	}
	l.cur = sc
	return true
}

// Release sc 结束时调用
func (l *Live) Release(sc *Scenario) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur == sc {
		l.cur = nil
	}
}

func (l *Live) current() *Scenario {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

// StationStats 实现 metrics.StationSource
func (l *Live) StationStats() []mac.Stats {
	if sc := l.current(); sc != nil {
		return sc.StationStats()
	}
	return nil
}

// SimTime 实现 metrics.StationSource
func (l *Live) SimTime() time.Duration {
	if sc := l.current(); sc != nil {
		return sc.SimTime()
	}
	return 0
}

// EventsProcessed 实现 metrics.StationSource
func (l *Live) EventsProcessed() uint64 {
	if sc := l.current(); sc != nil {
		return sc.EventsProcessed()
	}
	return 0
}

var (
	_ metrics.StationSource = (*Scenario)(nil)
	_ metrics.StationSource = (*Live)(nil)
)
