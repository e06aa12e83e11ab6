// =============================================================================
// 文件: internal/metrics/metrics.go
// 描述: 运行级统计 - 原子计数与运行历史，供健康检查和 /runs 接口读取
// =============================================================================
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RunRecord 一次仿真运行的结果
type RunRecord struct {
	ID              uuid.UUID     `json:"id"`
	Seed            int64         `json:"seed"`
	Started         time.Time     `json:"started"`
	Wall            time.Duration `json:"wall_ns"`
	SimTime         time.Duration `json:"sim_time_ns"`
	Events          uint64        `json:"events"`
	Enqueued        uint64        `json:"enqueued"`
	Delivered       uint64        `json:"delivered"`
	DeliveredBits   uint64        `json:"delivered_bits"`
	Dropped         uint64        `json:"dropped"`
	Retransmissions uint64        `json:"retransmissions"`
	Error           string        `json:"error,omitempty"`
}

// Throughput 平均吞吐量 (bit/s，按仿真时间)
func (r RunRecord) Throughput() float64 {
	if r.SimTime <= 0 {
		return 0
	}
	return float64(r.DeliveredBits) / r.SimTime.Seconds()
}

// RunStats 所有运行的汇总
type RunStats struct {
	started   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	active    atomic.Int64
	delivered atomic.Uint64
	dropped   atomic.Uint64

	startTime time.Time

	mu      sync.RWMutex
	history []RunRecord
	limit   int
}

// NewRunStats 创建汇总，limit 为保留的历史条数
func NewRunStats(limit int) *RunStats {
	if limit <= 0 {
		limit = 100
	}
	return &RunStats{
		startTime: time.Now(),
		limit:     limit,
	}
}

// Begin 记录一次运行开始
func (r *RunStats) Begin() {
	r.started.Add(1)
	r.active.Add(1)
}

// End 记录一次运行结束
func (r *RunStats) End(rec RunRecord) {
	r.active.Add(-1)
	if rec.Error != "" {
		r.failed.Add(1)
	} else {
		r.completed.Add(1)
	}
	r.delivered.Add(rec.Delivered)
	r.dropped.Add(rec.Dropped)

	r.mu.Lock()
	r.history = append(r.history, rec)
	if len(r.history) > r.limit {
		r.history = r.history[len(r.history)-r.limit:]
	}
	r.mu.Unlock()
}

// Active 正在运行的数量
func (r *RunStats) Active() int64 { return r.active.Load() }

// Failed 失败的运行数
func (r *RunStats) Failed() uint64 { return r.failed.Load() }

// History 最近 limit 条记录，新的在前；limit<=0 返回全部
func (r *RunStats) History(limit int) []RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]RunRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.history[i])
	}
	return out
}

// Find 按 ID 查找记录
func (r *RunStats) Find(id uuid.UUID) (RunRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.history {
		if rec.ID == id {
			return rec, true
		}
	}
	return RunRecord{}, false
}

// Uptime 进程运行时间
func (r *RunStats) Uptime() time.Duration {
	return time.Since(r.startTime)
}

// Snapshot 汇总快照
func (r *RunStats) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"runs_started":   r.started.Load(),
		"runs_completed": r.completed.Load(),
		"runs_failed":    r.failed.Load(),
		"runs_active":    r.active.Load(),
		"delivered":      r.delivered.Load(),
		"dropped":        r.dropped.Load(),
		"uptime_seconds": r.Uptime().Seconds(),
	}
}
