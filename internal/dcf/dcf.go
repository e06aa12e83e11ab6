package dcf

import (
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/channel"
	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/sim"
	"github.com/mrcgq/wifimac/internal/timing"
)

// DCF 分布式协调功能：把退避过程挂到信道状态上
type DCF struct {
	name    string
	backoff *Backoff
	log     zerolog.Logger

	requests uint64
	grants   uint64
}

// New 创建 DCF 并注册为信道观察者
func New(name string, s *sim.Scheduler, tm *timing.Timing, ch *channel.State, cfg Config, rng *rand.Rand, granted func(), log zerolog.Logger) *DCF {
	d := &DCF{
		name: name,
		log:  log.With().Str("component", "dcf").Str("dcf", name).Logger(),
	}
	d.backoff = NewBackoff(s, tm, cfg, rng, func() {
		d.grants++
		granted()
	}, d.log)
	ch.Attach(d.backoff)
	return d
}

// Request 为帧申请信道，重传次数由 TxCounter 决定竞争窗口
func (d *DCF) Request(f *frame.Frame) bool {
	d.requests++
	if d.backoff.Request(f.TxCounter) {
		d.grants++
		return true
	}
	return false
}

// Backoff 退避过程
func (d *DCF) Backoff() *Backoff { return d.backoff }

// Name DCF 名称
func (d *DCF) Name() string { return d.name }

// Stats 请求与授权次数
func (d *DCF) Stats() (requests, grants uint64) {
	return d.requests, d.grants
}
