// =============================================================================
// 文件: internal/dcf/backoff.go
// 描述: 二进制指数退避 - IFS 等待、逐时隙递减、忙时冻结、后退避
// =============================================================================
package dcf

import (
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/sim"
	"github.com/mrcgq/wifimac/internal/timing"
)

// State 退避状态
type State int

const (
	StateIdle State = iota
	StateCounting
	StateFrozen
	StateGranted
)

// String 状态名称
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCounting:
		return "counting"
	case StateFrozen:
		return "frozen"
	case StateGranted:
		return "granted"
	default:
		return "unknown"
	}
}

// Config 退避参数
type Config struct {
	CWMin int
	CWMax int
	AIFS  time.Duration // 0 时使用共享时序中的 AIFS
}

// DefaultConfig 单播默认参数
func DefaultConfig() Config {
	return Config{CWMin: 15, CWMax: 1023}
}

// BroadcastConfig 广播默认参数
func BroadcastConfig() Config {
	return Config{CWMin: 7, CWMax: 7}
}

// Backoff 退避过程
type Backoff struct {
	s   *sim.Scheduler
	tm  *timing.Timing
	cfg Config
	rng *rand.Rand
	log zerolog.Logger

	granted func()
	timer   *sim.Timeout

	finished    bool
	waiting     bool
	duringIFS   bool
	channelBusy bool
	counter     int
	cw          int
	state       State
}

// NewBackoff 创建退避过程，信道初始视为空闲并开始 AIFS 等待
func NewBackoff(s *sim.Scheduler, tm *timing.Timing, cfg Config, rng *rand.Rand, granted func(), log zerolog.Logger) *Backoff {
	b := &Backoff{
		s:       s,
		tm:      tm,
		cfg:     cfg,
		rng:     rng,
		log:     log,
		granted: granted,
		cw:      cfg.CWMin,
	}
	b.timer = sim.NewTimeout(s, b.onTimeout)
	b.startCountdown(b.aifs())
	return b
}

// ContentionWindow 根据传输次数计算竞争窗口：cw = min(2^(n-1)·(cwMin+1) - 1, cwMax)
func ContentionWindow(cwMin, cwMax, txCounter int) int {
	cw := cwMin
	for i := 1; i < txCounter; i++ {
		cw = 2*cw + 1
		if cw >= cwMax {
			return cwMax
		}
	}
	if cw > cwMax {
		return cwMax
	}
	return cw
}

// Request 申请发送，txCounter 为该帧的第几次传输。
// 上一次退避已结束且信道空闲时立即返回 true（后退避），否则退避结束时调用 granted。
func (b *Backoff) Request(txCounter int) bool {
	if txCounter < 1 {
		txCounter = 1
	}
	b.waiting = true
	b.cw = ContentionWindow(b.cfg.CWMin, b.cfg.CWMax, txCounter)

	if b.finished && !b.channelBusy {
		b.waiting = false
		b.finished = false
		b.state = StateGranted
		b.log.Debug().Dur("sim_time", b.s.Now()).Int("cw", b.cw).Msg("后退避已完成，立即发送")
		return true
	}
	return false
}

// OnChannelBusy 信道变忙，冻结计数
func (b *Backoff) OnChannelBusy() {
	b.channelBusy = true
	if b.timer.IsSet() {
		b.timer.Cancel()
		b.state = StateFrozen
	}
}

// OnChannelIdle 信道变闲，等待 AIFS（接收出错后为 EIFS）后继续计数
func (b *Backoff) OnChannelIdle(afterError bool) {
	b.channelBusy = false
	ifs := b.aifs()
	if afterError {
		ifs = b.tm.EIFS
	}
	b.startCountdown(ifs)
}

// CW 当前竞争窗口
func (b *Backoff) CW() int { return b.cw }

// Counter 剩余退避时隙
func (b *Backoff) Counter() int { return b.counter }

// State 当前状态
func (b *Backoff) State() State { return b.state }

// Waiting 是否有发送在等待
func (b *Backoff) Waiting() bool { return b.waiting }

func (b *Backoff) aifs() time.Duration {
	if b.cfg.AIFS > 0 {
		return b.cfg.AIFS
	}
	return b.tm.AIFS
}

func (b *Backoff) startCountdown(ifs time.Duration) {
	b.finished = false
	b.duringIFS = true
	b.state = StateCounting
	b.timer.Set(ifs)
}

func (b *Backoff) onTimeout() {
	if b.duringIFS {
		b.duringIFS = false
		if b.counter == 0 {
			if !b.waiting {
				b.cw = b.cfg.CWMin
			}
			b.counter = b.rng.Intn(b.cw + 1)
			b.log.Debug().
				Dur("sim_time", b.s.Now()).
				Int("cw", b.cw).
				Int("counter", b.counter).
				Msg("抽取退避计数")
		}
	} else {
		b.counter--
	}

	if b.counter > 0 {
		b.timer.Set(b.tm.Slot)
		return
	}

	b.finished = true
	if b.waiting {
		b.waiting = false
		b.finished = false
		b.state = StateGranted
		b.granted()
		return
	}
	b.state = StateIdle
}
