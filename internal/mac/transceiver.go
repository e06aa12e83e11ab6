// =============================================================================
// 文件: internal/mac/transceiver.go
// 描述: 收发器 - 固定的发送/接收流水线，连接缓冲、ARQ、速率、聚合、TXOP、RTS/CTS 与 DCF
// =============================================================================
package mac

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrcgq/wifimac/internal/aggregation"
	"github.com/mrcgq/wifimac/internal/arq"
	"github.com/mrcgq/wifimac/internal/buffer"
	"github.com/mrcgq/wifimac/internal/channel"
	"github.com/mrcgq/wifimac/internal/dcf"
	"github.com/mrcgq/wifimac/internal/dupfilter"
	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/mib"
	"github.com/mrcgq/wifimac/internal/rate"
	"github.com/mrcgq/wifimac/internal/rtscts"
	"github.com/mrcgq/wifimac/internal/sim"
	"github.com/mrcgq/wifimac/internal/timing"
	"github.com/mrcgq/wifimac/internal/trace"
	"github.com/mrcgq/wifimac/internal/txop"
)

// PHY 物理层发送服务
type PHY interface {
	Transmit(f *frame.Frame, d time.Duration)
}

// Events 向上层报告的事件
type Events struct {
	// Deliver 按序、去重后的数据帧
	Deliver func(f *frame.Frame)
	// Dropped 被放弃的帧与原因
	Dropped func(f *frame.Frame, reason string)
}

// Stats 收发器统计
type Stats struct {
	Address           frame.Address
	Enqueued          uint64
	Transmissions     uint64
	DataTransmissions uint64
	Delivered         uint64
	DeliveredBits     uint64
	Acked             uint64
	Retries           uint64
	Dropped           uint64
	RTSFailures       uint64
	RxErrors          uint64
	Duplicates        uint64
	Aggregates        uint64
	BufferLen         int
	Outstanding       int
	CW                int
	NAVBusy           bool
	NAVSets           uint64        // 因旁听帧进入 NAV 的次数
	NAVTime           time.Duration // 累计 NAV 占用时长
	BusyFraction      float64
}

// Transceiver 单个站点的下层 MAC
type Transceiver struct {
	s      *sim.Scheduler
	tm     *timing.Timing
	calc   timing.Calculator
	cfg    Config
	mgr    *Manager
	pub    trace.Publisher
	events Events
	log    zerolog.Logger
	phy    PHY

	ch    *channel.State
	dcf   *dcf.DCF
	bcDCF *dcf.DCF
	rts   *rtscts.RTSCTS
	arq   arq.ARQ
	rate  *rate.Adaptation
	txop  *txop.TXOP
	agg   *aggregation.Aggregator
	deagg *aggregation.Deaggregator
	buf   buffer.Queue
	dup   *dupfilter.Filter
	per   *mib.PER
	sinr  *mib.SINR

	txFrame     *frame.Frame // 正在空口上的 PPDU
	pending     *frame.Frame // 等待 DCF 授权的单播帧
	bcPending   *frame.Frame // 等待广播 DCF 授权的广播帧
	bcRequested bool
	sifsTimer   *sim.Timer
	kickPending bool
	regrant     bool
	bcRegrant   bool
	navSince    time.Duration

	stats Stats
}

// New 创建收发器，之后须调用 BindPHY
func New(s *sim.Scheduler, addr frame.Address, tm *timing.Timing, calc timing.Calculator, modes *frame.ModeTable,
	cfg Config, rng *rand.Rand, pub trace.Publisher, events Events, log zerolog.Logger) (*Transceiver, error) {
	if err := cfg.Validate(tm); err != nil {
		return nil, fmt.Errorf("station %s: %w", addr, err)
	}
	if pub == nil {
		pub = trace.Nop{}
	}

	t := &Transceiver{
		s:      s,
		tm:     tm,
		calc:   calc,
		pub:    pub,
		events: events,
		log:    log.With().Str("station", addr.String()).Logger(),
	}
	t.mgr = NewManager(s, addr, tm, calc, modes, cfg)

	// 控制帧统一使用 ack 模式，长短帧分界与 RTS 门限一致
	ackMode := t.mgr.ACKMode()
	cfg.ARQ.ACKMode = ackMode
	cfg.ARQ.RTSThreshold = cfg.RTSCTS.Threshold
	cfg.RTSCTS.Mode = ackMode
	cfg.BlockACK.Mode = ackMode
	cfg.BlockACK.Expired = t.mgr.LifetimeExpired
	if cfg.Mode == ModeHT {
		cfg.TXOP.Limit = 0
	}
	t.cfg = cfg
	t.stats.Address = addr

	var err error
	t.per = mib.NewPER(cfg.PER)
	t.sinr = mib.NewSINR(cfg.SINR)
	if t.rate, err = rate.New(s, modes, t.per, t.sinr, cfg.Rate, t.log); err != nil {
		return nil, fmt.Errorf("station %s: %w", addr, err)
	}
	if t.txop, err = txop.New(s, tm, calc, cfg.TXOP, cfg.ARQ.ACKBits, ackMode, t.log); err != nil {
		return nil, fmt.Errorf("station %s: %w", addr, err)
	}
	if t.dup, err = dupfilter.New(cfg.DupFilter, t.log); err != nil {
		return nil, fmt.Errorf("station %s: %w", addr, err)
	}

	onDrop := func(f *frame.Frame) { t.drop(f, "buffer_overflow") }
	if cfg.MultiBuffer {
		t.buf, err = buffer.NewMulti(cfg.Buffer, onDrop, t.log)
	} else {
		t.buf, err = buffer.New(cfg.Buffer, onDrop, t.log)
	}
	if err != nil {
		return nil, fmt.Errorf("station %s: %w", addr, err)
	}

	t.ch = channel.New(s, tm, addr, cfg.Channel, t.log)
	t.ch.AttachNAV(t)
	t.dcf = dcf.New("unicast", s, tm, t.ch, cfg.DCF, rng, t.onGrant, t.log)
	t.bcDCF = dcf.New("broadcast", s, tm, t.ch, cfg.BroadcastDCF, rng, t.onBroadcastGrant, t.log)

	t.rts = rtscts.New(s, tm, calc, addr, cfg.RTSCTS, t.ch, rtscts.Hooks{
		Failed:   t.onRTSFailed,
		Release:  t.onCTSReceived,
		Feedback: t.sinr.PutPeerSINR,
	}, t.log)

	hooks := arq.Hooks{
		Acked:      t.onAcked,
		Failed:     t.onFailed,
		Dropped:    func(f *frame.Frame, reason arq.DropReason) { t.drop(f, string(reason)) },
		Ready:      t.scheduleKick,
		Backlogged: t.backlogged,
	}
	switch cfg.Mode {
	case ModeHT:
		t.arq = arq.NewBlockACK(s, tm, calc, addr, cfg.BlockACK, t.per, hooks, t.log)
		if t.agg, err = aggregation.NewAggregator(s, cfg.Aggregation, t.scheduleKick, t.log); err != nil {
			return nil, fmt.Errorf("station %s: %w", addr, err)
		}
		t.deagg = aggregation.NewDeaggregator(calc, cfg.Aggregation, t.log)
	default:
		t.arq = arq.NewStopAndWait(s, tm, calc, addr, cfg.ARQ, t.per, hooks, t.log)
	}

	if cfg.Channel.ProbeInterval > 0 {
		t.ch.OnProbe(func(fraction float64) {
			t.stats.BusyFraction = fraction
			ev := trace.FrameEvent(addr, trace.KindBusyFraction, s.Now(), nil)
			ev.Value = fraction
			t.pub.Publish(ev)
		})
	}

	t.log.Debug().Str("mode", string(cfg.Mode)).Msg("收发器已创建")
	return t, nil
}

// BindPHY 绑定物理层
func (t *Transceiver) BindPHY(phy PHY) {
	t.phy = phy
}

// Manager 站点管理
func (t *Transceiver) Manager() *Manager { return t.mgr }

// Address 本站地址
func (t *Transceiver) Address() frame.Address { return t.mgr.addr }

// Channel 信道状态
func (t *Transceiver) Channel() *channel.State { return t.ch }

// ARQ 可靠传输层
func (t *Transceiver) ARQ() arq.ARQ { return t.arq }

// PER 分组错误率信息库
func (t *Transceiver) PER() *mib.PER { return t.per }

// SINR 信噪比信息库
func (t *Transceiver) SINR() *mib.SINR { return t.sinr }

// Rate 速率自适应
func (t *Transceiver) Rate() *rate.Adaptation { return t.rate }

// Send 上层提交数据帧，缓冲区拒绝时返回 false
func (t *Transceiver) Send(f *frame.Frame) bool {
	t.mgr.assignID(f)
	f.Transmitter = t.mgr.addr
	if f.Bits == 0 {
		f.Bits = f.PayloadBits + t.cfg.HeaderBits
	}
	f.Created = t.s.Now()
	t.dup.Stamp(f)
	t.stats.Enqueued++
	t.publish(trace.KindEnqueue, f)

	if !t.buf.Enqueue(f) {
		return false
	}
	t.scheduleKick()
	return true
}

// StartTXOP 外部开启一个 TXOP 窗口
func (t *Transceiver) StartTXOP(d time.Duration) {
	if !t.txop.Enabled() {
		return
	}
	t.txop.Start(d)
	t.scheduleKick()
}

// ReportPeerSINR 对端测得的本站 SINR 反馈
func (t *Transceiver) ReportPeerSINR(peer frame.Address, sinrDB float64) {
	t.sinr.PutPeerSINR(peer, sinrDB)
}

// Stats 统计快照
func (t *Transceiver) Stats() Stats {
	st := t.stats
	st.BufferLen = t.buf.Len()
	st.Outstanding = t.arq.Stats().Outstanding
	st.CW = t.dcf.Backoff().CW()
	st.NAVBusy = t.ch.NAVBusy()
	return st
}

// ---------------------------------------------------------------------------
// 发送流水线
// ---------------------------------------------------------------------------

// scheduleKick 在当前事件结束后推进发送，同一时刻只排一次
func (t *Transceiver) scheduleKick() {
	if t.kickPending {
		return
	}
	t.kickPending = true
	t.s.Schedule(0, t.kick)
}

func (t *Transceiver) kick() {
	t.kickPending = false
	if t.phy == nil {
		t.log.Error().Msg("未绑定 PHY")
		return
	}

	t.admit()
	t.kickBroadcast()

	if t.pending != nil || t.busyTx() || t.rts.Busy() {
		return
	}
	f := t.nextOutgoing()
	if f == nil {
		return
	}
	if t.txop.Active() && t.txop.Continue(f) {
		t.sendSIFS(func() { t.startExchange(f) })
		return
	}
	t.pending = f
	if t.dcf.Request(f) {
		t.onGrant()
	}
}

// admit 把缓冲区队首交给 ARQ 或广播通道
func (t *Transceiver) admit() {
	for {
		head := t.buf.Peek()
		if head == nil {
			return
		}
		if !head.IsUnicast() {
			if t.bcPending != nil {
				return
			}
			t.buf.Dequeue()
			t.bcPending = head
			continue
		}
		if !t.arq.Accepts(head) {
			return
		}
		t.buf.Dequeue()
		if t.mgr.LifetimeExpired(head) {
			t.drop(head, string(arq.DropLifetime))
			continue
		}
		t.arq.Outgoing(head)
	}
}

// nextOutgoing 从 ARQ 取出下一个帧；ht 模式先经过聚合
func (t *Transceiver) nextOutgoing() *frame.Frame {
	if t.agg == nil {
		if t.arq.NextFrame() == nil {
			return nil
		}
		f := t.arq.TakeFrame()
		t.mgr.SetDuration(f)
		t.rate.Assign(f)
		return f
	}

	for {
		nf := t.arq.NextFrame()
		if nf == nil || !t.agg.Fits(nf) {
			break
		}
		f := t.arq.TakeFrame()
		t.mgr.SetDuration(f)
		t.agg.Offer(f)
	}
	if !t.agg.Ready() {
		return nil
	}
	out := t.agg.Flush()
	t.rate.Assign(out)
	if out.IsAggregate() {
		t.stats.Aggregates++
	}
	return out
}

func (t *Transceiver) kickBroadcast() {
	if t.bcPending == nil || t.bcRequested {
		return
	}
	f := t.bcPending
	f.TxCounter = 1
	f.Duration = 0
	t.rate.Assign(f)
	t.bcRequested = true
	if t.bcDCF.Request(f) {
		t.onBroadcastGrant()
	}
}

// busyTx 正在发送或已排定 SIFS 发送
func (t *Transceiver) busyTx() bool {
	return t.txFrame != nil || (t.sifsTimer != nil && t.sifsTimer.Active())
}

func (t *Transceiver) onGrant() {
	if t.pending == nil {
		return
	}
	if t.busyTx() {
		t.regrant = true
		return
	}
	f := t.pending
	t.pending = nil
	t.startExchange(f)
}

func (t *Transceiver) onBroadcastGrant() {
	if t.bcPending == nil {
		return
	}
	if t.busyTx() {
		t.bcRegrant = true
		return
	}
	f := t.bcPending
	t.bcPending = nil
	t.bcRequested = false
	t.transmit(f)
}

// startExchange 开始一次单播帧交换：TXOP 延长 NAV，大帧先发 RTS
func (t *Transceiver) startExchange(f *frame.Frame) {
	if t.txop.Enabled() {
		t.txop.Process(f, t.lookahead(f))
	}
	t.transmit(t.rts.Wrap(f))
}

// lookahead 缓冲区中紧随其后、发往同一接收方的帧
func (t *Transceiver) lookahead(f *frame.Frame) *frame.Frame {
	head := t.buf.Peek()
	if head == nil || !head.IsUnicast() || head.Receiver != f.Receiver {
		return nil
	}
	return head
}

// sendSIFS SIFS 后执行 fn，期间 busyTx 为真
func (t *Transceiver) sendSIFS(fn func()) {
	if t.sifsTimer != nil && t.sifsTimer.Active() {
		t.log.Warn().Dur("sim_time", t.s.Now()).Msg("SIFS 发送冲突，放弃")
		return
	}
	t.sifsTimer = t.s.Schedule(t.tm.SIFS, func() {
		t.sifsTimer = nil
		fn()
	})
}

func (t *Transceiver) transmit(f *frame.Frame) {
	d := t.calc.PPDU(f.Bits, f.Mode)
	t.txFrame = f
	t.stats.Transmissions++
	if f.IsData() {
		t.stats.DataTransmissions++
	}
	t.ch.OnTxStart()
	t.publish(trace.KindTx, f)
	t.log.Debug().
		Dur("sim_time", t.s.Now()).
		Str("frame", f.String()).
		Str("mode", f.Mode.Name).
		Dur("airtime", d).
		Str("path", PathFor(f).String()).
		Msg("发送")
	t.phy.Transmit(f, d)
}

// ---------------------------------------------------------------------------
// PHY 事件
// ---------------------------------------------------------------------------

// OnTxEnd PPDU 发送完毕
func (t *Transceiver) OnTxEnd(f *frame.Frame) {
	t.txFrame = nil

	var wait time.Duration
	switch {
	case f.Type == frame.RTS:
		wait = t.tm.SIFS + t.tm.PreambleProcessingDelay
	case f.RequiresReply && f.IsUnicast():
		wait = t.tm.ACKTimeout
	}
	t.ch.OnTxEnd(wait)

	switch {
	case f.Type == frame.RTS:
		t.rts.OnTxEnd(f)
	case IsControlResponse(f), !f.IsUnicast():
	default:
		for _, u := range f.Units() {
			t.arq.OnTxEnd(u)
		}
	}

	if t.regrant {
		t.regrant = false
		if t.pending != nil && t.dcf.Request(t.pending) {
			t.onGrant()
		}
	}
	if t.bcRegrant {
		t.bcRegrant = false
		if t.bcPending != nil && t.bcDCF.Request(t.bcPending) {
			t.onBroadcastGrant()
		}
	}
	t.scheduleKick()
}

// OnRxStart 检测到前导
func (t *Transceiver) OnRxStart(powerDBm float64) {
	t.ch.OnRxStart(powerDBm)
	t.arq.OnRxStart()
	t.rts.OnRxStart()
}

// OnRxEnd 成功接收
func (t *Transceiver) OnRxEnd(f *frame.Frame, sinrDB float64) {
	t.ch.OnRxEnd(f)
	if f.Receiver == t.mgr.addr || f.Receiver == frame.Broadcast {
		t.sinr.PutMeasurement(f.Transmitter, sinrDB)
		t.receive(f, sinrDB)
	}
	t.arq.OnRxEnd()
	t.rts.OnRxEnd()
	t.scheduleKick()
}

// OnRxError 接收失败
func (t *Transceiver) OnRxError() {
	t.stats.RxErrors++
	t.ch.OnRxEnd(nil)
	t.arq.OnRxError()
	t.rts.OnRxError()
	t.pub.Publish(trace.FrameEvent(t.mgr.addr, trace.KindRxError, t.s.Now(), nil))
	t.scheduleKick()
}

// OnEnergy 接收能量变化
func (t *Transceiver) OnEnergy(dBm float64) {
	t.ch.OnEnergy(dBm)
}

// receive 处理寻址本站或广播的帧
func (t *Transceiver) receive(f *frame.Frame, sinrDB float64) {
	switch f.Type {
	case frame.RTS:
		if f.Receiver != t.mgr.addr {
			return
		}
		if cts := t.rts.OnRTS(f, sinrDB); cts != nil {
			t.sendSIFS(func() { t.transmit(cts) })
		}
		return
	case frame.CTS:
		t.rts.OnCTS(f)
		return
	}

	units := []*frame.Frame{f}
	if t.deagg != nil {
		units = t.deagg.Split(f)
	}

	var reply *frame.Frame
	for _, u := range units {
		txop.Incoming(u)
		deliver, r := t.arq.Incoming(u)
		if r != nil {
			reply = r
		}
		for _, d := range deliver {
			if !t.dup.Accept(d) {
				t.stats.Duplicates++
				t.publish(trace.KindDuplicate, d)
				continue
			}
			t.up(d)
		}
	}
	if reply != nil {
		t.rate.Assign(reply)
		t.sendSIFS(func() { t.transmit(reply) })
	}
}

func (t *Transceiver) up(f *frame.Frame) {
	t.stats.Delivered++
	t.stats.DeliveredBits += uint64(f.PayloadBits)
	ev := trace.FrameEvent(t.mgr.addr, trace.KindDeliver, t.s.Now(), f)
	ev.Delay = t.s.Now() - f.Created
	t.pub.Publish(ev)
	if t.events.Deliver != nil {
		t.events.Deliver(f)
	}
}

// ---------------------------------------------------------------------------
// ARQ / RTS 回调
// ---------------------------------------------------------------------------

func (t *Transceiver) onAcked(f *frame.Frame) {
	if !f.IsUnicast() {
		return
	}
	t.stats.Acked++
	ev := trace.FrameEvent(t.mgr.addr, trace.KindAck, t.s.Now(), f)
	ev.Delay = t.s.Now() - f.Created
	t.pub.Publish(ev)
}

func (t *Transceiver) onFailed(f *frame.Frame) {
	t.stats.Retries++
	t.txop.Close()
	t.publish(trace.KindRetry, f)
}

func (t *Transceiver) onRTSFailed(msdu *frame.Frame) {
	t.stats.RTSFailures++
	t.txop.Close()
	t.publish(trace.KindRTSFailure, msdu)
	for _, u := range msdu.Units() {
		t.arq.TransmissionFailed(u)
	}
	t.scheduleKick()
}

func (t *Transceiver) onCTSReceived(msdu *frame.Frame) {
	t.sendSIFS(func() { t.transmit(msdu) })
}

// backlogged 缓冲区队首是否发往 peer
func (t *Transceiver) backlogged(peer frame.Address) bool {
	head := t.buf.Peek()
	return head != nil && head.Receiver == peer
}

func (t *Transceiver) drop(f *frame.Frame, reason string) {
	t.stats.Dropped++
	ev := trace.FrameEvent(t.mgr.addr, trace.KindDrop, t.s.Now(), f)
	ev.Reason = reason
	t.pub.Publish(ev)
	if t.events.Dropped != nil {
		t.events.Dropped(f, reason)
	}
}

// OnNAVBusy 旁听帧设置 NAV
func (t *Transceiver) OnNAVBusy(setter frame.Address) {
	t.stats.NAVSets++
	t.navSince = t.s.Now()
	ev := trace.FrameEvent(t.mgr.addr, trace.KindNAV, t.navSince, nil)
	ev.Peer = uint32(setter)
	t.pub.Publish(ev)
}

// OnNAVIdle NAV 到期
func (t *Transceiver) OnNAVIdle() {
	t.stats.NAVTime += t.s.Now() - t.navSince
}

func (t *Transceiver) publish(kind trace.Kind, f *frame.Frame) {
	t.pub.Publish(trace.FrameEvent(t.mgr.addr, kind, t.s.Now(), f))
}

var (
	_ sim.Listener        = (*Transceiver)(nil)
	_ channel.NAVObserver = (*Transceiver)(nil)
)
