package arq

import (
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/mrcgq/wifimac/internal/frame"
	"github.com/mrcgq/wifimac/internal/sim"
)

// barIDBase BAR 帧 ID 空间，与上层帧 ID 不重叠
const barIDBase uint64 = 1 << 63

// transmissionQueue 发送端：当前接收方的待发队列与在途窗口
type transmissionQueue struct {
	b *BlockACK

	receiver    frame.Address
	hasReceiver bool
	queue       []*frame.Frame
	onAir       []*frame.Frame
	nextSeq     map[frame.Address]uint32

	nextBAR     *frame.Frame // 已生成、尚未取走
	bar         *frame.Frame // 已取走，等待发送完毕或 BA
	barCount    uint64
	waitBA      bool
	receivingBA bool
	timeout     *sim.Timeout
}

func newTransmissionQueue(b *BlockACK) *transmissionQueue {
	q := &transmissionQueue{
		b:       b,
		nextSeq: make(map[frame.Address]uint32),
	}
	q.timeout = sim.NewTimeout(b.s, q.onTimeout)
	return q
}

func (q *transmissionQueue) accepts(f *frame.Frame) bool {
	if !f.IsUnicast() {
		return false
	}
	if q.hasReceiver && f.Receiver != q.receiver {
		return false
	}
	return len(q.queue)+len(q.onAir) < q.b.cfg.Capacity
}

func (q *transmissionQueue) enqueue(f *frame.Frame) {
	if !q.hasReceiver {
		q.receiver = f.Receiver
		q.hasReceiver = true
	}
	f.ARQSeq = q.nextSeq[f.Receiver]
	q.nextSeq[f.Receiver]++
	if f.TxCounter < 1 {
		f.TxCounter = 1
	}
	f.RequiresReply = false
	q.queue = append(q.queue, f)
}

func (q *transmissionQueue) outstanding() int {
	return len(q.queue) + len(q.onAir)
}

// next 窗口未满时返回下一个数据帧，否则按策略返回 BAR
func (q *transmissionQueue) next() *frame.Frame {
	if q.bar != nil {
		return nil
	}
	if len(q.queue) > 0 && len(q.onAir) < q.b.cfg.MaxOnAir {
		return q.queue[0]
	}
	if len(q.onAir) == 0 {
		return nil
	}

	full := len(q.onAir) >= q.b.cfg.MaxOnAir
	if !q.b.cfg.Impatient && !full && (len(q.queue) > 0 || q.b.hooks.backlogged(q.receiver)) {
		return nil
	}
	if q.nextBAR == nil {
		q.nextBAR = q.newBAR()
	}
	return q.nextBAR
}

func (q *transmissionQueue) take() *frame.Frame {
	f := q.next()
	if f == nil {
		return nil
	}
	if f.Type == frame.BlockACKReq {
		q.bar = f
		q.nextBAR = nil
		return f
	}
	q.queue = q.queue[1:]
	q.onAir = append(q.onAir, f)
	return f
}

func (q *transmissionQueue) newBAR() *frame.Frame {
	q.barCount++
	b := q.b
	return &frame.Frame{
		ID:            barIDBase | q.barCount,
		Type:          frame.BlockACKReq,
		Transmitter:   b.self,
		Receiver:      q.receiver,
		ARQSeq:        q.onAir[0].ARQSeq,
		Bits:          b.cfg.BlockACKRequestBits,
		Mode:          b.cfg.Mode,
		Duration:      b.tm.SIFS + b.calc.PPDU(b.cfg.BlockACKBits, b.cfg.Mode),
		TxCounter:     1,
		RequiresReply: true,
		Created:       b.s.Now(),
	}
}

func (q *transmissionQueue) onBARSent(f *frame.Frame) {
	if q.bar == nil || f.ID != q.bar.ID {
		return
	}
	q.waitBA = true
	q.timeout.Set(q.b.tm.ACKTimeout)
}

func (q *transmissionQueue) onRxStart() {
	if q.waitBA && !q.receivingBA {
		q.timeout.Cancel()
		q.receivingBA = true
	}
}

func (q *transmissionQueue) onRxEndWithoutBA() {
	if q.receivingBA {
		q.onFailure()
	}
}

func (q *transmissionQueue) onTimeout() {
	if q.waitBA && !q.receivingBA {
		q.onFailure()
	}
}

func (q *transmissionQueue) onFailure() {
	q.b.log.Debug().
		Dur("sim_time", q.b.s.Now()).
		Str("peer", q.receiver.String()).
		Int("on_air", len(q.onAir)).
		Msg("未收到 Block-ACK")
	// 在途帧全部按失败计入
	q.process(nil, true)
}

func (q *transmissionQueue) onBlockACK(f *frame.Frame) {
	if !q.waitBA || f.Transmitter != q.receiver {
		q.b.log.Warn().
			Dur("sim_time", q.b.s.Now()).
			Str("from", f.Transmitter.String()).
			Msg("非等待状态收到 Block-ACK，忽略")
		return
	}
	q.timeout.Cancel()
	q.process(f.BA, true)
}

func (q *transmissionQueue) onBARFailed() {
	if q.bar == nil {
		return
	}
	q.timeout.Cancel()
	q.process(nil, false)
}

// process 按确认位图结算在途帧，未确认帧按原顺序放回队首
func (q *transmissionQueue) process(ba *frame.BlockACKInfo, reportPER bool) {
	b := q.b
	var retry []*frame.Frame
	for _, f := range q.onAir {
		if ba.Acked(f.ARQSeq) {
			if reportPER {
				b.per.ReportSuccess(f.Receiver)
			}
			b.stats.Acked++
			b.hooks.acked(f)
			continue
		}
		if reportPER {
			b.per.ReportFailure(f.Receiver)
		}

		f.TxCounter++
		switch {
		case b.cfg.Expired != nil && b.cfg.Expired(f):
			q.drop(f, DropLifetime)
		case f.TxCounter > b.cfg.MaximumTransmissions:
			// BAR 未发出时没有逐帧结果，放弃前补报一次
			if !reportPER {
				b.per.ReportFailure(f.Receiver)
			}
			q.drop(f, DropMaxTransmission)
		default:
			b.hooks.failed(f)
			retry = append(retry, f)
		}
	}

	q.queue = append(retry, q.queue...)
	q.onAir = nil
	q.bar = nil
	q.nextBAR = nil
	q.waitBA = false
	q.receivingBA = false
	if len(q.queue) == 0 {
		q.hasReceiver = false
	}
	b.hooks.ready()
}

func (q *transmissionQueue) drop(f *frame.Frame, reason DropReason) {
	q.b.stats.Dropped++
	q.b.log.Warn().
		Dur("sim_time", q.b.s.Now()).
		Str("frame", f.String()).
		Str("reason", string(reason)).
		Msg("放弃帧")
	q.b.hooks.dropped(f, reason)
}

// receptionQueue 接收端：按发送方重排序
type receptionQueue struct {
	b        *BlockACK
	tx       frame.Address
	waiting  uint32
	stored   map[uint32]*frame.Frame
	received map[uint32]struct{}
}

func newReceptionQueue(b *BlockACK, tx frame.Address) *receptionQueue {
	return &receptionQueue{
		b:        b,
		tx:       tx,
		stored:   make(map[uint32]*frame.Frame),
		received: make(map[uint32]struct{}),
	}
}

// onData 按序上交，乱序缓存，旧帧与重复帧丢弃
func (q *receptionQueue) onData(f *frame.Frame) []*frame.Frame {
	sn := f.ARQSeq
	q.received[sn] = struct{}{}

	if _, dup := q.stored[sn]; dup || sn < q.waiting {
		q.b.log.Debug().
			Str("from", q.tx.String()).
			Uint32("seq", sn).
			Uint32("waiting", q.waiting).
			Msg("重复或过期帧")
		return nil
	}
	if sn != q.waiting {
		q.stored[sn] = f
		return nil
	}

	q.waiting++
	return append([]*frame.Frame{f}, q.purge()...)
}

// onBAR 上交早于起始序号的缓存帧，并生成 Block-ACK
func (q *receptionQueue) onBAR(bar *frame.Frame) ([]*frame.Frame, *frame.Frame) {
	minSN := bar.ARQSeq

	var old []uint32
	for sn := range q.stored {
		if sn < minSN {
			old = append(old, sn)
		}
	}
	sort.Slice(old, func(i, j int) bool { return old[i] < old[j] })

	out := make([]*frame.Frame, 0, len(old))
	for _, sn := range old {
		out = append(out, q.stored[sn])
		delete(q.stored, sn)
	}
	if q.waiting < minSN {
		q.waiting = minSN
	}
	out = append(out, q.purge()...)

	bitmap := bitset.New(64)
	for sn := range q.received {
		if sn >= minSN {
			bitmap.Set(uint(sn - minSN))
		}
	}
	q.received = make(map[uint32]struct{})

	b := q.b
	reply := &frame.Frame{
		Type:        frame.BlockACK,
		Transmitter: b.self,
		Receiver:    bar.Transmitter,
		Bits:        b.cfg.BlockACKBits,
		Mode:        b.cfg.Mode,
		Duration:    replyDuration(bar.Duration, b.tm.SIFS, b.calc.PPDU(b.cfg.BlockACKBits, b.cfg.Mode)),
		TxCounter:   1,
		BA:          &frame.BlockACKInfo{StartSeq: minSN, Bitmap: bitmap},
		Created:     b.s.Now(),
	}
	return out, reply
}

func (q *receptionQueue) purge() []*frame.Frame {
	var out []*frame.Frame
	for {
		f, ok := q.stored[q.waiting]
		if !ok {
			return out
		}
		delete(q.stored, q.waiting)
		out = append(out, f)
		q.waiting++
	}
}
