package mib

import "github.com/mrcgq/wifimac/internal/frame"

// SINRConfig SINR-MIB 参数
type SINRConfig struct {
	WindowSize int
}

// SINR 链路质量信息库
//
// measured 为本站测得的对端信号质量；peer 为对端测得的本站信号质量，
// 由反馈通道写入，供基于 SINR 的速率自适应使用。
type SINR struct {
	cfg      SINRConfig
	measured map[frame.Address]*ValueWindow
	peer     map[frame.Address]float64
}

// NewSINR 创建 SINR-MIB
func NewSINR(cfg SINRConfig) *SINR {
	if cfg.WindowSize < 1 {
		cfg.WindowSize = 10
	}
	return &SINR{
		cfg:      cfg,
		measured: make(map[frame.Address]*ValueWindow),
		peer:     make(map[frame.Address]float64),
	}
}

// PutMeasurement 记录一次来自 tx 的接收 SINR
func (s *SINR) PutMeasurement(tx frame.Address, sinrDB float64) {
	w, ok := s.measured[tx]
	if !ok {
		w = NewValueWindow(s.cfg.WindowSize)
		s.measured[tx] = w
	}
	w.Add(sinrDB)
}

// KnowsMeasured 是否有来自 tx 的测量
func (s *SINR) KnowsMeasured(tx frame.Address) bool {
	w, ok := s.measured[tx]
	return ok && w.Count() > 0
}

// AverageMeasured 平均接收 SINR
func (s *SINR) AverageMeasured(tx frame.Address) float64 {
	if w, ok := s.measured[tx]; ok {
		return w.Mean()
	}
	return 0
}

// PutPeerSINR 记录对端测得的 SINR
func (s *SINR) PutPeerSINR(peer frame.Address, sinrDB float64) {
	s.peer[peer] = sinrDB
}

// KnowsPeer 是否知道对端测得的 SINR
func (s *SINR) KnowsPeer(peer frame.Address) bool {
	_, ok := s.peer[peer]
	return ok
}

// PeerSINR 对端测得的 SINR
func (s *SINR) PeerSINR(peer frame.Address) float64 {
	return s.peer[peer]
}
