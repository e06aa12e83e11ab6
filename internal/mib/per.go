// =============================================================================
// 文件: internal/mib/per.go
// 描述: 分组错误率信息库 - 按对端统计滑动窗口 PER 与连续成功/失败次数
// =============================================================================
package mib

import (
	"sort"

	"github.com/mrcgq/wifimac/internal/frame"
)

// PERConfig PER-MIB 参数
type PERConfig struct {
	WindowSize int
	MinSamples int
}

// DefaultPERConfig 默认参数
func DefaultPERConfig() PERConfig {
	return PERConfig{WindowSize: 100, MinSamples: 10}
}

type perLink struct {
	window    *OutcomeWindow
	successes int
	failures  int
	total     uint64
	lost      uint64
}

// PER 分组错误率信息库
type PER struct {
	cfg   PERConfig
	links map[frame.Address]*perLink
}

// NewPER 创建 PER-MIB
func NewPER(cfg PERConfig) *PER {
	if cfg.MinSamples < 1 {
		cfg.MinSamples = 1
	}
	if cfg.WindowSize < cfg.MinSamples {
		cfg.WindowSize = cfg.MinSamples
	}
	return &PER{cfg: cfg, links: make(map[frame.Address]*perLink)}
}

func (p *PER) link(peer frame.Address) *perLink {
	l, ok := p.links[peer]
	if !ok {
		l = &perLink{window: NewOutcomeWindow(p.cfg.WindowSize)}
		p.links[peer] = l
	}
	return l
}

// ReportSuccess 报告一次成功传输
func (p *PER) ReportSuccess(peer frame.Address) {
	l := p.link(peer)
	l.window.Add(false)
	l.successes++
	l.failures = 0
	l.total++
}

// ReportFailure 报告一次失败传输
func (p *PER) ReportFailure(peer frame.Address) {
	l := p.link(peer)
	l.window.Add(true)
	l.failures++
	l.successes = 0
	l.total++
	l.lost++
}

// Knows 样本是否足以估计 PER
func (p *PER) Knows(peer frame.Address) bool {
	l, ok := p.links[peer]
	return ok && l.window.Count() >= p.cfg.MinSamples
}

// PER 当前窗口内的错误率
func (p *PER) PER(peer frame.Address) float64 {
	if l, ok := p.links[peer]; ok {
		return l.window.Rate()
	}
	return 0
}

// Successes 上次复位以来的连续成功次数
func (p *PER) Successes(peer frame.Address) int {
	if l, ok := p.links[peer]; ok {
		return l.successes
	}
	return 0
}

// Failures 上次复位以来的连续失败次数
func (p *PER) Failures(peer frame.Address) int {
	if l, ok := p.links[peer]; ok {
		return l.failures
	}
	return 0
}

// Reset 清空对端的窗口与计数，累计统计保留
func (p *PER) Reset(peer frame.Address) {
	if l, ok := p.links[peer]; ok {
		l.window.Reset()
		l.successes = 0
		l.failures = 0
	}
}

// Totals 累计发送与失败次数
func (p *PER) Totals(peer frame.Address) (total, lost uint64) {
	if l, ok := p.links[peer]; ok {
		return l.total, l.lost
	}
	return 0, 0
}

// Peers 已知对端，按地址排序
func (p *PER) Peers() []frame.Address {
	out := make([]frame.Address, 0, len(p.links))
	for a := range p.links {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
