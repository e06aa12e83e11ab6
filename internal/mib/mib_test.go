package mib

import "testing"

func TestOutcomeWindow(t *testing.T) {
	w := NewOutcomeWindow(4)
	w.Add(true)
	w.Add(false)
	w.Add(false)
	w.Add(false)
	if w.Rate() != 0.25 {
		t.Errorf("失败率错误: got %f, want 0.25", w.Rate())
	}

	// 覆盖最旧的失败样本
	w.Add(false)
	if w.Rate() != 0 {
		t.Errorf("覆盖后失败率错误: got %f, want 0", w.Rate())
	}
	if w.Count() != 4 {
		t.Errorf("样本数错误: got %d, want 4", w.Count())
	}
}

func TestPERMIB(t *testing.T) {
	p := NewPER(PERConfig{WindowSize: 10, MinSamples: 4})

	p.ReportSuccess(2)
	p.ReportSuccess(2)
	p.ReportFailure(2)
	if p.Knows(2) {
		t.Error("样本不足时 Knows 应为 false")
	}
	p.ReportFailure(2)
	if !p.Knows(2) {
		t.Error("样本足够时 Knows 应为 true")
	}
	if p.PER(2) != 0.5 {
		t.Errorf("PER 错误: got %f, want 0.5", p.PER(2))
	}
	if p.Failures(2) != 2 || p.Successes(2) != 0 {
		t.Errorf("连续计数错误: failures=%d successes=%d", p.Failures(2), p.Successes(2))
	}

	p.Reset(2)
	if p.Knows(2) || p.Failures(2) != 0 {
		t.Error("Reset 后应清空窗口与计数")
	}
	total, lost := p.Totals(2)
	if total != 4 || lost != 2 {
		t.Errorf("累计统计错误: total=%d lost=%d", total, lost)
	}
}

func TestSINRMIB(t *testing.T) {
	s := NewSINR(SINRConfig{WindowSize: 2})
	s.PutMeasurement(1, 10)
	s.PutMeasurement(1, 20)
	s.PutMeasurement(1, 30)
	if got := s.AverageMeasured(1); got != 25 {
		t.Errorf("平均 SINR 错误: got %f, want 25", got)
	}
	if s.KnowsPeer(1) {
		t.Error("未反馈时 KnowsPeer 应为 false")
	}
	s.PutPeerSINR(1, 17)
	if !s.KnowsPeer(1) || s.PeerSINR(1) != 17 {
		t.Error("对端 SINR 记录错误")
	}
}
