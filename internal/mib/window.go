// =============================================================================
// 文件: internal/mib/window.go
// 描述: 定长滑动窗口 - 成功/失败样本与 SINR 样本
// =============================================================================
package mib

// OutcomeWindow 最近 size 次传输结果
type OutcomeWindow struct {
	size      int
	events    []bool // true = 失败
	failCount int
	head      int
	count     int
}

// NewOutcomeWindow 创建结果窗口
func NewOutcomeWindow(size int) *OutcomeWindow {
	if size < 1 {
		size = 1
	}
	return &OutcomeWindow{
		size:   size,
		events: make([]bool, size),
	}
}

// Add 添加样本
func (w *OutcomeWindow) Add(failed bool) {
	if w.count >= w.size {
		// 覆盖最旧的样本
		if w.events[w.head] {
			w.failCount--
		}
	}

	w.events[w.head] = failed
	if failed {
		w.failCount++
	}

	w.head = (w.head + 1) % w.size
	if w.count < w.size {
		w.count++
	}
}

// Rate 失败率
func (w *OutcomeWindow) Rate() float64 {
	if w.count == 0 {
		return 0
	}
	return float64(w.failCount) / float64(w.count)
}

// Count 样本数
func (w *OutcomeWindow) Count() int { return w.count }

// Reset 清空
func (w *OutcomeWindow) Reset() {
	w.failCount = 0
	w.head = 0
	w.count = 0
}

// ValueWindow 最近 size 个测量值
type ValueWindow struct {
	size   int
	values []float64
	sum    float64
	head   int
	count  int
}

// NewValueWindow 创建测量窗口
func NewValueWindow(size int) *ValueWindow {
	if size < 1 {
		size = 1
	}
	return &ValueWindow{size: size, values: make([]float64, size)}
}

// Add 添加测量值
func (w *ValueWindow) Add(v float64) {
	if w.count >= w.size {
		w.sum -= w.values[w.head]
	}
	w.values[w.head] = v
	w.sum += v
	w.head = (w.head + 1) % w.size
	if w.count < w.size {
		w.count++
	}
}

// Mean 平均值
func (w *ValueWindow) Mean() float64 {
	if w.count == 0 {
		return 0
	}
	return w.sum / float64(w.count)
}

// Count 样本数
func (w *ValueWindow) Count() int { return w.count }
