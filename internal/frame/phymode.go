// =============================================================================
// 文件: internal/frame/phymode.go
// 描述: PHY 调制编码模式表 (802.11a OFDM)
// =============================================================================
package frame

import (
	"errors"
	"fmt"
	"sort"
)

// Mode PHY 模式
type Mode struct {
	ID                int
	Name              string
	DataBitsPerSymbol int     // 每个 OFDM 符号承载的数据位
	MinSINR           float64 // 可解码的最低 SINR (dB)
}

// String 返回模式名称
func (m Mode) String() string {
	if m.Name != "" {
		return m.Name
	}
	return fmt.Sprintf("mode-%d", m.ID)
}

// ErrEmptyModeTable 模式表为空
var ErrEmptyModeTable = errors.New("PHY 模式表为空")

// ModeTable 按速率升序排列的模式表
type ModeTable struct {
	modes []Mode
	index map[int]int
}

// DefaultModes 802.11a 默认模式
func DefaultModes() []Mode {
	return []Mode{
		{ID: 0, Name: "BPSK-1/2", DataBitsPerSymbol: 24, MinSINR: 4},
		{ID: 1, Name: "BPSK-3/4", DataBitsPerSymbol: 36, MinSINR: 6},
		{ID: 2, Name: "QPSK-1/2", DataBitsPerSymbol: 48, MinSINR: 8},
		{ID: 3, Name: "QPSK-3/4", DataBitsPerSymbol: 72, MinSINR: 11},
		{ID: 4, Name: "16QAM-1/2", DataBitsPerSymbol: 96, MinSINR: 15},
		{ID: 5, Name: "16QAM-3/4", DataBitsPerSymbol: 144, MinSINR: 18},
		{ID: 6, Name: "64QAM-2/3", DataBitsPerSymbol: 192, MinSINR: 22},
		{ID: 7, Name: "64QAM-3/4", DataBitsPerSymbol: 216, MinSINR: 24},
	}
}

// NewModeTable 创建模式表
func NewModeTable(modes []Mode) (*ModeTable, error) {
	if len(modes) == 0 {
		return nil, ErrEmptyModeTable
	}
	sorted := make([]Mode, len(modes))
	copy(sorted, modes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DataBitsPerSymbol < sorted[j].DataBitsPerSymbol
	})

	t := &ModeTable{modes: sorted, index: make(map[int]int, len(sorted))}
	for i, m := range sorted {
		if m.DataBitsPerSymbol <= 0 {
			return nil, fmt.Errorf("PHY 模式 %d 的 data_bits_per_symbol 必须为正数", m.ID)
		}
		if _, dup := t.index[m.ID]; dup {
			return nil, fmt.Errorf("PHY 模式 ID 重复: %d", m.ID)
		}
		t.index[m.ID] = i
	}
	return t, nil
}

// DefaultModeTable 默认模式表
func DefaultModeTable() *ModeTable {
	t, _ := NewModeTable(DefaultModes())
	return t
}

// Len 模式数量
func (t *ModeTable) Len() int { return len(t.modes) }

// All 全部模式
func (t *ModeTable) All() []Mode {
	out := make([]Mode, len(t.modes))
	copy(out, t.modes)
	return out
}

// Lowest 最稳健的模式
func (t *ModeTable) Lowest() Mode { return t.modes[0] }

// Highest 最高速率模式
func (t *ModeTable) Highest() Mode { return t.modes[len(t.modes)-1] }

// ByID 按 ID 查找
func (t *ModeTable) ByID(id int) (Mode, bool) {
	i, ok := t.index[id]
	if !ok {
		return Mode{}, false
	}
	return t.modes[i], true
}

// IsLowest 是否已是最低模式
func (t *ModeTable) IsLowest(m Mode) bool { return t.position(m) == 0 }

// IsHighest 是否已是最高模式
func (t *ModeTable) IsHighest(m Mode) bool { return t.position(m) == len(t.modes)-1 }

// Up 上调一档，已是最高时返回自身
func (t *ModeTable) Up(m Mode) Mode {
	i := t.position(m)
	if i+1 < len(t.modes) {
		return t.modes[i+1]
	}
	return t.modes[i]
}

// Down 下调一档，已是最低时返回自身
func (t *ModeTable) Down(m Mode) Mode {
	i := t.position(m)
	if i > 0 {
		return t.modes[i-1]
	}
	return t.modes[0]
}

// ForSINR 返回 MinSINR 不超过给定值的最高模式
func (t *ModeTable) ForSINR(sinr float64) (Mode, bool) {
	for i := len(t.modes) - 1; i >= 0; i-- {
		if t.modes[i].MinSINR <= sinr {
			return t.modes[i], true
		}
	}
	return Mode{}, false
}

func (t *ModeTable) position(m Mode) int {
	if i, ok := t.index[m.ID]; ok {
		return i
	}
	return 0
}
