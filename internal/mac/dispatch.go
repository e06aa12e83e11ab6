package mac

import (
	"github.com/mrcgq/wifimac/internal/frame"
)

// Path 帧的发送路径
type Path int

const (
	// PathBackoff 经 DCF 退避
	PathBackoff Path = iota
	// PathSIFS SIFS 后直接发送
	PathSIFS
	// PathBroadcast 经广播 DCF
	PathBroadcast
)

// String 路径名称
func (p Path) String() string {
	switch p {
	case PathSIFS:
		return "sifs"
	case PathBroadcast:
		return "broadcast"
	default:
		return "backoff"
	}
}

// IsControlResponse 是否为控制应答 (ACK/CTS/Block-ACK)
func IsControlResponse(f *frame.Frame) bool {
	return f.Type.IsResponse()
}

// PathFor 按帧类型选择发送路径
func PathFor(f *frame.Frame) Path {
	switch {
	case IsControlResponse(f), f.Type == frame.DataTXOP:
		return PathSIFS
	case !f.IsUnicast():
		return PathBroadcast
	default:
		return PathBackoff
	}
}

// SizeClass 帧是否达到门限 (长帧)
func SizeClass(f *frame.Frame, threshold int) bool {
	return f.Bits >= threshold
}
