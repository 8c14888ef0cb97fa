//go:build linux

package pipeline

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FanoutMode selects the kernel's PACKET_FANOUT load-balancing algorithm
// across multiple capture processes joined to the same group.
type FanoutMode uint16

const (
	// FanoutHash distributes packets by a hash of the flow 5-tuple, so a
	// given flow is always delivered to the same process.
	FanoutHash FanoutMode = unix.PACKET_FANOUT_HASH
	// FanoutLB distributes packets round-robin for load balancing, with no
	// guarantee that one flow stays on one process.
	FanoutLB FanoutMode = unix.PACKET_FANOUT_LB
)

// ParseFanoutMode parses the --fanout-mode flag value (spec §6).
func ParseFanoutMode(s string) (FanoutMode, error) {
	switch s {
	case "hash":
		return FanoutHash, nil
	case "lb":
		return FanoutLB, nil
	default:
		return 0, fmt.Errorf("pipeline: invalid fanout mode %q", s)
	}
}

// JoinFanout joins the AF_PACKET socket behind fd to the given fanout
// group, ported from original_source/src/fanout.rs's libc setsockopt call
// into golang.org/x/sys/unix, the idiomatic Go equivalent of that raw FFI.
func JoinFanout(fd uintptr, group uint16, mode FanoutMode) error {
	val := int32(mode)<<16 | int32(group)
	return unix.SetsockoptInt(int(fd), unix.SOL_PACKET, unix.PACKET_FANOUT, int(val))
}
