//go:build !linux

package pipeline

import (
	"fmt"

	"github.com/fako1024/gopacket"
)

// SlimcapSource is unavailable outside Linux: AF_PACKET is a Linux-only
// kernel facility (spec §1, §5's fanout note).
type SlimcapSource struct{}

func (s *SlimcapSource) Init(string, string, int, int, bool) error {
	return fmt.Errorf("AF_PACKET capture is only available on linux")
}

func (s *SlimcapSource) NextPacket() (gopacket.Packet, error) {
	return nil, fmt.Errorf("AF_PACKET capture is only available on linux")
}

func (s *SlimcapSource) Stats() (*Stats, error) { return &Stats{}, nil }

func (s *SlimcapSource) LinkType() gopacket.Decoder { return nil }

func (s *SlimcapSource) Close() {}

func (s *SlimcapSource) Fd() (uintptr, error) {
	return 0, fmt.Errorf("AF_PACKET capture is only available on linux")
}
