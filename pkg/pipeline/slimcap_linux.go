//go:build linux

package pipeline

import (
	"fmt"
	"syscall"

	"github.com/fako1024/gopacket"
	"github.com/fako1024/gopacket/layers"
	"github.com/fako1024/slimcap/capture"
	"github.com/fako1024/slimcap/capture/afpacket"
)

var decodeOpts = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

const defaultRingNumBlocks = 4

// SlimcapSource is the real Source implementation (spec §1: packet capture
// via the OS kernel library is an external collaborator). It wraps
// fako1024/slimcap's AF_PACKET ring-buffer capture, grounded on
// els0r-goProbe/pkg/capture.Capture's initializing/capturePacket states
// (afpacket.NewRingBufSource + reused capture.Packet buffer). The raw frame
// it reads is parsed into a fako1024/gopacket.Packet, the same translation
// afpacket_source_linux.go's AFPacketSource.NextPacket performs, since
// pkg/decode is built against fako1024/gopacket (SPEC_FULL.md §4.1).
type SlimcapSource struct {
	handle capture.Source
	buf    capture.Packet
}

// Init opens the AF_PACKET ring buffer on iface. bufSize sets the ring's
// per-block size; the number of blocks is fixed, mirroring goProbe's
// CaptureConfig.RingBufferNumBlocks default.
func (s *SlimcapSource) Init(iface, bpfFilter string, captureLength, bufSize int, promisc bool) error {
	if captureLength <= 0 {
		captureLength = 65535
	}
	if bufSize <= 0 {
		bufSize = 1 * 1024 * 1024
	}

	handle, err := afpacket.NewRingBufSource(iface,
		afpacket.CaptureLength(captureLength),
		afpacket.BufferSize(bufSize, defaultRingNumBlocks),
		afpacket.Promiscuous(promisc),
	)
	if err != nil {
		return fmt.Errorf("failed to open AF_PACKET source on %s: %w", iface, err)
	}

	s.handle = handle
	s.buf = make(capture.Packet, captureLength+6)
	return nil
}

// NextPacket blocks until a frame is available and parses it into a
// gopacket.Packet.
func (s *SlimcapSource) NextPacket() (gopacket.Packet, error) {
	if _, err := s.handle.NextPacket(s.buf); err != nil {
		return nil, err
	}
	return gopacket.NewPacket([]byte(s.buf), layers.LinkTypeEthernet, decodeOpts), nil
}

// Stats returns a zero-valued Stats; the AF_PACKET ring's own packet
// counters are not read.
func (s *SlimcapSource) Stats() (*Stats, error) {
	return &Stats{}, nil
}

// LinkType is always Ethernet for an AF_PACKET ring buffer source.
func (s *SlimcapSource) LinkType() gopacket.Decoder { return layers.LinkTypeEthernet }

// Close releases the capture socket.
func (s *SlimcapSource) Close() {
	if s.handle != nil {
		_ = s.handle.Close()
	}
}

// Fd exposes the capture socket's raw file descriptor via the standard
// syscall.Conn pattern, if the underlying handle supports it, so the caller
// can join it to a PACKET_FANOUT group (spec §6's fanout-group/fanout-mode)
// after Init.
func (s *SlimcapSource) Fd() (uintptr, error) {
	sc, ok := s.handle.(syscall.Conn)
	if !ok {
		return 0, fmt.Errorf("capture source does not expose a raw file descriptor")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}

	var fd uintptr
	if err := raw.Control(func(fdv uintptr) { fd = fdv }); err != nil {
		return 0, err
	}
	return fd, nil
}
