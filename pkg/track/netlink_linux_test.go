//go:build linux

package track

import (
	"encoding/binary"
	"net/netip"
	"testing"
	"time"
	"unsafe"

	"github.com/flowtap/flowtap/pkg/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeAttr wraps payload in a single native netlink attribute TLV
// (length-prefixed, 4-byte aligned), the wire format netlink.UnmarshalAttributes
// expects.
func encodeAttr(typ uint16, payload []byte) []byte {
	total := 4 + len(payload)
	padded := (total + 3) &^ 3
	b := make([]byte, padded)
	binary.LittleEndian.PutUint16(b[0:2], uint16(total))
	binary.LittleEndian.PutUint16(b[2:4], typ)
	copy(b[4:], payload)
	return b
}

func fakeTCPInfo(retransmits uint8, rtt time.Duration, cwnd uint32) []byte {
	b := make([]byte, 84)
	b[2] = retransmits
	binary.LittleEndian.PutUint32(b[68:72], uint32(rtt.Microseconds()))
	binary.LittleEndian.PutUint32(b[80:84], cwnd)
	return b
}

func TestDecodeTCPInfoAttrFindsInetDiagInfo(t *testing.T) {
	info := fakeTCPInfo(4, 12*time.Millisecond, 20)
	attrs := encodeAttr(inetDiagInfo, info)

	stats, ok := decodeTCPInfoAttr(attrs)
	require.True(t, ok)
	assert.EqualValues(t, 4, stats.Retransmits)
	assert.Equal(t, 12*time.Millisecond, stats.RTT)
	assert.EqualValues(t, 20, stats.CongWindow)
}

func TestDecodeTCPInfoAttrSkipsOtherAttributes(t *testing.T) {
	attrs := encodeAttr(99, []byte{1, 2, 3, 4})

	_, ok := decodeTCPInfoAttr(attrs)
	assert.False(t, ok)
}

func TestDecodeTCPInfoAttrRejectsShortPayload(t *testing.T) {
	attrs := encodeAttr(inetDiagInfo, []byte{1, 2, 3})

	_, ok := decodeTCPInfoAttr(attrs)
	assert.False(t, ok)
}

func diagKey(t *testing.T, srcIP, dstIP string, srcPort, dstPort uint16) flow.Key {
	t.Helper()
	return flow.Key{
		Proto: flow.ProtoTCP,
		Src:   flow.Addr{IP: netip.MustParseAddr(srcIP), Port: srcPort},
		Dst:   flow.Addr{IP: netip.MustParseAddr(dstIP), Port: dstPort},
	}
}

func TestApplySampleWritesBothDirections(t *testing.T) {
	tr := New()

	var msg inetDiagMsg
	msg.Family = afInet
	binary.BigEndian.PutUint16(msg.ID.SPort[:], 1234)
	binary.BigEndian.PutUint16(msg.ID.DPort[:], 80)
	copy(msg.ID.Src[:4], []byte{10, 0, 0, 1})
	copy(msg.ID.Dst[:4], []byte{10, 0, 0, 2})

	header := (*[unsafe.Sizeof(msg)]byte)(unsafe.Pointer(&msg))[:]
	attrs := encodeAttr(inetDiagInfo, fakeTCPInfo(1, 5*time.Millisecond, 14))
	data := append(append([]byte{}, header...), attrs...)

	s := &NetlinkSampler{tracker: tr}
	s.applySample(afInet, data)

	fwd, ok := tr.kernelStats(diagKey(t, "10.0.0.1", "10.0.0.2", 1234, 80))
	require.True(t, ok)
	assert.EqualValues(t, 1, fwd.Retransmits)

	rev, ok := tr.kernelStats(diagKey(t, "10.0.0.2", "10.0.0.1", 80, 1234))
	require.True(t, ok)
	assert.EqualValues(t, 1, rev.Retransmits)
}
