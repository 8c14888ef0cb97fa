package decode_test

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/flowtap/flowtap/pkg/decode"
	"github.com/flowtap/flowtap/pkg/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildEthIPv4TCP assembles a minimal Ethernet/IPv4/TCP frame with the given
// payload, no options, no fragmentation.
func buildEthIPv4TCP(t *testing.T, payload []byte) []byte {
	t.Helper()

	tcpLen := 20 + len(payload)
	ipLen := 20 + tcpLen
	buf := make([]byte, 14+ipLen)

	// Ethernet
	copy(buf[0:6], net.HardwareAddr{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa})
	copy(buf[6:12], net.HardwareAddr{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb})
	binary.BigEndian.PutUint16(buf[12:14], 0x0800)

	ip := buf[14:]
	ip[0] = 0x45 // version 4, IHL 5
	ip[1] = 0x10 // TOS (DSCP/ECN)
	binary.BigEndian.PutUint16(ip[2:4], uint16(ipLen))
	binary.BigEndian.PutUint16(ip[4:6], 0x1234) // identification
	ip[6] = 0x00                                // flags/frag (no MF, offset 0)
	ip[7] = 0x00
	ip[8] = 64   // TTL
	ip[9] = 6    // TCP
	// checksum left 0
	copy(ip[12:16], net.ParseIP("10.0.0.1").To4())
	copy(ip[16:20], net.ParseIP("10.0.0.2").To4())

	tcp := ip[20:]
	binary.BigEndian.PutUint16(tcp[0:2], 1234)
	binary.BigEndian.PutUint16(tcp[2:4], 80)
	binary.BigEndian.PutUint32(tcp[4:8], 100)  // seq
	binary.BigEndian.PutUint32(tcp[8:12], 200) // ack
	tcp[12] = 5 << 4                           // data offset 5, no options
	tcp[13] = 0x02                             // SYN
	binary.BigEndian.PutUint16(tcp[14:16], 65535)
	copy(tcp[20:], payload)

	return buf
}

func TestDecodeIPv4TCP(t *testing.T) {
	payload := []byte("hello")
	raw := buildEthIPv4TCP(t, payload)

	pkt, err := decode.Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, pkt)

	assert.Equal(t, decode.IPv4, pkt.Version)
	assert.Equal(t, flow.ProtoTCP, pkt.Proto)
	assert.Equal(t, uint8(0x10), pkt.TOS)
	assert.Equal(t, "10.0.0.1", pkt.Src.String())
	assert.Equal(t, "10.0.0.2", pkt.Dst.String())
	assert.False(t, pkt.MoreFragments)
	assert.Equal(t, uint16(0), pkt.FragOffset)
	assert.Equal(t, uint16(0x1234), pkt.IPID)
	require.Len(t, pkt.Payload, 20+len(payload))

	tp, ok := decode.ParseTransport(pkt.Proto, pkt.Payload)
	require.True(t, ok)
	assert.Equal(t, uint16(1234), tp.SrcPort)
	assert.Equal(t, uint16(80), tp.DstPort)
	assert.Equal(t, flow.FlagSYN, tp.Header.Flags)
	assert.Equal(t, uint32(100), tp.Header.Seq)
	assert.Equal(t, payload, tp.Payload)
}

func TestDecodeDropsNonIPFrame(t *testing.T) {
	// An ARP ethertype frame has no network layer flowtap understands.
	buf := make([]byte, 20)
	binary.BigEndian.PutUint16(buf[12:14], 0x0806) // ARP
	pkt, err := decode.Decode(buf)
	assert.NoError(t, err)
	assert.Nil(t, pkt)
}
