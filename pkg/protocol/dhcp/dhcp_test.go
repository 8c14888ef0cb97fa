package dhcp_test

import (
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtap/flowtap/pkg/customs"
	dhcpdec "github.com/flowtap/flowtap/pkg/protocol/dhcp"
	"github.com/flowtap/flowtap/pkg/flow"
)

func option(code, value byte, data []byte) []byte {
	return append([]byte{code, value}, data...)
}

func buildMessage(op byte, xid uint32, ciaddr, yiaddr, siaddr [4]byte, chaddr [6]byte, opts []byte) []byte {
	msg := make([]byte, 236)
	msg[0] = op
	binary.BigEndian.PutUint32(msg[4:8], xid)
	copy(msg[12:16], ciaddr[:])
	copy(msg[16:20], yiaddr[:])
	copy(msg[20:24], siaddr[:])
	copy(msg[28:34], chaddr[:])
	msg = append(msg, 99, 130, 83, 99) // magic cookie
	msg = append(msg, opts...)
	msg = append(msg, 255) // end
	return msg
}

func newDict() (*customs.Dictionary, *customs.Customs) {
	d := customs.New(map[string]customs.ID{
		customs.DHCPOp:       1,
		customs.DHCPMsgType:  2,
		customs.DHCPCHAddr:   3,
		customs.DHCPCIAddr:   4,
		customs.DHCPYIAddr:   5,
		customs.DHCPSIAddr:   6,
		customs.DHCPHostname: 7,
		customs.DHCPLease:    8,
		customs.AppLatency:   9,
	})
	return d, customs.NewCustoms(d)
}

func mkFlow(payload []byte, ts time.Time) *flow.Flow {
	return &flow.Flow{
		Timestamp: ts,
		Key: flow.Key{
			Proto: flow.ProtoUDP,
			Src:   flow.Addr{IP: netip.MustParseAddr("0.0.0.0"), Port: 68},
			Dst:   flow.Addr{IP: netip.MustParseAddr("255.255.255.255"), Port: 67},
		},
		Transport: flow.Transport{Kind: flow.TransportUDP},
		Payload:   payload,
	}
}

func TestDHCPRequestAck(t *testing.T) {
	dict, c := newDict()
	dec := dhcpdec.New(dict)
	require.NotNil(t, dec)

	chaddr := [6]byte{0x00, 0x1c, 0x42, 0x60, 0xbb, 0x37}
	now := time.Now()

	reqOpts := option(53, 1, []byte{3}) // DHCPREQUEST
	reqOpts = append(reqOpts, option(12, 5, []byte("chdev"))...)
	req := buildMessage(1, 0xdeadbeef, [4]byte{}, [4]byte{}, [4]byte{}, chaddr, reqOpts)

	complete := dec.Decode(mkFlow(req, now), c)
	assert.False(t, complete)

	fields := map[customs.ID]customs.Entry{}
	for _, e := range c.Entries() {
		fields[e.ID] = e
	}
	assert.EqualValues(t, 1, fields[1].U64)
	assert.EqualValues(t, 3, fields[2].U64)
	assert.Equal(t, "00:1c:42:60:bb:37", fields[3].Str)
	assert.Equal(t, "chdev", fields[7].Str)
	c.Clear()

	ackOpts := option(53, 1, []byte{5}) // DHCPACK
	ackOpts = append(ackOpts, option(51, 4, []byte{0, 0, 0x07, 0x08})...) // 1800s
	ack := buildMessage(2, 0xdeadbeef, [4]byte{}, [4]byte{10, 211, 55, 16}, [4]byte{10, 211, 55, 1}, chaddr, ackOpts)

	complete = dec.Decode(mkFlow(ack, now.Add(time.Millisecond)), c)
	assert.True(t, complete)

	fields = map[customs.ID]customs.Entry{}
	for _, e := range c.Entries() {
		fields[e.ID] = e
	}
	assert.EqualValues(t, 2, fields[1].U64)
	assert.EqualValues(t, 5, fields[2].U64)
	assert.EqualValues(t, 1800, fields[8].U64)
	assert.EqualValues(t, 1, fields[9].U64)
}
