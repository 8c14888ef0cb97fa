package dns_test

import (
	"encoding/binary"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtap/flowtap/pkg/customs"
	dnsdec "github.com/flowtap/flowtap/pkg/protocol/dns"
	"github.com/flowtap/flowtap/pkg/flow"
)

func encodeName(name string) []byte {
	var out []byte
	for _, label := range strings.Split(name, ".") {
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	return append(out, 0)
}

func dnsHeader(id uint16, qr bool, qdcount, ancount uint16) []byte {
	h := make([]byte, 12)
	binary.BigEndian.PutUint16(h[0:2], id)
	flags := uint16(0x0100) // RD set, OPCODE=0 (query)
	if qr {
		flags |= 0x8000
	}
	binary.BigEndian.PutUint16(h[2:4], flags)
	binary.BigEndian.PutUint16(h[4:6], qdcount)
	binary.BigEndian.PutUint16(h[6:8], ancount)
	return h
}

func buildQuery(id uint16, name string, qtype uint16) []byte {
	msg := dnsHeader(id, false, 1, 0)
	msg = append(msg, encodeName(name)...)
	qt := make([]byte, 4)
	binary.BigEndian.PutUint16(qt[0:2], qtype)
	binary.BigEndian.PutUint16(qt[2:4], 1) // IN
	return append(msg, qt...)
}

func buildReplyAAAAA(id uint16, name string, ip4 [4]byte, ip6 [16]byte) []byte {
	msg := dnsHeader(id, true, 1, 2)
	msg = append(msg, encodeName(name)...)
	qt := make([]byte, 4)
	binary.BigEndian.PutUint16(qt[0:2], 1) // A
	binary.BigEndian.PutUint16(qt[2:4], 1)
	msg = append(msg, qt...)

	rrA := append(encodeName(name), 0x00, 0x01, 0x00, 0x01, 0, 0, 0, 60, 0, 4)
	rrA = append(rrA, ip4[:]...)
	msg = append(msg, rrA...)

	rrAAAA := append(encodeName(name), 0x00, 0x1c, 0x00, 0x01, 0, 0, 0, 60, 0, 16)
	rrAAAA = append(rrAAAA, ip6[:]...)
	msg = append(msg, rrAAAA...)

	return msg
}

func mkFlow(payload []byte, ts time.Time) *flow.Flow {
	return &flow.Flow{
		Timestamp: ts,
		Key: flow.Key{
			Proto: flow.ProtoUDP,
			Src:   flow.Addr{IP: netip.MustParseAddr("10.0.0.1"), Port: 51000},
			Dst:   flow.Addr{IP: netip.MustParseAddr("8.8.8.8"), Port: 53},
		},
		Transport: flow.Transport{Kind: flow.TransportUDP},
		Payload:   payload,
	}
}

func newDict() (*customs.Dictionary, *customs.Customs) {
	d := customs.New(map[string]customs.ID{
		customs.DNSQueryName: 1,
		customs.DNSQueryType: 2,
		customs.DNSReplyCode: 3,
		customs.DNSReplyData: 4,
		customs.AppLatency:   5,
	})
	return d, customs.NewCustoms(d)
}

func TestDNSQueryThenReply(t *testing.T) {
	dict, c := newDict()
	dec := dnsdec.New(dict)
	require.NotNil(t, dec)

	now := time.Now()
	qf := mkFlow(buildQuery(0xBEEF, "google.com", 255), now)
	complete := dec.Decode(qf, c)
	assert.False(t, complete)

	var got string
	for _, e := range c.Entries() {
		if e.ID == 1 {
			got = e.Str
		}
	}
	assert.Equal(t, "google.com", got)
	c.Clear()

	reply := mkFlow(buildReplyAAAAA(0xBEEF, "google.com",
		[4]byte{172, 217, 26, 14},
		[16]byte{0x24, 0x04, 0x68, 0x00, 0x40, 0x04, 0x08, 0x09, 0, 0, 0, 0, 0, 0, 0x20, 0x0e}),
		now.Add(44*time.Millisecond))
	reply.Key = qf.Key.Reverse()
	complete = dec.Decode(reply, c)
	assert.True(t, complete)

	var data string
	var latency uint64
	for _, e := range c.Entries() {
		switch e.ID {
		case 4:
			data = e.Str
		case 5:
			latency = e.U64
		}
	}
	assert.Contains(t, data, "172.217.26.14/A")
	assert.Contains(t, data, "2404:6800:4004:809::200e/AAAA")
	assert.EqualValues(t, 44, latency)
}

func TestDNSReplyWithoutPendingQueryIsIgnored(t *testing.T) {
	dict, c := newDict()
	dec := dnsdec.New(dict)
	reply := mkFlow(buildReplyAAAAA(0x1234, "example.com", [4]byte{1, 2, 3, 4}, [16]byte{}), time.Now())
	assert.False(t, dec.Decode(reply, c))
	assert.Empty(t, c.Entries())
}
