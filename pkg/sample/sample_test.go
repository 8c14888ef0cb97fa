package sample_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowtap/flowtap/pkg/flow"
	"github.com/flowtap/flowtap/pkg/sample"
)

func key(srcIP, dstIP string, srcPort, dstPort uint16) flow.Key {
	return flow.Key{
		Proto: flow.ProtoTCP,
		Src:   flow.Addr{IP: netip.MustParseAddr(srcIP), Port: srcPort},
		Dst:   flow.Addr{IP: netip.MustParseAddr(dstIP), Port: dstPort},
	}
}

func TestExternalSamplerAdmitsEverything(t *testing.T) {
	s := sample.NewExternal()
	assert.EqualValues(t, 1, s.Rate())
	for i := 0; i < 50; i++ {
		f := &flow.Flow{Key: key("10.0.0.1", "10.0.0.2", uint16(1000+i), 443)}
		assert.Equal(t, sample.Export, s.Admit(f))
	}
}

func TestInternalSamplerIsDeterministicAndBidirectional(t *testing.T) {
	s := sample.NewInternal(4)

	fwd := &flow.Flow{Key: key("10.0.0.1", "10.0.0.2", 51000, 443)}
	rev := &flow.Flow{Key: key("10.0.0.2", "10.0.0.1", 443, 51000)}

	d1 := s.Admit(fwd)
	d2 := s.Admit(fwd)
	assert.Equal(t, d1, d2, "admission must be deterministic across repeated calls")
	assert.Equal(t, d1, s.Admit(rev), "both directions of a conversation must sample together")
}

func TestInternalSamplerVariesAcrossConversations(t *testing.T) {
	s := sample.NewInternal(4)
	decisions := make(map[sample.Decision]int)
	for i := 0; i < 200; i++ {
		f := &flow.Flow{Key: key("10.0.0.1", "203.0.113.1", uint16(20000+i), 443)}
		decisions[s.Admit(f)]++
	}
	assert.NotZero(t, decisions[sample.Export])
	assert.NotZero(t, decisions[sample.Ignore])
}

func TestZeroRateTreatedAsUnsampled(t *testing.T) {
	s := sample.NewInternal(0)
	assert.EqualValues(t, 1, s.Rate())
	f := &flow.Flow{Key: key("10.0.0.1", "10.0.0.2", 1, 2)}
	assert.Equal(t, sample.Export, s.Admit(f))
}
