package reassembly_test

import (
	"math/rand"
	"net/netip"
	"testing"
	"time"

	"github.com/flowtap/flowtap/pkg/flow"
	"github.com/flowtap/flowtap/pkg/reassembly"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(t *testing.T) reassembly.Key {
	t.Helper()
	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("10.0.0.2")
	return reassembly.Key{Src: src, Dst: dst, ID: 0xBEEF, Proto: flow.ProtoUDP}
}

// splitFragments cuts data into n-byte (multiple of 8, except the last)
// fragments and returns them in original order.
func splitFragments(data []byte, chunk int) []reassembly.Fragment {
	var frags []reassembly.Fragment
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		more := true
		if end >= len(data) {
			end = len(data)
			more = false
		}
		frags = append(frags, reassembly.Fragment{
			Offset:        uint16(off / 8),
			MoreFragments: more,
			HeaderBytes:   20,
			Payload:       data[off:end],
		})
	}
	return frags
}

func TestReassembleInOrder(t *testing.T) {
	data := make([]byte, 4000)
	for i := range data {
		data[i] = byte(i)
	}
	frags := splitFragments(data, 8*100) // 800-byte chunks, multiple of 8

	r := reassembly.New()
	k := key(t)
	now := time.Now()

	var out *reassembly.Output
	for i, f := range frags {
		f.Key = k
		o, done := r.Reassemble(now, f)
		if i == len(frags)-1 {
			require.True(t, done)
			out = o
		} else {
			require.False(t, done)
		}
	}

	require.NotNil(t, out)
	assert.Equal(t, data, out.Data)
	assert.EqualValues(t, len(frags), out.Fragments)
	assert.EqualValues(t, len(frags), out.Packets)
}

func TestReassembleOutOfOrder(t *testing.T) {
	data := make([]byte, 2400)
	for i := range data {
		data[i] = byte(i % 251)
	}
	frags := splitFragments(data, 800)
	k := key(t)

	rnd := rand.New(rand.NewSource(1))
	shuffled := append([]reassembly.Fragment(nil), frags...)
	rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	r := reassembly.New()
	now := time.Now()

	var out *reassembly.Output
	var done bool
	for _, f := range shuffled {
		f.Key = k
		o, d := r.Reassemble(now, f)
		if d {
			out, done = o, d
		}
	}

	require.True(t, done)
	require.NotNil(t, out)
	assert.Equal(t, data, out.Data)
	assert.EqualValues(t, len(frags), out.Fragments)
}

func TestReassemblyEviction(t *testing.T) {
	r := reassembly.New()
	k := key(t)
	now := time.Now()

	_, done := r.Reassemble(now, reassembly.Fragment{
		Key: k, Offset: 0, MoreFragments: true, HeaderBytes: 20, Payload: make([]byte, 800),
	})
	require.False(t, done)
	require.Equal(t, 1, r.Len())

	r.Flush(now.Add(61 * time.Second))
	assert.Equal(t, 0, r.Len())
}
