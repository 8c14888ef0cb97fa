package sink

import (
	"context"
	"log/slog"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtap/flowtap/pkg/customs"
	"github.com/flowtap/flowtap/pkg/flow"
)

func TestLogSinkConfigureAssignsEveryFieldAnID(t *testing.T) {
	s := NewLogSink(slog.Default(), 5)
	dev, err := s.Configure(context.Background(), Config{DeviceID: "dev1", DeviceName: "probe-1"})
	require.NoError(t, err)
	assert.Equal(t, "dev1", dev.ID)
	assert.Equal(t, "probe-1", dev.Name)
	assert.EqualValues(t, 5, dev.SampleRate)
	assert.Len(t, dev.Customs, len(schema))
	for _, name := range schema {
		assert.Contains(t, dev.Customs, name)
	}
}

func TestLogSinkConfigureZeroRateDefaultsToUnsampled(t *testing.T) {
	s := NewLogSink(slog.Default(), 0)
	dev, err := s.Configure(context.Background(), Config{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, dev.SampleRate)
}

func TestLogSinkSendNeverFails(t *testing.T) {
	s := NewLogSink(slog.Default(), 1)
	rec := Record{
		Key: flow.Key{
			Proto: flow.ProtoTCP,
			Src:   flow.Addr{IP: netip.MustParseAddr("10.0.0.1"), Port: 51000},
			Dst:   flow.Addr{IP: netip.MustParseAddr("10.0.0.2"), Port: 443},
		},
		Counter: flow.Counter{Packets: 10, Bytes: 1500},
		Customs: []customs.Entry{{ID: 1, Kind: customs.KindU32, U64: 2}},
	}
	assert.NoError(t, s.Send(context.Background(), rec))
}

func TestLogSinkErrorsDrainsAndResets(t *testing.T) {
	s := NewLogSink(slog.Default(), 1)
	assert.Empty(t, s.Errors())

	s.recordError("connection refused")
	s.recordError("timeout")
	assert.Equal(t, []string{"connection refused", "timeout"}, s.Errors())
	assert.Empty(t, s.Errors())
}
