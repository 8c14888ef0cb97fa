// Package sink defines the Flow Sink boundary (spec §6): the opaque
// downstream collector that accepts merged flow records, advertises its own
// custom-field schema at startup, and exposes a pollable error-string queue.
// The sink's transport (HTTPS upload, authentication, compression) is out of
// scope (spec §1); this package only models the interface and ships a
// logging reference implementation.
package sink

import (
	"context"
	"time"

	"github.com/flowtap/flowtap/pkg/customs"
	"github.com/flowtap/flowtap/pkg/flow"
)

// Config carries the credentials and device-identity fields a real sink
// implementation would need to authenticate and register itself. flowtap's
// own sinks don't interpret most of these -- they exist so the interface
// boundary matches what the original external sink accepts (spec §6).
type Config struct {
	Email      string
	Token      string
	APIURL     string
	FlowURL    string
	MetricsURL string
	DNSURL     string
	ProxyURL   string
	Region     string

	DeviceID   string
	DeviceIf   string
	DeviceIP   string
	DeviceName string
	DevicePlan string
	DeviceSite string
}

// Device is returned by Configure: the sink's own view of the device plus
// the (name, id) pairs that populate the Custom Dictionary (spec §4.6).
type Device struct {
	ID         string
	Name       string
	SampleRate uint32
	Customs    map[string]customs.ID
}

// Record is the flow record handed to Send: a Counter's accumulated
// observations plus the tracker- and decoder-appended custom fields,
// addressed by the flow's Key.
type Record struct {
	Key       flow.Key
	Counter   flow.Counter
	Customs   []customs.Entry
	Timestamp time.Time
}

// Sink is the flow-sink boundary. Configure is called once at startup;
// Send is called for every drained Counter whose packet count is nonzero
// (export idempotence, spec §8). Send must not block the pipeline -- a
// conforming implementation owns its own queue and returns quickly.
type Sink interface {
	// Configure registers the probe with the sink and returns the device
	// identity plus the custom-field schema to build the Dictionary from.
	Configure(ctx context.Context, cfg Config) (Device, error)

	// Send hands one flow record to the sink. A nonzero return does not
	// abort the pipeline; callers log it and continue (spec §4.7, §7).
	Send(ctx context.Context, rec Record) error

	// Errors drains the sink's pollable error-string queue. Called after a
	// failed Send to get a human-readable cause (spec §6).
	Errors() []string
}
