package sink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/flowtap/flowtap/pkg/customs"
)

// schema lists every custom field name flowtap's decoders and tracker can
// ever append, in the fixed order the LogSink assigns them ids. A real sink
// negotiates this independently; the reference implementation just needs a
// stable, complete mapping so every decoder can activate. APP_PROTOCOL is
// left out because its presence switches customs.New into alias mode.
var schema = []string{
	customs.Fragments,
	customs.AppLatency,
	customs.FPXLatency,
	customs.ClientNWLatency,
	customs.ServerNWLatency,
	customs.RetransmittedIn,
	customs.RetransmittedOut,
	customs.RepeatedRetransmits,
	customs.OrderIn,
	customs.OrderOut,
	customs.ReceiveWindow,
	customs.ZeroWindows,
	customs.ConnectionID,
	customs.KernelRetransmits,
	customs.KernelRTT,
	customs.KernelCongWindow,
	customs.DNSQueryName,
	customs.DNSQueryType,
	customs.DNSReplyCode,
	customs.DNSReplyData,
	customs.HTTPURL,
	customs.HTTPHost,
	customs.HTTPReferer,
	customs.HTTPUA,
	customs.HTTPStatus,
	customs.TLSServerName,
	customs.TLSServerVersion,
	customs.TLSCipherSuite,
	customs.DHCPOp,
	customs.DHCPMsgType,
	customs.DHCPCHAddr,
	customs.DHCPCIAddr,
	customs.DHCPYIAddr,
	customs.DHCPSIAddr,
	customs.DHCPHostname,
	customs.DHCPDomain,
	customs.DHCPLease,
	customs.RadiusCode,
	customs.RadiusUserName,
	customs.RadiusServiceType,
	customs.RadiusFramedIPAddr,
	customs.RadiusFramedIPMask,
	customs.RadiusFramedProto,
	customs.RadiusAcctSessionID,
	customs.RadiusAcctStatus,
}

// LogSink is a reference Sink that logs every record instead of uploading
// it anywhere. It's meant for local testing and as a worked example of the
// Sink contract -- not a production collector (spec §1 excludes the real
// transport from scope).
type LogSink struct {
	logger *slog.Logger
	rate   uint32

	mu     sync.Mutex
	errors []string
}

// NewLogSink builds a LogSink that logs through logger. rate is the sample
// rate advertised back to the caller via Configure's returned Device.
func NewLogSink(logger *slog.Logger, rate uint32) *LogSink {
	if rate == 0 {
		rate = 1
	}
	return &LogSink{logger: logger, rate: rate}
}

// Configure returns a Device built from Config's identity fields and the
// fixed reference schema, assigning ids in schema order starting at 1.
func (s *LogSink) Configure(_ context.Context, cfg Config) (Device, error) {
	ids := make(map[string]customs.ID, len(schema))
	for i, name := range schema {
		ids[name] = customs.ID(i + 1)
	}
	s.logger.Info("sink configured",
		"device_id", cfg.DeviceID, "device_name", cfg.DeviceName, "region", cfg.Region)
	return Device{
		ID:         cfg.DeviceID,
		Name:       cfg.DeviceName,
		SampleRate: s.rate,
		Customs:    ids,
	}, nil
}

// Send logs the record at debug level and never fails -- a real sink would
// report transport errors here, which is exactly the case the pollable
// Errors queue exists to surface asynchronously.
func (s *LogSink) Send(_ context.Context, rec Record) error {
	s.logger.Debug("flow export",
		"proto", rec.Key.Proto.String(),
		"src", rec.Key.Src.IP.String(), "src_port", rec.Key.Src.Port,
		"dst", rec.Key.Dst.IP.String(), "dst_port", rec.Key.Dst.Port,
		"packets", rec.Counter.Packets, "bytes", rec.Counter.Bytes,
		"customs", len(rec.Customs),
	)
	return nil
}

// Errors drains and returns every error string recorded since the last
// call.
func (s *LogSink) Errors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.errors
	s.errors = nil
	return out
}

// recordError appends an error string to the pollable queue; unused by
// LogSink's own Send (which never fails) but exercised by tests expecting
// Errors() to drain what was pushed.
func (s *LogSink) recordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, msg)
}
