// Package conf declares flowtap's configuration surface (spec §6): every
// flag name as a viper-bound constant, the Config struct it unmarshals
// into, and a small fsnotify-backed file watcher that keeps a running
// process's Config current without a restart.
package conf

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ConfigFile is the path to an optional config file (flag: -c/--config).
const ConfigFile = "config"

// Logging flag names, mirrored from goProbe's pkg/conf so log setup has the
// same shape across both probes.
const (
	loggingKey = "logging"

	LogDestination = loggingKey + ".destination"
	LogEncoding    = loggingKey + ".encoding"
	LogLevel       = loggingKey + ".level"
)

// Capture flag names (spec §6's "configuration surface").
const (
	captureKey = "capture"

	Interface = captureKey + ".interface"
	Snaplen   = captureKey + ".snaplen"
	Promisc   = captureKey + ".promisc"
	Filter    = captureKey + ".filter"

	FanoutGroup = captureKey + ".fanout_group"
	FanoutMode  = captureKey + ".fanout_mode"
)

// Decode/sample/translate flag names.
const (
	Sample     = "sample"
	Decode     = "decode"
	HTTPPort   = "http_port"
	RadiusPort = "radius_port"
	Translate  = "translate"
)

// Sink credential and device identity flag names, grounded on
// original_source/src/bin/kprobe.rs's libkflow::Config/Device construction.
const (
	sinkKey = "sink"

	SinkEmail      = sinkKey + ".email"
	SinkToken      = sinkKey + ".token" // #nosec G101 -- flag name, not a credential
	SinkAPIURL     = sinkKey + ".api_url"
	SinkFlowURL    = sinkKey + ".flow_url"
	SinkMetricsURL = sinkKey + ".metrics_url"
	SinkDNSURL     = sinkKey + ".dns_url"
	SinkProxyURL   = sinkKey + ".proxy_url"
	SinkRegion     = sinkKey + ".region"

	deviceKey = "device"

	DeviceID   = deviceKey + ".id"
	DeviceIf   = deviceKey + ".if"
	DeviceIP   = deviceKey + ".ip"
	DeviceName = deviceKey + ".name"
	DevicePlan = deviceKey + ".plan"
	DeviceSite = deviceKey + ".site"
)

// Status server flag names.
const (
	statusKey = "status"

	StatusHost = statusKey + ".host"
	StatusPort = statusKey + ".port"
)

// Kernel TCP sampler flag names (spec §5's optional auxiliary sampler;
// Linux-only, see pkg/track/netlink_linux.go).
const (
	kernelKey = "kernel_sampling"

	KernelSamplingEnabled = kernelKey + ".enabled"
	KernelSamplingPeriod  = kernelKey + ".period"
)

// Global defaults for command line parameters / arguments.
const (
	DefaultLogEncoding = "logfmt"
	DefaultLogLevel    = "info"

	DefaultSnaplen    = 65535
	DefaultFanoutMode = "hash"

	DefaultRadiusAuthPort = 1812
	DefaultRadiusAcctPort = 1813

	DefaultStatusHost = "localhost"
	DefaultStatusPort = 6060

	DefaultKernelSamplingPeriod = 5 * time.Second
)

// RegisterFlags registers every command line flag flowtap recognizes and
// binds them into viper, following goProbe's pkg/conf.RegisterFlags shape.
func RegisterFlags(cmd *cobra.Command) error {
	pflags := cmd.PersistentFlags()

	pflags.StringP(ConfigFile, "c", "", "path to configuration file")

	pflags.String(LogLevel, DefaultLogLevel, "log level for logger")
	pflags.String(LogEncoding, DefaultLogEncoding, "message encoding format for logger")
	pflags.String(LogDestination, "", "logging destination file path (empty for stdout)")

	pflags.String(Interface, "", "network interface to capture on")
	pflags.Int(Snaplen, DefaultSnaplen, "capture truncation length in bytes")
	pflags.Bool(Promisc, false, "put the interface in promiscuous mode")
	pflags.String(Filter, "", "BPF filter to install at the capture socket")
	pflags.Uint16(FanoutGroup, 0, "PACKET_FANOUT group id (0 disables fanout)")
	pflags.String(FanoutMode, DefaultFanoutMode, "PACKET_FANOUT mode: hash or lb")

	pflags.Uint32(Sample, 0, "internal sampling rate override (1:N, 0 or 1 disables sampling)")
	pflags.Bool(Decode, true, "enable application-layer decoders")
	pflags.IntSlice(HTTPPort, nil, "extra TCP ports to classify as HTTP")
	pflags.IntSlice(RadiusPort, []int{DefaultRadiusAuthPort, DefaultRadiusAcctPort}, "extra ports to classify as RADIUS")
	pflags.StringSlice(Translate, nil, "1:1 address rewrite rule, \"src_ip,src_port,dst_ip,dst_port\" (repeatable)")

	pflags.String(SinkEmail, "", "flow sink account email")
	pflags.String(SinkToken, "", "flow sink API token")
	pflags.String(SinkAPIURL, "", "flow sink API URL override")
	pflags.String(SinkFlowURL, "", "flow sink flow-upload URL override")
	pflags.String(SinkMetricsURL, "", "flow sink metrics-upload URL override")
	pflags.String(SinkDNSURL, "", "flow sink DNS-upload URL override")
	pflags.String(SinkProxyURL, "", "HTTP proxy URL for sink uploads")
	pflags.String(SinkRegion, "", "flow sink region (US|EU|other)")

	pflags.String(DeviceID, "", "device id reported to the sink")
	pflags.String(DeviceIf, "", "device interface name reported to the sink")
	pflags.String(DeviceIP, "", "device IP reported to the sink")
	pflags.String(DeviceName, "", "device name reported to the sink")
	pflags.String(DevicePlan, "", "device plan reported to the sink")
	pflags.String(DeviceSite, "", "device site reported to the sink")

	pflags.String(StatusHost, DefaultStatusHost, "status/metrics server bind host")
	pflags.Int(StatusPort, DefaultStatusPort, "status/metrics server bind port")

	pflags.Bool(KernelSamplingEnabled, false, "sample kernel TCP socket info (retransmits, RTT, cwnd) via netlink sock_diag (linux only)")
	pflags.Duration(KernelSamplingPeriod, DefaultKernelSamplingPeriod, "poll interval for the kernel TCP sampler")

	return viper.BindPFlags(pflags)
}
