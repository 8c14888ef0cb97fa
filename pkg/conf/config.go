package conf

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/flowtap/flowtap/pkg/flow"
	"github.com/flowtap/flowtap/pkg/sink"
	"github.com/spf13/viper"
)

// LogConfig stores the logging configuration, mirroring goProbe's
// cmd/goProbe/config.LogConfig.
type LogConfig struct {
	Destination string `mapstructure:"destination"`
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
}

// CaptureConfig stores the packet-source configuration (spec §6).
type CaptureConfig struct {
	Interface   string `mapstructure:"interface"`
	Snaplen     int    `mapstructure:"snaplen"`
	Promisc     bool   `mapstructure:"promisc"`
	Filter      string `mapstructure:"filter"`
	FanoutGroup uint16 `mapstructure:"fanout_group"`
	FanoutMode  string `mapstructure:"fanout_mode"`
}

// StatusConfig stores the status/metrics server bind address.
type StatusConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// KernelSamplingConfig stores the optional kernel TCP sampler's settings
// (spec §5, Linux only).
type KernelSamplingConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Period  time.Duration `mapstructure:"period"`
}

// Addr returns the "host:port" form consumed by pkg/status.New.
func (s StatusConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// Config stores flowtap's entire configuration surface (spec §6).
type Config struct {
	Logging        LogConfig            `mapstructure:"logging"`
	Capture        CaptureConfig        `mapstructure:"capture"`
	Status         StatusConfig         `mapstructure:"status"`
	KernelSampling KernelSamplingConfig `mapstructure:"kernel_sampling"`

	Sample     uint32   `mapstructure:"sample"`
	Decode     bool     `mapstructure:"decode"`
	HTTPPort   []int    `mapstructure:"http_port"`
	RadiusPort []int    `mapstructure:"radius_port"`
	Translate  []string `mapstructure:"translate"`

	Sink   SinkCredentials `mapstructure:"sink"`
	Device DeviceIdentity  `mapstructure:"device"`
}

// SinkCredentials is the sink-credentials portion of the configuration
// surface (spec §6): "email, token, API URL, flow URL, metrics URL, DNS
// URL, proxy URL, region".
type SinkCredentials struct {
	Email      string `mapstructure:"email"`
	Token      string `mapstructure:"token"`
	APIURL     string `mapstructure:"api_url"`
	FlowURL    string `mapstructure:"flow_url"`
	MetricsURL string `mapstructure:"metrics_url"`
	DNSURL     string `mapstructure:"dns_url"`
	ProxyURL   string `mapstructure:"proxy_url"`
	Region     string `mapstructure:"region"`
}

// DeviceIdentity is the device-identity portion of the configuration
// surface (spec §6): "device-id, device-if, device-ip, device-name,
// device-plan, device-site".
type DeviceIdentity struct {
	ID   string `mapstructure:"id"`
	If   string `mapstructure:"if"`
	IP   string `mapstructure:"ip"`
	Name string `mapstructure:"name"`
	Plan string `mapstructure:"plan"`
	Site string `mapstructure:"site"`
}

// SinkConfig assembles the sink.Config argument for Sink.Configure from the
// sink-credentials and device-identity sections (spec §6; grounded on
// original_source/src/bin/kprobe.rs's libkflow::Config/Device construction).
func (c *Config) SinkConfig() sink.Config {
	return sink.Config{
		Email:      c.Sink.Email,
		Token:      c.Sink.Token,
		APIURL:     c.Sink.APIURL,
		FlowURL:    c.Sink.FlowURL,
		MetricsURL: c.Sink.MetricsURL,
		DNSURL:     c.Sink.DNSURL,
		ProxyURL:   c.Sink.ProxyURL,
		Region:     c.Sink.Region,
		DeviceID:   c.Device.ID,
		DeviceIf:   c.Device.If,
		DeviceIP:   c.Device.IP,
		DeviceName: c.Device.Name,
		DevicePlan: c.Device.Plan,
		DeviceSite: c.Device.Site,
	}
}

// New returns a Config populated with flowtap's defaults, matching
// goProbe's cmd/goProbe/config.New shape.
func New() *Config {
	return &Config{
		Logging: LogConfig{
			Encoding: DefaultLogEncoding,
			Level:    DefaultLogLevel,
		},
		Capture: CaptureConfig{
			Snaplen:    DefaultSnaplen,
			FanoutMode: DefaultFanoutMode,
		},
		Status: StatusConfig{
			Host: DefaultStatusHost,
			Port: DefaultStatusPort,
		},
		KernelSampling: KernelSamplingConfig{
			Period: DefaultKernelSamplingPeriod,
		},
		Decode:     true,
		RadiusPort: []int{DefaultRadiusAuthPort, DefaultRadiusAcctPort},
	}
}

// Validate checks the configuration for the fatal-at-startup errors spec §7
// names ("configuration errors are fatal at startup").
func (c *Config) Validate() error {
	if c.Capture.Interface == "" {
		return fmt.Errorf("no capture interface configured")
	}
	if c.Capture.Snaplen <= 0 {
		return fmt.Errorf("snaplen must be positive, got %d", c.Capture.Snaplen)
	}
	switch c.Capture.FanoutMode {
	case "hash", "lb":
	default:
		return fmt.Errorf("unknown fanout mode %q, want hash or lb", c.Capture.FanoutMode)
	}
	if c.Sink.Email == "" || c.Sink.Token == "" {
		return fmt.Errorf("sink email and token must both be configured")
	}
	for _, rule := range c.Translate {
		if _, _, err := parseTranslateRule(rule); err != nil {
			return fmt.Errorf("invalid translate rule %q: %w", rule, err)
		}
	}
	return nil
}

// TranslateRules parses every --translate rule into the rewrite map
// pkg/translate.New accepts. Entries are "src_ip,src_port,dst_ip,dst_port".
func (c *Config) TranslateRules() (map[flow.Addr]flow.Addr, error) {
	rules := make(map[flow.Addr]flow.Addr, len(c.Translate))
	for _, rule := range c.Translate {
		from, to, err := parseTranslateRule(rule)
		if err != nil {
			return nil, err
		}
		rules[from] = to
	}
	return rules, nil
}

func parseTranslateRule(rule string) (from, to flow.Addr, err error) {
	parts := strings.Split(rule, ",")
	if len(parts) != 4 {
		return flow.Addr{}, flow.Addr{}, fmt.Errorf("expected 4 comma-separated fields, got %d", len(parts))
	}
	srcIP, err := netip.ParseAddr(strings.TrimSpace(parts[0]))
	if err != nil {
		return flow.Addr{}, flow.Addr{}, fmt.Errorf("src_ip: %w", err)
	}
	srcPort, err := parsePort(parts[1])
	if err != nil {
		return flow.Addr{}, flow.Addr{}, fmt.Errorf("src_port: %w", err)
	}
	dstIP, err := netip.ParseAddr(strings.TrimSpace(parts[2]))
	if err != nil {
		return flow.Addr{}, flow.Addr{}, fmt.Errorf("dst_ip: %w", err)
	}
	dstPort, err := parsePort(parts[3])
	if err != nil {
		return flow.Addr{}, flow.Addr{}, fmt.Errorf("dst_port: %w", err)
	}
	return flow.Addr{IP: srcIP, Port: srcPort}, flow.Addr{IP: dstIP, Port: dstPort}, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

// Load reads config file, flags and environment variables into a fresh
// Config via viper, mirroring goProbe's cmd/goProbe/cmd.initConfig. Flag
// registration (RegisterFlags) must have already bound pflags into viper.
func Load() (*Config, error) {
	cfg := New()

	path := viper.GetString(ConfigFile)
	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return cfg, nil
}
