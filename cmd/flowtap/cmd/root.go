// Package cmd contains flowtap's command line interface implementation,
// mirroring els0r-goProbe/cmd/goProbe/cmd's newRootCmd/registerFlags/
// initConfig/run shape.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/els0r/telemetry/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flowtap/flowtap/pkg/classify"
	"github.com/flowtap/flowtap/pkg/conf"
	"github.com/flowtap/flowtap/pkg/customs"
	"github.com/flowtap/flowtap/pkg/flow"
	"github.com/flowtap/flowtap/pkg/pipeline"
	"github.com/flowtap/flowtap/pkg/protocol"
	"github.com/flowtap/flowtap/pkg/protocol/dhcp"
	"github.com/flowtap/flowtap/pkg/protocol/dns"
	"github.com/flowtap/flowtap/pkg/protocol/http"
	"github.com/flowtap/flowtap/pkg/protocol/postgres"
	"github.com/flowtap/flowtap/pkg/protocol/radius"
	"github.com/flowtap/flowtap/pkg/protocol/tls"
	"github.com/flowtap/flowtap/pkg/queue"
	"github.com/flowtap/flowtap/pkg/sample"
	"github.com/flowtap/flowtap/pkg/sink"
	"github.com/flowtap/flowtap/pkg/status"
	"github.com/flowtap/flowtap/pkg/track"
	"github.com/flowtap/flowtap/pkg/translate"
	"github.com/flowtap/flowtap/pkg/version"
)

// Execute builds and runs the root command.
func Execute() error {
	rootCmd, err := newRootCmd(run)
	if err != nil {
		return err
	}
	rootCmd.AddCommand(newVersionCmd(), newDNSCmd(), newRadiusCmd())
	return rootCmd.Execute()
}

// runFunc is the type of the function invoked when the root command
// executes, defined for testability (matching goProbe's root.go).
type runFunc func(ctx context.Context, cfg *conf.Config) error

func newRootCmd(run runFunc) (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:   "flowtap",
		Short: "flowtap captures, classifies and exports network flow metadata",
		PreRunE: func(*cobra.Command, []string) error {
			return initLogging()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := conf.Load()
			if err != nil {
				return conf.NewExitError(conf.ExitConfigInvalid, fmt.Errorf("failed to load configuration: %w", err))
			}
			if err := cfg.Validate(); err != nil {
				return conf.NewExitError(conf.ExitConfigInvalid, fmt.Errorf("invalid configuration: %w", err))
			}
			return run(cmd.Context(), cfg)
		},
	}

	if err := conf.RegisterFlags(rootCmd); err != nil {
		return nil, fmt.Errorf("failed to register flags: %w", err)
	}
	return rootCmd, nil
}

func initLogging() error {
	loggerOpts := []logging.Option{
		logging.WithVersion(version.Short()),
	}
	if dst := viper.GetString(conf.LogDestination); dst != "" {
		loggerOpts = append(loggerOpts, logging.WithFileOutput(dst))
	}

	err := logging.Init(
		logging.LevelFromString(viper.GetString(conf.LogLevel)),
		logging.Encoding(viper.GetString(conf.LogEncoding)),
		loggerOpts...,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// run wires every pipeline component together from cfg and drives the
// capture loop and status server until ctx is cancelled.
func run(ctx context.Context, cfg *conf.Config) error {
	// logging.Init (run in PreRunE) installs the configured handler as the
	// slog default; every internal package takes a plain *slog.Logger, so
	// components are wired against that default rather than a
	// telemetry-specific logger type.
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	snk := sink.NewLogSink(logger, cfg.Sample)
	device, err := snk.Configure(ctx, cfg.SinkConfig())
	if err != nil {
		return conf.NewExitError(conf.ExitSinkAuthRejected, fmt.Errorf("sink rejected configuration: %w", err))
	}
	logger.Info("sink configured", "device_id", device.ID, "sample_rate", device.SampleRate)

	dict := customs.New(device.Customs)

	classifier := classify.New()
	decoders := protocol.New()

	classifier.Register(flow.ProtoUDP, dns.Port, flow.DecoderDNS)
	classifier.Register(flow.ProtoTCP, http.Port, flow.DecoderHTTP)
	for _, p := range cfg.HTTPPort {
		classifier.Register(flow.ProtoTCP, uint16(p), flow.DecoderHTTP)
	}
	classifier.Register(flow.ProtoTCP, tls.Port, flow.DecoderTLS)
	classifier.Register(flow.ProtoUDP, dhcp.ServerPort, flow.DecoderDHCP)
	classifier.Register(flow.ProtoUDP, dhcp.ClientPort, flow.DecoderDHCP)
	classifier.Register(flow.ProtoTCP, radius.AuthPort, flow.DecoderRADIUS)
	classifier.Register(flow.ProtoUDP, radius.AuthPort, flow.DecoderRADIUS)
	classifier.Register(flow.ProtoTCP, radius.AcctPort, flow.DecoderRADIUS)
	classifier.Register(flow.ProtoUDP, radius.AcctPort, flow.DecoderRADIUS)
	for _, p := range cfg.RadiusPort {
		classifier.Register(flow.ProtoTCP, uint16(p), flow.DecoderRADIUS)
		classifier.Register(flow.ProtoUDP, uint16(p), flow.DecoderRADIUS)
	}
	classifier.Register(flow.ProtoTCP, postgres.Port, flow.DecoderPostgres)

	// Decoders are only registered when decoding is enabled; the
	// Classifier's port tables stay populated regardless so --decode can
	// be toggled without touching classification (spec §4.3/§4.4).
	if cfg.Decode {
		if dec := dns.New(dict); dec != nil {
			decoders.Register(flow.DecoderDNS, dec)
		}
		if dec := http.New(dict); dec != nil {
			decoders.Register(flow.DecoderHTTP, dec)
		}
		if dec := tls.New(dict); dec != nil {
			decoders.Register(flow.DecoderTLS, dec)
		}
		if dec := dhcp.New(dict); dec != nil {
			decoders.Register(flow.DecoderDHCP, dec)
		}
		if dec := radius.New(dict); dec != nil {
			decoders.Register(flow.DecoderRADIUS, dec)
		}
		// postgres.New always returns nil: the shadow Postgres decoder is
		// disabled by design (spec §4.4, §9), so traffic on 5432 still
		// classifies but is never handed to a decoder.
		if dec := postgres.New(dict); dec != nil {
			decoders.Register(flow.DecoderPostgres, dec)
		}
	}

	tracker := track.New()
	q := queue.New(dict, classifier, decoders, tracker, snk, device.SampleRate, logger)

	rules, err := cfg.TranslateRules()
	if err != nil {
		return fmt.Errorf("invalid translate rules: %w", err)
	}
	translator := translate.New(rules)

	var sampler *sample.Sampler
	if cfg.Sample > 1 {
		sampler = sample.NewInternal(cfg.Sample)
	} else {
		sampler = sample.NewExternal()
	}

	iface, err := net.InterfaceByName(cfg.Capture.Interface)
	if err != nil {
		return conf.NewExitError(conf.ExitSinkDeviceNotFound, fmt.Errorf("capture device not found: %w", err))
	}
	var mac [6]byte
	copy(mac[:], iface.HardwareAddr)

	src := &pipeline.SlimcapSource{}
	bufSize := 1 << 20
	if err := src.Init(cfg.Capture.Interface, cfg.Capture.Filter, cfg.Capture.Snaplen, bufSize, cfg.Capture.Promisc); err != nil {
		return fmt.Errorf("failed to initialize capture on %s: %w", cfg.Capture.Interface, err)
	}
	defer src.Close()

	if cfg.Capture.FanoutGroup != 0 {
		mode, err := pipeline.ParseFanoutMode(cfg.Capture.FanoutMode)
		if err != nil {
			return fmt.Errorf("invalid fanout mode: %w", err)
		}
		fd, err := src.Fd()
		if err != nil {
			logger.Warn("fanout group requested but capture source does not expose a file descriptor", "error", err)
		} else if err := pipeline.JoinFanout(fd, cfg.Capture.FanoutGroup, mode); err != nil {
			return fmt.Errorf("failed to join fanout group %d: %w", cfg.Capture.FanoutGroup, err)
		}
	}

	driver := pipeline.New(src, q, translator, sampler, mac, logger)

	statusDebug := strings.EqualFold(cfg.Logging.Level, "debug")
	statusServer := status.New(cfg.Status.Addr(), statusDebug, func() status.Snapshot {
		return status.Snapshot{
			FlowTableEntries:   q.Len(),
			TrackedConnections: tracker.Len(),
			ReassemblyBuffers:  driver.ReassemblyLen(),
			ExportedFlows:      q.ExportedCount(),
			SinkErrors:         q.SinkErrorCount(),
		}
	})

	errCh := make(chan error, 3)
	go func() { errCh <- driver.Run(ctx) }()
	go func() { errCh <- statusServer.Run(ctx) }()

	if cfg.KernelSampling.Enabled {
		sampler, err := track.NewNetlinkSampler(tracker, cfg.KernelSampling.Period)
		if err != nil {
			// Optional auxiliary feature (spec §5): unavailable kernel
			// access shouldn't take down the probe's primary packet path.
			logger.Warn("kernel TCP sampler unavailable, continuing without it", "error", err)
		} else {
			go func() { errCh <- sampler.Run(ctx) }()
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("pipeline terminated: %w", err)
		}
		return nil
	}
}
