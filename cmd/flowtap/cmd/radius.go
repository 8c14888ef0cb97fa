package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flowtap/flowtap/pkg/conf"
	"github.com/flowtap/flowtap/pkg/customs"
	"github.com/flowtap/flowtap/pkg/flow"
	"github.com/flowtap/flowtap/pkg/protocol/radius"
)

// radiusSchema is the fixed, self-contained dictionary the radius side mode
// builds locally instead of negotiating one with a sink.
var radiusSchema = []string{
	customs.RadiusCode,
	customs.RadiusUserName,
	customs.RadiusServiceType,
	customs.RadiusFramedIPAddr,
	customs.RadiusFramedIPMask,
	customs.RadiusFramedProto,
	customs.RadiusAcctSessionID,
	customs.RadiusAcctStatus,
	customs.AppLatency,
}

func newRadiusCmd() *cobra.Command {
	var (
		filter string
		ports  []int
	)

	cmd := &cobra.Command{
		Use:   "radius",
		Short: "Decode and log RADIUS request/response pairs without exporting flows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := conf.Load()
			if err != nil {
				return conf.NewExitError(conf.ExitConfigInvalid, fmt.Errorf("failed to load configuration: %w", err))
			}

			if filter == "" {
				if len(ports) == 0 {
					ports = []int{radius.AuthPort, radius.AcctPort}
				}
				filter = udpPortFilter(ports)
			}

			dict := customs.New(idsFor(radiusSchema))
			dec := radius.New(dict)
			if dec == nil {
				return fmt.Errorf("radius side mode: dictionary does not support the RADIUS decoder's required fields")
			}

			return runSideMode(cmd.Context(), sideModeOpts{
				iface:   cfg.Capture.Interface,
				filter:  filter,
				snaplen: cfg.Capture.Snaplen,
				promisc: cfg.Capture.Promisc,
			}, flow.DecoderRADIUS, dec, dict, slog.Default())
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "BPF capture filter (overrides --ports)")
	cmd.Flags().IntSliceVar(&ports, "ports", nil, "UDP ports to match when --filter is not given (default 1812,1813)")
	return cmd
}

func udpPortFilter(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = fmt.Sprintf("udp port %d", p)
	}
	return strings.Join(parts, " or ")
}
