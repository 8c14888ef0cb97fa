package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/flowtap/flowtap/pkg/conf"
	"github.com/flowtap/flowtap/pkg/customs"
	"github.com/flowtap/flowtap/pkg/flow"
	"github.com/flowtap/flowtap/pkg/protocol/dns"
)

// dnsSchema is the fixed, self-contained dictionary the dns side mode
// builds locally instead of negotiating one with a sink (spec §6: side
// modes bypass the Flow Queue, so they never call sink.Configure).
var dnsSchema = []string{
	customs.DNSQueryName,
	customs.DNSQueryType,
	customs.DNSReplyCode,
	customs.DNSReplyData,
	customs.AppLatency,
}

func newDNSCmd() *cobra.Command {
	var (
		filter        string
		juniperMirror bool
	)

	cmd := &cobra.Command{
		Use:   "dns",
		Short: "Decode and log DNS query/response pairs without exporting flows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := conf.Load()
			if err != nil {
				return conf.NewExitError(conf.ExitConfigInvalid, fmt.Errorf("failed to load configuration: %w", err))
			}

			dict := customs.New(idsFor(dnsSchema))
			dec := dns.New(dict)
			if dec == nil {
				return fmt.Errorf("dns side mode: dictionary does not support the DNS decoder's required fields")
			}

			return runSideMode(cmd.Context(), sideModeOpts{
				iface:         cfg.Capture.Interface,
				filter:        filter,
				snaplen:       cfg.Capture.Snaplen,
				promisc:       cfg.Capture.Promisc,
				juniperMirror: juniperMirror,
			}, flow.DecoderDNS, dec, dict, slog.Default())
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "udp port 53", "BPF capture filter")
	cmd.Flags().BoolVar(&juniperMirror, "juniper-mirror", false,
		"treat captured frames as Juniper packet-mirror encapsulated L3 (no Ethernet header)")
	return cmd
}

// idsFor assigns sequential ids to a fixed field list, for side modes that
// build their own dictionary instead of getting one from sink.Configure.
func idsFor(names []string) map[string]customs.ID {
	ids := make(map[string]customs.ID, len(names))
	for i, name := range names {
		ids[name] = customs.ID(i + 1)
	}
	return ids
}
