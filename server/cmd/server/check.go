package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/infradash/infradash/pkg/types"
	"github.com/infradash/infradash/server/internal/registry"
)

// errUnhealthy makes `check` exit non-zero.
var errUnhealthy = errors.New("one or more APIs are unhealthy")

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe every configured API once and print a health table",
		Long:  "Probe every configured API once. Exits 1 if any API is unhealthy.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			setupLogging(os.Stderr, cfg)

			reg := registry.New(cfg.Server.APIConfigs)
			mon := newMonitor(reg, cfg.Server.Health, nil)

			statuses := mon.CheckAllHealth(cmd.Context())
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(statuses); err != nil {
					return err
				}
			} else {
				writeTable(cmd.OutOrStdout(), statuses)
			}

			for _, st := range statuses {
				if st.Status != types.StatusHealthy {
					return errUnhealthy
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print statuses as JSON")
	return cmd
}

func writeTable(w io.Writer, statuses []types.APIStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLABEL\tSTATUS\tLIVENESS\tREADINESS\tTIME\tURL")
	for _, st := range statuses {
		live, ready, ms := "-", "-", "-"
		if st.Health != nil {
			live = probeText(st.Health.Liveness)
			ready = probeText(st.Health.Readiness)
			ms = fmt.Sprintf("%dms", st.Health.ResponseTimeMs)
		}
		label := st.Label
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", st.Name, label, st.Status, live, ready, ms, st.BaseURL)
	}
	tw.Flush() //nolint:errcheck
}

func probeText(p types.ProbeResult) string {
	if p.Failed() {
		return p.Status + " (" + p.Error + ")"
	}
	return p.Status
}
