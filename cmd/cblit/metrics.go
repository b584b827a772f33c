package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/d-lowl/cblit/pkg/metrics"
)

func newMetricsCmd(a *app) *cobra.Command {
	var prometheusURL string

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Inspect exported metrics",
	}

	usage := &cobra.Command{
		Use:   "usage <session-id>",
		Short: "Query a Prometheus server for a session's token usage and cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := metrics.NewQueryService(prometheusURL, a.cfg.Metrics.Namespace)
			if err != nil {
				return err
			}
			u, err := q.GetSessionUsage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(u)
		},
	}
	usage.Flags().StringVar(&prometheusURL, "prometheus", "http://localhost:9090", "Prometheus server URL")

	cmd.AddCommand(usage)
	return cmd
}
