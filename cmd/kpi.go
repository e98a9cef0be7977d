package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/sells-group/claims-router/internal/kpi"
)

var (
	kpiTimeframe string
	kpiAlert     bool
)

var kpiCmd = &cobra.Command{
	Use:   "kpi",
	Short: "Print claim-handling KPIs",
	RunE: func(cmd *cobra.Command, args []string) error {
		tf, err := kpi.ParseTimeframe(kpiTimeframe)
		if err != nil {
			return err
		}
		env, err := initEnv(cmd.Context(), "offline")
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.KPI.Collect(cmd.Context(), tf)
		if err != nil {
			return err
		}
		out := map[string]any{"kpis": snap}
		if kpiAlert {
			alerter := kpi.NewAlerter(cfg.Monitoring)
			alerts := alerter.Evaluate(snap)
			alerter.SendAlerts(cmd.Context(), alerts)
			out["alerts"] = alerts
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	kpiCmd.Flags().StringVar(&kpiTimeframe, "timeframe", "24h", "24h, 7d or all")
	kpiCmd.Flags().BoolVar(&kpiAlert, "alert", false, "evaluate alert thresholds and send to the monitoring webhook")
	rootCmd.AddCommand(kpiCmd)
}
