package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/spimex-sync/internal/model"
	"github.com/sells-group/spimex-sync/internal/monitoring"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check run health and send alerts",
	Long:  "Evaluates recent harvest and ingest runs for high failure rates, stale phases and source format changes. Alerts are posted to monitoring.webhook_url when set. Exits non-zero when any alert fires.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		checker := monitoring.NewChecker(
			monitoring.NewCollector(st),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		snap, alerts, err := checker.Check(ctx)
		if err != nil {
			return eris.Wrap(err, "check")
		}

		formatHealth(os.Stdout, snap, alerts)
		if len(alerts) > 0 {
			return eris.Errorf("check: %d alert(s) triggered", len(alerts))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// formatHealth writes per-phase stats and any alerts to out.
func formatHealth(out io.Writer, snap *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "PHASE\tRUNS\tCOMPLETE\tFAILED\tRUNNING\tLAST SUCCESS\n")
	for _, phase := range []model.Phase{model.PhaseHarvest, model.PhaseIngest} {
		ps := snap.Phase(phase)
		last := "never"
		if ps.LastSuccess != nil {
			last = ps.LastSuccess.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n",
			phase, ps.Total, ps.Complete, ps.Failed, ps.Running, last)
	}
	_ = w.Flush()

	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "\nNo alerts.")
		return
	}
	_, _ = fmt.Fprintln(out, "\nAlerts:")
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "  [%s] %s\n", a.Severity, a.Message)
	}
}
