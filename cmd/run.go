package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sells-group/spimex-sync/internal/pipeline"
	"github.com/sells-group/spimex-sync/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Harvest then ingest",
	Long:  "Runs the harvest phase followed by the ingest phase. A harvest failure is reported but files already on disk are still ingested.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		applyModeFlag()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		fs := afero.NewOsFs()
		disc, dl, err := newHarvestStages(fs, cfg.Source)
		if err != nil {
			return err
		}
		in, err := newIngestor(fs, st, ingestWindow{Since: ingestSince, Until: ingestUntil})
		if err != nil {
			return err
		}

		hres, ires, err := pipeline.New(disc, dl, in, st).Run(ctx)
		ok, skipped, failed := hres.Report.Counts()
		fmt.Fprintf(os.Stderr, "discovered %d, downloaded %d, skipped %d, failed %d\n",
			hres.Discovered, ok, skipped, failed)
		printIngestResult(ires)
		return err
	},
}

func init() {
	addIngestFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

// runLog returns st as a run log, or nil when there is no store.
func runLog(st store.Store) store.RunLog {
	if st == nil {
		return nil
	}
	return st
}
