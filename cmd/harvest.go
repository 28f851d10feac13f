package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sells-group/spimex-sync/internal/pipeline"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Discover and download new bulletins",
	Long:  "Walks the results listing from newest to oldest until the start date and downloads every bulletin not already in the output directory. Runs without a database; when one is configured the run is recorded.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initOptionalStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		disc, dl, err := newHarvestStages(afero.NewOsFs(), cfg.Source)
		if err != nil {
			return err
		}

		res, err := pipeline.New(disc, dl, nil, runLog(st)).Harvest(ctx)
		ok, skipped, failed := res.Report.Counts()
		fmt.Fprintf(os.Stderr, "discovered %d, downloaded %d, skipped %d, failed %d\n",
			res.Discovered, ok, skipped, failed)
		return err
	},
}

func init() {
	rootCmd.AddCommand(harvestCmd)
}
