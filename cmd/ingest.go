package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sells-group/spimex-sync/internal/config"
	"github.com/sells-group/spimex-sync/internal/ingest"
	"github.com/sells-group/spimex-sync/internal/pipeline"
)

var (
	ingestSince string
	ingestUntil string
	ingestMode  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load downloaded bulletins into the database",
	Long:  "Normalizes every bulletin in the output directory and inserts the merged records in one transaction.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		applyModeFlag()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		in, err := newIngestor(afero.NewOsFs(), st, ingestWindow{Since: ingestSince, Until: ingestUntil})
		if err != nil {
			return err
		}

		res, err := pipeline.New(nil, nil, in, st).Ingest(ctx)
		printIngestResult(res)
		return err
	},
}

func init() {
	addIngestFlags(ingestCmd)
	rootCmd.AddCommand(ingestCmd)
}

func addIngestFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&ingestSince, "since", "", "only load bulletins dated on or after this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&ingestUntil, "until", "", "only load bulletins dated on or before this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&ingestMode, "mode", "", "insert mode: append or upsert (default from ingest.mode)")
}

// applyModeFlag lets --mode override the configured insert mode.
func applyModeFlag() {
	if ingestMode != "" {
		cfg.Ingest.Mode = ingestMode
	}
}

func parseDateFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(config.DateLayout, value)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "invalid --%s %q", name, value)
	}
	return t, nil
}

func printIngestResult(res ingest.Result) {
	fmt.Fprintf(os.Stderr, "files %d, records %d, inserted %d, failed files %d, skipped %d\n",
		res.Files, res.Records, res.Inserted, len(res.Failures), len(res.Skipped))
	for _, f := range res.Failures {
		fmt.Fprintf(os.Stderr, "  %s: %v\n", f.Path, f.Err)
	}
}
