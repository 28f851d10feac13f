package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/sells-group/spimex-sync/internal/config"
	"github.com/sells-group/spimex-sync/internal/discovery"
	"github.com/sells-group/spimex-sync/internal/fetcher"
	"github.com/sells-group/spimex-sync/internal/harvest"
	"github.com/sells-group/spimex-sync/internal/ingest"
	"github.com/sells-group/spimex-sync/internal/normalize"
	"github.com/sells-group/spimex-sync/internal/store"
)

// storeOptions maps the store config to backend options.
func storeOptions(c config.StoreConfig) store.Options {
	return store.Options{
		Driver: c.Driver,
		DSN:    c.DSN(),
		Pool: &store.PoolConfig{
			MaxConns: c.MaxConns,
			MinConns: c.MinConns,
		},
	}
}

// initStore opens the configured store and applies the schema. The caller
// must close it.
func initStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.DSN() == "" {
		return nil, eris.New("store: no database configured (set SPIMEX_STORE_DATABASE_URL or DB_HOST/DB_NAME)")
	}
	st, err := store.Open(ctx, storeOptions(cfg.Store))
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initOptionalStore is initStore for phases that can run without a
// database. It returns a nil store when none is configured.
func initOptionalStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.DSN() == "" {
		zap.L().Info("no database configured, run log disabled")
		return nil, nil
	}
	return initStore(ctx)
}

func newFetcher(c config.SourceConfig) *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:         c.UserAgent,
		Timeout:           c.Timeout(),
		MaxRetries:        c.MaxRetries,
		RequestsPerSecond: c.RequestsPerSecond,
	})
}

// newHarvestStages builds the discoverer and downloader for the harvest
// phase. Both share one HTTP fetcher so rate limits apply across them.
func newHarvestStages(fs afero.Fs, c config.SourceConfig) (*discovery.Discoverer, *harvest.Downloader, error) {
	cutoff, err := c.Cutoff()
	if err != nil {
		return nil, nil, err
	}
	pattern, err := c.Pattern()
	if err != nil {
		return nil, nil, err
	}

	f := newFetcher(c)
	disc, err := discovery.New(f, discovery.Options{
		BaseURL:  c.BaseURL,
		Pattern:  pattern,
		Cutoff:   cutoff,
		OutDir:   c.OutDir,
		MaxPages: c.MaxPages,
	})
	if err != nil {
		return nil, nil, err
	}
	return disc, harvest.NewDownloader(f, fs, c.Concurrency), nil
}

// ingestWindow bounds the trade dates an ingest run loads.
type ingestWindow struct {
	Since string
	Until string
}

func newIngestor(fs afero.Fs, st ingest.Inserter, w ingestWindow) (*ingest.Ingestor, error) {
	mode, err := store.ParseInsertMode(cfg.Ingest.Mode)
	if err != nil {
		return nil, err
	}
	table, err := normalize.LoadHeaderTable(cfg.Normalize.HeaderMapPath)
	if err != nil {
		return nil, err
	}

	opts := ingest.Options{
		Dir:     cfg.Source.OutDir,
		Workers: cfg.Ingest.Workers,
		Mode:    mode,
		Table:   table,
	}
	if opts.Since, err = parseDateFlag("since", w.Since); err != nil {
		return nil, err
	}
	if opts.Until, err = parseDateFlag("until", w.Until); err != nil {
		return nil, err
	}
	if !opts.Since.IsZero() && !opts.Until.IsZero() && opts.Until.Before(opts.Since) {
		return nil, eris.Errorf("--until %s is before --since %s", w.Until, w.Since)
	}
	return ingest.New(fs, st, opts), nil
}
