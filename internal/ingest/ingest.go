// Package ingest normalizes every harvested workbook and loads the merged
// records in a single transaction.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/spimex-sync/internal/fetcher"
	"github.com/sells-group/spimex-sync/internal/filename"
	"github.com/sells-group/spimex-sync/internal/model"
	"github.com/sells-group/spimex-sync/internal/normalize"
	"github.com/sells-group/spimex-sync/internal/resilience"
	"github.com/sells-group/spimex-sync/internal/store"
)

// Inserter is the slice of store.Store the ingestor needs.
type Inserter interface {
	InsertResults(ctx context.Context, records []model.TradingResult, mode store.InsertMode) (int64, error)
}

// Options configures an ingest run.
type Options struct {
	Dir     string
	Workers int // 0 means runtime.NumCPU()
	// Since and Until bound the trade date inclusively. Zero means open.
	Since time.Time
	Until time.Time
	Mode  store.InsertMode
	Table normalize.HeaderTable
	Now   func() time.Time
}

// File is a workbook selected for ingest.
type File struct {
	Path string
	Date time.Time
}

// FileError is a per-file failure excluded from the merge.
type FileError struct {
	Path string
	Err  error
}

// Result summarizes an ingest run.
type Result struct {
	Files    int
	Records  int
	Inserted int64
	Skipped  []string
	Failures []FileError
}

// Ingestor reads workbooks from fs and loads them through an Inserter.
type Ingestor struct {
	fs    afero.Fs
	store Inserter
	opts  Options
	log   *zap.Logger
}

// New creates an Ingestor.
func New(fs afero.Fs, st Inserter, opts Options) *Ingestor {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Mode == "" {
		opts.Mode = store.InsertAppend
	}
	if opts.Table == nil {
		opts.Table = normalize.DefaultHeaderTable()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ingestor{
		fs:    fs,
		store: st,
		opts:  opts,
		log:   zap.L().With(zap.String("component", "ingest")),
	}
}

// ListFiles returns the workbooks in Dir ordered by name, plus the names
// skipped because they are hidden, not workbooks, undated or outside the
// date window. A missing directory yields no files.
func (in *Ingestor) ListFiles() ([]File, []string, error) {
	entries, err := afero.ReadDir(in.fs, in.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			in.log.Warn("output directory does not exist", zap.String("dir", in.opts.Dir))
			return nil, nil, nil
		}
		return nil, nil, eris.Wrapf(err, "ingest: read dir %s", in.opts.Dir)
	}

	var (
		files   []File
		skipped []string
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !fetcher.IsWorkbook(name) {
			continue
		}
		date, ok := filename.Decode(name)
		if !ok {
			in.log.Warn("skipping file without date", zap.String("file", name))
			skipped = append(skipped, name)
			continue
		}
		if (!in.opts.Since.IsZero() && date.Before(in.opts.Since)) ||
			(!in.opts.Until.IsZero() && date.After(in.opts.Until)) {
			skipped = append(skipped, name)
			continue
		}
		files = append(files, File{Path: filepath.Join(in.opts.Dir, name), Date: date})
	}
	return files, skipped, nil
}

// Run normalizes every listed file on a bounded worker pool, merges the
// records in filename order and inserts them in one transaction. A file
// that fails to decode is reported in Result.Failures and left out. When
// every file fails and nothing remains, Run returns a parse-kind error.
func (in *Ingestor) Run(ctx context.Context) (Result, error) {
	files, skipped, err := in.ListFiles()
	if err != nil {
		return Result{}, resilience.WithKind(resilience.KindParse, err)
	}
	res := Result{Files: len(files), Skipped: skipped}
	if len(files) == 0 {
		in.log.Info("no files to ingest", zap.String("dir", in.opts.Dir))
		return res, nil
	}

	now := in.opts.Now().UTC()
	perFile := make([][]model.TradingResult, len(files))
	errs := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.opts.Workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perFile[i], errs[i] = in.normalizeFile(f, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, eris.Wrap(err, "ingest: cancelled")
	}

	var records []model.TradingResult
	for i, f := range files {
		if errs[i] != nil {
			in.log.Error("file failed to parse",
				zap.String("path", f.Path),
				zap.String("error_kind", string(resilience.KindOf(errs[i]))),
				zap.Error(errs[i]),
			)
			res.Failures = append(res.Failures, FileError{Path: f.Path, Err: errs[i]})
			continue
		}
		records = append(records, perFile[i]...)
	}
	res.Records = len(records)

	if len(records) == 0 {
		if len(res.Failures) > 0 {
			return res, resilience.WithKind(resilience.KindParse,
				eris.Errorf("ingest: %d of %d files failed to parse and no records remain", len(res.Failures), len(files)))
		}
		in.log.Info("no records to insert", zap.Int("files", len(files)))
		return res, nil
	}

	inserted, err := in.store.InsertResults(ctx, records, in.opts.Mode)
	if err != nil {
		return res, eris.Wrap(err, "ingest: insert")
	}
	res.Inserted = inserted

	in.log.Info("ingest complete",
		zap.Int("files", len(files)),
		zap.Int("failed_files", len(res.Failures)),
		zap.Int("records", len(records)),
		zap.Int64("inserted", inserted),
		zap.String("mode", string(in.opts.Mode)),
	)
	return res, nil
}

func (in *Ingestor) normalizeFile(f File, now time.Time) ([]model.TradingResult, error) {
	data, err := afero.ReadFile(in.fs, f.Path)
	if err != nil {
		return nil, resilience.WithKind(resilience.KindParse, eris.Wrapf(err, "ingest: read %s", f.Path))
	}
	recs, err := normalize.NormalizeBytes(f.Path, data, f.Date, now, in.opts.Table)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: %s", filepath.Base(f.Path))
	}
	in.log.Debug("file normalized", zap.String("path", f.Path), zap.Int("records", len(recs)))
	return recs, nil
}
