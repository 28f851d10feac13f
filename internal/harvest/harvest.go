// Package harvest materializes discovered bulletin links as local files,
// skipping anything already on disk.
package harvest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/spimex-sync/internal/fetcher"
	"github.com/sells-group/spimex-sync/internal/model"
	"github.com/sells-group/spimex-sync/internal/resilience"
)

// DefaultConcurrency is the number of simultaneous transfers.
const DefaultConcurrency = 5

// Status is the result of a single transfer.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome records what happened to one task.
type Outcome struct {
	Task   model.DownloadTask
	Status Status
	Bytes  int64
	Err    error
}

// Report is the union of per-task outcomes, in task order.
type Report struct {
	Outcomes []Outcome
	Elapsed  time.Duration
}

// Counts returns the number of ok, skipped and failed outcomes.
func (r Report) Counts() (ok, skipped, failed int) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusOK:
			ok++
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
		}
	}
	return ok, skipped, failed
}

// Failed returns the failed outcomes.
func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

// Downloader fetches tasks onto fs under a shared concurrency cap.
type Downloader struct {
	fetcher     fetcher.Fetcher
	fs          afero.Fs
	concurrency int
}

// NewDownloader creates a Downloader. concurrency <= 0 uses DefaultConcurrency.
func NewDownloader(f fetcher.Fetcher, fs afero.Fs, concurrency int) *Downloader {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Downloader{fetcher: f, fs: fs, concurrency: concurrency}
}

// Fetch runs every task and returns the per-task outcomes. A failed
// transfer never cancels its siblings; Fetch only returns an error when
// ctx is cancelled.
func (d *Downloader) Fetch(ctx context.Context, tasks []model.DownloadTask) (Report, error) {
	start := time.Now()
	outcomes := make([]Outcome, len(tasks))

	zap.L().Info("harvest: fetching files",
		zap.Int("tasks", len(tasks)),
		zap.Int("concurrency", d.concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i, task := range tasks {
		g.Go(func() error {
			outcomes[i] = d.fetchOne(gctx, task)
			return nil // don't abort batch on individual failure
		})
	}
	_ = g.Wait()

	report := Report{Outcomes: outcomes, Elapsed: time.Since(start)}
	ok, skipped, failed := report.Counts()
	zap.L().Info("harvest: fetch complete",
		zap.Int("ok", ok),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
		zap.Duration("elapsed", report.Elapsed),
	)

	if err := ctx.Err(); err != nil {
		return report, resilience.WithKind(resilience.KindNetwork, eris.Wrap(err, "harvest: cancelled"))
	}
	return report, nil
}

func (d *Downloader) fetchOne(ctx context.Context, task model.DownloadTask) Outcome {
	log := zap.L().With(zap.String("url", task.RemoteURL), zap.String("path", task.LocalPath))

	exists, err := afero.Exists(d.fs, task.LocalPath)
	if err != nil {
		log.Error("stat failed", zap.Error(err))
		return Outcome{Task: task, Status: StatusFailed, Err: eris.Wrap(err, "harvest: stat")}
	}
	if exists {
		log.Debug("already present, skipping")
		return Outcome{Task: task, Status: StatusSkipped}
	}

	n, err := d.fetcher.DownloadToFile(ctx, d.fs, task.RemoteURL, task.LocalPath)
	if err != nil {
		err = resilience.WithKind(resilience.KindNetwork, eris.Wrapf(err, "harvest: fetch %s", task.RemoteURL))
		log.Error("transfer failed", zap.String("error_kind", string(resilience.KindNetwork)), zap.Error(err))
		return Outcome{Task: task, Status: StatusFailed, Err: err}
	}

	log.Info("downloaded", zap.Int64("bytes", n))
	return Outcome{Task: task, Status: StatusOK, Bytes: n}
}
