// Package pipeline composes discovery, download and ingest into the
// harvest and ingest phases and records each phase in the run log.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/spimex-sync/internal/harvest"
	"github.com/sells-group/spimex-sync/internal/ingest"
	"github.com/sells-group/spimex-sync/internal/model"
	"github.com/sells-group/spimex-sync/internal/resilience"
	"github.com/sells-group/spimex-sync/internal/store"
)

// Discoverer lists the bulletins to download.
type Discoverer interface {
	Discover(ctx context.Context) ([]model.DownloadTask, error)
}

// Downloader materializes download tasks on local storage.
type Downloader interface {
	Fetch(ctx context.Context, tasks []model.DownloadTask) (harvest.Report, error)
}

// Ingester loads local bulletins into the store.
type Ingester interface {
	Run(ctx context.Context) (ingest.Result, error)
}

// HarvestResult summarizes a harvest phase.
type HarvestResult struct {
	Discovered int
	Report     harvest.Report
}

// Runner executes pipeline phases. Any dependency a phase does not use may
// be nil, and a nil run log disables run tracking.
type Runner struct {
	discoverer Discoverer
	downloader Downloader
	ingester   Ingester
	runs       store.RunLog
}

// New creates a Runner.
func New(d Discoverer, dl Downloader, in Ingester, runs store.RunLog) *Runner {
	return &Runner{
		discoverer: d,
		downloader: dl,
		ingester:   in,
		runs:       runs,
	}
}

// Harvest discovers new bulletins and downloads them. Links found before a
// listing page failure are still downloaded; the discovery error is then
// returned. Individual transfer failures are counted, not returned.
func (r *Runner) Harvest(ctx context.Context) (HarvestResult, error) {
	if r.discoverer == nil || r.downloader == nil {
		return HarvestResult{}, eris.New("pipeline: harvest requires a discoverer and a downloader")
	}

	var res HarvestResult
	err := r.track(ctx, model.PhaseHarvest, func() (store.RunResult, error) {
		tasks, discErr := r.discoverer.Discover(ctx)
		res.Discovered = len(tasks)

		var fetchErr error
		if len(tasks) > 0 {
			res.Report, fetchErr = r.downloader.Fetch(ctx, tasks)
		}

		ok, skipped, failed := res.Report.Counts()
		for _, o := range res.Report.Failed() {
			zap.L().Warn("pipeline: download failed",
				zap.String("url", o.Task.RemoteURL),
				zap.String("error_kind", string(resilience.KindOf(o.Err))),
				zap.Error(o.Err),
			)
		}

		result := store.RunResult{
			Rows: int64(ok),
			Metadata: map[string]any{
				"discovered": len(tasks),
				"ok":         ok,
				"skipped":    skipped,
				"failed":     failed,
				"elapsed_ms": res.Report.Elapsed.Milliseconds(),
			},
		}
		if discErr != nil {
			return result, discErr
		}
		return result, fetchErr
	})
	return res, err
}

// Ingest loads every local bulletin into the store.
func (r *Runner) Ingest(ctx context.Context) (ingest.Result, error) {
	if r.ingester == nil {
		return ingest.Result{}, eris.New("pipeline: ingest requires an ingester")
	}

	var res ingest.Result
	err := r.track(ctx, model.PhaseIngest, func() (store.RunResult, error) {
		var runErr error
		res, runErr = r.ingester.Run(ctx)
		return store.RunResult{
			Rows: res.Inserted,
			Metadata: map[string]any{
				"files":         res.Files,
				"records":       res.Records,
				"failed_files":  len(res.Failures),
				"skipped_files": len(res.Skipped),
			},
		}, runErr
	})
	return res, err
}

// Run executes harvest then ingest. A harvest failure does not prevent
// ingesting what is already on disk unless ctx is done; both errors are
// returned joined.
func (r *Runner) Run(ctx context.Context) (HarvestResult, ingest.Result, error) {
	hres, herr := r.Harvest(ctx)
	if herr != nil && ctx.Err() != nil {
		return hres, ingest.Result{}, herr
	}
	ires, ierr := r.Ingest(ctx)
	return hres, ires, errors.Join(herr, ierr)
}

// track records fn as one run of phase. Run log failures are logged and do
// not fail the phase.
func (r *Runner) track(ctx context.Context, phase model.Phase, fn func() (store.RunResult, error)) error {
	log := zap.L().With(zap.String("phase", string(phase)))

	var runID string
	if r.runs != nil {
		id, err := r.runs.StartRun(ctx, phase)
		if err != nil {
			log.Warn("pipeline: failed to start run", zap.Error(err))
		}
		runID = id
	}

	start := time.Now()
	result, fnErr := fn()
	duration := time.Since(start).Milliseconds()

	if fnErr != nil {
		kind := resilience.KindOf(fnErr)
		log.Error("pipeline: phase failed",
			zap.String("error_kind", string(kind)),
			zap.Int64("duration_ms", duration),
			zap.Error(fnErr),
		)
		if runID != "" {
			// The phase context may already be cancelled.
			if err := r.runs.FailRun(context.WithoutCancel(ctx), runID, kind, fnErr.Error()); err != nil {
				log.Warn("pipeline: failed to record run failure", zap.Error(err))
			}
		}
		return eris.Wrapf(fnErr, "pipeline: %s", phase)
	}

	log.Info("pipeline: phase complete",
		zap.Int64("rows", result.Rows),
		zap.Int64("duration_ms", duration),
		zap.Any("metadata", result.Metadata),
	)
	if runID != "" {
		if err := r.runs.CompleteRun(ctx, runID, result); err != nil {
			log.Warn("pipeline: failed to record run completion", zap.Error(err))
		}
	}
	return nil
}
