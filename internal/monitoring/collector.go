package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/spimex-sync/internal/model"
	"github.com/sells-group/spimex-sync/internal/store"
)

// listLimit caps how many runs one collection reads.
const listLimit = 1000

// RunLister is the slice of the run log the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.RunEntry, error)
}

// PhaseStats summarizes the runs of one phase within the lookback window.
type PhaseStats struct {
	Total    int     `json:"total"`
	Complete int     `json:"complete"`
	Failed   int     `json:"failed"`
	Running  int     `json:"running"`
	FailRate float64 `json:"fail_rate"`

	// LastSuccess is the completion time of the newest complete run, over
	// the whole listed history rather than just the window.
	LastSuccess *time.Time `json:"last_success,omitempty"`
	// Latest is the most recently started run, if any.
	Latest *model.RunEntry `json:"latest,omitempty"`
}

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	Phases        map[model.Phase]*PhaseStats `json:"phases"`
	LookbackHours int                         `json:"lookback_hours"`
	CollectedAt   time.Time                   `json:"collected_at"`
}

// Phase returns the stats for p, never nil.
func (s *MetricsSnapshot) Phase(p model.Phase) *PhaseStats {
	if st, ok := s.Phases[p]; ok {
		return st
	}
	return &PhaseStats{}
}

// Collector gathers metrics from the run log.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		Phases: map[model.Phase]*PhaseStats{
			model.PhaseHarvest: {},
			model.PhaseIngest:  {},
		},
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Runs are listed newest first.
	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: listLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for i := range runs {
		r := runs[i]
		ps, ok := snap.Phases[r.Phase]
		if !ok {
			continue
		}
		if ps.Latest == nil {
			ps.Latest = &r
		}
		if r.Status == model.RunStatusComplete && ps.LastSuccess == nil && r.CompletedAt != nil {
			t := *r.CompletedAt
			ps.LastSuccess = &t
		}
		if r.StartedAt.Before(cutoff) {
			continue
		}

		ps.Total++
		switch r.Status {
		case model.RunStatusComplete:
			ps.Complete++
		case model.RunStatusFailed:
			ps.Failed++
		case model.RunStatusRunning:
			ps.Running++
		}
	}

	for _, ps := range snap.Phases {
		if finished := ps.Complete + ps.Failed; finished > 0 {
			ps.FailRate = float64(ps.Failed) / float64(finished)
		}
	}
	return snap, nil
}
