package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/spimex-sync/internal/harvest"
	"github.com/sells-group/spimex-sync/internal/ingest"
	"github.com/sells-group/spimex-sync/internal/model"
	"github.com/sells-group/spimex-sync/internal/resilience"
	"github.com/sells-group/spimex-sync/internal/store"
)

func sampleTasks() []model.DownloadTask {
	return []model.DownloadTask{
		{RemoteURL: "https://x/oil_xls_20240305.xls", LocalPath: "/data/2024-03-05_oil_xls_20240305.xls", FileDate: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{RemoteURL: "https://x/oil_xls_20240304.xls", LocalPath: "/data/2024-03-04_oil_xls_20240304.xls", FileDate: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)},
		{RemoteURL: "https://x/oil_xls_20240301.xls", LocalPath: "/data/2024-03-01_oil_xls_20240301.xls", FileDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
}

func sampleReport(tasks []model.DownloadTask) harvest.Report {
	return harvest.Report{
		Outcomes: []harvest.Outcome{
			{Task: tasks[0], Status: harvest.StatusOK, Bytes: 1024},
			{Task: tasks[1], Status: harvest.StatusSkipped},
			{Task: tasks[2], Status: harvest.StatusFailed, Err: resilience.WithKind(resilience.KindNetwork, errors.New("reset"))},
		},
		Elapsed: 2 * time.Second,
	}
}

func TestHarvest_RecordsCounts(t *testing.T) {
	ctx := context.Background()
	tasks := sampleTasks()

	disc := &mockDiscoverer{}
	disc.On("Discover", ctx).Return(tasks, nil)
	dl := &mockDownloader{}
	dl.On("Fetch", ctx, tasks).Return(sampleReport(tasks), nil)
	runs := &mockRunLog{}
	runs.On("StartRun", ctx, model.PhaseHarvest).Return("run-1", nil)
	runs.On("CompleteRun", ctx, "run-1", store.RunResult{
		Rows: 1,
		Metadata: map[string]any{
			"discovered": 3,
			"ok":         1,
			"skipped":    1,
			"failed":     1,
			"elapsed_ms": int64(2000),
		},
	}).Return(nil)

	res, err := New(disc, dl, nil, runs).Harvest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Discovered)
	ok, skipped, failed := res.Report.Counts()
	assert.Equal(t, []int{1, 1, 1}, []int{ok, skipped, failed})

	disc.AssertExpectations(t)
	dl.AssertExpectations(t)
	runs.AssertExpectations(t)
}

func TestHarvest_NoTasksSkipsFetch(t *testing.T) {
	ctx := context.Background()

	disc := &mockDiscoverer{}
	disc.On("Discover", ctx).Return(nil, nil)
	dl := &mockDownloader{}

	res, err := New(disc, dl, nil, nil).Harvest(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Discovered)
	dl.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestHarvest_PartialDiscoveryStillFetches(t *testing.T) {
	ctx := context.Background()
	tasks := sampleTasks()[:1]
	pageErr := resilience.WithKind(resilience.KindNetwork, errors.New("discovery: fetch page 2: timeout"))

	disc := &mockDiscoverer{}
	disc.On("Discover", ctx).Return(tasks, pageErr)
	dl := &mockDownloader{}
	dl.On("Fetch", ctx, tasks).Return(harvest.Report{
		Outcomes: []harvest.Outcome{{Task: tasks[0], Status: harvest.StatusOK}},
	}, nil)
	runs := &mockRunLog{}
	runs.On("StartRun", ctx, model.PhaseHarvest).Return("run-2", nil)
	runs.On("FailRun", mock.Anything, "run-2", resilience.KindNetwork, "discovery: fetch page 2: timeout").Return(nil)

	res, err := New(disc, dl, nil, runs).Harvest(ctx)
	require.Error(t, err)
	assert.Equal(t, resilience.KindNetwork, resilience.KindOf(err))
	assert.Contains(t, err.Error(), "pipeline: harvest")
	assert.Equal(t, 1, res.Discovered)

	dl.AssertExpectations(t)
	runs.AssertExpectations(t)
	runs.AssertNotCalled(t, "CompleteRun", mock.Anything, mock.Anything, mock.Anything)
}

func TestHarvest_RunLogFailureDoesNotFailPhase(t *testing.T) {
	ctx := context.Background()

	disc := &mockDiscoverer{}
	disc.On("Discover", ctx).Return(nil, nil)
	runs := &mockRunLog{}
	runs.On("StartRun", ctx, model.PhaseHarvest).Return("", errors.New("connection refused"))

	_, err := New(disc, &mockDownloader{}, nil, runs).Harvest(ctx)
	require.NoError(t, err)
	runs.AssertNotCalled(t, "CompleteRun", mock.Anything, mock.Anything, mock.Anything)
}

func TestHarvest_MissingDependencies(t *testing.T) {
	_, err := New(nil, nil, nil, nil).Harvest(context.Background())
	assert.Error(t, err)
}

func TestIngest_RecordsInserted(t *testing.T) {
	ctx := context.Background()

	in := &mockIngester{}
	in.On("Run", ctx).Return(ingest.Result{
		Files:    2,
		Records:  40,
		Inserted: 40,
		Skipped:  []string{"notes.xls"},
	}, nil)
	runs := &mockRunLog{}
	runs.On("StartRun", ctx, model.PhaseIngest).Return("run-3", nil)
	runs.On("CompleteRun", ctx, "run-3", mock.MatchedBy(func(r store.RunResult) bool {
		return r.Rows == 40 && r.Metadata["files"] == 2 && r.Metadata["skipped_files"] == 1
	})).Return(nil)

	res, err := New(nil, nil, in, runs).Ingest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(40), res.Inserted)
	runs.AssertExpectations(t)
}

func TestIngest_FailureKindIsRecorded(t *testing.T) {
	ctx := context.Background()

	in := &mockIngester{}
	in.On("Run", ctx).Return(ingest.Result{Files: 1},
		resilience.WithKind(resilience.KindStorage, errors.New("store: copy: deadlock")))
	runs := &mockRunLog{}
	runs.On("StartRun", ctx, model.PhaseIngest).Return("run-4", nil)
	runs.On("FailRun", mock.Anything, "run-4", resilience.KindStorage, mock.AnythingOfType("string")).Return(nil)

	_, err := New(nil, nil, in, runs).Ingest(ctx)
	require.Error(t, err)
	assert.Equal(t, resilience.KindStorage, resilience.KindOf(err))
	runs.AssertExpectations(t)
}

func TestIngest_NilRunLog(t *testing.T) {
	in := &mockIngester{}
	in.On("Run", mock.Anything).Return(ingest.Result{}, nil)

	_, err := New(nil, nil, in, nil).Ingest(context.Background())
	assert.NoError(t, err)
}

func TestRun_IngestsAfterHarvestFailure(t *testing.T) {
	ctx := context.Background()

	disc := &mockDiscoverer{}
	disc.On("Discover", ctx).Return(nil, resilience.WithKind(resilience.KindNetwork, errors.New("503")))
	in := &mockIngester{}
	in.On("Run", ctx).Return(ingest.Result{Files: 3, Records: 9, Inserted: 9}, nil)

	_, ires, err := New(disc, &mockDownloader{}, in, nil).Run(ctx)
	require.Error(t, err)
	assert.Equal(t, resilience.KindNetwork, resilience.KindOf(err))
	assert.Equal(t, int64(9), ires.Inserted)
	in.AssertExpectations(t)
}

func TestRun_StopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	disc := &mockDiscoverer{}
	disc.On("Discover", ctx).Return(nil, context.Canceled)
	in := &mockIngester{}

	_, _, err := New(disc, &mockDownloader{}, in, nil).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	in.AssertNotCalled(t, "Run", mock.Anything)
}

func TestRun_BothPhasesSucceed(t *testing.T) {
	ctx := context.Background()
	tasks := sampleTasks()

	disc := &mockDiscoverer{}
	disc.On("Discover", ctx).Return(tasks, nil)
	dl := &mockDownloader{}
	dl.On("Fetch", ctx, tasks).Return(sampleReport(tasks), nil)
	in := &mockIngester{}
	in.On("Run", ctx).Return(ingest.Result{Files: 2, Records: 5, Inserted: 5}, nil)

	hres, ires, err := New(disc, dl, in, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, hres.Discovered)
	assert.Equal(t, int64(5), ires.Inserted)
}
