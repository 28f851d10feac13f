package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/spimex-sync/internal/harvest"
	"github.com/sells-group/spimex-sync/internal/ingest"
	"github.com/sells-group/spimex-sync/internal/model"
	"github.com/sells-group/spimex-sync/internal/resilience"
	"github.com/sells-group/spimex-sync/internal/store"
)

// --- Discoverer Mock ---

type mockDiscoverer struct {
	mock.Mock
}

func (m *mockDiscoverer) Discover(ctx context.Context) ([]model.DownloadTask, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DownloadTask), args.Error(1)
}

// --- Downloader Mock ---

type mockDownloader struct {
	mock.Mock
}

func (m *mockDownloader) Fetch(ctx context.Context, tasks []model.DownloadTask) (harvest.Report, error) {
	args := m.Called(ctx, tasks)
	return args.Get(0).(harvest.Report), args.Error(1)
}

// --- Ingester Mock ---

type mockIngester struct {
	mock.Mock
}

func (m *mockIngester) Run(ctx context.Context) (ingest.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).(ingest.Result), args.Error(1)
}

// --- RunLog Mock ---

type mockRunLog struct {
	mock.Mock
}

func (m *mockRunLog) StartRun(ctx context.Context, phase model.Phase) (string, error) {
	args := m.Called(ctx, phase)
	return args.String(0), args.Error(1)
}

func (m *mockRunLog) CompleteRun(ctx context.Context, id string, result store.RunResult) error {
	args := m.Called(ctx, id, result)
	return args.Error(0)
}

func (m *mockRunLog) FailRun(ctx context.Context, id string, kind resilience.Kind, errMsg string) error {
	args := m.Called(ctx, id, kind, errMsg)
	return args.Error(0)
}

func (m *mockRunLog) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.RunEntry, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RunEntry), args.Error(1)
}
