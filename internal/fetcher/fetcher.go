// Package fetcher provides the HTTP transport and workbook readers used by
// the harvest and ingest phases.
package fetcher

import (
	"context"
	"io"

	"github.com/spf13/afero"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and atomically writes it to path on fs.
	// Returns bytes written. No partial file is ever visible under path.
	DownloadToFile(ctx context.Context, fs afero.Fs, url string, path string) (int64, error)
}
