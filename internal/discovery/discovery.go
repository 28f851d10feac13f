// Package discovery walks the paginated results listing and turns spreadsheet
// links into download tasks, stopping at the first link older than the
// cutoff date.
package discovery

import (
	"context"
	"net/url"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/spimex-sync/internal/fetcher"
	"github.com/sells-group/spimex-sync/internal/filename"
	"github.com/sells-group/spimex-sync/internal/model"
	"github.com/sells-group/spimex-sync/internal/resilience"
)

// DefaultPattern matches the daily oil bulletin file links. The date may be
// followed by the publication time, as in oil_xls_20240305162000.xls.
const DefaultPattern = `(?i)oil_xls_\d{8}\d*\.xls`

// Options configures a discovery walk.
type Options struct {
	BaseURL string
	Pattern *regexp.Regexp
	// Cutoff is inclusive: links dated on Cutoff are kept.
	Cutoff time.Time
	OutDir string
	// MaxPages stops the walk after that many pages. 0 means unlimited.
	MaxPages int
}

// Discoverer turns listing pages into download tasks.
type Discoverer struct {
	fetcher fetcher.Fetcher
	opts    Options
	log     *zap.Logger
}

// New creates a Discoverer. The listing pages are fetched through f.
func New(f fetcher.Fetcher, opts Options) (*Discoverer, error) {
	if opts.BaseURL == "" {
		return nil, eris.New("discovery: base url is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, eris.Wrapf(err, "discovery: invalid base url %q", opts.BaseURL)
	}
	if opts.Pattern == nil {
		opts.Pattern = regexp.MustCompile(DefaultPattern)
	}
	c := opts.Cutoff.UTC()
	opts.Cutoff = time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, time.UTC)

	return &Discoverer{
		fetcher: f,
		opts:    opts,
		log:     zap.L().With(zap.String("component", "discovery")),
	}, nil
}

// Discover walks listing pages in order until a page has no matching links,
// a link dated before the cutoff is seen, or MaxPages is reached. On a page
// failure the tasks gathered so far are returned along with a network-kind
// error.
func (d *Discoverer) Discover(ctx context.Context) ([]model.DownloadTask, error) {
	var tasks []model.DownloadTask
	seen := make(map[string]struct{})

	for page := 1; ; page++ {
		if d.opts.MaxPages > 0 && page > d.opts.MaxPages {
			d.log.Info("max pages reached", zap.Int("max_pages", d.opts.MaxPages))
			return tasks, nil
		}
		if err := ctx.Err(); err != nil {
			return tasks, resilience.WithKind(resilience.KindNetwork, eris.Wrap(err, "discovery: cancelled"))
		}

		pageURL, err := PageURL(d.opts.BaseURL, page)
		if err != nil {
			return tasks, resilience.WithKind(resilience.KindNetwork, err)
		}

		hrefs, err := d.fetchLinks(ctx, pageURL)
		if err != nil {
			return tasks, resilience.WithKind(resilience.KindNetwork,
				eris.Wrapf(err, "discovery: page %d", page))
		}
		if len(hrefs) == 0 {
			d.log.Info("listing exhausted", zap.Int("page", page))
			return tasks, nil
		}

		added := 0
		for _, href := range hrefs {
			date, ok := LinkDate(href, d.opts.Pattern)
			if !ok {
				d.log.Debug("skipping link without date", zap.String("href", href))
				continue
			}
			if date.Before(d.opts.Cutoff) {
				d.log.Info("cutoff reached",
					zap.Int("page", page),
					zap.Time("link_date", date),
					zap.Time("cutoff", d.opts.Cutoff),
				)
				return tasks, nil
			}

			task, err := d.task(pageURL, href, date)
			if err != nil {
				d.log.Warn("skipping unresolvable link", zap.String("href", href), zap.Error(err))
				continue
			}
			if _, dup := seen[task.LocalPath]; dup {
				continue
			}
			seen[task.LocalPath] = struct{}{}
			tasks = append(tasks, task)
			added++
		}

		// A listing that ignores the page parameter serves the same links
		// forever.
		if added == 0 {
			d.log.Warn("page yielded no new links, stopping", zap.Int("page", page))
			return tasks, nil
		}
		d.log.Debug("page scanned", zap.Int("page", page), zap.Int("links", added))
	}
}

func (d *Discoverer) fetchLinks(ctx context.Context, pageURL string) ([]string, error) {
	body, err := d.fetcher.Download(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	return ExtractLinks(body, d.opts.Pattern)
}

func (d *Discoverer) task(pageURL, href string, date time.Time) (model.DownloadTask, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return model.DownloadTask{}, eris.Wrap(err, "parse page url")
	}
	ref, err := url.Parse(href)
	if err != nil {
		return model.DownloadTask{}, eris.Wrap(err, "parse href")
	}
	return model.DownloadTask{
		RemoteURL: base.ResolveReference(ref).String(),
		LocalPath: filepath.Join(d.opts.OutDir, filename.Encode(href, date)),
		FileDate:  date,
	}, nil
}
