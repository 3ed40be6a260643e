package imagefallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"

	"gwi.com/drive-chat/internal/cache"
)

var (
	ErrInvalidFileID = errors.New("invalid file id")
	ErrNoImage       = errors.New("no usercontent image found on viewer page")
)

// Scraper finds the CDN image URL shown on a Drive viewer page.
type Scraper interface {
	ScrapeImageURL(ctx context.Context, viewerURL string) (string, error)
}

// ChromeScraper loads the viewer page in headless Chrome.
type ChromeScraper struct {
	execPath string
	timeout  time.Duration
}

func NewChromeScraper(execPath string, timeout time.Duration) *ChromeScraper {
	return &ChromeScraper{execPath: execPath, timeout: timeout}
}

func (s *ChromeScraper) ScrapeImageURL(ctx context.Context, viewerURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
	)
	if s.execPath != "" {
		opts = append(opts, chromedp.ExecPath(s.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	runCtx, cancel := context.WithTimeout(browserCtx, s.timeout)
	defer cancel()

	var srcs []string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(viewerURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(`Array.from(document.images).map(img => img.src)`, &srcs),
	)
	if err != nil {
		return "", fmt.Errorf("headless scrape of %s failed: %w", viewerURL, err)
	}
	for _, src := range srcs {
		if IsUserContentURL(src) {
			return src, nil
		}
	}
	return "", ErrNoImage
}

// Resolution is the outcome of resolving a Drive file to a renderable URL.
type Resolution struct {
	FileID    string   `json:"fileId"`
	URL       string   `json:"url"`
	Method    string   `json:"method"`
	Kind      Kind     `json:"kind"`
	Failed    bool     `json:"failed,omitempty"`
	Fallbacks []Source `json:"fallbacks"`
}

type Resolver struct {
	scraper Scraper
	prober  Prober
	cache   cache.Cache
	ttl     time.Duration
}

// NewResolver builds a resolver. scraper, prober and c are all optional: a
// nil scraper goes straight to the canonical URL, a nil prober trusts the
// resolved URL without fetching it.
func NewResolver(scraper Scraper, prober Prober, c cache.Cache, ttl time.Duration) *Resolver {
	return &Resolver{scraper: scraper, prober: prober, cache: c, ttl: ttl}
}

// Resolve turns a Drive file id into a direct URL. Scraping is best effort;
// any failure falls back to the canonical usercontent URL.
func (r *Resolver) Resolve(ctx context.Context, fileID string) (Resolution, error) {
	if !ValidFileID(fileID) {
		return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidFileID, fileID)
	}

	key := "direct-url:" + fileID
	if r.cache != nil {
		var res Resolution
		err := cache.GetJSON(ctx, r.cache, key, &res)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			slog.WarnContext(ctx, "direct url cache read failed", "file_id", fileID, "error", err)
		}
	}

	res := Resolution{FileID: fileID, URL: DirectURL(fileID), Method: "canonical", Kind: KindImage}
	if r.scraper != nil {
		scraped, err := r.scraper.ScrapeImageURL(ctx, ViewerURL(fileID))
		switch {
		case err == nil:
			res.URL, res.Method = scraped, "scrape"
		case ctx.Err() != nil:
			return Resolution{}, ctx.Err()
		default:
			slog.InfoContext(ctx, "scrape failed, using canonical url", "file_id", fileID, "error", err)
		}
	}

	chain := NewChain(res.URL)
	res.Fallbacks = chain.Candidates()
	if r.prober != nil {
		src, ok, err := Walk(ctx, chain, r.prober)
		if err != nil {
			return Resolution{}, err
		}
		switch {
		case !ok:
			res.URL, res.Kind, res.Method, res.Failed = DirectURL(fileID), KindImage, "canonical", true
		case src.Strategy != StrategyOriginal:
			res.URL, res.Kind, res.Method = src.URL, src.Kind, string(src.Strategy)
		}
	}

	if r.cache != nil && !res.Failed {
		if err := cache.SetJSON(ctx, r.cache, key, res, r.ttl); err != nil {
			slog.WarnContext(ctx, "direct url cache write failed", "file_id", fileID, "error", err)
		}
	}
	return res, nil
}
