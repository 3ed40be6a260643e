package imagefallback

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Prober checks whether a source renders. A nil error means it loaded.
type Prober interface {
	Probe(ctx context.Context, src Source) error
}

// HTTPProber fetches the source and accepts image content for image sources
// and any successful response for frames.
type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProber) Probe(ctx context.Context, src Source) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned status %d", src.URL, resp.StatusCode)
	}
	if src.Kind == KindImage && !strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		return fmt.Errorf("%s returned %q, not an image", src.URL, resp.Header.Get("Content-Type"))
	}
	return nil
}

// Walk tries each source of the chain until one loads or the chain ends on
// the placeholder. The boolean is false when the placeholder is returned.
func Walk(ctx context.Context, chain *Chain, prober Prober) (Source, bool, error) {
	for !chain.Done() {
		src := chain.Current()
		err := prober.Probe(ctx, src)
		if err == nil {
			src, err = chain.Succeed(ctx)
			return src, err == nil, err
		}
		if ctx.Err() != nil {
			return Source{}, false, ctx.Err()
		}
		slog.DebugContext(ctx, "image source failed", "strategy", src.Strategy, "url", src.URL, "error", err)
		if _, err := chain.Fail(ctx); err != nil {
			return Source{}, false, err
		}
	}
	return chain.Current(), chain.Resolved(), nil
}
