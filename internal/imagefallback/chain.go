package imagefallback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/qmuntal/stateless"
)

type Kind string

const (
	KindImage       Kind = "image"
	KindFrame       Kind = "frame"
	KindPlaceholder Kind = "placeholder"
)

type Strategy string

const (
	StrategyOriginal     Strategy = "original"
	StrategyCacheBust    Strategy = "cache-bust"
	StrategyExportView   Strategy = "export-view"
	StrategyPreviewFrame Strategy = "preview-frame"
	StrategyPlaceholder  Strategy = "placeholder"
)

// Source is one rendering attempt.
type Source struct {
	Strategy Strategy `json:"strategy"`
	Kind     Kind     `json:"kind"`
	URL      string   `json:"url,omitempty"`
}

const (
	stateResolved = "resolved"
	stateFailed   = "failed"

	triggerLoaded = "loaded"
	triggerFailed = "failed"
)

var attemptOrder = []Strategy{StrategyOriginal, StrategyCacheBust, StrategyExportView, StrategyPreviewFrame}

// Chain walks the image recovery strategies for one URL: the original URL,
// a cache-busted retry for usercontent URLs, the Drive export-view URL, an
// inline preview frame, and finally a placeholder. Strategies that do not
// apply to the URL are skipped and none is attempted twice.
type Chain struct {
	original     string
	sources      map[Strategy]Source
	resolvedWith Source
	sm           *stateless.StateMachine
}

func NewChain(rawURL string) *Chain {
	return newChainAt(rawURL, time.Now())
}

func newChainAt(rawURL string, now time.Time) *Chain {
	c := &Chain{original: rawURL, sources: make(map[Strategy]Source)}

	c.sources[StrategyOriginal] = Source{Strategy: StrategyOriginal, Kind: KindImage, URL: rawURL}
	if IsUserContentURL(rawURL) {
		c.sources[StrategyCacheBust] = Source{Strategy: StrategyCacheBust, Kind: KindImage, URL: CacheBust(rawURL, now)}
	}
	if id, ok := ExtractFileID(rawURL); ok {
		if export := ExportViewURL(id); export != rawURL {
			c.sources[StrategyExportView] = Source{Strategy: StrategyExportView, Kind: KindImage, URL: export}
		}
		c.sources[StrategyPreviewFrame] = Source{Strategy: StrategyPreviewFrame, Kind: KindFrame, URL: PreviewURL(id)}
	}

	c.sm = stateless.NewStateMachine(string(StrategyOriginal))
	for _, s := range attemptOrder {
		c.sm.Configure(string(s)).
			Permit(triggerLoaded, stateResolved).
			PermitDynamic(triggerFailed, c.nextAfter(s))
	}
	c.sm.Configure(stateResolved).OnEntry(func(ctx context.Context, _ ...any) error {
		slog.DebugContext(ctx, "image resolved", "url", c.original)
		return nil
	})
	c.sm.Configure(stateFailed).OnEntry(func(ctx context.Context, _ ...any) error {
		slog.InfoContext(ctx, "all image strategies failed, using placeholder", "url", c.original)
		return nil
	})
	return c
}

func (c *Chain) nextAfter(from Strategy) stateless.DestinationSelectorFunc {
	return func(_ context.Context, _ ...any) (stateless.State, error) {
		passed := false
		for _, s := range attemptOrder {
			if s == from {
				passed = true
				continue
			}
			if !passed {
				continue
			}
			if _, ok := c.sources[s]; ok {
				return string(s), nil
			}
		}
		return stateFailed, nil
	}
}

func (c *Chain) state() string {
	return c.sm.MustState().(string)
}

// Current is the source to render now.
func (c *Chain) Current() Source {
	switch st := c.state(); st {
	case stateFailed:
		return Source{Strategy: StrategyPlaceholder, Kind: KindPlaceholder}
	case stateResolved:
		return c.resolvedWith
	default:
		return c.sources[Strategy(st)]
	}
}

// Succeed marks the current source as loaded.
func (c *Chain) Succeed(ctx context.Context) (Source, error) {
	if c.Done() {
		return c.Current(), nil
	}
	src := c.Current()
	if err := c.sm.FireCtx(ctx, triggerLoaded); err != nil {
		return Source{}, fmt.Errorf("image chain: %w", err)
	}
	c.resolvedWith = src
	return src, nil
}

// Fail records that the current source did not load and returns the next one
// to try, which is the placeholder once the chain is exhausted.
func (c *Chain) Fail(ctx context.Context) (Source, error) {
	if c.Done() {
		return c.Current(), nil
	}
	if err := c.sm.FireCtx(ctx, triggerFailed); err != nil {
		return Source{}, fmt.Errorf("image chain: %w", err)
	}
	return c.Current(), nil
}

func (c *Chain) Done() bool {
	st := c.state()
	return st == stateResolved || st == stateFailed
}

func (c *Chain) Resolved() bool {
	return c.state() == stateResolved
}

// Candidates lists every source the chain may try, in order, ending with
// the placeholder.
func (c *Chain) Candidates() []Source {
	out := make([]Source, 0, len(c.sources)+1)
	for _, s := range attemptOrder {
		if src, ok := c.sources[s]; ok {
			out = append(out, src)
		}
	}
	return append(out, Source{Strategy: StrategyPlaceholder, Kind: KindPlaceholder})
}
