package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"gwi.com/drive-chat/internal/cache"
)

type Document struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	ModifiedTime string `json:"modifiedTime,omitempty"`
	Text         string `json:"text"`
}

type Image struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	MimeType      string `json:"mimeType"`
	Link          string `json:"link"`
	ThumbnailLink string `json:"thumbnailLink,omitempty"`
}

// KnowledgeBase is the text and image catalogue of one Drive folder.
type KnowledgeBase struct {
	FolderID  string     `json:"folderId"`
	Documents []Document `json:"documents"`
	Images    []Image    `json:"images"`
	FetchedAt time.Time  `json:"fetchedAt"`
}

// Text concatenates all documents, each under a heading with its name.
func (kb *KnowledgeBase) Text() string {
	var b strings.Builder
	for i, d := range kb.Documents {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "=== Document: %s ===\n%s", d.Name, strings.TrimSpace(d.Text))
	}
	return b.String()
}

type Builder struct {
	client      Client
	cache       cache.Cache
	ttl         time.Duration
	concurrency int
}

// NewBuilder creates a knowledge-base builder. A nil cache or zero ttl
// disables caching.
func NewBuilder(client Client, c cache.Cache, ttl time.Duration, concurrency int) *Builder {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Builder{client: client, cache: c, ttl: ttl, concurrency: concurrency}
}

func (b *Builder) Client() Client {
	return b.client
}

// Build lists folderID and extracts every readable document. Documents that
// fail to export are skipped; a listing failure fails the build.
func (b *Builder) Build(ctx context.Context, folderID string) (*KnowledgeBase, error) {
	key := "kb:" + folderID
	if b.cache != nil && b.ttl > 0 {
		var kb KnowledgeBase
		err := cache.GetJSON(ctx, b.cache, key, &kb)
		if err == nil {
			return &kb, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			slog.Warn("knowledge base cache read failed", "folder_id", folderID, "error", err)
		}
	}

	files, err := b.client.ListFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}

	kb := &KnowledgeBase{FolderID: folderID, FetchedAt: time.Now()}
	var docFiles []File
	for _, f := range files {
		switch {
		case f.IsImage():
			kb.Images = append(kb.Images, Image{
				ID:            f.ID,
				Name:          f.Name,
				MimeType:      f.MimeType,
				Link:          f.ShareLink(),
				ThumbnailLink: f.ThumbnailLink,
			})
		case f.IsDocument():
			docFiles = append(docFiles, f)
		default:
			slog.Debug("skipping unsupported drive file", "name", f.Name, "mime_type", f.MimeType)
		}
	}

	texts := make([]string, len(docFiles))
	ok := make([]bool, len(docFiles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, f := range docFiles {
		i, f := i, f
		g.Go(func() error {
			text, err := b.client.ExportText(gctx, f)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("skipping unreadable document", "name", f.Name, "id", f.ID, "error", err)
				return nil
			}
			if strings.TrimSpace(text) == "" {
				return nil
			}
			texts[i] = text
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to read knowledge base documents: %w", err)
	}

	for i, f := range docFiles {
		if !ok[i] {
			continue
		}
		kb.Documents = append(kb.Documents, Document{
			ID:           f.ID,
			Name:         f.Name,
			MimeType:     f.MimeType,
			ModifiedTime: f.ModifiedTime,
			Text:         texts[i],
		})
	}

	slog.Info("knowledge base built", "folder_id", folderID, "documents", len(kb.Documents), "images", len(kb.Images))

	if b.cache != nil && b.ttl > 0 {
		if err := cache.SetJSON(ctx, b.cache, key, kb, b.ttl); err != nil {
			slog.Warn("knowledge base cache write failed", "folder_id", folderID, "error", err)
		}
	}
	return kb, nil
}
