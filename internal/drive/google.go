package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	listFields googleapi.Field = "nextPageToken, files(id, name, mimeType, webViewLink, webContentLink, thumbnailLink, modifiedTime)"
	getFields  googleapi.Field = "id, name, mimeType, size"

	maxExportBytes = 10 << 20
)

type Credentials struct {
	File        string
	ClientEmail string
	PrivateKey  string
}

type GoogleClient struct {
	svc     *gdrive.Service
	limiter *rate.Limiter
}

// NewGoogleClient builds a read-only Drive client. requestsPerSecond <= 0
// disables pacing.
func NewGoogleClient(ctx context.Context, creds Credentials, requestsPerSecond int) (*GoogleClient, error) {
	opts := []option.ClientOption{option.WithScopes(gdrive.DriveReadonlyScope)}
	switch {
	case creds.File != "":
		opts = append(opts, option.WithCredentialsFile(creds.File))
	case creds.ClientEmail != "" && creds.PrivateKey != "":
		raw, err := serviceAccountJSON(creds.ClientEmail, creds.PrivateKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithCredentialsJSON(raw))
	default:
		return nil, fmt.Errorf("no drive credentials provided")
	}

	svc, err := gdrive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
	return &GoogleClient{svc: svc, limiter: limiter}, nil
}

// serviceAccountJSON assembles a credentials document from the split
// email/key environment variables. Keys pasted into env files usually carry
// literal "\n" sequences.
func serviceAccountJSON(email, privateKey string) ([]byte, error) {
	doc := map[string]string{
		"type":         "service_account",
		"client_email": email,
		"private_key":  strings.ReplaceAll(privateKey, `\n`, "\n"),
		"token_uri":    "https://oauth2.googleapis.com/token",
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode service account credentials: %w", err)
	}
	return raw, nil
}

func (c *GoogleClient) ListFolder(ctx context.Context, folderID string) ([]File, error) {
	q := fmt.Sprintf("'%s' in parents and trashed = false", strings.ReplaceAll(folderID, "'", `\'`))

	var files []File
	pageToken := ""
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		call := c.svc.Files.List().
			Q(q).
			Fields(listFields).
			PageSize(100).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list drive folder %s: %w", folderID, translateErr(err))
		}
		for _, f := range res.Files {
			files = append(files, File{
				ID:             f.Id,
				Name:           f.Name,
				MimeType:       f.MimeType,
				WebViewLink:    f.WebViewLink,
				WebContentLink: f.WebContentLink,
				ThumbnailLink:  f.ThumbnailLink,
				ModifiedTime:   f.ModifiedTime,
			})
		}
		if res.NextPageToken == "" {
			break
		}
		pageToken = res.NextPageToken
	}

	slog.Debug("listed drive folder", "folder_id", folderID, "files", len(files))
	return files, nil
}

func (c *GoogleClient) ExportText(ctx context.Context, f File) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var (
		resp *http.Response
		err  error
	)
	switch f.MimeType {
	case MimeGoogleDoc, MimeGoogleSlides:
		resp, err = c.svc.Files.Export(f.ID, "text/plain").Context(ctx).Download()
	case MimeGoogleSheet:
		resp, err = c.svc.Files.Export(f.ID, "text/csv").Context(ctx).Download()
	default:
		if !f.IsDocument() {
			return "", fmt.Errorf("file %s (%s) has no text representation", f.Name, f.MimeType)
		}
		resp, err = c.svc.Files.Get(f.ID).SupportsAllDrives(true).Context(ctx).Download()
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch content of %s: %w", f.Name, translateErr(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExportBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read content of %s: %w", f.Name, err)
	}
	return string(body), nil
}

func (c *GoogleClient) Download(ctx context.Context, fileID string) (*Content, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	meta, err := c.svc.Files.Get(fileID).Fields(getFields).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get drive file %s: %w", fileID, translateErr(err))
	}

	resp, err := c.svc.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("failed to download drive file %s: %w", fileID, translateErr(err))
	}

	contentType := meta.MimeType
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}
	return &Content{Body: resp.Body, ContentType: contentType, Size: meta.Size}, nil
}

func translateErr(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
