// Package drive reads the knowledge-base folder from Google Drive.
package drive

import (
	"context"
	"errors"
	"io"
	"strings"
)

const (
	MimeGoogleDoc    = "application/vnd.google-apps.document"
	MimeGoogleSheet  = "application/vnd.google-apps.spreadsheet"
	MimeGoogleSlides = "application/vnd.google-apps.presentation"
	MimeGoogleFolder = "application/vnd.google-apps.folder"
)

// ErrNotFound is returned when Drive reports the file does not exist or is
// not shared with the service account.
var ErrNotFound = errors.New("drive file not found")

type File struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	MimeType       string `json:"mimeType"`
	WebViewLink    string `json:"webViewLink,omitempty"`
	WebContentLink string `json:"webContentLink,omitempty"`
	ThumbnailLink  string `json:"thumbnailLink,omitempty"`
	ModifiedTime   string `json:"modifiedTime,omitempty"`
}

func (f File) IsImage() bool {
	return strings.HasPrefix(f.MimeType, "image/")
}

// IsDocument reports whether text can be extracted from the file.
func (f File) IsDocument() bool {
	switch f.MimeType {
	case MimeGoogleDoc, MimeGoogleSheet, MimeGoogleSlides, "application/json":
		return true
	}
	return strings.HasPrefix(f.MimeType, "text/")
}

// ShareLink is the viewer URL for the file.
func (f File) ShareLink() string {
	if f.WebViewLink != "" {
		return f.WebViewLink
	}
	return "https://drive.google.com/file/d/" + f.ID + "/view"
}

// Content is a downloaded file body. Callers must close Body.
type Content struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

type Client interface {
	ListFolder(ctx context.Context, folderID string) ([]File, error)
	ExportText(ctx context.Context, f File) (string, error)
	Download(ctx context.Context, fileID string) (*Content, error)
}
