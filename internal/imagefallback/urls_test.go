package imagefallback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractFileID(t *testing.T) {
	tests := []struct {
		url    string
		wantID string
		wantOK bool
	}{
		{"https://drive.google.com/file/d/1AbC_d-9/view?usp=sharing", "1AbC_d-9", true},
		{"https://drive.google.com/open?id=XYZ123", "XYZ123", true},
		{"https://drive.google.com/uc?export=view&id=XYZ123", "XYZ123", true},
		{"https://docs.google.com/document/d/docID/edit", "docID", true},
		{"https://lh3.googleusercontent.com/d/abc123", "abc123", true},
		{"https://lh3.googleusercontent.com/a-b-c=w800", "", false},
		{"https://example.com/file/d/abc/view", "", false},
		{"https://drive.google.com/drive/folders", "", false},
		{"::not a url", "", false},
	}
	for _, tt := range tests {
		id, ok := ExtractFileID(tt.url)
		assert.Equal(t, tt.wantOK, ok, tt.url)
		assert.Equal(t, tt.wantID, id, tt.url)
	}
}

func TestHosts(t *testing.T) {
	assert.True(t, IsUserContentURL("https://lh3.googleusercontent.com/d/x"))
	assert.True(t, IsUserContentURL("https://drive.usercontent.google.com/download?id=x"))
	assert.False(t, IsUserContentURL("https://drive.google.com/file/d/x/view"))
	assert.True(t, IsDriveURL("https://drive.google.com/file/d/x/view"))
	assert.False(t, IsDriveURL("https://example.com"))
}

func TestCacheBust(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	assert.Equal(t, "https://lh3.googleusercontent.com/d/x?cb=1700000000000",
		CacheBust("https://lh3.googleusercontent.com/d/x", now))
	assert.Equal(t, "https://lh3.googleusercontent.com/d/x?cb=1700000000000&sz=w800",
		CacheBust("https://lh3.googleusercontent.com/d/x?sz=w800", now))
}

func TestCanonicalURLs(t *testing.T) {
	assert.Equal(t, "https://drive.google.com/uc?export=view&id=abc", ExportViewURL("abc"))
	assert.Equal(t, "https://drive.google.com/file/d/abc/preview", PreviewURL("abc"))
	assert.Equal(t, "https://lh3.googleusercontent.com/d/abc", DirectURL("abc"))
	assert.Equal(t, "https://drive.google.com/file/d/abc/view", ViewerURL("abc"))
	assert.True(t, ValidFileID("1AbC_d-9"))
	assert.False(t, ValidFileID("../etc/passwd"))
	assert.False(t, ValidFileID(""))
}
