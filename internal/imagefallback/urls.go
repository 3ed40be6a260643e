// Package imagefallback resolves Drive image links to URLs a browser can
// render and models the recovery chain used when an image fails to load.
package imagefallback

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// PlaceholderGlyph replaces an image when every strategy has failed.
const PlaceholderGlyph = "🖼️"

var (
	fileIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	pathIDPattern  = regexp.MustCompile(`/d/([A-Za-z0-9_-]+)`)
	cacheBustParam = "cb"
)

// ValidFileID reports whether id looks like a Drive file identifier.
func ValidFileID(id string) bool {
	return fileIDPattern.MatchString(id)
}

func IsUserContentURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(u.Hostname()), "usercontent")
}

func IsDriveURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "drive.google.com" || host == "docs.google.com"
}

// ExtractFileID pulls the file identifier out of a Drive share link or a
// Drive-backed usercontent URL.
func ExtractFileID(raw string) (string, bool) {
	if !IsDriveURL(raw) && !IsUserContentURL(raw) {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if m := pathIDPattern.FindStringSubmatch(u.Path); m != nil {
		return m[1], true
	}
	if id := u.Query().Get("id"); ValidFileID(id) {
		return id, true
	}
	return "", false
}

// CacheBust appends a timestamp query parameter so the CDN and the browser
// treat the URL as new.
func CacheBust(raw string, now time.Time) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(cacheBustParam, strconv.FormatInt(now.UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String()
}

func ExportViewURL(fileID string) string {
	return "https://drive.google.com/uc?export=view&id=" + url.QueryEscape(fileID)
}

func PreviewURL(fileID string) string {
	return "https://drive.google.com/file/d/" + url.PathEscape(fileID) + "/preview"
}

// DirectURL is the canonical usercontent CDN URL for a file.
func DirectURL(fileID string) string {
	return "https://lh3.googleusercontent.com/d/" + url.PathEscape(fileID)
}

func ViewerURL(fileID string) string {
	return "https://drive.google.com/file/d/" + url.PathEscape(fileID) + "/view"
}
