package core

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"gwi.com/drive-chat/internal/drive"
	"gwi.com/drive-chat/internal/imagefallback"
	"gwi.com/drive-chat/internal/llm"
)

// ImageStatus is the terminal state of direct-URL resolution for an image.
type ImageStatus string

const (
	ImagePending  ImageStatus = "pending"
	ImageResolved ImageStatus = "resolved"
	ImageFailed   ImageStatus = "failed"
)

// ImageRef is an image shown with an assistant reply.
type ImageRef struct {
	FileID    string                 `json:"fileId"`
	URL       string                 `json:"url"`
	Alt       string                 `json:"alt,omitempty"`
	StepID    string                 `json:"stepId,omitempty"`
	DirectURL string                 `json:"directUrl,omitempty"`
	ProxyURL  string                 `json:"proxyUrl"`
	Status    ImageStatus            `json:"status"`
	Fallbacks []imagefallback.Source `json:"fallbacks,omitempty"`
}

// imageTagPattern matches [image-step<N>: <name> (ID: <id>)] and
// [image: <name> (ID: <id>)].
var imageTagPattern = regexp.MustCompile(`(?i)\[image(?:-step\s*(\d+))?:\s*([^\]\n]*?)\s*\(\s*ID:\s*([^)\s]+)\s*\)\s*\]`)

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	extraNewlines = regexp.MustCompile(`\n{3,}`)
)

func StepID(n int) string {
	return "step-" + strconv.Itoa(n)
}

// imageCollector applies the selection rules shared by tag and structured
// extraction: ids must exist in the pool, (step, id) pairs are shown once,
// an unstepped repeat of an id already shown is dropped, and at most limit
// images are kept when limit > 0.
type imageCollector struct {
	pool  map[string]drive.Image
	limit int
	seen  map[string]bool
	ids   map[string]bool
	out   []ImageRef
}

func newImageCollector(pool []drive.Image, limit int) *imageCollector {
	byID := make(map[string]drive.Image, len(pool))
	for _, img := range pool {
		byID[img.ID] = img
	}
	return &imageCollector{pool: byID, limit: limit, seen: map[string]bool{}, ids: map[string]bool{}}
}

func (c *imageCollector) add(id string, step int) {
	if c.limit > 0 && len(c.out) >= c.limit {
		return
	}
	img, ok := c.pool[id]
	if !ok {
		slog.Debug("image reference does not match any drive image", "id", id)
		return
	}
	stepID := ""
	if step > 0 {
		stepID = StepID(step)
	} else if c.ids[id] {
		return
	}
	key := stepID + "|" + id
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	c.ids[id] = true

	alt := img.Name
	c.out = append(c.out, ImageRef{
		FileID: img.ID,
		URL:    img.Link,
		Alt:    alt,
		StepID: stepID,
		Status: ImagePending,
	})
}

// ExtractImages strips every image tag from answer and returns the cleaned
// text with the images the tags reference, in order of appearance.
func ExtractImages(answer string, pool []drive.Image, limit int) (string, []ImageRef) {
	c := newImageCollector(pool, limit)
	collectTags(c, answer)
	return cleanAnswer(answer), c.out
}

// MergeStructured combines images the model returned as structured output
// with any tags it still wrote into the text. Structured references come
// first.
func MergeStructured(answer string, refs []llm.ImageReference, pool []drive.Image, limit int) (string, []ImageRef) {
	c := newImageCollector(pool, limit)
	for _, r := range refs {
		c.add(strings.TrimSpace(r.ID), r.Step)
	}
	collectTags(c, answer)
	return cleanAnswer(answer), c.out
}

func collectTags(c *imageCollector, answer string) {
	for _, m := range imageTagPattern.FindAllStringSubmatch(answer, -1) {
		step := 0
		if m[1] != "" {
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 {
				continue
			}
			step = n
		}
		c.add(m[3], step)
	}
}

func cleanAnswer(answer string) string {
	cleaned := imageTagPattern.ReplaceAllString(answer, "")
	cleaned = strings.ReplaceAll(cleaned, "\r\n", "\n")
	cleaned = trailingSpace.ReplaceAllString(cleaned, "\n")
	cleaned = extraNewlines.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
