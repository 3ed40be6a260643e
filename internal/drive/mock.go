package drive

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sync"
)

// onePixelPNG is served for every mock image.
var onePixelPNG, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=")

// MockClient is an in-memory Drive folder used in development when no
// credentials are configured, and by tests.
type MockClient struct {
	mu      sync.Mutex
	folders map[string][]File
	texts   map[string]string
	blobs   map[string][]byte

	// ListErr, when set, is returned by every ListFolder call.
	ListErr error
}

func NewMockClient() *MockClient {
	return &MockClient{
		folders: make(map[string][]File),
		texts:   make(map[string]string),
		blobs:   make(map[string][]byte),
	}
}

func (m *MockClient) AddDocument(folderID string, f File, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.folders[folderID] = append(m.folders[folderID], f)
	m.texts[f.ID] = text
}

func (m *MockClient) AddImage(folderID string, f File, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.folders[folderID] = append(m.folders[folderID], f)
	m.blobs[f.ID] = data
}

func (m *MockClient) ListFolder(_ context.Context, folderID string) ([]File, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]File(nil), m.folders[folderID]...), nil
}

func (m *MockClient) ExportText(_ context.Context, f File) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.texts[f.ID]
	if !ok {
		return "", fmt.Errorf("failed to fetch content of %s: %w", f.Name, ErrNotFound)
	}
	return text, nil
}

func (m *MockClient) Download(_ context.Context, fileID string) (*Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, files := range m.folders {
		for _, f := range files {
			if f.ID != fileID {
				continue
			}
			data, ok := m.blobs[fileID]
			if !ok {
				data = []byte(m.texts[fileID])
			}
			return &Content{
				Body:        io.NopCloser(bytes.NewReader(data)),
				ContentType: f.MimeType,
				Size:        int64(len(data)),
			}, nil
		}
	}
	return nil, fmt.Errorf("failed to get drive file %s: %w", fileID, ErrNotFound)
}

const SampleFolderID = "sample-folder"

// NewSampleClient returns a MockClient preloaded with a small help-desk
// folder under SampleFolderID.
func NewSampleClient() *MockClient {
	m := NewMockClient()
	m.AddDocument(SampleFolderID, File{
		ID:       "doc-router-reset",
		Name:     "Router reset guide",
		MimeType: MimeGoogleDoc,
	}, `How to reset the office router

1. Locate the reset pinhole on the back panel, next to the power socket.
2. Hold the reset button for 10 seconds until the status light blinks amber.
3. Wait two minutes, then connect to the network named "Office-Setup" and sign in with the admin sheet password.`)
	m.AddDocument(SampleFolderID, File{
		ID:       "doc-vpn",
		Name:     "VPN access",
		MimeType: "text/markdown",
	}, `# VPN access

Request VPN access through the IT portal. Approval takes one business day.
Install the client from the software centre and sign in with your company account.`)
	m.AddImage(SampleFolderID, File{
		ID:       "img-router-back",
		Name:     "router-back.png",
		MimeType: "image/png",
	}, onePixelPNG)
	m.AddImage(SampleFolderID, File{
		ID:       "img-status-light",
		Name:     "status-light.png",
		MimeType: "image/png",
	}, onePixelPNG)
	return m
}
