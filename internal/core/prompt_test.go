package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/drive-chat/internal/cache"
	"gwi.com/drive-chat/internal/drive"
)

// keywordEmbedder maps text onto a two-dimensional space: routers and
// everything else.
type keywordEmbedder struct {
	calls int
	err   error
	// docErr fails only document inputs, which carry a name line.
	docErr error
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if e.docErr != nil && strings.Contains(text, "\n") {
		return nil, e.docErr
	}
	if strings.Contains(strings.ToLower(text), "router") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func testDocs() []drive.Document {
	return []drive.Document{
		{ID: "d1", Name: "VPN", Text: strings.Repeat("v", 40)},
		{ID: "d2", Name: "Router", Text: strings.Repeat("r", 40)},
		{ID: "d3", Name: "Printer", Text: strings.Repeat("p", 40)},
	}
}

func TestPromptBuilder_Build(t *testing.T) {
	kb := &drive.KnowledgeBase{
		Documents: []drive.Document{{ID: "d1", Name: "Router reset guide", Text: "Hold reset for 10 seconds."}},
		Images:    []drive.Image{{ID: "img-1", Name: "router-back.png"}},
	}
	history := []Message{{Role: RoleUser, Content: "hello"}, {Role: RoleAssistant, Content: "hi there"}}

	p := NewPromptBuilder(nil, nil, 0).Build(context.Background(), kb, history, "How do I reset?")
	assert.Contains(t, p, "Hold reset for 10 seconds.")
	assert.Contains(t, p, "- router-back.png (ID: img-1)")
	assert.Contains(t, p, "assistant: hi there")
	assert.True(t, strings.HasSuffix(p, "Question: How do I reset?"))
}

func TestPromptBuilder_NoImages(t *testing.T) {
	kb := &drive.KnowledgeBase{Documents: testDocs()}
	p := NewPromptBuilder(nil, nil, 0).Build(context.Background(), kb, nil, "q")
	assert.Contains(t, p, "Available images:\n(none)")
	assert.NotContains(t, p, "Conversation so far")
}

func TestSelectDocuments_UnderBudget(t *testing.T) {
	e := &keywordEmbedder{}
	docs := NewPromptBuilder(e, nil, 1000).SelectDocuments(context.Background(), testDocs(), "router")
	assert.Len(t, docs, 3)
	assert.Zero(t, e.calls)
}

func TestSelectDocuments_RanksByEmbedding(t *testing.T) {
	e := &keywordEmbedder{}
	c := cache.NewMemoryCache()
	b := NewPromptBuilder(e, c, 50)

	docs := b.SelectDocuments(context.Background(), testDocs(), "my router is broken")
	require.Len(t, docs, 1)
	assert.Equal(t, "d2", docs[0].ID)
	assert.Equal(t, 4, e.calls)

	b.SelectDocuments(context.Background(), testDocs(), "router again")
	assert.Equal(t, 5, e.calls, "document embeddings come from the cache")
}

func TestSelectDocuments_EmbeddingFailureKeepsOrder(t *testing.T) {
	e := &keywordEmbedder{err: errors.New("quota")}
	docs := NewPromptBuilder(e, nil, 85).SelectDocuments(context.Background(), testDocs(), "router")
	require.Len(t, docs, 2)
	assert.Equal(t, "d1", docs[0].ID)
	assert.Equal(t, "d2", docs[1].ID)
}

func TestSelectDocuments_DocumentEmbeddingFailureKeepsFolderOrder(t *testing.T) {
	e := &keywordEmbedder{docErr: errors.New("quota")}
	docs := NewPromptBuilder(e, nil, 85).SelectDocuments(context.Background(), testDocs(), "router")
	require.Len(t, docs, 2)
	assert.Equal(t, "d1", docs[0].ID)
	assert.Equal(t, "d2", docs[1].ID)
}

func TestSelectDocuments_UnrankedDocumentsFollowRanked(t *testing.T) {
	e := &failingDocEmbedder{failID: "VPN"}
	docs := NewPromptBuilder(e, nil, 85).SelectDocuments(context.Background(), testDocs(), "router")
	require.Len(t, docs, 2)
	assert.Equal(t, "d2", docs[0].ID)
	assert.Equal(t, "d3", docs[1].ID)
}

// failingDocEmbedder embeds like keywordEmbedder but fails for the document
// whose name starts the input with failID.
type failingDocEmbedder struct {
	keywordEmbedder
	failID string
}

func (e *failingDocEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.HasPrefix(text, e.failID+"\n") {
		return nil, errors.New("input rejected")
	}
	return e.keywordEmbedder.Embed(ctx, text)
}

func TestSelectDocuments_TruncatesOversizedFirstDocument(t *testing.T) {
	docs := NewPromptBuilder(nil, nil, 10).SelectDocuments(context.Background(), testDocs(), "q")
	require.Len(t, docs, 1)
	assert.Len(t, docs[0].Text, 10)
}

func TestSystemInstruction(t *testing.T) {
	assert.Contains(t, SystemInstruction(false), "[image-stepN:")
	assert.Contains(t, SystemInstruction(false), NotInKnowledgeBase)
	assert.Contains(t, SystemInstruction(true), `"images"`)
}
