package llm

import (
	"context"
	"sync"

	"github.com/google/generative-ai-go/genai"
)

type fakeReply struct {
	text string
	err  error
}

// fakeModels hands out scripted replies in order and records every spec and
// prompt it was called with.
type fakeModels struct {
	mu      sync.Mutex
	replies []fakeReply
	specs   []ModelSpec
	prompts []string
}

func (f *fakeModels) factory(spec ModelSpec) Model {
	return &fakeModel{parent: f, spec: spec}
}

type fakeModel struct {
	parent *fakeModels
	spec   ModelSpec
}

func (m *fakeModel) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f := m.parent
	f.mu.Lock()
	defer f.mu.Unlock()

	f.specs = append(f.specs, m.spec)
	for _, p := range parts {
		if t, ok := p.(genai.Text); ok {
			f.prompts = append(f.prompts, string(t))
		}
	}
	if len(f.replies) == 0 {
		panic("fakeModels: no more replies configured")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	if r.err != nil {
		return nil, r.err
	}
	return textResponse(r.text), nil
}

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(s)}},
		}},
	}
}
