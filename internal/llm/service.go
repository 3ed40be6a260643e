// Package llm wraps the hosted Gemini models used for answers, moderation
// and embeddings.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

var ErrEmptyResponse = errors.New("model returned an empty response")

// Model is the subset of *genai.GenerativeModel the service needs.
type Model interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// ModelSpec describes how a generative model is configured for one call.
type ModelSpec struct {
	Name              string
	SystemInstruction string
	Temperature       *float32
	MaxOutputTokens   *int32
	ResponseMIMEType  string
	ResponseSchema    *genai.Schema
}

type ModelFactory func(spec ModelSpec) Model

type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

type Service struct {
	client *genai.Client
	models ModelFactory
	embed  EmbedFunc
}

// NewService connects to the Gemini API.
func NewService(ctx context.Context, apiKey, embeddingModel string) (*Service, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	s := &Service{client: client}
	s.models = s.genaiModel
	s.embed = func(ctx context.Context, text string) ([]float32, error) {
		res, err := client.EmbeddingModel(embeddingModel).EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, fmt.Errorf("gemini embedding request failed: %w", err)
		}
		if res.Embedding == nil || len(res.Embedding.Values) == 0 {
			return nil, fmt.Errorf("no embedding data received from gemini")
		}
		return res.Embedding.Values, nil
	}
	return s, nil
}

// NewServiceWith builds a Service over arbitrary models, e.g. fakes.
func NewServiceWith(models ModelFactory, embed EmbedFunc) *Service {
	return &Service{models: models, embed: embed}
}

func (s *Service) Close() {
	if s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		slog.Error("error closing GenAI client", "error", err)
	} else {
		slog.Info("GenAI client closed")
	}
}

func (s *Service) genaiModel(spec ModelSpec) Model {
	model := s.client.GenerativeModel(spec.Name)
	if spec.SystemInstruction != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(spec.SystemInstruction)},
		}
	}
	model.Temperature = spec.Temperature
	model.MaxOutputTokens = spec.MaxOutputTokens
	model.ResponseMIMEType = spec.ResponseMIMEType
	model.ResponseSchema = spec.ResponseSchema
	return model
}

// Generate sends a single-turn prompt and returns the concatenated text
// parts of the first candidate.
func (s *Service) Generate(ctx context.Context, spec ModelSpec, prompt string) (string, error) {
	resp, err := s.models(spec).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini %s request failed: %w", spec.Name, err)
	}
	return responseText(resp)
}

// Embed returns the embedding vector of text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.embed == nil {
		return nil, fmt.Errorf("embeddings are not configured")
	}
	return s.embed(ctx, text)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			slog.Debug("gemini response part was not text", "type", fmt.Sprintf("%T", part))
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", ErrEmptyResponse
	}
	return text.String(), nil
}
