package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/generative-ai-go/genai"
)

// ImageReference is an image the model attached to its answer when
// structured output is enabled. Step is 0 for images not tied to a step.
type ImageReference struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Step int    `json:"step,omitempty"`
}

type Answer struct {
	Text   string
	Images []ImageReference
}

var answerSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"answer": {Type: genai.TypeString, Description: "Markdown answer for the user."},
		"images": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"id":   {Type: genai.TypeString},
					"name": {Type: genai.TypeString},
					"step": {Type: genai.TypeInteger, Description: "Step number the image illustrates, 0 if none."},
				},
				Required: []string{"id"},
			},
		},
	},
	Required: []string{"answer"},
}

type AnswerGenerator struct {
	svc        *Service
	model      string
	structured bool
	retrier    *Retrier
}

// NewAnswerGenerator returns a generator for chat answers. With structured
// set, the model is asked for a JSON object carrying the answer and a typed
// image list instead of inline tags.
func NewAnswerGenerator(svc *Service, model string, structured bool, retrier *Retrier) *AnswerGenerator {
	if retrier == nil {
		retrier = &Retrier{}
	}
	return &AnswerGenerator{svc: svc, model: model, structured: structured, retrier: retrier}
}

func (g *AnswerGenerator) Structured() bool {
	return g.structured
}

func (g *AnswerGenerator) Generate(ctx context.Context, systemInstruction, prompt string) (*Answer, error) {
	temp := float32(0.2)
	spec := ModelSpec{
		Name:              g.model,
		SystemInstruction: systemInstruction,
		Temperature:       &temp,
	}
	if g.structured {
		spec.ResponseMIMEType = "application/json"
		spec.ResponseSchema = answerSchema
	}

	var raw string
	err := g.retrier.Do(ctx, "generation", func(ctx context.Context) error {
		var err error
		raw, err = g.svc.Generate(ctx, spec, prompt)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !g.structured {
		return &Answer{Text: raw}, nil
	}
	var out struct {
		Answer string           `json:"answer"`
		Images []ImageReference `json:"images"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &out); err != nil {
		return nil, fmt.Errorf("failed to parse structured answer: %w", err)
	}
	return &Answer{Text: out.Answer, Images: out.Images}, nil
}
