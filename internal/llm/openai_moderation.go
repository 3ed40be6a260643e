package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// ModerationClient is the subset of *openai.Client used for moderation; it
// is easy to mock in tests.
type ModerationClient interface {
	Moderations(ctx context.Context, request openai.ModerationRequest) (openai.ModerationResponse, error)
}

func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

type OpenAIModerator struct {
	client ModerationClient
	model  string
}

func NewOpenAIModerator(client ModerationClient, model string) *OpenAIModerator {
	return &OpenAIModerator{client: client, model: model}
}

func (m *OpenAIModerator) Check(ctx context.Context, text string) (Verdict, error) {
	resp, err := m.client.Moderations(ctx, openai.ModerationRequest{Input: text, Model: m.model})
	if err != nil {
		return Verdict{}, fmt.Errorf("openai moderation request failed: %w", err)
	}
	if len(resp.Results) == 0 {
		return Verdict{}, ErrEmptyResponse
	}

	res := resp.Results[0]
	category, score := topCategory(res)
	v := Verdict{
		Harmful:     res.Flagged,
		Category:    category,
		Score:       score,
		Probability: probabilityBucket(score),
	}
	if v.Harmful {
		v.Feedback = fmt.Sprintf("Your message was flagged for %s content and was not sent. Please rephrase it.", category)
	}
	return v, nil
}

func topCategory(r openai.Result) (string, float32) {
	c, s := r.Categories, r.CategoryScores
	candidates := []struct {
		name    string
		flagged bool
		score   float32
	}{
		{"hate", c.Hate, s.Hate},
		{"hate/threatening", c.HateThreatening, s.HateThreatening},
		{"harassment", c.Harassment, s.Harassment},
		{"harassment/threatening", c.HarassmentThreatening, s.HarassmentThreatening},
		{"self-harm", c.SelfHarm, s.SelfHarm},
		{"self-harm/intent", c.SelfHarmIntent, s.SelfHarmIntent},
		{"self-harm/instructions", c.SelfHarmInstructions, s.SelfHarmInstructions},
		{"sexual", c.Sexual, s.Sexual},
		{"sexual/minors", c.SexualMinors, s.SexualMinors},
		{"violence", c.Violence, s.Violence},
		{"violence/graphic", c.ViolenceGraphic, s.ViolenceGraphic},
	}

	best, bestScore, bestFlagged := "", float32(0), false
	for _, cand := range candidates {
		switch {
		case cand.flagged && !bestFlagged,
			cand.flagged == bestFlagged && cand.score > bestScore:
			best, bestScore, bestFlagged = cand.name, cand.score, cand.flagged
		}
	}
	return best, bestScore
}

// probabilityBucket maps a score onto Gemini's probability vocabulary so both
// providers report the same shape.
func probabilityBucket(score float32) string {
	switch {
	case score >= 0.7:
		return "HIGH"
	case score >= 0.4:
		return "MEDIUM"
	case score >= 0.1:
		return "LOW"
	default:
		return "NEGLIGIBLE"
	}
}
