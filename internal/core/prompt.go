package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gwi.com/drive-chat/internal/cache"
	"gwi.com/drive-chat/internal/drive"
	"gwi.com/drive-chat/internal/utils"
)

const (
	// NotInKnowledgeBase is the sentence the model is told to use when the
	// documents do not answer the question.
	NotInKnowledgeBase = "I couldn't find this information in the knowledge base."

	embedInputChars = 8000
	historyTurns    = 6
)

const systemInstruction = `You are a support assistant. Answer the user's question using only the knowledge base documents provided in the prompt.
Be concise. Use markdown. When the answer is a procedure, write numbered steps.
If the knowledge base does not contain the answer, reply with exactly: "` + NotInKnowledgeBase + `"

Images:
- Only reference images listed under "Available images", using their exact ID.
- When an image illustrates a numbered step, put the tag [image-stepN: <image name> (ID: <image id>)] on its own line right after step N.
- For an image that is relevant but not tied to a step, use [image: <image name> (ID: <image id>)].
- Never invent image IDs and never write image URLs.`

const structuredInstruction = `

Respond with a JSON object: "answer" holds the markdown answer without image tags, "images" lists the referenced images as {"id", "name", "step"} where step is the step number or 0.`

// Embedder produces embedding vectors for ranking documents.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PromptBuilder turns a knowledge base and a question into model input.
type PromptBuilder struct {
	embedder Embedder
	cache    cache.Cache
	maxChars int
}

// NewPromptBuilder creates a builder. When the knowledge base text exceeds
// maxChars, documents are ranked by embedding similarity to the question
// and only the best ones that fit are kept. A nil embedder keeps documents
// in folder order instead.
func NewPromptBuilder(embedder Embedder, c cache.Cache, maxChars int) *PromptBuilder {
	return &PromptBuilder{embedder: embedder, cache: c, maxChars: maxChars}
}

func SystemInstruction(structured bool) string {
	if structured {
		return systemInstruction + structuredInstruction
	}
	return systemInstruction
}

// Build renders the user prompt for one turn. history holds earlier
// messages of the session, oldest first.
func (b *PromptBuilder) Build(ctx context.Context, kb *drive.KnowledgeBase, history []Message, question string) string {
	docs := b.SelectDocuments(ctx, kb.Documents, question)
	selected := drive.KnowledgeBase{Documents: docs}

	var p strings.Builder
	p.WriteString("--- KNOWLEDGE BASE START ---\n")
	p.WriteString(selected.Text())
	p.WriteString("\n--- KNOWLEDGE BASE END ---\n\n")

	p.WriteString("Available images:\n")
	if len(kb.Images) == 0 {
		p.WriteString("(none)\n")
	}
	for _, img := range kb.Images {
		fmt.Fprintf(&p, "- %s (ID: %s)\n", img.Name, img.ID)
	}

	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	if len(history) > 0 {
		p.WriteString("\nConversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&p, "%s: %s\n", m.Role, m.Content)
		}
	}

	fmt.Fprintf(&p, "\nQuestion: %s", question)
	return p.String()
}

// SelectDocuments returns the documents that fit the context budget.
func (b *PromptBuilder) SelectDocuments(ctx context.Context, docs []drive.Document, question string) []drive.Document {
	total := 0
	for _, d := range docs {
		total += len(d.Text)
	}
	if b.maxChars <= 0 || total <= b.maxChars {
		return docs
	}

	ordered := docs
	if b.embedder != nil {
		ranked, err := b.rank(ctx, docs, question)
		if err != nil {
			slog.WarnContext(ctx, "document ranking failed, keeping folder order", "error", err)
		} else {
			ordered = ranked
		}
	}

	var out []drive.Document
	used := 0
	for _, d := range ordered {
		if used+len(d.Text) > b.maxChars {
			if len(out) == 0 {
				d.Text = strings.ToValidUTF8(d.Text[:b.maxChars], "")
				out = append(out, d)
			}
			continue
		}
		used += len(d.Text)
		out = append(out, d)
	}
	slog.DebugContext(ctx, "knowledge base trimmed to context budget", "documents", len(docs), "kept", len(out), "chars", total)
	return out
}

func (b *PromptBuilder) rank(ctx context.Context, docs []drive.Document, question string) ([]drive.Document, error) {
	query, err := b.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	vectors := make([][]float32, len(docs))
	for i, d := range docs {
		v, err := b.documentEmbedding(ctx, d)
		if err != nil {
			slog.WarnContext(ctx, "skipping document without embedding", "document", d.Name, "error", err)
			continue
		}
		vectors[i] = v
	}

	ranked := utils.RankBySimilarity(query, vectors)
	out := make([]drive.Document, 0, len(docs))
	placed := make([]bool, len(docs))
	for _, s := range ranked {
		out = append(out, docs[s.Index])
		placed[s.Index] = true
	}
	// Unranked documents follow in folder order.
	for i, d := range docs {
		if !placed[i] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (b *PromptBuilder) documentEmbedding(ctx context.Context, d drive.Document) ([]float32, error) {
	key := "emb:" + d.ID + ":" + d.ModifiedTime
	if b.cache != nil {
		var v []float32
		err := cache.GetJSON(ctx, b.cache, key, &v)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			slog.WarnContext(ctx, "embedding cache read failed", "document", d.Name, "error", err)
		}
	}

	input := d.Text
	if len(input) > embedInputChars {
		input = strings.ToValidUTF8(input[:embedInputChars], "")
	}
	v, err := b.embedder.Embed(ctx, d.Name+"\n"+input)
	if err != nil {
		return nil, err
	}
	if b.cache != nil {
		if err := cache.SetJSON(ctx, b.cache, key, v, 24*time.Hour); err != nil {
			slog.WarnContext(ctx, "embedding cache write failed", "document", d.Name, "error", err)
		}
	}
	return v, nil
}
