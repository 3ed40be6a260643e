package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gwi.com/drive-chat/internal/drive"
	"gwi.com/drive-chat/internal/imagefallback"
	"gwi.com/drive-chat/internal/llm"
)

const (
	ApologyResponse          = "I'm sorry, I encountered an error while processing your request. Please try again."
	KnowledgeBaseUnavailable = "I'm sorry, I couldn't reach the knowledge base right now. Please try again in a moment."
	ModerationUnavailable    = "I'm sorry, I can't process messages right now because the content check is unavailable. Please try again in a moment."
	NoDocumentsResponse      = "Sorry, there are no relevant documents in the knowledge base for this question yet. You can create a support ticket and our team will follow up."
	FlaggedWarning           = "Your message was flagged by our content filter and was not sent."

	MaxMessageChars = 4000

	resolveConcurrency = 2
	resolveTimeout     = 20 * time.Second
)

var (
	ErrEmptyMessage   = errors.New("message cannot be empty")
	ErrMessageTooLong = fmt.Errorf("message cannot exceed %d characters", MaxMessageChars)
)

type KnowledgeSource interface {
	Build(ctx context.Context, folderID string) (*drive.KnowledgeBase, error)
}

type AnswerSource interface {
	Generate(ctx context.Context, systemInstruction, prompt string) (*llm.Answer, error)
	Structured() bool
}

type ImageResolver interface {
	Resolve(ctx context.Context, fileID string) (imagefallback.Resolution, error)
}

// ChatDeps wires a ChatService. DriveErr, when set, is reported to the
// user in place of an answer; Knowledge may then be nil.
type ChatDeps struct {
	Knowledge   KnowledgeSource
	FolderID    string
	DriveErr    error
	Moderator   llm.Moderator
	Answers     AnswerSource
	Prompts     *PromptBuilder
	Resolver    ImageResolver
	Renderer    *Renderer
	Transcripts *Transcripts
	MaxImages   int
}

type ChatService struct {
	deps ChatDeps
}

func NewChatService(deps ChatDeps) *ChatService {
	if deps.Prompts == nil {
		deps.Prompts = NewPromptBuilder(nil, nil, 0)
	}
	if deps.Resolver == nil {
		deps.Resolver = imagefallback.NewResolver(nil, nil, nil, 0)
	}
	if deps.Renderer == nil {
		deps.Renderer = NewRenderer()
	}
	if deps.Transcripts == nil {
		deps.Transcripts = NewTranscripts(0)
	}
	return &ChatService{deps: deps}
}

type TurnRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

type TurnResult struct {
	SessionID          string       `json:"sessionId"`
	UserMessage        *Message     `json:"userMessage,omitempty"`
	Reply              *Message     `json:"reply,omitempty"`
	Flagged            bool         `json:"flagged"`
	Warning            string       `json:"warning,omitempty"`
	Moderation         *llm.Verdict `json:"moderation,omitempty"`
	DiscardedMessageID string       `json:"discardedMessageId,omitempty"`
	SuggestTicket      bool         `json:"suggestTicket"`
}

// HandleTurn runs one chat turn. Only invalid input is returned as an
// error; every downstream failure becomes a reply the user can read.
func (s *ChatService) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageChars {
		return nil, ErrMessageTooLong
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	history, _ := s.deps.Transcripts.Messages(sessionID)
	userMsg := s.deps.Transcripts.Append(sessionID, Message{Role: RoleUser, Content: text})
	result := &TurnResult{SessionID: sessionID, UserMessage: &userMsg}
	log := slog.With("session_id", sessionID, "message_id", userMsg.ID)

	if s.deps.DriveErr != nil {
		log.WarnContext(ctx, "drive is not configured", "error", s.deps.DriveErr)
		s.reply(result, fmt.Sprintf("The assistant is not configured correctly (%v). Please contact an administrator.", s.deps.DriveErr), nil, false)
		return result, nil
	}

	if s.deps.Moderator != nil {
		verdict, err := s.deps.Moderator.Check(ctx, text)
		if err != nil {
			log.ErrorContext(ctx, "moderation failed", "error", err)
			s.reply(result, ModerationUnavailable, nil, false)
			return result, nil
		}
		if verdict.Harmful {
			log.InfoContext(ctx, "message flagged", "category", verdict.Category, "probability", verdict.Probability)
			s.deps.Transcripts.Remove(sessionID, userMsg.ID)
			result.UserMessage = nil
			result.Flagged = true
			result.Moderation = &verdict
			result.DiscardedMessageID = userMsg.ID
			result.Warning = flaggedWarning(verdict)
			return result, nil
		}
	}

	kb, err := s.deps.Knowledge.Build(ctx, s.deps.FolderID)
	if err != nil {
		log.ErrorContext(ctx, "failed to load knowledge base", "folder_id", s.deps.FolderID, "error", err)
		s.reply(result, KnowledgeBaseUnavailable, nil, false)
		return result, nil
	}
	if len(kb.Documents) == 0 {
		log.InfoContext(ctx, "knowledge base has no documents", "folder_id", s.deps.FolderID)
		s.reply(result, NoDocumentsResponse, nil, true)
		return result, nil
	}

	prompt := s.deps.Prompts.Build(ctx, kb, history, text)
	answer, err := s.deps.Answers.Generate(ctx, SystemInstruction(s.deps.Answers.Structured()), prompt)
	if err != nil {
		log.ErrorContext(ctx, "answer generation failed", "error", err)
		s.reply(result, ApologyResponse, nil, false)
		return result, nil
	}

	var (
		cleaned string
		images  []ImageRef
	)
	if s.deps.Answers.Structured() {
		cleaned, images = MergeStructured(answer.Text, answer.Images, kb.Images, s.deps.MaxImages)
	} else {
		cleaned, images = ExtractImages(answer.Text, kb.Images, s.deps.MaxImages)
	}
	if cleaned == "" {
		log.WarnContext(ctx, "answer was empty after removing image tags")
		s.reply(result, ApologyResponse, nil, false)
		return result, nil
	}

	images = s.resolveImages(ctx, images)
	s.reply(result, cleaned, images, cannotAnswer(cleaned))
	log.InfoContext(ctx, "turn answered", "images", len(images), "suggest_ticket", result.SuggestTicket)
	return result, nil
}

func (s *ChatService) Messages(sessionID string) ([]Message, bool) {
	return s.deps.Transcripts.Messages(sessionID)
}

func (s *ChatService) DeleteSession(sessionID string) bool {
	return s.deps.Transcripts.Delete(sessionID)
}

func (s *ChatService) reply(result *TurnResult, content string, images []ImageRef, suggestTicket bool) {
	html, err := s.deps.Renderer.Render(content)
	if err != nil {
		slog.Warn("failed to render reply", "session_id", result.SessionID, "error", err)
	}
	msg := s.deps.Transcripts.Append(result.SessionID, Message{
		Role:          RoleAssistant,
		Content:       content,
		HTML:          html,
		Images:        images,
		SuggestTicket: suggestTicket,
	})
	result.Reply = &msg
	result.SuggestTicket = suggestTicket
}

// resolveImages looks up a direct URL for every image. Each image ends
// either resolved or failed; a failed image keeps the fallback chain of its
// Drive link so the client can still try to display it.
func (s *ChatService) resolveImages(ctx context.Context, images []ImageRef) []ImageRef {
	if len(images) == 0 {
		return images
	}
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i := range images {
		img := &images[i]
		img.ProxyURL = ProxyURL(img.FileID)
		g.Go(func() error {
			res, err := s.deps.Resolver.Resolve(gctx, img.FileID)
			if err != nil || res.Failed {
				slog.WarnContext(gctx, "direct url resolution failed", "file_id", img.FileID, "error", err)
				img.Status = ImageFailed
				img.Fallbacks = imagefallback.NewChain(fallbackSource(img)).Candidates()
				return nil
			}
			img.Status = ImageResolved
			img.DirectURL = res.URL
			img.Fallbacks = res.Fallbacks
			return nil
		})
	}
	_ = g.Wait()
	return images
}

func fallbackSource(img *ImageRef) string {
	if img.URL != "" {
		return img.URL
	}
	return imagefallback.DirectURL(img.FileID)
}

func ProxyURL(fileID string) string {
	return "/api/image-proxy?fileId=" + url.QueryEscape(fileID)
}

func flaggedWarning(v llm.Verdict) string {
	msg := FlaggedWarning
	if v.Category != "" {
		msg = fmt.Sprintf("Your message was flagged by our content filter (%s) and was not sent.", v.Category)
	}
	if v.Feedback != "" {
		msg += " " + v.Feedback
	}
	return msg
}

func cannotAnswer(answer string) bool {
	a := strings.ToLower(answer)
	return strings.Contains(a, strings.ToLower(strings.TrimSuffix(NotInKnowledgeBase, "."))) ||
		strings.Contains(a, "no relevant documents")
}
