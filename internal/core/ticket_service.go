package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"gwi.com/drive-chat/internal/notify"
	"gwi.com/drive-chat/internal/store"
)

var (
	ErrEmptyQuestion = errors.New("question is required")
	ErrInvalidEmail  = errors.New("userEmail is not a valid email address")
	ErrInvalidStatus = errors.New("invalid ticket status")
)

const notifyTimeout = 5 * time.Second

type TicketStore interface {
	CreateTicket(ctx context.Context, t *store.Ticket) error
	GetTicket(ctx context.Context, id string) (*store.Ticket, error)
	ListTickets(ctx context.Context, status store.TicketStatus, limit int) ([]store.Ticket, error)
	UpdateTicketStatus(ctx context.Context, id string, status store.TicketStatus) (*store.Ticket, error)
}

type TicketService struct {
	store    TicketStore
	notifier notify.Notifier
	newID    func() string
}

func NewTicketService(s TicketStore, n notify.Notifier) *TicketService {
	if n == nil {
		n = notify.Nop{}
	}
	return &TicketService{store: s, notifier: n, newID: NewTicketID}
}

// NewTicketID returns an id of the form TKT-1A2B3C4D.
func NewTicketID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "TKT-" + strings.ToUpper(raw[:8])
}

// CreateTicket records an unanswered question. The notification is best
// effort and never fails the call.
func (s *TicketService) CreateTicket(ctx context.Context, question, email, sessionID string) (*store.Ticket, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	t := &store.Ticket{
		ID:       s.newID(),
		Question: question,
		Status:   store.TicketOpen,
	}
	if email = strings.TrimSpace(email); email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEmail, err)
		}
		t.UserEmail = &addr.Address
	}
	if sessionID != "" {
		t.SessionID = &sessionID
	}

	if err := s.store.CreateTicket(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to store ticket: %w", err)
	}
	slog.InfoContext(ctx, "ticket created", "ticket_id", t.ID)

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.TicketCreated(nctx, *t); err != nil {
		slog.WarnContext(ctx, "ticket notification failed", "ticket_id", t.ID, "error", err)
	}
	return t, nil
}

func (s *TicketService) ListTickets(ctx context.Context, status store.TicketStatus, limit int) ([]store.Ticket, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.store.ListTickets(ctx, status, limit)
}

func (s *TicketService) GetTicket(ctx context.Context, id string) (*store.Ticket, error) {
	return s.store.GetTicket(ctx, id)
}

func (s *TicketService) UpdateTicketStatus(ctx context.Context, id string, status store.TicketStatus) (*store.Ticket, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	t, err := s.store.UpdateTicketStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "ticket status updated", "ticket_id", id, "status", status)
	return t, nil
}
