package core

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/drive-chat/internal/store"
)

type recordingNotifier struct {
	tickets []store.Ticket
	err     error
}

func (n *recordingNotifier) TicketCreated(_ context.Context, t store.Ticket) error {
	n.tickets = append(n.tickets, t)
	return n.err
}

func newTicketService(t *testing.T, n *recordingNotifier) (*TicketService, *store.SQLiteStore) {
	t.Helper()
	db, err := store.NewSQLiteStore("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTicketService(db, n), db
}

func TestNewTicketID(t *testing.T) {
	id := NewTicketID()
	assert.Regexp(t, regexp.MustCompile(`^TKT-[0-9A-F]{8}$`), id)
	assert.NotEqual(t, id, NewTicketID())
}

func TestCreateTicket(t *testing.T) {
	n := &recordingNotifier{}
	svc, db := newTicketService(t, n)

	ticket, err := svc.CreateTicket(context.Background(), "  How do I book a room?  ", "Jo <jo@example.com>", "s1")
	require.NoError(t, err)
	assert.Equal(t, "How do I book a room?", ticket.Question)
	assert.Equal(t, store.TicketOpen, ticket.Status)
	require.NotNil(t, ticket.UserEmail)
	assert.Equal(t, "jo@example.com", *ticket.UserEmail)

	stored, err := db.GetTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.Question, stored.Question)
	require.Len(t, n.tickets, 1)
	assert.Equal(t, ticket.ID, n.tickets[0].ID)
}

func TestCreateTicket_EmptyQuestion(t *testing.T) {
	svc, db := newTicketService(t, &recordingNotifier{})

	_, err := svc.CreateTicket(context.Background(), "   ", "", "")
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	tickets, err := db.ListTickets(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, tickets)
}

func TestCreateTicket_InvalidEmail(t *testing.T) {
	svc, _ := newTicketService(t, &recordingNotifier{})
	_, err := svc.CreateTicket(context.Background(), "question", "not-an-email", "")
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestCreateTicket_NotificationFailureIsIgnored(t *testing.T) {
	svc, _ := newTicketService(t, &recordingNotifier{err: errors.New("slack down")})
	ticket, err := svc.CreateTicket(context.Background(), "question", "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.ID)
}

func TestUpdateTicketStatus(t *testing.T) {
	svc, _ := newTicketService(t, &recordingNotifier{})
	ctx := context.Background()
	ticket, err := svc.CreateTicket(ctx, "question", "", "")
	require.NoError(t, err)

	updated, err := svc.UpdateTicketStatus(ctx, ticket.ID, store.TicketResolved)
	require.NoError(t, err)
	assert.Equal(t, store.TicketResolved, updated.Status)

	_, err = svc.UpdateTicketStatus(ctx, ticket.ID, "archived")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.UpdateTicketStatus(ctx, "TKT-MISSING0", store.TicketClosed)
	assert.ErrorIs(t, err, store.ErrTicketNotFound)

	open, err := svc.ListTickets(ctx, store.TicketOpen, 10)
	require.NoError(t, err)
	assert.Empty(t, open)

	_, err = svc.ListTickets(ctx, "bogus", 10)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
