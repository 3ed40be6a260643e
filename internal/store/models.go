package store

import "time"

type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
	TicketClosed     TicketStatus = "closed"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketOpen, TicketInProgress, TicketResolved, TicketClosed:
		return true
	}
	return false
}

type Ticket struct {
	ID        string       `json:"id"`
	Question  string       `json:"question"`
	UserEmail *string      `json:"userEmail,omitempty"` // Nullable
	SessionID *string      `json:"sessionId,omitempty"` // Nullable
	Status    TicketStatus `json:"status"`
	CreatedAt time.Time    `json:"timestamp"`
	UpdatedAt time.Time    `json:"updatedAt"`
}
