package storage

import (
	"fmt"
	"time"
)

// Status is the workflow state of a draft record. The set is closed.
type Status string

const (
	StatusSaveDraft       Status = "SAVE_DRAFT"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusAdminDraft      Status = "ADMIN_DRAFT"
	StatusApproved        Status = "APPROVED"
	StatusSent            Status = "SENT"
	StatusEscalated       Status = "ESCALATED"
)

// AllStatuses lists every valid Status.
var AllStatuses = []Status{
	StatusSaveDraft,
	StatusPendingApproval,
	StatusAdminDraft,
	StatusApproved,
	StatusSent,
	StatusEscalated,
}

// PendingStatuses are the states that still need a human to act.
var PendingStatuses = []Status{
	StatusPendingApproval,
	StatusSaveDraft,
	StatusAdminDraft,
}

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusSaveDraft, StatusPendingApproval, StatusAdminDraft,
		StatusApproved, StatusSent, StatusEscalated:
		return true
	}
	return false
}

// ParseStatus converts raw into a Status, rejecting anything outside the set.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// Record is a persisted draft, keyed by TicketID.
type Record struct {
	TicketID          string    `json:"ticket_id"`
	RecipientEmail    string    `json:"recipient_email"`
	Subject           string    `json:"subject"`
	Body              string    `json:"body"`
	Confidence        float64   `json:"confidence"`
	Status            Status    `json:"status"`
	ExternalReference string    `json:"external_reference,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewRecord carries the caller-supplied fields for CreateRecord.
type NewRecord struct {
	TicketID       string
	RecipientEmail string
	Subject        string
	Body           string
	Confidence     float64
	Status         Status
}

// TicketStatusOpen is the only state a ticket has in this system.
const TicketStatusOpen = "OPEN"

// Ticket is an escalation handed to humans outside the draft workflow.
// Tickets are insert-only.
type Ticket struct {
	TicketID  string    `json:"ticket_id"`
	UserEmail string    `json:"user_email"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ContextDoc is a knowledge-base passage the retriever searches over.
type ContextDoc struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	VectorID  string    `json:"vector_id,omitempty"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
