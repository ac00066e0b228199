package automation

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kalambet/deskflow/internal/intent"
	"github.com/kalambet/deskflow/internal/storage"
)

// TicketFactory builds escalation tickets. Tickets are plain values; nothing
// downstream mutates them.
type TicketFactory struct {
	newID func() string
	now   func() time.Time
}

func NewTicketFactory() *TicketFactory {
	return &TicketFactory{
		newID: func() string { return uuid.New().String() },
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create returns a new OPEN ticket with a fresh identity.
func (f *TicketFactory) Create(userEmail, subject, message string) storage.Ticket {
	return storage.Ticket{
		TicketID:  f.newID(),
		UserEmail: userEmail,
		Subject:   subject,
		Message:   message,
		Status:    storage.TicketStatusOpen,
		CreatedAt: f.now(),
	}
}

// DraftSubject renders "Support: Password Reset" for password_reset.
func DraftSubject(label intent.Label) string {
	// A Caser holds state, so each call gets its own.
	return "Support: " + cases.Title(language.English).String(strings.ReplaceAll(string(label), "_", " "))
}

// EscalationSubject keeps the raw label so tickets can be filtered on it.
func EscalationSubject(label intent.Label) string {
	return "Escalated Issue: " + string(label)
}
