package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/deskflow/internal/mail"
	"github.com/kalambet/deskflow/internal/storage"
	"github.com/kalambet/deskflow/internal/telemetry"
)

// ErrNotApproved is returned when sending a draft that is not APPROVED.
var ErrNotApproved = errors.New("draft is not approved")

// Reviewer applies human decisions to drafts. Any status in the closed set
// may be set directly; Send is the only transition with a precondition.
type Reviewer struct {
	records RecordStore
	mailer  mail.Mailer
	logger  *slog.Logger

	// sendMu keeps two Sends of the same draft from both delivering.
	sendMu sync.Mutex
}

func NewReviewer(records RecordStore, mailer mail.Mailer, logger *slog.Logger) *Reviewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reviewer{records: records, mailer: mailer, logger: logger}
}

// Get loads a draft, reporting a missing id as storage.ErrNotFound.
func (r *Reviewer) Get(ctx context.Context, ticketID string) (storage.Record, error) {
	rec, ok, err := r.records.LoadRecord(ctx, ticketID)
	if err != nil {
		return storage.Record{}, err
	}
	if !ok {
		return storage.Record{}, fmt.Errorf("%w: record %s", storage.ErrNotFound, ticketID)
	}
	return rec, nil
}

// SetStatus moves a draft to status and returns the updated record.
func (r *Reviewer) SetStatus(ctx context.Context, ticketID string, status storage.Status) (storage.Record, error) {
	if err := r.records.UpdateRecordStatus(ctx, ticketID, status); err != nil {
		return storage.Record{}, err
	}
	telemetry.StatusTransitions.WithLabelValues(string(status)).Inc()
	r.logger.Info("draft status changed", "ticket_id", ticketID, "status", status)
	return r.Get(ctx, ticketID)
}

func (r *Reviewer) Approve(ctx context.Context, ticketID string) (storage.Record, error) {
	return r.SetStatus(ctx, ticketID, storage.StatusApproved)
}

// Send delivers an APPROVED draft and marks it SENT with the message id as
// its external reference. The status check, delivery and write happen under
// the record's lock, so a concurrent SetStatus lands either before (and the
// send is refused) or after.
func (r *Reviewer) Send(ctx context.Context, ticketID string) (storage.Record, error) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	var res mail.DeliveryResult
	delivered := false
	err := r.records.DeliverRecord(ctx, ticketID, storage.StatusSent, func(rec storage.Record) (string, error) {
		if rec.Status != storage.StatusApproved {
			return "", fmt.Errorf("%w: record %s is %s", ErrNotApproved, ticketID, rec.Status)
		}
		var err error
		res, err = r.mailer.Send(ctx, mail.Message{To: rec.RecipientEmail, Subject: rec.Subject, Body: rec.Body})
		if err != nil {
			return "", fmt.Errorf("delivering record %s: %w", ticketID, err)
		}
		delivered = true
		return res.MessageID, nil
	})
	if err != nil {
		if delivered {
			// The mail is out; the record still says APPROVED.
			r.logger.Error("draft sent but status not recorded", "ticket_id", ticketID, "message_id", res.MessageID, "error", err)
		}
		return storage.Record{}, err
	}
	telemetry.MailSent.Inc()
	telemetry.StatusTransitions.WithLabelValues(string(storage.StatusSent)).Inc()
	r.logger.Info("draft sent", "ticket_id", ticketID, "message_id", res.MessageID, "transport", res.Transport)
	return r.Get(ctx, ticketID)
}

// Pending lists drafts still waiting for a human.
func (r *Reviewer) Pending(ctx context.Context) ([]storage.Record, error) {
	return r.records.ListRecordsByStatus(ctx, storage.PendingStatuses)
}

// List returns drafts in any of statuses.
func (r *Reviewer) List(ctx context.Context, statuses []storage.Status) ([]storage.Record, error) {
	return r.records.ListRecordsByStatus(ctx, statuses)
}
