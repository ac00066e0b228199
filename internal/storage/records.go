package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const recordColumns = `ticket_id, recipient_email, subject, body, confidence, status, external_reference, updated_at`

// RecordLocation is the stable address of a draft record, returned by CreateRecord.
func RecordLocation(ticketID string) string {
	return "drafts/" + ticketID
}

// CreateRecord persists a new draft and returns its location. The write is a
// single transaction, so a failure leaves nothing visible to LoadRecord.
func (s *Store) CreateRecord(ctx context.Context, r NewRecord) (string, error) {
	if !r.Status.Valid() {
		return "", fmt.Errorf("%w: %q for record %s", ErrInvalidStatus, r.Status, r.TicketID)
	}
	if r.TicketID == "" {
		return "", fmt.Errorf("%w: empty ticket id", ErrStorageFailure)
	}

	unlock := s.locks.Lock(r.TicketID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: beginning insert for record %s: %w", ErrStorageFailure, r.TicketID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO drafts (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, NULL, ?)`,
		r.TicketID, r.RecipientEmail, r.Subject, r.Body, r.Confidence, string(r.Status), formatTime(s.now()),
	)
	if err != nil {
		return "", fmt.Errorf("%w: inserting record %s: %w", ErrStorageFailure, r.TicketID, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: committing record %s: %w", ErrStorageFailure, r.TicketID, err)
	}
	return RecordLocation(r.TicketID), nil
}

// LoadRecord returns the record for ticketID. A missing record is reported
// through the boolean, not as an error.
func (s *Store) LoadRecord(ctx context.Context, ticketID string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM drafts WHERE ticket_id = ?`, ticketID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// ListRecordsByStatus returns every record whose status is in statuses,
// oldest update first. An empty set matches nothing.
func (s *Store) ListRecordsByStatus(ctx context.Context, statuses []Status) ([]Record, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, st)
		}
		args[i] = string(st)
	}

	query := `SELECT ` + recordColumns + ` FROM drafts
		WHERE status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)
		ORDER BY updated_at ASC, ticket_id ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateRecordStatus moves a record to status, refreshing updated_at and
// leaving every other field as it was. Updates on the same id serialize.
func (s *Store) UpdateRecordStatus(ctx context.Context, ticketID string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q for record %s", ErrInvalidStatus, status, ticketID)
	}
	return s.mutateRecord(ctx, ticketID, func(r *Record) {
		r.Status = status
	})
}

// AttachExternalReference records a downstream identifier (a mail message id,
// for instance) together with the status it implies.
func (s *Store) AttachExternalReference(ctx context.Context, ticketID, ref string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q for record %s", ErrInvalidStatus, status, ticketID)
	}
	return s.mutateRecord(ctx, ticketID, func(r *Record) {
		r.ExternalReference = ref
		r.Status = status
	})
}

// DeliverRecord holds the per-id lock while deliver inspects the record and
// hands it downstream, then stores the returned reference with status. No
// other status change for ticketID can land between the read and the write.
// An error from deliver is returned unchanged and nothing is written.
func (s *Store) DeliverRecord(ctx context.Context, ticketID string, status Status, deliver func(Record) (string, error)) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q for record %s", ErrInvalidStatus, status, ticketID)
	}
	unlock := s.locks.Lock(ticketID)
	defer unlock()

	rec, ok, err := s.LoadRecord(ctx, ticketID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: record %s", ErrNotFound, ticketID)
	}
	ref, err := deliver(rec)
	if err != nil {
		return err
	}
	return s.mutateLocked(ctx, ticketID, func(r *Record) {
		r.ExternalReference = ref
		r.Status = status
	})
}

func (s *Store) mutateRecord(ctx context.Context, ticketID string, fn func(*Record)) error {
	unlock := s.locks.Lock(ticketID)
	defer unlock()
	return s.mutateLocked(ctx, ticketID, fn)
}

// mutateLocked expects the caller to hold the lock for ticketID.
func (s *Store) mutateLocked(ctx context.Context, ticketID string, fn func(*Record)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning update for record %s: %w", ErrStorageFailure, ticketID, err)
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM drafts WHERE ticket_id = ?`, ticketID))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: record %s", ErrNotFound, ticketID)
	}
	if err != nil {
		return err
	}

	fn(&rec)
	rec.UpdatedAt = s.nextUpdatedAt(rec.UpdatedAt)

	_, err = tx.ExecContext(ctx, `UPDATE drafts
		SET recipient_email = ?, subject = ?, body = ?, confidence = ?, status = ?, external_reference = ?, updated_at = ?
		WHERE ticket_id = ?`,
		rec.RecipientEmail, rec.Subject, rec.Body, rec.Confidence, string(rec.Status),
		nullString(rec.ExternalReference), formatTime(rec.UpdatedAt), ticketID,
	)
	if err != nil {
		return fmt.Errorf("%w: updating record %s: %w", ErrStorageFailure, ticketID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing record %s: %w", ErrStorageFailure, ticketID, err)
	}
	return nil
}

// nextUpdatedAt never moves backwards, even if the wall clock does.
func (s *Store) nextUpdatedAt(prev time.Time) time.Time {
	now := s.now()
	if now.Before(prev) {
		return prev
	}
	return now
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		r         Record
		status    string
		extRef    sql.NullString
		updatedAt string
	)
	if err := row.Scan(&r.TicketID, &r.RecipientEmail, &r.Subject, &r.Body, &r.Confidence, &status, &extRef, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scanning record: %w", err)
	}
	r.Status = Status(status)
	if !r.Status.Valid() {
		return Record{}, fmt.Errorf("%w: record %s has status %q", ErrCorruptRecord, r.TicketID, status)
	}
	r.ExternalReference = extRef.String
	t, err := parseTime("updated_at", updatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("%w: record %s: %w", ErrCorruptRecord, r.TicketID, err)
	}
	r.UpdatedAt = t
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
