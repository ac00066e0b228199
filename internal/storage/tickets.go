package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SaveTicket inserts an escalation ticket. Tickets are never updated.
func (s *Store) SaveTicket(ctx context.Context, t Ticket) error {
	status := t.Status
	if status == "" {
		status = TicketStatusOpen
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (ticket_id, user_email, subject, message, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.TicketID, t.UserEmail, t.Subject, t.Message, status, formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("%w: inserting ticket %s: %w", ErrStorageFailure, t.TicketID, err)
	}
	return nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (Ticket, error) {
	t, err := scanTicket(s.db.QueryRowContext(ctx, `
		SELECT ticket_id, user_email, subject, message, status, created_at
		FROM tickets WHERE ticket_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Ticket{}, fmt.Errorf("%w: ticket %s", ErrNotFound, id)
	}
	return t, err
}

// ListTickets returns tickets newest first.
func (s *Store) ListTickets(ctx context.Context, limit, offset int) ([]Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticket_id, user_email, subject, message, status, created_at
		FROM tickets ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTicket(row rowScanner) (Ticket, error) {
	var t Ticket
	var createdAt string
	if err := row.Scan(&t.TicketID, &t.UserEmail, &t.Subject, &t.Message, &t.Status, &createdAt); err != nil {
		return Ticket{}, err
	}
	ts, err := parseTime("created_at", createdAt)
	if err != nil {
		return Ticket{}, err
	}
	t.CreatedAt = ts
	return t, nil
}
