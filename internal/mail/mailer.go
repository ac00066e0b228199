// Package mail delivers approved draft replies.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	gomail "github.com/wneessen/go-mail"
)

// ErrInvalidMessage is returned for a message without a recipient or with
// unparsable addresses.
var ErrInvalidMessage = errors.New("invalid message")

type Message struct {
	To      string
	Subject string
	Body    string
}

// DeliveryResult identifies a delivered message.
type DeliveryResult struct {
	MessageID string `json:"message_id"`
	Transport string `json:"transport"`
}

type Mailer interface {
	Send(ctx context.Context, msg Message) (DeliveryResult, error)
}

// LogMailer writes messages to the log instead of delivering them. It is the
// default when no SMTP host is configured.
type LogMailer struct {
	Logger *slog.Logger

	mu   sync.Mutex
	sent []Message
}

func (m *LogMailer) Send(_ context.Context, msg Message) (DeliveryResult, error) {
	if msg.To == "" {
		return DeliveryResult{}, fmt.Errorf("%w: no recipient", ErrInvalidMessage)
	}
	id := "<" + uuid.New().String() + "@deskflow.local>"
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail delivered to log", "to", msg.To, "subject", msg.Subject, "message_id", id)

	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return DeliveryResult{MessageID: id, Transport: "log"}, nil
}

// Sent returns a copy of every message passed to Send.
func (m *LogMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer delivers through an SMTP relay, upgrading to TLS when offered.
type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("mail.from is required for smtp delivery")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{cfg: cfg}, nil
}

func (m *SMTPMailer) buildMessage(msg Message) (*gomail.Msg, error) {
	if msg.To == "" {
		return nil, fmt.Errorf("%w: no recipient", ErrInvalidMessage)
	}
	out := gomail.NewMsg()
	if err := out.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("%w: from %q: %w", ErrInvalidMessage, m.cfg.From, err)
	}
	if err := out.To(msg.To); err != nil {
		return nil, fmt.Errorf("%w: to %q: %w", ErrInvalidMessage, msg.To, err)
	}
	out.Subject(msg.Subject)
	out.SetBodyString(gomail.TypeTextPlain, msg.Body)
	out.SetMessageID()
	out.SetDate()
	return out, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) (DeliveryResult, error) {
	out, err := m.buildMessage(msg)
	if err != nil {
		return DeliveryResult{}, err
	}

	opts := []gomail.Option{
		gomail.WithPort(m.cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.cfg.Username),
			gomail.WithPassword(m.cfg.Password),
		)
	}
	client, err := gomail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("creating smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, out); err != nil {
		return DeliveryResult{}, fmt.Errorf("sending to %s: %w", msg.To, err)
	}
	return DeliveryResult{MessageID: out.GetMessageID(), Transport: "smtp"}, nil
}
