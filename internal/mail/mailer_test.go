package mail

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestLogMailer(t *testing.T) {
	m := &LogMailer{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	res, err := m.Send(context.Background(), Message{To: "user@example.com", Subject: "Support: Refund Request", Body: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Transport != "log" || !strings.HasSuffix(res.MessageID, "@deskflow.local>") {
		t.Errorf("result = %+v", res)
	}
	if sent := m.Sent(); len(sent) != 1 || sent[0].To != "user@example.com" {
		t.Errorf("Sent = %+v", sent)
	}

	again, _ := m.Send(context.Background(), Message{To: "user@example.com"})
	if again.MessageID == res.MessageID {
		t.Error("message ids repeat")
	}
}

func TestLogMailerRequiresRecipient(t *testing.T) {
	m := &LogMailer{}
	if _, err := m.Send(context.Background(), Message{Subject: "x"}); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("error = %v, want ErrInvalidMessage", err)
	}
}

func TestNewSMTPMailerValidates(t *testing.T) {
	if _, err := NewSMTPMailer(SMTPConfig{From: "a@b.c"}); err == nil {
		t.Error("expected error without host")
	}
	if _, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com"}); err == nil {
		t.Error("expected error without from address")
	}
	m, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", From: "support@example.com"})
	if err != nil {
		t.Fatalf("NewSMTPMailer: %v", err)
	}
	if m.cfg.Port != 587 {
		t.Errorf("Port = %d, want default 587", m.cfg.Port)
	}
}

func TestSMTPMailerBuildMessage(t *testing.T) {
	m, _ := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", From: "support@example.com"})

	msg, err := m.buildMessage(Message{To: "user@example.com", Subject: "Support: Password Reset", Body: "Use the link."})
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
	if msg.GetMessageID() == "" {
		t.Error("message id not set")
	}

	if _, err := m.buildMessage(Message{To: "not an address"}); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("error = %v, want ErrInvalidMessage", err)
	}
	if _, err := m.buildMessage(Message{}); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("error = %v, want ErrInvalidMessage", err)
	}
}
