package intent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/deskflow/internal/engine"
)

func TestKeywordClassifier(t *testing.T) {
	tests := []struct {
		text string
		want Label
	}{
		{"How do I reset my password?", PasswordReset},
		{"PASSWORD not working", PasswordReset},
		{"I want a refund for my order", RefundRequest},
		{"how do I return this jacket", RefundRequest},
		{"my payment was declined", PaymentIssue},
		{"where is your office", GeneralSupport},
		{"", GeneralSupport},
		// password rule is checked before refund
		{"reset my refund settings", PasswordReset},
	}
	var c KeywordClassifier
	for _, tt := range tests {
		if got := c.Classify(context.Background(), tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

type mockChatter struct {
	response string
	err      error
	delay    time.Duration
	messages []engine.Message
	schema   *engine.Schema
}

func (m *mockChatter) Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error) {
	m.messages = messages
	m.schema = jsonSchema
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

func TestLLMClassifier_UsesModelLabel(t *testing.T) {
	mock := &mockChatter{response: `{"label":"payment_issue"}`}
	c := NewLLMClassifier(mock, "phi3.5")

	if got := c.Classify(context.Background(), "I was charged twice"); got != PaymentIssue {
		t.Errorf("Classify = %s, want payment_issue", got)
	}
	if len(mock.messages) != 2 || mock.messages[1].Content != "I was charged twice" {
		t.Errorf("messages = %+v", mock.messages)
	}
	if !strings.Contains(mock.messages[0].Content, "refund_request") {
		t.Error("system prompt does not list labels")
	}
	if mock.schema == nil || len(mock.schema.Properties["label"].Enum) != len(Known) {
		t.Errorf("schema = %+v, want label enum of known labels", mock.schema)
	}
}

func TestLLMClassifier_FallsBack(t *testing.T) {
	tests := []struct {
		name string
		mock *mockChatter
	}{
		{"chat error", &mockChatter{err: errors.New("connection refused")}},
		{"malformed json", &mockChatter{response: `not json {{{`}},
		{"unknown label", &mockChatter{response: `{"label":"shipping"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewLLMClassifier(tt.mock, "phi3.5")
			if got := c.Classify(context.Background(), "please refund me"); got != RefundRequest {
				t.Errorf("Classify = %s, want keyword fallback refund_request", got)
			}
		})
	}
}

func TestLLMClassifier_Timeout(t *testing.T) {
	mock := &mockChatter{response: `{"label":"general_support"}`, delay: 5 * time.Second}
	c := NewLLMClassifier(mock, "phi3.5")

	start := time.Now()
	got := c.Classify(context.Background(), "reset password")
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("Classify took %v, want under the classify timeout", elapsed)
	}
	if got != PasswordReset {
		t.Errorf("Classify = %s, want keyword fallback password_reset", got)
	}
}

func TestLLMClassifier_EmptyQuery(t *testing.T) {
	mock := &mockChatter{response: `{"label":"refund_request"}`}
	c := NewLLMClassifier(mock, "phi3.5")
	if got := c.Classify(context.Background(), "   "); got != GeneralSupport {
		t.Errorf("Classify = %s, want general_support", got)
	}
	if mock.messages != nil {
		t.Error("empty query reached the model")
	}
}
