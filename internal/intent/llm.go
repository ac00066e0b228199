package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/deskflow/internal/engine"
)

const classifyTimeout = 3 * time.Second

const systemPrompt = `You are a support ticket triage engine. Read the customer's message and pick exactly one label. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Labels:
- "password_reset": the customer cannot log in or wants to change or reset a password
- "refund_request": the customer wants money back or wants to return an order
- "payment_issue": a charge failed, was duplicated, or a payment method is not accepted
- "general_support": anything else`

// Chatter is the part of engine.Engine the classifier needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// LLMClassifier asks a fast local model for a label. Timeouts, malformed
// output and labels outside Known fall back to the keyword rules.
type LLMClassifier struct {
	client   Chatter
	model    string
	fallback Classifier
}

func NewLLMClassifier(client Chatter, model string) *LLMClassifier {
	return &LLMClassifier{client: client, model: model, fallback: KeywordClassifier{}}
}

type llmVerdict struct {
	Label string `json:"label"`
}

func (c *LLMClassifier) Classify(ctx context.Context, text string) Label {
	if strings.TrimSpace(text) == "" {
		return GeneralSupport
	}

	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	raw, err := c.client.Chat(ctx, c.model, buildMessages(text), labelSchema())
	if err != nil {
		slog.Warn("intent classification chat failed, using keyword rules", "error", err)
		return c.fallback.Classify(ctx, text)
	}

	var v llmVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		slog.Warn("unparseable classifier response, using keyword rules", "error", err, "response", raw)
		return c.fallback.Classify(ctx, text)
	}
	label := Label(strings.ToLower(strings.TrimSpace(v.Label)))
	if !isKnown(label) {
		slog.Warn("classifier returned unknown label, using keyword rules", "label", v.Label)
		return c.fallback.Classify(ctx, text)
	}
	return label
}

func buildMessages(text string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: text},
	}
}

func labelSchema() *engine.Schema {
	enum := make([]string, len(Known))
	for i, l := range Known {
		enum[i] = string(l)
	}
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"label": {Type: "string", Description: "The support category", Enum: enum},
		},
		Required: []string{"label"},
	}
}
