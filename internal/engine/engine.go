// Package engine talks to the local inference server used for intent
// classification and document embeddings.
package engine

import "context"

// Engine is the subset of a local inference backend deskflow relies on.
type Engine interface {
	// Chat sends messages to model and returns the assistant reply. A non-nil
	// schema requests structured JSON output.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// Embed returns the embedding vector of text.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	IsRunning(ctx context.Context) bool
	ListModels(ctx context.Context) ([]string, error)
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. onProgress may be nil.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
