package provider

import (
	"context"

	"github.com/invopop/jsonschema"

	"smart-router/internal/models"
)

// Request is a single-shot free-text generation request.
type Request struct {
	Model  string
	Prompt string
}

// StructuredRequest asks the provider for exactly one JSON object matching Schema.
type StructuredRequest struct {
	Model      string
	Prompt     string
	SchemaName string
	Schema     *jsonschema.Schema
}

// Stream is a lazily produced, non-restartable sequence of text fragments.
// Recv returns io.EOF once the provider signals completion. Close must be
// called on every path and releases the underlying connection.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Provider defines the generation capabilities the router depends on.
type Provider interface {
	Name() string
	ListModels(ctx context.Context) ([]models.Model, error)
	// GenerateStructured returns the raw JSON text of a schema-constrained answer.
	GenerateStructured(ctx context.Context, req StructuredRequest) (string, error)
	Generate(ctx context.Context, req Request) (string, error)
	GenerateStream(ctx context.Context, req Request) (Stream, error)
}
