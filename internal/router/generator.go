package router

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"smart-router/internal/models"
	"smart-router/internal/provider"
)

// ErrGeneration wraps every failure to produce an answer.
var ErrGeneration = errors.New("answer generation failed")

const complexPromptFormat = `Provide a detailed, in-depth, and well-structured answer for the following query: "%s"`

// Generator produces answers from the model chosen for a route.
type Generator struct {
	registry *provider.Registry
}

// NewGenerator constructs a generator backed by the registry.
func NewGenerator(registry *provider.Registry) *Generator {
	return &Generator{registry: registry}
}

// promptFor sends TRIVIAL queries verbatim and wraps COMPLEX ones.
func promptFor(route models.Route, query string) string {
	if route.Classification == models.ClassificationComplex {
		return fmt.Sprintf(complexPromptFormat, query)
	}
	return query
}

// Generate returns the complete answer for query.
func (g *Generator) Generate(ctx context.Context, route models.Route, query string) (string, error) {
	ctx, span := tracer.Start(ctx, "router.generate", trace.WithAttributes(routeAttributes(route)...))
	defer span.End()

	modelInfo, providerImpl, err := g.registry.LookupModel(route.Model)
	if err != nil {
		return "", failSpan(span, fmt.Errorf("%w: %w", ErrGeneration, err))
	}

	answer, err := providerImpl.Generate(ctx, provider.Request{Model: modelInfo.ID, Prompt: promptFor(route, query)})
	if err != nil {
		return "", failSpan(span, fmt.Errorf("%w: provider %s: %w", ErrGeneration, providerImpl.Name(), err))
	}
	return answer, nil
}

// GenerateStream opens a fragment stream for query. The caller must Close it.
func (g *Generator) GenerateStream(ctx context.Context, route models.Route, query string) (provider.Stream, error) {
	ctx, span := tracer.Start(ctx, "router.generate_stream", trace.WithAttributes(routeAttributes(route)...))

	modelInfo, providerImpl, err := g.registry.LookupModel(route.Model)
	if err != nil {
		err = failSpan(span, fmt.Errorf("%w: %w", ErrGeneration, err))
		span.End()
		return nil, err
	}

	s, err := providerImpl.GenerateStream(ctx, provider.Request{Model: modelInfo.ID, Prompt: promptFor(route, query)})
	if err != nil {
		err = failSpan(span, fmt.Errorf("%w: provider %s: %w", ErrGeneration, providerImpl.Name(), err))
		span.End()
		return nil, err
	}

	return &tracedStream{stream: s, span: span, provider: providerImpl.Name()}, nil
}

// tracedStream wraps provider errors and ends the span on Close.
type tracedStream struct {
	stream    provider.Stream
	span      trace.Span
	provider  string
	fragments int
	closed    bool
}

func (s *tracedStream) Recv() (string, error) {
	fragment, err := s.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", failSpan(s.span, fmt.Errorf("%w: provider %s: %w", ErrGeneration, s.provider, err))
	}
	s.fragments++
	return fragment, nil
}

func (s *tracedStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.span.SetAttributes(attribute.Int("fragments", s.fragments))
	s.span.End()
	return s.stream.Close()
}

func routeAttributes(route models.Route) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("classification", route.Classification.String()),
		attribute.String("model", route.Model),
	}
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
