// Package providertest provides a deterministic in-memory provider for tests.
package providertest

import (
	"context"
	"errors"
	"io"
	"sync"

	"smart-router/internal/models"
	"smart-router/internal/provider"
)

// Fake is a scriptable provider.Provider. Zero-valued hooks produce empty
// successful results.
type Fake struct {
	ProviderName string
	Models       []string

	StructuredFunc func(ctx context.Context, req provider.StructuredRequest) (string, error)
	GenerateFunc   func(ctx context.Context, req provider.Request) (string, error)

	// Fragments are streamed in order by GenerateStream.
	Fragments []string
	// OpenErr fails GenerateStream before any fragment is produced.
	OpenErr error
	// StreamErr is returned by Recv after all Fragments were produced, instead of io.EOF.
	StreamErr error

	mu                sync.Mutex
	structuredCalls   []provider.StructuredRequest
	generateCalls     []provider.Request
	streamCalls       []provider.Request
	closedStreamCount int
}

var _ provider.Provider = (*Fake)(nil)

// Name implements provider.Provider.
func (f *Fake) Name() string {
	if f.ProviderName == "" {
		return "fake"
	}
	return f.ProviderName
}

// ListModels implements provider.Provider.
func (f *Fake) ListModels(context.Context) ([]models.Model, error) {
	out := make([]models.Model, 0, len(f.Models))
	for _, id := range f.Models {
		out = append(out, models.Model{ID: id, Provider: f.Name()})
	}
	return out, nil
}

// GenerateStructured implements provider.Provider.
func (f *Fake) GenerateStructured(ctx context.Context, req provider.StructuredRequest) (string, error) {
	f.mu.Lock()
	f.structuredCalls = append(f.structuredCalls, req)
	f.mu.Unlock()

	if f.StructuredFunc == nil {
		return "", nil
	}
	return f.StructuredFunc(ctx, req)
}

// Generate implements provider.Provider.
func (f *Fake) Generate(ctx context.Context, req provider.Request) (string, error) {
	f.mu.Lock()
	f.generateCalls = append(f.generateCalls, req)
	f.mu.Unlock()

	if f.GenerateFunc == nil {
		return "", nil
	}
	return f.GenerateFunc(ctx, req)
}

// GenerateStream implements provider.Provider.
func (f *Fake) GenerateStream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	f.mu.Lock()
	f.streamCalls = append(f.streamCalls, req)
	f.mu.Unlock()

	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	return &fakeStream{ctx: ctx, owner: f, fragments: append([]string(nil), f.Fragments...), tail: f.StreamErr}, nil
}

// StructuredCalls returns the recorded GenerateStructured requests.
func (f *Fake) StructuredCalls() []provider.StructuredRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.StructuredRequest(nil), f.structuredCalls...)
}

// GenerateCalls returns the recorded Generate requests.
func (f *Fake) GenerateCalls() []provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Request(nil), f.generateCalls...)
}

// StreamCalls returns the recorded GenerateStream requests.
func (f *Fake) StreamCalls() []provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Request(nil), f.streamCalls...)
}

// TotalCalls counts every generation call of any kind.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.structuredCalls) + len(f.generateCalls) + len(f.streamCalls)
}

// ClosedStreams counts streams that were closed.
func (f *Fake) ClosedStreams() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closedStreamCount
}

// Classifying returns a StructuredFunc that always answers with label.
func Classifying(label models.Classification) func(context.Context, provider.StructuredRequest) (string, error) {
	return func(context.Context, provider.StructuredRequest) (string, error) {
		return `{"classification":"` + string(label) + `"}`, nil
	}
}

// Failing returns a StructuredFunc that always fails.
func Failing(err error) func(context.Context, provider.StructuredRequest) (string, error) {
	if err == nil {
		err = errors.New("provider unavailable")
	}
	return func(context.Context, provider.StructuredRequest) (string, error) {
		return "", err
	}
}

type fakeStream struct {
	ctx       context.Context
	owner     *Fake
	fragments []string
	tail      error
	closed    bool
}

func (s *fakeStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if len(s.fragments) == 0 {
		if s.tail != nil {
			return "", s.tail
		}
		return "", io.EOF
	}
	next := s.fragments[0]
	s.fragments = s.fragments[1:]
	return next, nil
}

func (s *fakeStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.owner.mu.Lock()
	s.owner.closedStreamCount++
	s.owner.mu.Unlock()
	return nil
}
