package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-router/internal/config"
	"smart-router/internal/models"
	"smart-router/internal/provider"
	"smart-router/internal/provider/providertest"
	"smart-router/internal/router"
	"smart-router/internal/translator"
)

func newTestServer(t *testing.T, fake *providertest.Fake) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.Providers.Gemini.APIKey = "test-key"

	fake.ProviderName = "gemini"
	fake.Models = cfg.Providers.Gemini.Models

	registry := provider.NewRegistry()
	require.NoError(t, registry.RegisterProvider(context.Background(), fake, nil))

	srv, err := New(cfg, router.New(registry, cfg.Routing), registry)
	require.NoError(t, err)
	return srv
}

func postChat(t *testing.T, srv *Server, ctx context.Context, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func errorText(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body translator.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

// sseFrames splits an event stream body into its data payloads.
func sseFrames(t *testing.T, body string) []string {
	t.Helper()
	require.True(t, strings.HasSuffix(body, "\n\n"), "stream must end with a blank line: %q", body)

	var frames []string
	for _, frame := range strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n") {
		require.True(t, strings.HasPrefix(frame, "data: "), "unexpected frame %q", frame)
		frames = append(frames, strings.TrimPrefix(frame, "data: "))
	}
	return frames
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &providertest.Fake{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestModels(t *testing.T) {
	srv := newTestServer(t, &providertest.Fake{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list translator.ModelList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 2)
	assert.Equal(t, "gemini-2.5-flash", list.Data[0].ID)
	assert.Equal(t, "gemini", list.Data[0].OwnedBy)
	assert.Equal(t, "model", list.Data[1].Object)
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, &providertest.Fake{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", errorText(t, rec))
}

func TestChatCompletionsRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "empty messages", body: `{"model":"any","messages":[]}`, wantErr: "Messages are required"},
		{name: "missing messages", body: `{"model":"any"}`, wantErr: "Messages are required"},
		{name: "no user message", body: `{"messages":[{"role":"system","content":"You are terse."}]}`, wantErr: "No user message found"},
		{name: "blank user message", body: `{"messages":[{"role":"user","content":"  "}]}`, wantErr: "User message content must not be empty"},
		{name: "empty body", body: ``, wantErr: "request body is required"},
		{name: "malformed json", body: `{"messages":`, wantErr: "invalid JSON payload"},
		{name: "trailing data", body: `{"messages":[]} {}`, wantErr: "single JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &providertest.Fake{StructuredFunc: providertest.Classifying(models.ClassificationTrivial)}
			srv := newTestServer(t, fake)

			rec := postChat(t, srv, context.Background(), tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, errorText(t, rec), tt.wantErr)
			assert.Zero(t, fake.TotalCalls())
		})
	}
}

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{name: "no messages", err: translator.ErrNoMessages, wantStatus: http.StatusBadRequest, wantMsg: "Messages are required"},
		{name: "wrapped no user message", err: fmt.Errorf("query: %w", translator.ErrNoUserMessage), wantStatus: http.StatusBadRequest, wantMsg: "No user message found"},
		{name: "empty query", err: translator.ErrEmptyQuery, wantStatus: http.StatusBadRequest, wantMsg: "User message content must not be empty"},
		{name: "internal", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantMsg: "An internal error occurred."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var reqErr requestError
			require.ErrorAs(t, toHTTPError(tc.err), &reqErr)
			assert.Equal(t, tc.wantStatus, reqErr.Status)
			assert.Equal(t, tc.wantMsg, reqErr.Message)
		})
	}
}

func TestChatCompletionsTrivial(t *testing.T) {
	fake := &providertest.Fake{
		StructuredFunc: providertest.Classifying(models.ClassificationTrivial),
		GenerateFunc: func(_ context.Context, req provider.Request) (string, error) {
			return "Paris", nil
		},
	}
	srv := newTestServer(t, fake)

	rec := postChat(t, srv, context.Background(), `{"model":"ignored","messages":[{"role":"user","content":"What is the capital of France?"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "TRIVIAL", rec.Header().Get(headerClassification))
	assert.Equal(t, "gemini-2.5-flash", rec.Header().Get(headerModel))

	var resp translator.CompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))
	assert.Equal(t, "chat.completion", resp.Object)
	assert.Equal(t, "gemini-2.5-flash", resp.Model)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	assert.Equal(t, "Paris", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, translator.Usage{}, resp.Usage)

	calls := fake.GenerateCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "gemini-2.5-flash", calls[0].Model)
	assert.Equal(t, "What is the capital of France?", calls[0].Prompt)
}

func TestChatCompletionsClassifierFailureRoutesComplex(t *testing.T) {
	fake := &providertest.Fake{
		StructuredFunc: providertest.Failing(nil),
		GenerateFunc: func(context.Context, provider.Request) (string, error) {
			return "A long essay", nil
		},
	}
	srv := newTestServer(t, fake)

	rec := postChat(t, srv, context.Background(), `{"messages":[{"role":"user","content":"Explain relativity"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "COMPLEX", rec.Header().Get(headerClassification))
	assert.Equal(t, "gemini-2.5-pro", rec.Header().Get(headerModel))
}

func TestChatCompletionsGenerationFailure(t *testing.T) {
	fake := &providertest.Fake{
		StructuredFunc: providertest.Classifying(models.ClassificationTrivial),
		GenerateFunc: func(context.Context, provider.Request) (string, error) {
			return "", errors.New("quota exhausted for key test-key")
		},
	}
	srv := newTestServer(t, fake)

	rec := postChat(t, srv, context.Background(), `{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "An internal error occurred.", errorText(t, rec))
	assert.NotContains(t, rec.Body.String(), "quota")
}

func TestChatCompletionsStream(t *testing.T) {
	fake := &providertest.Fake{
		StructuredFunc: providertest.Classifying(models.ClassificationComplex),
		Fragments:      []string{"Once", "", " upon", " a time"},
	}
	srv := newTestServer(t, fake)

	rec := postChat(t, srv, context.Background(), `{"stream":true,"messages":[{"role":"user","content":"Tell me a story"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "COMPLEX", rec.Header().Get(headerClassification))

	frames := sseFrames(t, rec.Body.String())
	require.Len(t, frames, 5)
	assert.Equal(t, "[DONE]", frames[4])

	var id string
	for i, want := range []string{"Once", " upon", " a time"} {
		var chunk translator.StreamChunk
		require.NoError(t, json.Unmarshal([]byte(frames[i]), &chunk))
		if id == "" {
			id = chunk.ID
		}
		assert.Equal(t, id, chunk.ID)
		assert.Equal(t, "chat.completion.chunk", chunk.Object)
		assert.Equal(t, "gemini-2.5-pro", chunk.Model)
		require.Len(t, chunk.Choices, 1)
		assert.Equal(t, want, chunk.Choices[0].Delta.Content)
		assert.Nil(t, chunk.Choices[0].FinishReason)
	}
	assert.Contains(t, frames[0], `"finish_reason":null`)

	var stop map[string]any
	require.NoError(t, json.Unmarshal([]byte(frames[3]), &stop))
	choice := stop["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{}, choice["delta"])
	assert.Equal(t, "stop", choice["finish_reason"])
	assert.Equal(t, id, stop["id"])

	calls := fake.StreamCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, `Provide a detailed, in-depth, and well-structured answer for the following query: "Tell me a story"`, calls[0].Prompt)
	assert.Equal(t, 1, fake.ClosedStreams())
}

func TestChatCompletionsStreamMidStreamFailure(t *testing.T) {
	fake := &providertest.Fake{
		StructuredFunc: providertest.Classifying(models.ClassificationTrivial),
		Fragments:      []string{"Once"},
		StreamErr:      errors.New("connection reset"),
	}
	srv := newTestServer(t, fake)

	rec := postChat(t, srv, context.Background(), `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := sseFrames(t, rec.Body.String())
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"error":"An internal error occurred while streaming the answer."}`, frames[1])
	assert.NotContains(t, rec.Body.String(), "[DONE]")
	assert.NotContains(t, rec.Body.String(), `"finish_reason":"stop"`)
	assert.Equal(t, 1, fake.ClosedStreams())
}

func TestChatCompletionsStreamOpenFailure(t *testing.T) {
	fake := &providertest.Fake{
		StructuredFunc: providertest.Classifying(models.ClassificationTrivial),
		OpenErr:        errors.New("dial tcp: refused"),
	}
	srv := newTestServer(t, fake)

	rec := postChat(t, srv, context.Background(), `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "An internal error occurred.", errorText(t, rec))
}

func TestChatCompletionsStreamClientDisconnect(t *testing.T) {
	fake := &providertest.Fake{
		StructuredFunc: providertest.Classifying(models.ClassificationTrivial),
		Fragments:      []string{"Once", " upon"},
	}
	srv := newTestServer(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := postChat(t, srv, ctx, `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, 1, fake.ClosedStreams())
}

func TestChatCompletionsStreamClientGoneBeforeOpen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := &providertest.Fake{
		StructuredFunc: func(ctx context.Context, _ provider.StructuredRequest) (string, error) {
			cancel()
			return "", ctx.Err()
		},
		OpenErr: context.Canceled,
	}
	srv := newTestServer(t, fake)

	rec := postChat(t, srv, ctx, `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	assert.Empty(t, rec.Body.String())
	assert.NotEqual(t, http.StatusInternalServerError, rec.Code)
	assert.Len(t, fake.StreamCalls(), 1)
}

func TestNewRequiresDependencies(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Gemini.APIKey = "k"
	registry := provider.NewRegistry()

	_, err := New(cfg, nil, registry)
	assert.Error(t, err)

	_, err = New(cfg, router.New(registry, cfg.Routing), nil)
	assert.Error(t, err)

	cfg.Providers.Gemini.APIKey = ""
	_, err = New(cfg, router.New(registry, cfg.Routing), registry)
	assert.Error(t, err)
}
