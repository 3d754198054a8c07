// Package openai implements the provider capability for OpenAI-compatible
// chat completion APIs.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"smart-router/internal/config"
	"smart-router/internal/models"
	"smart-router/internal/provider"
)

const userAgent = "smart-router/0.1"

// Provider implements the Provider interface for OpenAI-compatible APIs.
type Provider struct {
	name         string
	client       *goopenai.Client
	streamClient *goopenai.Client
	models       []models.Model
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new OpenAI provider.
func New(name string, cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	modelsList := make([]models.Model, 0, len(cfg.Models))
	for _, id := range cfg.Models {
		modelsList = append(modelsList, models.Model{ID: id, Provider: name})
	}

	batch := withHeaders(client, cfg.Headers)
	// Streams are bounded by the request context instead of the client timeout.
	streaming := withHeaders(client, cfg.Headers)
	streaming.Timeout = 0

	return &Provider{
		name:         name,
		client:       newClient(cfg.APIKey, baseURL, batch),
		streamClient: newClient(cfg.APIKey, baseURL, streaming),
		models:       modelsList,
	}, nil
}

func newClient(apiKey, baseURL string, httpClient *http.Client) *goopenai.Client {
	clientCfg := goopenai.DefaultConfig(apiKey)
	clientCfg.BaseURL = baseURL
	clientCfg.HTTPClient = httpClient
	return goopenai.NewClientWithConfig(clientCfg)
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) ListModels(ctx context.Context) ([]models.Model, error) {
	result := make([]models.Model, len(p.models))
	copy(result, p.models)
	return result, nil
}

// GenerateStructured requests a strict json_schema response format.
func (p *Provider) GenerateStructured(ctx context.Context, req provider.StructuredRequest) (string, error) {
	if req.Schema == nil {
		return "", errors.New("schema must not be nil")
	}

	name := req.SchemaName
	if name == "" {
		name = "response"
	}

	chatReq := newChatRequest(req.Model, req.Prompt)
	chatReq.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
		Type: goopenai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &goopenai.ChatCompletionResponseFormatJSONSchema{
			Name:   name,
			Schema: req.Schema,
			Strict: true,
		},
	}
	return p.complete(ctx, chatReq)
}

// Generate returns the complete free-text answer for req.Prompt.
func (p *Provider) Generate(ctx context.Context, req provider.Request) (string, error) {
	return p.complete(ctx, newChatRequest(req.Model, req.Prompt))
}

// GenerateStream opens a streamed chat completion.
func (p *Provider) GenerateStream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	chatReq := newChatRequest(req.Model, req.Prompt)
	chatReq.Stream = true

	s, err := p.streamClient.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai stream request failed: %w", err)
	}
	return &stream{stream: s}, nil
}

func (p *Provider) complete(ctx context.Context, req goopenai.ChatCompletionRequest) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai response did not include choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func newChatRequest(model, prompt string) goopenai.ChatCompletionRequest {
	return goopenai.ChatCompletionRequest{
		Model: model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
	}
}

type stream struct {
	stream *goopenai.ChatCompletionStream
}

// Recv returns the next content delta. Chunks without choices yield an
// empty fragment.
func (s *stream) Recv() (string, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (s *stream) Close() error {
	return s.stream.Close()
}

// headerTransport adds configured headers to every outgoing request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

func withHeaders(client *http.Client, headers map[string]string) *http.Client {
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	wrapped := *client
	wrapped.Transport = &headerTransport{base: base, headers: headers}
	return &wrapped
}
