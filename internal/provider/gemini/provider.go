// Package gemini implements the provider capability on top of the native
// Gemini REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"smart-router/internal/config"
	"smart-router/internal/models"
	"smart-router/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "smart-router/0.1"
	apiKeyHeader    = "x-goog-api-key"
)

// Provider talks to a Gemini endpoint.
type Provider struct {
	name         string
	apiKey       string
	baseURL      string
	headers      map[string]string
	client       *http.Client
	streamClient *http.Client
	models       []models.Model
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new Gemini provider.
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

	// Streams are bounded by the request context instead of the client timeout.
	streamClient := *client
	streamClient.Timeout = 0

	return &Provider{
		name:         name,
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		headers:      cfg.Headers,
		client:       client,
		streamClient: &streamClient,
		models:       modelsList,
	}, nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) ListModels(ctx context.Context) ([]models.Model, error) {
	result := make([]models.Model, len(p.models))
	copy(result, p.models)
	return result, nil
}

// GenerateStructured asks Gemini for a JSON answer constrained by req.Schema.
func (p *Provider) GenerateStructured(ctx context.Context, req provider.StructuredRequest) (string, error) {
	responseSchema, err := convertSchema(req.Schema)
	if err != nil {
		return "", fmt.Errorf("convert response schema: %w", err)
	}

	payload := newPayload(req.Prompt)
	payload.GenerationConfig = &generationConfig{
		ResponseMimeType: contentTypeJSON,
		ResponseSchema:   responseSchema,
	}
	return p.generate(ctx, req.Model, payload)
}

// Generate returns the complete free-text answer for req.Prompt.
func (p *Provider) Generate(ctx context.Context, req provider.Request) (string, error) {
	return p.generate(ctx, req.Model, newPayload(req.Prompt))
}

// GenerateStream opens a server-sent event stream of answer fragments.
func (p *Provider) GenerateStream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	httpReq, err := p.newRequest(ctx, p.endpoint(req.Model, "streamGenerateContent")+"?alt=sse", newPayload(req.Prompt))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := p.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini stream request failed: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		defer httpResp.Body.Close()
		return nil, parseAPIError(httpResp)
	}

	return &stream{body: httpResp.Body, events: newEventReader(httpResp.Body)}, nil
}

func (p *Provider) generate(ctx context.Context, model string, payload generateRequest) (string, error) {
	httpReq, err := p.newRequest(ctx, p.endpoint(model, "generateContent"), payload)
	if err != nil {
		return "", err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return "", parseAPIError(httpResp)
	}

	var providerResp generateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&providerResp); err != nil {
		return "", fmt.Errorf("decode provider response: %w", err)
	}
	return providerResp.text()
}

func (p *Provider) endpoint(model, action string) string {
	return fmt.Sprintf("%s/models/%s:%s", p.baseURL, url.PathEscape(model), action)
}

func (p *Provider) newRequest(ctx context.Context, endpoint string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(apiKeyHeader, p.apiKey)

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
	ResponseSchema   *schema `json:"responseSchema,omitempty"`
}

func newPayload(prompt string) generateRequest {
	return generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	}
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
			Role  string `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	Error *apiErrorObject `json:"error,omitempty"`
}

// text joins the parts of the first candidate.
func (r generateResponse) text() (string, error) {
	if r.Error != nil {
		return "", r.Error
	}
	if len(r.Candidates) == 0 {
		if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("gemini blocked the prompt: %s", r.PromptFeedback.BlockReason)
		}
		return "", errors.New("gemini response did not include candidates")
	}

	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

type apiErrorResponse struct {
	Error apiErrorObject `json:"error"`
}

type apiErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *apiErrorObject) Error() string {
	return fmt.Sprintf("gemini error (%s): %s", e.Status, e.Message)
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("upstream error status %d and failed to read body: %w", resp.StatusCode, err)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return &apiErr.Error
	}

	return fmt.Errorf("upstream error status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

type stream struct {
	body   io.ReadCloser
	events *eventReader
}

// Recv returns the text of the next event. Events without candidates yield
// an empty fragment.
func (s *stream) Recv() (string, error) {
	data, err := s.events.next()
	if err != nil {
		return "", err
	}

	var chunk generateResponse
	if err := json.Unmarshal(data, &chunk); err != nil {
		return "", fmt.Errorf("decode stream chunk: %w", err)
	}
	if chunk.Error != nil {
		return "", chunk.Error
	}
	if len(chunk.Candidates) == 0 {
		return "", nil
	}
	return chunk.text()
}

func (s *stream) Close() error {
	return s.body.Close()
}
