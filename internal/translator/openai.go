package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNoMessages indicates a request without any messages.
	ErrNoMessages = errors.New("messages are required")
	// ErrNoUserMessage indicates that no message has the user role.
	ErrNoUserMessage = errors.New("no user message found")
	// ErrEmptyQuery indicates that the last user message has blank content.
	ErrEmptyQuery = errors.New("user message content must not be empty")

	errInvalidContent = errors.New("invalid message content")
)

const (
	roleUser      = "user"
	roleAssistant = "assistant"

	objectCompletion = "chat.completion"
	objectChunk      = "chat.completion.chunk"
	finishReasonStop = "stop"
)

// ChatCompletionRequest models the subset of the OpenAI chat/completions
// request payload the router consumes. Model is accepted and ignored.
type ChatCompletionRequest struct {
	Model    string
	Messages []ChatMessage
	Stream   bool
}

// UnmarshalJSON decodes the request; semantic checks happen in Query.
func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model    string        `json:"model"`
		Messages []ChatMessage `json:"messages"`
		Stream   bool          `json:"stream"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.Stream = raw.Stream
	return nil
}

// Query returns the content of the last user message.
func (r ChatCompletionRequest) Query() (string, error) {
	if len(r.Messages) == 0 {
		return "", ErrNoMessages
	}

	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role != roleUser {
			continue
		}
		if strings.TrimSpace(r.Messages[i].Content) == "" {
			return "", ErrEmptyQuery
		}
		return r.Messages[i].Content, nil
	}
	return "", ErrNoUserMessage
}

// ChatMessage captures a single message within the chat request.
type ChatMessage struct {
	Role    string
	Content string
}

// UnmarshalJSON supports string and array-of-text content formats.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = strings.ToLower(strings.TrimSpace(raw.Role))
	m.Content = content
	return nil
}

func extractMessageContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", fmt.Errorf("%w: segment type %q not supported", errInvalidContent, segment.Type)
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("%w: unsupported content structure", errInvalidContent)
}

// NewCompletionID returns a fresh chat completion identifier.
func NewCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// CompletionResponse models the OpenAI-compatible chat response.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   Usage              `json:"usage"`
}

// CompletionChoice represents a single choice in the response payload.
type CompletionChoice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// AssistantMessage is the generated message in a completion response.
type AssistantMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage mirrors the token usage block. Tokens are not counted.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewCompletionResponse wraps a complete answer.
func NewCompletionResponse(id, model string, created int64, content string) CompletionResponse {
	return CompletionResponse{
		ID:      id,
		Object:  objectCompletion,
		Created: created,
		Model:   model,
		Choices: []CompletionChoice{
			{
				Index:        0,
				Message:      AssistantMessage{Role: roleAssistant, Content: content},
				FinishReason: finishReasonStop,
			},
		},
	}
}

// StreamChunk is one server-sent event payload of a streamed completion.
type StreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice carries an incremental delta. FinishReason stays null until the last chunk.
type StreamChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta holds the next piece of content; it is empty on the terminal chunk.
type Delta struct {
	Content string `json:"content,omitempty"`
}

// NewDeltaChunk wraps one answer fragment.
func NewDeltaChunk(id, model string, created int64, content string) StreamChunk {
	return newChunk(id, model, created, Delta{Content: content}, nil)
}

// NewStopChunk builds the terminal chunk with an empty delta.
func NewStopChunk(id, model string, created int64) StreamChunk {
	reason := finishReasonStop
	return newChunk(id, model, created, Delta{}, &reason)
}

func newChunk(id, model string, created int64, delta Delta, finishReason *string) StreamChunk {
	return StreamChunk{
		ID:      id,
		Object:  objectChunk,
		Created: created,
		Model:   model,
		Choices: []StreamChoice{{Index: 0, Delta: delta, FinishReason: finishReason}},
	}
}

// ModelList models the OpenAI /v1/models response.
type ModelList struct {
	Object string       `json:"object"`
	Data   []ModelEntry `json:"data"`
}

// ModelEntry describes one routable model.
type ModelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// NewModelList lists ids in the given order; owner names the serving provider.
func NewModelList(ids []string, owner func(string) string, created int64) ModelList {
	data := make([]ModelEntry, 0, len(ids))
	for _, id := range ids {
		data = append(data, ModelEntry{
			ID:      id,
			Object:  "model",
			Created: created,
			OwnedBy: owner(id),
		})
	}
	return ModelList{Object: "list", Data: data}
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
