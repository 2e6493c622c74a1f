package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Engine processes an assembled request and returns a response. Calls are
// non-retryable; the orchestrator converts any failure into its degraded
// response.
type Engine interface {
	Process(ctx context.Context, req Request) (Response, error)
}

// Chatter is the interface for chat completion via Ollama.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)
}

// OllamaEngine generates responses with a local LLM via structured output.
type OllamaEngine struct {
	client Chatter
	model  string
}

// NewOllamaEngine creates an OllamaEngine using the given client and model name.
func NewOllamaEngine(client Chatter, model string) *OllamaEngine {
	return &OllamaEngine{client: client, model: model}
}

const systemPromptTemplate = `You are a personal assistant operating in %s mode.
The user's active context (as JSON): %s

Respond with JSON containing:
- "text": your natural-language reply
- "actions": an array of actions to take, each {"type": one of
  "app_control", "send_message", "make_call", "create_reminder",
  "calendar_event", "delete_data", "financial_transaction",
  plus a same-named payload object}
- "confidence": how confident you are in this response, 0.0 to 1.0

Return an empty actions array when no action is needed.`

// wireResponse mirrors the structured model output before action validation.
type wireResponse struct {
	Text       string            `json:"text"`
	Actions    []json.RawMessage `json:"actions"`
	Confidence float64           `json:"confidence"`
}

// Process builds the prompt, calls the model, and validates the structured
// output. Malformed actions are dropped; a fully malformed payload degrades
// to a text-only response rather than failing the request.
func (e *OllamaEngine) Process(ctx context.Context, req Request) (Response, error) {
	contextJSON, err := json.Marshal(req.Context)
	if err != nil {
		return Response{}, fmt.Errorf("marshalling context: %w", err)
	}

	messages := []Message{
		{Role: "system", Content: fmt.Sprintf(systemPromptTemplate, req.Mode, contextJSON)},
		{Role: "user", Content: req.Text},
	}

	raw, err := e.client.Chat(ctx, e.model, messages, responseSchema())
	if err != nil {
		return Response{}, fmt.Errorf("reasoning chat: %w", err)
	}

	var wire wireResponse
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		slog.Warn("unstructured reasoning output, degrading to text-only",
			"user_id", req.UserID, "error", err)
		return Response{Text: strings.TrimSpace(raw), Confidence: 0.3}, nil
	}

	actions := make([]Action, 0, len(wire.Actions))
	for _, rawAction := range wire.Actions {
		a, err := DecodeAction(rawAction)
		if err != nil {
			slog.Warn("dropping malformed action", "user_id", req.UserID, "error", err)
			continue
		}
		actions = append(actions, a)
	}

	confidence := wire.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Response{
		Text:                 wire.Text,
		Actions:              actions,
		Confidence:           confidence,
		RequiresConfirmation: NeedsConfirmation(actions),
	}, nil
}

// responseSchema returns the Ollama JSON schema for structured assistant output.
func responseSchema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]SchemaProperty{
			"text":       {Type: "string", Description: "Natural-language reply to the user"},
			"actions":    {Type: "array", Description: "Structured actions to execute"},
			"confidence": {Type: "number", Description: "Confidence in the response, 0.0 to 1.0"},
		},
		Required: []string{"text", "actions", "confidence"},
	}
}
