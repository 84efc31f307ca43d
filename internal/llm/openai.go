package llm

import (
	"context"
	"net/http"
	"strings"
)

// DefaultOpenAIBaseURL is the public OpenAI API.
const DefaultOpenAIBaseURL = "https://api.openai.com"

// OpenAI implements Provider for any Chat Completions compatible API
// (OpenAI, OpenRouter, vLLM, Ollama, llama.cpp).
type OpenAI struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewOpenAI creates an OpenAI-compatible provider.
func NewOpenAI(client *http.Client, baseURL, apiKey, model string) *OpenAI {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	return &OpenAI{
		client:  defaultClient(client),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}
}

// Complete sends a non-streaming chat completion request.
func (o *OpenAI) Complete(ctx context.Context, request Request) (*Response, error) {
	if o.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	wire := openaiRequest{Model: o.model}
	if request.System != "" {
		wire.Messages = append(wire.Messages, openaiMessage{Role: "system", Content: request.System})
	}
	for _, m := range request.Messages {
		role := "user"
		if m.Role == RoleModel {
			role = "assistant"
		}
		wire.Messages = append(wire.Messages, openaiMessage{Role: role, Content: m.Text})
	}

	var out openaiResponse
	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
	if err := postJSON(ctx, o.client, o.baseURL+"/v1/chat/completions", headers, wire, &out, "llm/openai"); err != nil {
		return nil, err
	}

	resp := &Response{Model: out.Model}
	if len(out.Choices) > 0 {
		resp.Text = out.Choices[0].Message.Content
	}
	return resp, nil
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
}
