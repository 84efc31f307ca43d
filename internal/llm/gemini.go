package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DefaultGeminiBaseURL is the public Generative Language API.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini implements Provider for the generateContent endpoint.
type Gemini struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewGemini creates a Gemini provider. Empty baseURL and model select the
// defaults; a nil client gets DefaultTimeout.
func NewGemini(client *http.Client, baseURL, apiKey, model string) *Gemini {
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{
		client:  defaultClient(client),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}
}

// Complete sends a non-streaming generateContent request.
func (g *Gemini) Complete(ctx context.Context, request Request) (*Response, error) {
	if g.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	wire := geminiRequest{}
	if request.System != "" {
		wire.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: request.System}}}
	}
	for _, m := range request.Messages {
		wire.Contents = append(wire.Contents, geminiContent{
			Role:  string(m.Role),
			Parts: []geminiPart{{Text: m.Text}},
		})
	}

	var out geminiResponse
	headers := map[string]string{"x-goog-api-key": g.apiKey}
	if err := postJSON(ctx, g.client, g.endpoint(), headers, wire, &out, "llm/gemini"); err != nil {
		return nil, err
	}
	return out.toResponse(g.model)
}

func (g *Gemini) endpoint() string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	ModelVersion string `json:"modelVersion"`
}

func (r *geminiResponse) toResponse(model string) (*Response, error) {
	if r.ModelVersion != "" {
		model = r.ModelVersion
	}
	if len(r.Candidates) == 0 {
		if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("llm/gemini: prompt blocked: %s", r.PromptFeedback.BlockReason)
		}
		return &Response{Model: model}, nil
	}
	var text strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return &Response{Text: text.String(), Model: model}, nil
}
