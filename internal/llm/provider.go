package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one turn of a conversation.
type Message struct {
	Role Role
	Text string
}

// Request is a provider-neutral completion request.
type Request struct {
	System   string
	Messages []Message
}

// Response is the provider-neutral reply.
type Response struct {
	Text  string
	Model string
}

// Provider completes a request against one vendor API.
type Provider interface {
	Complete(ctx context.Context, request Request) (*Response, error)
}

// ErrNoAPIKey is returned by providers constructed without a key.
var ErrNoAPIKey = errors.New("llm: no API key configured")

// DefaultTimeout bounds a single HTTP exchange when the caller's client
// has none.
const DefaultTimeout = 60 * time.Second

// ProviderError is returned when the API responds with a non-200 status.
type ProviderError struct {
	StatusCode int

	// Status is the vendor's error classification, e.g.
	// "INVALID_ARGUMENT" or "rate_limit_error".
	Status string

	Message string
}

func (err *ProviderError) Error() string {
	if err.Status != "" {
		return fmt.Sprintf("llm: HTTP %d: %s: %s", err.StatusCode, err.Status, err.Message)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsRateLimited reports an HTTP 429.
func (err *ProviderError) IsRateLimited() bool {
	return err.StatusCode == http.StatusTooManyRequests
}

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: DefaultTimeout}
}

// postJSON marshals body, POSTs it to endpoint and decodes a 200 reply
// into out. Non-200 replies become *ProviderError.
func postJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, body, out any, prefix string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshaling request: %w", prefix, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", prefix, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: sending request: %w", prefix, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readProviderError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", prefix, err)
	}
	return nil
}

// readProviderError understands the {"error":{...}} envelope shared by
// Gemini and OpenAI-compatible APIs and falls back to the raw body.
func readProviderError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var envelope struct {
		Error struct {
			Status  string `json:"status"`
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		status := envelope.Error.Status
		if status == "" {
			status = envelope.Error.Type
		}
		return &ProviderError{
			StatusCode: resp.StatusCode,
			Status:     status,
			Message:    envelope.Error.Message,
		}
	}
	return &ProviderError{StatusCode: resp.StatusCode, Message: string(body)}
}

// Unavailable is a Provider that always fails with err. It stands in when
// no API key is configured so the assistant still answers with its
// fallback text.
type Unavailable struct {
	Err error
}

// Complete returns u.Err, or ErrNoAPIKey when unset.
func (u Unavailable) Complete(context.Context, Request) (*Response, error) {
	if u.Err != nil {
		return nil, u.Err
	}
	return nil, ErrNoAPIKey
}
