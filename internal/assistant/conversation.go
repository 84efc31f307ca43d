package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/simops/internal/clock"
	"github.com/lucasnoah/simops/internal/llm"
)

// Role identifies who authored a ChatMessage.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// WelcomeMessage opens every transcript.
const WelcomeMessage = "Hello! I'm your DevOps Assistant. I can explain the current pipeline status, analyze logs, or help you understand tools like Kubernetes and Maven. How can I help?"

// AnalysisPrefix marks replies produced by AnalyzeLogs.
const AnalysisPrefix = "**Log Analysis:**\n\n"

// ErrEmptyMessage is returned by Send for blank input.
var ErrEmptyMessage = errors.New("assistant: empty message")

// ChatMessage is one entry of a transcript.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the single chat shown to the user. The collaborator
// session is created on first use and reused afterwards.
type Conversation struct {
	bridge *Bridge
	clock  clock.Clock

	sessionMu sync.Mutex
	session   llm.SessionID

	mu         sync.Mutex
	transcript []ChatMessage
	pending    int
}

// NewConversation starts a transcript holding the welcome message.
func NewConversation(bridge *Bridge, clk clock.Clock) *Conversation {
	c := &Conversation{bridge: bridge, clock: clk}
	c.append(RoleModel, WelcomeMessage)
	return c
}

// Send records text as a user message, relays it and records the reply.
// The returned message is the reply; collaborator faults arrive as the
// fallback text.
func (c *Conversation) Send(ctx context.Context, text string) (ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, ErrEmptyMessage
	}
	c.append(RoleUser, text)
	c.track(1)
	defer c.track(-1)

	session, err := c.ensureSession(ctx)
	if err != nil {
		return c.append(RoleModel, SendFallback), nil
	}
	return c.append(RoleModel, c.bridge.Send(ctx, session, text)), nil
}

// AnalyzeLogs appends an analysis of lines to the transcript.
func (c *Conversation) AnalyzeLogs(ctx context.Context, lines []string) ChatMessage {
	c.track(1)
	defer c.track(-1)
	return c.append(RoleModel, AnalysisPrefix+c.bridge.Analyze(ctx, lines))
}

// Transcript returns a copy of all messages in order.
func (c *Conversation) Transcript() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatMessage(nil), c.transcript...)
}

// Pending reports how many replies are being awaited.
func (c *Conversation) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Conversation) ensureSession(ctx context.Context) (llm.SessionID, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.session != "" {
		return c.session, nil
	}
	id, err := c.bridge.CreateSession(ctx)
	if err != nil {
		return "", err
	}
	c.session = id
	return id, nil
}

func (c *Conversation) append(role Role, text string) ChatMessage {
	msg := ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: c.clock.Now(),
	}
	c.mu.Lock()
	c.transcript = append(c.transcript, msg)
	c.mu.Unlock()
	return msg
}

func (c *Conversation) track(delta int) {
	c.mu.Lock()
	c.pending += delta
	c.mu.Unlock()
}
