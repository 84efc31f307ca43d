package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SessionID is the opaque handle of a conversation.
type SessionID string

// Collaborator is the text-generation contract consumed by the assistant.
type Collaborator interface {
	CreateSession(ctx context.Context, systemPrompt string) (SessionID, error)
	SendMessage(ctx context.Context, session SessionID, text string) (string, error)
	Generate(ctx context.Context, prompt string) (string, error)
}

// ErrUnknownSession is returned for a SessionID Chat did not create.
var ErrUnknownSession = errors.New("llm: unknown session")

// Chat implements Collaborator over a stateless Provider by keeping each
// session's history locally and replaying it on every turn.
type Chat struct {
	provider Provider

	mu       sync.Mutex
	sessions map[SessionID]*session
}

type session struct {
	mu      sync.Mutex // serializes turns within one conversation
	system  string
	history []Message
}

// NewChat wraps provider.
func NewChat(provider Provider) *Chat {
	return &Chat{provider: provider, sessions: make(map[SessionID]*session)}
}

// CreateSession opens a conversation primed with systemPrompt. It does no
// I/O.
func (c *Chat) CreateSession(_ context.Context, systemPrompt string) (SessionID, error) {
	id := SessionID(uuid.NewString())
	c.mu.Lock()
	c.sessions[id] = &session{system: systemPrompt}
	c.mu.Unlock()
	return id, nil
}

// SendMessage sends text as the next user turn. History only grows when
// the provider succeeds, so a failed turn can be retried cleanly.
func (c *Chat) SendMessage(ctx context.Context, id SessionID, text string) (string, error) {
	c.mu.Lock()
	s, ok := c.sessions[id]
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turn := Message{Role: RoleUser, Text: text}
	messages := make([]Message, 0, len(s.history)+1)
	messages = append(messages, s.history...)
	messages = append(messages, turn)

	resp, err := c.provider.Complete(ctx, Request{System: s.system, Messages: messages})
	if err != nil {
		return "", err
	}
	s.history = append(s.history, turn, Message{Role: RoleModel, Text: resp.Text})
	return resp.Text, nil
}

// Generate completes prompt outside any session.
func (c *Chat) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.provider.Complete(ctx, Request{
		Messages: []Message{{Role: RoleUser, Text: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// History returns a copy of a session's turns.
func (c *Chat) History(id SessionID) ([]Message, error) {
	c.mu.Lock()
	s, ok := c.sessions[id]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...), nil
}
