// Package assistant relays chat turns and log snapshots to a text-generation
// collaborator and turns every collaborator fault into a fixed reply.
package assistant

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/simops/internal/llm"
	"github.com/lucasnoah/simops/internal/prompt"
)

// Fallback replies.
const (
	SendFallback    = "I'm having trouble connecting to the DevOps mainframe (API Error)."
	AnalyzeFallback = "Failed to analyze logs using Gemini AI. Please check your API Key."
	EmptyAnalysis   = "No analysis could be generated."
	EmptyReply      = "No response was generated."
)

// Collaborator is the text-generation service the bridge talks to.
type Collaborator = llm.Collaborator

// Options configures a Bridge.
type Options struct {
	// Timeout bounds each collaborator call. Zero means no extra bound.
	Timeout time.Duration
	// PromptDir holds optional overrides for the system and analyze templates.
	PromptDir string
	Logger    *zap.Logger
}

// Bridge never returns collaborator errors to its callers.
type Bridge struct {
	collab  Collaborator
	opts    Options
	logger  *zap.Logger
	system  string
	analyze string
}

// NewBridge loads the prompt templates and wraps collab.
func NewBridge(collab Collaborator, opts Options) (*Bridge, error) {
	system, err := prompt.Load(prompt.System, opts.PromptDir)
	if err != nil {
		return nil, err
	}
	analyze, err := prompt.Load(prompt.Analyze, opts.PromptDir)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{collab: collab, opts: opts, logger: logger, system: system, analyze: analyze}, nil
}

// SystemPrompt returns the persona prime used for new sessions.
func (b *Bridge) SystemPrompt() string { return b.system }

// CreateSession opens a conversation primed with the system prompt.
func (b *Bridge) CreateSession(ctx context.Context) (llm.SessionID, error) {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	id, err := b.collab.CreateSession(ctx, b.system)
	if err != nil {
		b.logger.Warn("create assistant session", zap.Error(err))
		return "", err
	}
	return id, nil
}

// Send forwards text within session and returns the reply, or SendFallback
// on any fault.
func (b *Bridge) Send(ctx context.Context, session llm.SessionID, text string) string {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	reply, err := b.collab.SendMessage(ctx, session, text)
	if err != nil {
		b.logger.Warn("assistant send failed", zap.String("session", string(session)), zap.Error(err))
		return SendFallback
	}
	if strings.TrimSpace(reply) == "" {
		return EmptyReply
	}
	return reply
}

// Analyze asks for an explanation of lines outside any conversation.
func (b *Bridge) Analyze(ctx context.Context, lines []string) string {
	request, err := prompt.Render(b.analyze, prompt.Vars{"logs": strings.Join(lines, "\n")})
	if err != nil {
		b.logger.Error("render analyze prompt", zap.Error(err))
		return AnalyzeFallback
	}

	ctx, cancel := b.bound(ctx)
	defer cancel()
	reply, err := b.collab.Generate(ctx, request)
	if err != nil {
		b.logger.Warn("log analysis failed", zap.Int("lines", len(lines)), zap.Error(err))
		return AnalyzeFallback
	}
	if strings.TrimSpace(reply) == "" {
		return EmptyAnalysis
	}
	return reply
}

func (b *Bridge) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.opts.Timeout)
}
