package orchestrator

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/lucasnoah/simops/internal/assistant"
	"github.com/lucasnoah/simops/internal/clock"
	"github.com/lucasnoah/simops/internal/config"
	"github.com/lucasnoah/simops/internal/llm"
	"github.com/lucasnoah/simops/internal/logbuf"
	"github.com/lucasnoah/simops/internal/pipeline"
	"github.com/lucasnoah/simops/internal/telemetry"
)

// Deps are the collaborators an Orchestrator is built from. Only Config is
// required.
type Deps struct {
	Config   *config.Config
	Clock    clock.Clock
	Logger   *zap.Logger
	Recorder pipeline.Recorder

	// PipelineRand and TelemetryRand override the seeded sources from Config.
	PipelineRand  clock.Rand
	TelemetryRand clock.Rand

	// Collaborator overrides the provider selected by Config.
	Collaborator llm.Collaborator
	HTTPClient   *http.Client
}

// Orchestrator wires the pipeline machine, telemetry simulator and
// assistant together and owns their background work.
type Orchestrator struct {
	cfg          *config.Config
	logger       *zap.Logger
	logs         *logbuf.Aggregator
	machine      *pipeline.Machine
	telemetry    *telemetry.Simulator
	bridge       *assistant.Bridge
	conversation *assistant.Conversation

	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// New builds an Orchestrator from deps.
func New(deps Deps) (*Orchestrator, error) {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pipeRand := deps.PipelineRand
	if pipeRand == nil {
		pipeRand = clock.NewRand(cfg.Pipeline.Seed)
	}
	telRand := deps.TelemetryRand
	if telRand == nil {
		telRand = clock.NewRand(cfg.Telemetry.Seed)
	}
	collab := deps.Collaborator
	if collab == nil {
		collab = NewCollaborator(cfg.Assistant, deps.HTTPClient, logger)
	}

	logs := logbuf.New(logger.Named("logs"))
	machine := pipeline.NewMachine(clk, pipeRand, logs, pipeline.Options{
		FailureProbability: cfg.Pipeline.Probability(),
		TimeScale:          cfg.Pipeline.TimeScale,
		Logger:             logger.Named("pipeline"),
		Recorder:           deps.Recorder,
	})
	sim := telemetry.New(clk, telRand, telemetry.Options{
		Interval: cfg.Telemetry.IntervalDuration(),
		Logger:   logger.Named("telemetry"),
	})
	bridge, err := assistant.NewBridge(collab, assistant.Options{
		Timeout:   cfg.Assistant.TimeoutDuration(),
		PromptDir: cfg.Assistant.PromptDir,
		Logger:    logger.Named("assistant"),
	})
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:          cfg,
		logger:       logger,
		logs:         logs,
		machine:      machine,
		telemetry:    sim,
		bridge:       bridge,
		conversation: assistant.NewConversation(bridge, clk),
	}
	return o, nil
}

// NewCollaborator selects the text-generation backend for cfg. A missing
// API key yields a collaborator that always faults, so the assistant
// answers with its fallback text.
func NewCollaborator(cfg config.Assistant, client *http.Client, logger *zap.Logger) llm.Collaborator {
	if client == nil {
		client = &http.Client{Timeout: cfg.TimeoutDuration()}
	}
	key := cfg.APIKey()

	var provider llm.Provider
	switch {
	case cfg.Provider == config.ProviderNone:
		provider = llm.Unavailable{}
	case key == "":
		logger.Warn("assistant API key not set; replies will use fallback text", zap.String("env", cfg.APIKeyEnv))
		provider = llm.Unavailable{}
	case cfg.Provider == config.ProviderOpenAI:
		provider = llm.NewOpenAI(client, cfg.BaseURL, key, cfg.Model)
	default:
		provider = llm.NewGemini(client, cfg.BaseURL, key, cfg.Model)
	}
	return llm.NewChat(provider)
}

// Start launches the telemetry loop. It is a no-op if already started.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return
	}
	ctx, o.cancel = context.WithCancel(ctx)
	o.running.Add(1)
	go func() {
		defer o.running.Done()
		o.telemetry.Run(ctx, o.machine.Status)
	}()
}

// Shutdown stops the telemetry loop and waits for an active pipeline run
// to settle. Runs are never cancelled.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.running.Wait()
	o.machine.Wait()
}

// StartRun begins a pipeline run; false means one is already running.
func (o *Orchestrator) StartRun() bool {
	return o.machine.Start()
}

// AnalyzeCurrentRun sends the current log snapshot to the assistant and
// appends the result to the conversation.
func (o *Orchestrator) AnalyzeCurrentRun(ctx context.Context) assistant.ChatMessage {
	return o.conversation.AnalyzeLogs(ctx, o.logs.Snapshot())
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() *config.Config { return o.cfg }

// Logs returns the run log shared by the machine and the assistant.
func (o *Orchestrator) Logs() *logbuf.Aggregator { return o.logs }

func (o *Orchestrator) Machine() *pipeline.Machine { return o.machine }

func (o *Orchestrator) Telemetry() *telemetry.Simulator { return o.telemetry }

func (o *Orchestrator) Bridge() *assistant.Bridge { return o.bridge }

func (o *Orchestrator) Conversation() *assistant.Conversation { return o.conversation }
