package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lucasnoah/simops/internal/db"
	"github.com/lucasnoah/simops/internal/orchestrator"
	"github.com/lucasnoah/simops/internal/pipeline"
)

//go:embed templates
var templateFS embed.FS

var funcMap = template.FuncMap{
	"stageClass": func(status pipeline.StageStatus) string {
		return "stage stage-" + strings.ToLower(string(status))
	},
	"badgeClass": func(status pipeline.Status) string {
		return "badge badge-" + strings.ToLower(string(status))
	},
	"markdown": renderMarkdown,
	"duration": fmtDuration,
	"clock": func(t time.Time) string {
		return t.Local().Format("15:04:05")
	},
	"relTime": relTime,
}

// Server is the dashboard and JSON API.
type Server struct {
	orch           *orchestrator.Orchestrator
	db             *db.DB
	port           int
	streamInterval time.Duration
	logger         *zap.Logger
	engine         *gin.Engine

	dashboardTmpl *template.Template
	assistantTmpl *template.Template
	docsTmpl      *template.Template
}

// NewServer creates a Server with parsed templates and routes. database may
// be nil, in which case run history endpoints report 503.
func NewServer(orch *orchestrator.Orchestrator, database *db.DB, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := orch.Config()
	s := &Server{
		orch:           orch,
		db:             database,
		port:           cfg.Server.Port,
		streamInterval: cfg.Server.StreamIntervalDuration(),
		logger:         logger,
		dashboardTmpl:  mustParseTmpl("base.html", "dashboard.html"),
		assistantTmpl:  mustParseTmpl("base.html", "assistant.html"),
		docsTmpl:       mustParseTmpl("base.html", "docs.html"),
	}
	s.engine = s.routes()
	return s
}

func mustParseTmpl(names ...string) *template.Template {
	patterns := make([]string, len(names))
	for i, n := range names {
		patterns[i] = "templates/" + n
	}
	return template.Must(template.New("").Funcs(funcMap).ParseFS(templateFS, patterns...))
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/", s.handleDashboard)
	r.GET("/assistant", s.handleAssistant)
	r.GET("/docs", s.handleDocs)

	api := r.Group("/api")
	{
		api.GET("/pipeline", s.handlePipeline)
		api.POST("/pipeline/run", s.handleRun)
		api.GET("/metrics", s.handleMetrics)
		api.GET("/logs", s.handleLogs)
		api.GET("/chat", s.handleTranscript)
		api.POST("/chat", s.handleChat)
		api.POST("/analyze", s.handleAnalyze)
		api.GET("/runs", s.handleRuns)
		api.GET("/runs/:id", s.handleRunDetail)
		api.GET("/stream", s.handleStream)
	}
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured port until ctx is done, then shuts the
// server down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.engine,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", zap.String("url", fmt.Sprintf("http://localhost:%d", s.port)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down dashboard")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func relTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func fmtDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}
