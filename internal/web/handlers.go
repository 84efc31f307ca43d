package web

import (
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lucasnoah/simops/internal/analytics"
	"github.com/lucasnoah/simops/internal/assistant"
	"github.com/lucasnoah/simops/internal/db"
	"github.com/lucasnoah/simops/internal/logbuf"
	"github.com/lucasnoah/simops/internal/pipeline"
	"github.com/lucasnoah/simops/internal/telemetry"
)

// ---- view models ----

type DashboardData struct {
	Page       string
	Snapshot   pipeline.Snapshot
	Logs       []string
	Latest     telemetry.MetricPoint
	Window     []telemetry.MetricPoint
	KPIs       *analytics.KPIs
	Runs       []db.Run
	CanAnalyze bool
}

type AssistantData struct {
	Page     string
	Messages []assistant.ChatMessage
	Pending  int
}

type DocsData struct {
	Page   string
	Stages []pipeline.Stage
}

const recentRuns = 10

func (s *Server) render(c *gin.Context, tmpl *template.Template, data interface{}) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(c.Writer, "base", data); err != nil {
		s.logger.Error("render template", zap.Error(err))
		c.Status(http.StatusInternalServerError)
	}
}

// ---- pages ----

func (s *Server) handleDashboard(c *gin.Context) {
	snap := s.orch.Machine().Snapshot()
	data := DashboardData{
		Page:       "dashboard",
		Snapshot:   snap,
		Logs:       s.orch.Logs().Snapshot(),
		Latest:     s.orch.Telemetry().Latest(),
		Window:     s.orch.Telemetry().Window(),
		CanAnalyze: snap.Status == pipeline.StatusFailed,
	}
	if s.db != nil {
		if kpis, err := analytics.QueryKPIs(s.db, ""); err == nil {
			data.KPIs = kpis
		} else {
			s.logger.Warn("load KPIs", zap.Error(err))
		}
		if runs, err := s.db.ListRuns(c.Request.Context(), recentRuns); err == nil {
			data.Runs = runs
		} else {
			s.logger.Warn("load runs", zap.Error(err))
		}
	}
	s.render(c, s.dashboardTmpl, data)
}

func (s *Server) handleAssistant(c *gin.Context) {
	conv := s.orch.Conversation()
	s.render(c, s.assistantTmpl, AssistantData{
		Page:     "assistant",
		Messages: conv.Transcript(),
		Pending:  conv.Pending(),
	})
}

func (s *Server) handleDocs(c *gin.Context) {
	s.render(c, s.docsTmpl, DocsData{
		Page:   "docs",
		Stages: s.orch.Machine().Snapshot().Stages,
	})
}

// ---- JSON API ----

func (s *Server) handlePipeline(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.Machine().Snapshot())
}

func (s *Server) handleRun(c *gin.Context) {
	if !s.orch.StartRun() {
		c.JSON(http.StatusConflict, gin.H{"error": "pipeline already running"})
		return
	}
	snap := s.orch.Machine().Snapshot()
	c.JSON(http.StatusAccepted, gin.H{"started": true, "run_id": snap.RunID})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"window": s.orch.Telemetry().Window()})
}

// handleLogs returns the whole log, or with ?since=generation:offset only
// the lines appended after that cursor.
func (s *Server) handleLogs(c *gin.Context) {
	logs := s.orch.Logs()
	since := c.Query("since")
	if since == "" {
		lines, next, _ := logs.Since(logbuf.Cursor{Generation: -1})
		c.JSON(http.StatusOK, gin.H{"lines": lines, "cursor": next, "reset": true})
		return
	}
	cursor, err := parseCursor(since)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	lines, next, reset := logs.Since(cursor)
	c.JSON(http.StatusOK, gin.H{"lines": lines, "cursor": next, "reset": reset})
}

func (s *Server) handleTranscript(c *gin.Context) {
	conv := s.orch.Conversation()
	c.JSON(http.StatusOK, gin.H{"messages": conv.Transcript(), "pending": conv.Pending()})
}

type chatRequest struct {
	Text string `json:"text" form:"text"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	reply, err := s.orch.Conversation().Send(c.Request.Context(), req.Text)
	if errors.Is(err, assistant.ErrEmptyMessage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message text is required"})
		return
	}
	if wantsHTML(c) {
		c.Redirect(http.StatusSeeOther, "/assistant")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	msg := s.orch.AnalyzeCurrentRun(c.Request.Context())
	if wantsHTML(c) {
		c.Redirect(http.StatusSeeOther, "/assistant")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (s *Server) handleRuns(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is disabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}
	since := c.Query("since")

	runs, err := s.db.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs: " + err.Error()})
		return
	}
	kpis, err := analytics.QueryKPIs(s.db, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute KPIs: " + err.Error()})
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "kpis": kpis})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history is disabled"})
		return
	}
	rec, err := s.db.LoadRecord(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func parseCursor(s string) (logbuf.Cursor, error) {
	gen, off, ok := strings.Cut(s, ":")
	if !ok {
		return logbuf.Cursor{}, errors.New("since must be generation:offset")
	}
	g, err := strconv.Atoi(gen)
	if err != nil {
		return logbuf.Cursor{}, errors.New("invalid generation")
	}
	o, err := strconv.Atoi(off)
	if err != nil || o < 0 {
		return logbuf.Cursor{}, errors.New("invalid offset")
	}
	return logbuf.Cursor{Generation: g, Offset: o}, nil
}

// wantsHTML reports whether the request came from a form post.
func wantsHTML(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "application/x-www-form-urlencoded")
}
