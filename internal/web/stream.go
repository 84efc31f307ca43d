package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lucasnoah/simops/internal/logbuf"
	"github.com/lucasnoah/simops/internal/telemetry"
)

type logsEvent struct {
	Lines  []string      `json:"lines"`
	Cursor logbuf.Cursor `json:"cursor"`
	Reset  bool          `json:"reset"`
}

// pointsAfter returns the samples of window (oldest first) newer than t.
func pointsAfter(window []telemetry.MetricPoint, t time.Time) []telemetry.MetricPoint {
	for i, p := range window {
		if p.Time.After(t) {
			return window[i:]
		}
	}
	return nil
}

// handleStream serves a Server-Sent Events feed. It polls the machine,
// telemetry and log on every stream interval and sends a "pipeline",
// "metrics" or "logs" event only for what changed. The first poll sends
// everything.
func (s *Server) handleStream(c *gin.Context) {
	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var (
		lastSnap   []byte
		lastMetric time.Time
		cursor     = logbuf.Cursor{Generation: -1}
	)

	send := func(event string, v interface{}) bool {
		data, err := json.Marshal(v)
		if err != nil {
			s.logger.Error("encode stream event", zap.String("event", event), zap.Error(err))
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return false
		}
		return true
	}

	poll := func() bool {
		snap := s.orch.Machine().Snapshot()
		encoded, _ := json.Marshal(snap)
		if string(encoded) != string(lastSnap) {
			if !send("pipeline", snap) {
				return false
			}
			lastSnap = encoded
		}

		// The page renders the window itself, so the first poll only
		// sends the newest point; later polls send every tick since.
		points := []telemetry.MetricPoint{s.orch.Telemetry().Latest()}
		if !lastMetric.IsZero() {
			points = pointsAfter(s.orch.Telemetry().Window(), lastMetric)
		}
		for _, p := range points {
			if !send("metrics", p) {
				return false
			}
			lastMetric = p.Time
		}

		lines, next, reset := s.orch.Logs().Since(cursor)
		if reset || len(lines) > 0 {
			if !send("logs", logsEvent{Lines: lines, Cursor: next, Reset: reset}) {
				return false
			}
		}
		cursor = next
		flusher.Flush()
		return true
	}

	if !poll() {
		return
	}

	tick := time.NewTicker(s.streamInterval)
	defer tick.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-tick.C:
			if !poll() {
				return
			}
		}
	}
}
