package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lucasnoah/simops/internal/pipeline"
)

var (
	faintText  = lipgloss.Color("245")
	normalText = lipgloss.Color("252")
	greenText  = lipgloss.Color("42")
	redText    = lipgloss.Color("196")
	blueText   = lipgloss.Color("75")
	amberText  = lipgloss.Color("214")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(normalText)
	faintStyle  = lipgloss.NewStyle().Foreground(faintText)
)

func stageColor(s pipeline.StageStatus) lipgloss.Color {
	switch s {
	case pipeline.StageCompleted:
		return greenText
	case pipeline.StageFailed:
		return redText
	case pipeline.StageRunning:
		return blueText
	case pipeline.StageSkipped:
		return amberText
	default:
		return faintText
	}
}

func statusColor(s pipeline.Status) lipgloss.Color {
	switch s {
	case pipeline.StatusSuccess:
		return greenText
	case pipeline.StatusFailed:
		return redText
	case pipeline.StatusRunning:
		return blueText
	default:
		return faintText
	}
}

func stageIcon(s pipeline.StageStatus) string {
	switch s {
	case pipeline.StageCompleted:
		return "✔"
	case pipeline.StageFailed:
		return "✘"
	case pipeline.StageRunning:
		return "●"
	default:
		return "○"
	}
}

// renderSummary writes the per-stage table and the overall status of a
// finished run.
func renderSummary(w io.Writer, run pipeline.RunRecord) {
	nameStyle := lipgloss.NewStyle().Width(22).Foreground(normalText)
	toolStyle := lipgloss.NewStyle().Width(12).Foreground(faintText)

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("Run "+run.ID))
	for _, st := range run.Stages {
		status := lipgloss.NewStyle().Width(10).Foreground(stageColor(st.Status)).
			Render(stageIcon(st.Status) + " " + string(st.Status))
		line := status + " " + nameStyle.Render(st.Name) + toolStyle.Render(st.Tool)
		if d := formatDuration(st.Duration); d != "" {
			line += faintStyle.Render(d)
		}
		fmt.Fprintln(w, line)
		for _, l := range st.Logs {
			fmt.Fprintln(w, faintStyle.Render("           "+l))
		}
	}

	status := lipgloss.NewStyle().Bold(true).Foreground(statusColor(run.Status)).Render(string(run.Status))
	fmt.Fprintf(w, "\nPipeline %s in %s\n", status, formatDuration(run.Duration()))
	if run.FailedStage != "" {
		fmt.Fprintf(w, "Failed stage: %s\n", run.FailedStage)
	}
}

// renderMessage writes one assistant message, indenting continuation lines.
func renderMessage(w io.Writer, label, text string) {
	prefix := lipgloss.NewStyle().Bold(true).Foreground(blueText).Render(label + ":")
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	fmt.Fprintf(w, "%s %s\n", prefix, lines[0])
	for _, l := range lines[1:] {
		fmt.Fprintf(w, "  %s\n", l)
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}
