package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"docflow/internal/stageexec"
	"docflow/internal/state"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

// stageColor maps failed stages to red and stages a document may finish at
// to green. Parked validations are yellow.
func stageColor(stage state.Stage) string {
	switch {
	case stage.Failed():
		return ansiRed
	case stage == state.StageExtracted || stage == state.StageExtractionValidation ||
		stage == state.StageClassified || stage == state.StageClassificationValidation:
		return ansiGreen
	case stage == state.StageExtractionValidationSubmitted || stage == state.StageClassificationValidationSubmitted:
		return ansiYellow
	default:
		return ansiBlue
	}
}

func renderStage(stage state.Stage, colorize bool) string {
	label := stageexec.Label(string(stage))
	if label == "" {
		label = "-"
	}
	if colorize {
		return stageColor(stage) + label + ansiReset
	}
	return label
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func shouldColorize(writer io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func errorText(code, message string) string {
	switch {
	case code == "":
		return strings.TrimSpace(message)
	case message == "":
		return code
	default:
		return "[" + code + "] " + message
	}
}
