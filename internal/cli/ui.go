package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/taptalk/backend/pkg/client"
)

// UI styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	assistantStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#10B981"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))

	bubbleStyle = lipgloss.NewStyle().
			PaddingLeft(2).
			Width(80)
)

func printBanner(w io.Writer, server string) {
	fmt.Fprintln(w, titleStyle.Render("TapTalk"))
	fmt.Fprintln(w, pendingStyle.Render("relay: "+server))
	fmt.Fprintln(w, pendingStyle.Render("commands: /clear /login /exit"))
	fmt.Fprintln(w)
}

func printMessage(w io.Writer, m client.Message) {
	label := assistantStyle.Render("Gemini")
	if m.IsUser {
		label = userStyle.Render("You")
	}

	header := label + " " + pendingStyle.Render(formatTime(m.Timestamp))
	switch m.Status {
	case client.StatusPending:
		header += " " + pendingStyle.Render("(sending)")
	case client.StatusFailed:
		header += " " + errorStyle.Render("(not delivered)")
	}

	fmt.Fprintln(w, header)
	fmt.Fprintln(w, bubbleStyle.Render(strings.TrimSpace(m.Content)))
}

func printTranscript(w io.Writer, sessionID string, messages []client.Message) {
	fmt.Fprintln(w, titleStyle.Render("Session "+sessionID))
	if len(messages) == 0 {
		fmt.Fprintln(w, pendingStyle.Render("no messages yet"))
		return
	}
	for _, m := range messages {
		printMessage(w, m)
	}
}

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, errorStyle.Render("✗ "+err.Error()))
}

func printInfo(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, infoStyle.Render(fmt.Sprintf(format, args...)))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("15:04")
}
