package tui

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/x/ansi"

	"github.com/wethinkt/thinkt-browse/internal/transcript"
)

// maxResultLines caps how much of a tool result is shown inline.
const maxResultLines = 12

// renderMessages renders msgs oldest-first into one string for the viewport.
func renderMessages(msgs []transcript.Message, width int, filters *RoleFilterSet) string {
	s := GetStyles()
	if len(msgs) == 0 {
		return s.MoreText.Render("No messages yet.")
	}

	contentWidth := max(20, width)
	var b strings.Builder
	for _, m := range msgs {
		if !filters.Visible(m.Role) {
			continue
		}
		b.WriteString(renderMessage(m, contentWidth, s))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderMessage renders a header line and the wrapped message body.
func renderMessage(m transcript.Message, width int, s *Styles) string {
	label, block := roleStyles(m.Role, s)
	header := label.Render(roleLabel(m.Role))
	if !m.Timestamp.IsZero() {
		header += " " + s.Timestamp.Render(m.Timestamp.Local().Format("15:04:05"))
	}
	header = ansi.Truncate(header, width, "…")

	// Leave room for the block border and padding.
	bodyWidth := max(10, width-2)
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return header
	}
	body := ansi.Wordwrap(text, bodyWidth, " -")
	if m.Role == "tool_result" {
		body = clampLines(body, maxResultLines, s)
	}
	return header + "\n" + block.Width(width).Render(body)
}

// clampLines keeps the first n lines of text and notes how many were hidden.
func clampLines(text string, n int, s *Styles) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text
	}
	hidden := len(lines) - n
	return strings.Join(lines[:n], "\n") + "\n" + s.MoreText.Render(fmt.Sprintf("… %d more lines", hidden))
}

func roleStyles(role string, s *Styles) (label, block lipgloss.Style) {
	switch role {
	case "user":
		return s.UserLabel, s.UserBlock
	case "assistant":
		return s.AssistantLabel, s.AssistantBlock
	case "tool_use":
		return s.ToolLabel, s.ToolCallBlock
	case "tool_result":
		return s.ToolLabel, s.ToolResultBlock
	default:
		return s.SystemLabel, s.SystemBlock
	}
}

func roleLabel(role string) string {
	switch role {
	case "user":
		return "User"
	case "assistant":
		return "Assistant"
	case "tool_use":
		return "Tool"
	case "tool_result":
		return "Result"
	case "system":
		return "System"
	case "":
		return "Message"
	}
	return role
}
