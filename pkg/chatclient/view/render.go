// Package view renders a transcript as terminal chat bubbles.
package view

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/webhook-chat/backend/internal/model/chat"
)

const (
	emptyPrompt  = "Start a conversation!"
	thinkingText = "Thinking..."
)

var (
	userBubble = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("33")).
			Foreground(lipgloss.Color("231"))

	assistantBubble = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("245"))

	localBubble = assistantBubble.
			BorderForeground(lipgloss.Color("160"))

	mutedText = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
)

// Render draws bubbles for entries. User bubbles are right-aligned,
// assistant bubbles left-aligned; bubbles take at most 80% of width.
func Render(entries []chat.Entry, inFlight bool, width int) string {
	if width < 20 {
		width = 20
	}
	if len(entries) == 0 && !inFlight {
		return lipgloss.PlaceHorizontal(width, lipgloss.Center, mutedText.Render(emptyPrompt))
	}

	maxBubble := width * 8 / 10
	rows := make([]string, 0, len(entries)+1)
	for _, e := range entries {
		rows = append(rows, bubble(e, maxBubble, width))
	}
	if inFlight {
		rows = append(rows, lipgloss.PlaceHorizontal(width, lipgloss.Left,
			assistantBubble.Render(mutedText.Render(thinkingText))))
	}
	return strings.Join(rows, "\n")
}

func bubble(e chat.Entry, maxWidth, width int) string {
	style := assistantBubble
	pos := lipgloss.Left
	switch {
	case e.Role == chat.RoleUser:
		style, pos = userBubble, lipgloss.Right
	case e.Local:
		style = localBubble
	}

	// Border and padding take four columns.
	content := e.Content
	if lipgloss.Width(content)+4 > maxWidth {
		style = style.Width(maxWidth - 2)
	}
	return lipgloss.PlaceHorizontal(width, pos, style.Render(content))
}
