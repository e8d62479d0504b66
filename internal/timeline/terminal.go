package timeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"cloudscope/internal/schema"
)

var (
	primary    = lipgloss.Color("#7C3AED")
	warning    = lipgloss.Color("#F59E0B")
	mutedColor = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primary)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primary).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(mutedColor)

	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)

	tagStyle = lipgloss.NewStyle().
			Foreground(warning).
			Bold(true)
)

// terminal column widths match the widest common values so rows stay
// aligned without measuring the whole collection first.
const (
	timeWidth  = 20
	nameWidth  = 32
	actorWidth = 24
	ipWidth    = 16
)

// RenderTimeline formats events as a styled table for interactive
// review. Events are expected pre-sorted.
func RenderTimeline(title string, events []*schema.Event) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	header := fmt.Sprintf("%-*s %-*s %-*s %-*s %s",
		timeWidth, "TIME",
		nameWidth, "EVENT",
		actorWidth, "ACTOR",
		ipWidth, "SOURCE IP",
		"TAGS")
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	for _, event := range events {
		eventTime := "-"
		if event.EventTime != nil {
			eventTime = event.EventTime.UTC().Format(time.DateTime)
		}

		row := fmt.Sprintf("%-*s %-*s %-*s %-*s ",
			timeWidth, eventTime,
			nameWidth, truncate(event.EventName, nameWidth),
			actorWidth, truncate(event.Actor, actorWidth),
			ipWidth, event.SourceIP)
		b.WriteString(row)

		if len(event.Tags) > 0 {
			b.WriteString(tagStyle.Render(strings.Join(event.Tags, " ")))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%d events", len(events))))
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
