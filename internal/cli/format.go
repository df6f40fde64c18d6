package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"carelink/internal/connection"
	"carelink/internal/contacts"
	"carelink/internal/display"
	"carelink/internal/eventbus"
	"carelink/internal/notify"
	"carelink/internal/transport"
)

func severityColor(s notify.Severity) *color.Color {
	switch s {
	case notify.SeverityError:
		return color.New(color.FgRed, color.Bold)
	case notify.SeverityWarning:
		return color.New(color.FgYellow)
	case notify.SeveritySuccess:
		return color.New(color.FgHiGreen)
	default:
		return color.New(color.FgHiBlue)
	}
}

func describe(n notify.Notification) string {
	tag := severityColor(n.Severity).Sprintf("[%s]", strings.ToUpper(string(n.Severity)))
	s := tag + " " + n.Title
	if n.Message != "" {
		s += ": " + n.Message
	}
	if n.OriginContact != "" {
		s += color.New(color.FgCyan).Sprintf(" (%s)", n.OriginContact)
	}
	return s
}

// formatEvent renders one bus event as a tail line. It returns "" for events
// the tail view does not show.
func formatEvent(e eventbus.Event) string {
	ts := e.Time.Format(time.TimeOnly)
	dim := color.New(color.Faint)
	line := func(kind, body string) string {
		return fmt.Sprintf("%s %-10s %s", dim.Sprint(ts), kind, body)
	}

	switch d := e.Data.(type) {
	case notify.Notification:
		switch e.Type {
		case eventbus.TopicFiltered:
			return line("filtered", dim.Sprint(d.Title))
		case eventbus.TopicReminder:
			return line("reminder", describe(d))
		}
	case display.Change:
		if e.Type == eventbus.TopicShown {
			return line("shown", describe(d.Slot.Notification))
		}
		return line("dismissed", dim.Sprintf("%s (%s)", d.Slot.Notification.Title, d.Reason))
	case contacts.Record:
		badge := color.New(color.FgHiMagenta).Sprintf("%d unread", d.UnreadCount)
		return line("contact", d.ContactID+" "+badge)
	case connection.State:
		c := color.New(color.FgGreen)
		if d != connection.StateOpen {
			c = color.New(color.FgRed)
		}
		return line("link", c.Sprint(d.String()))
	case *transport.TransportError:
		return line("error", color.New(color.FgRed).Sprintf("%s (attempt %d)", d.Error(), d.Attempts))
	case connection.ChatResponse:
		return line("chat", fmt.Sprintf("%s: %s", d.AiRoleID, d.Text))
	case []string:
		if e.Type == eventbus.TopicConfigReloaded {
			return line("config", "reloaded "+strings.Join(d, ","))
		}
	}
	return ""
}
