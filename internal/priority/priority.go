// Package priority orders notifications for display and maps severities to
// on-screen durations.
package priority

import (
	"sort"
	"time"

	"carelink/internal/notify"
)

const (
	ErrorDuration   = 8 * time.Second
	WarningDuration = 6 * time.Second
	SuccessDuration = 4 * time.Second
	DefaultDuration = 5 * time.Second
)

// Rank returns the sort rank of a severity; lower sorts first.
// Unknown severities rank after every known one.
func Rank(s notify.Severity) int {
	switch s {
	case notify.SeverityError:
		return 0
	case notify.SeverityWarning:
		return 1
	case notify.SeverityInfo:
		return 2
	case notify.SeveritySuccess:
		return 3
	default:
		return 4
	}
}

// Less reports whether a should be shown before b: severity rank first, then newest first.
func Less(a, b notify.Notification) bool {
	ra, rb := Rank(a.Severity), Rank(b.Severity)
	if ra != rb {
		return ra < rb
	}
	return a.Timestamp > b.Timestamp
}

// SortByPriority returns a sorted copy of list. The input is not modified.
func SortByPriority(list []notify.Notification) []notify.Notification {
	out := append([]notify.Notification(nil), list...)
	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// DisplayDuration returns how long a notification stays visible.
func DisplayDuration(n notify.Notification) time.Duration {
	switch n.Severity {
	case notify.SeverityError:
		return ErrorDuration
	case notify.SeverityWarning:
		return WarningDuration
	case notify.SeveritySuccess:
		return SuccessDuration
	default:
		return DefaultDuration
	}
}
