package modes

import (
	"fmt"
	"strings"
	"time"
)

// parseClock parses an "HH:MM" string into minutes past midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// matches reports whether a rule's trigger fires against the given signals
// at the given instant. Signal kinds the caller has no permission for must
// be stripped from signals before calling; a stripped signal simply never
// matches.
func matches(t Trigger, signals Signals, now time.Time, allowOvernight bool) bool {
	switch t.Kind {
	case TriggerTimeWindow:
		start, err := parseClock(t.TimeWindow.Start)
		if err != nil {
			return false
		}
		end, err := parseClock(t.TimeWindow.End)
		if err != nil {
			return false
		}
		minute := now.Hour()*60 + now.Minute()
		if start <= end {
			return start <= minute && minute <= end
		}
		if allowOvernight {
			return minute >= start || minute <= end
		}
		// Inverted windows never match unless overnight wrapping is enabled.
		return false

	case TriggerLocation:
		return signals.Location != "" && signals.Location == t.Location.Value

	case TriggerCalendarKeyword:
		keyword := strings.ToLower(t.CalendarKeyword.Value)
		for _, ev := range signals.CalendarEvents {
			if strings.Contains(strings.ToLower(ev.Title), keyword) {
				return true
			}
		}
		return false
	}
	return false
}
