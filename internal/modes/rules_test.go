package modes

import (
	"testing"
	"time"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func timeWindow(start, end string) Trigger {
	return Trigger{Kind: TriggerTimeWindow, TimeWindow: &TimeWindow{Start: start, End: end}}
}

func TestTimeWindowMatching(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   string
		now   time.Time
		want  bool
	}{
		{"inside", "09:00", "17:00", at(12, 30), true},
		{"start boundary inclusive", "09:00", "17:00", at(9, 0), true},
		{"end boundary inclusive", "09:00", "17:00", at(17, 0), true},
		{"before start", "09:00", "17:00", at(8, 59), false},
		{"after end", "09:00", "17:00", at(17, 1), false},
		{"degenerate single minute", "12:00", "12:00", at(12, 0), true},
		{"degenerate miss", "12:00", "12:00", at(12, 1), false},
		{"inverted never matches", "22:00", "06:00", at(23, 0), false},
		{"inverted never matches inside would-be wrap", "22:00", "06:00", at(3, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matches(timeWindow(tt.start, tt.end), Signals{}, tt.now, false)
			if got != tt.want {
				t.Errorf("matches(%s-%s at %s) = %v, want %v", tt.start, tt.end, tt.now.Format("15:04"), got, tt.want)
			}
		})
	}
}

func TestTimeWindowOvernight(t *testing.T) {
	trigger := timeWindow("22:00", "06:00")

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"late evening", at(23, 0), true},
		{"early morning", at(3, 0), true},
		{"start boundary", at(22, 0), true},
		{"end boundary", at(6, 0), true},
		{"midday", at(12, 0), false},
		{"just before start", at(21, 59), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matches(trigger, Signals{}, tt.now, true)
			if got != tt.want {
				t.Errorf("overnight matches at %s = %v, want %v", tt.now.Format("15:04"), got, tt.want)
			}
		})
	}
}

func TestTimeWindowMalformedNeverMatches(t *testing.T) {
	if matches(timeWindow("25:00", "17:00"), Signals{}, at(12, 0), false) {
		t.Error("malformed start should never match")
	}
	if matches(timeWindow("09:00", "9pm"), Signals{}, at(12, 0), false) {
		t.Error("malformed end should never match")
	}
}

func TestLocationMatching(t *testing.T) {
	trigger := Trigger{Kind: TriggerLocation, Location: &LocationMatch{Value: "office"}}

	if !matches(trigger, Signals{Location: "office"}, at(12, 0), false) {
		t.Error("exact location should match")
	}
	if matches(trigger, Signals{Location: "Office"}, at(12, 0), false) {
		t.Error("location comparison is exact, case must matter")
	}
	if matches(trigger, Signals{Location: "home office"}, at(12, 0), false) {
		t.Error("location comparison is exact, substring must not match")
	}
	if matches(trigger, Signals{}, at(12, 0), false) {
		t.Error("empty location signal must never match")
	}
}

func TestCalendarKeywordMatching(t *testing.T) {
	trigger := Trigger{Kind: TriggerCalendarKeyword, CalendarKeyword: &CalendarKeyword{Value: "Standup"}}

	signals := Signals{CalendarEvents: []CalendarEvent{
		{Title: "Lunch with Sam"},
		{Title: "Daily STANDUP (eng)"},
	}}
	if !matches(trigger, signals, at(12, 0), false) {
		t.Error("keyword should match case-insensitively as a substring")
	}

	if matches(trigger, Signals{CalendarEvents: []CalendarEvent{{Title: "Stand"}}}, at(12, 0), false) {
		t.Error("partial keyword occurrence should not match")
	}
	if matches(trigger, Signals{}, at(12, 0), false) {
		t.Error("no calendar events must never match")
	}
}

func TestTriggerValidate(t *testing.T) {
	valid := []Trigger{
		timeWindow("09:00", "17:00"),
		{Kind: TriggerLocation, Location: &LocationMatch{Value: "office"}},
		{Kind: TriggerCalendarKeyword, CalendarKeyword: &CalendarKeyword{Value: "standup"}},
	}
	for _, tr := range valid {
		if err := tr.Validate(); err != nil {
			t.Errorf("Validate(%s) = %v, want nil", tr.Kind, err)
		}
	}

	invalid := []struct {
		name    string
		trigger Trigger
	}{
		{"missing payload", Trigger{Kind: TriggerTimeWindow}},
		{"wrong payload", Trigger{Kind: TriggerTimeWindow, Location: &LocationMatch{Value: "x"}}},
		{"two payloads", Trigger{Kind: TriggerLocation, Location: &LocationMatch{Value: "x"}, TimeWindow: &TimeWindow{Start: "09:00", End: "10:00"}}},
		{"empty location", Trigger{Kind: TriggerLocation, Location: &LocationMatch{}}},
		{"empty keyword", Trigger{Kind: TriggerCalendarKeyword, CalendarKeyword: &CalendarKeyword{}}},
		{"bad clock", timeWindow("24:00", "17:00")},
		{"unknown kind", Trigger{Kind: "weather"}},
	}
	for _, tt := range invalid {
		if err := tt.trigger.Validate(); err == nil {
			t.Errorf("Validate(%s) = nil, want error", tt.name)
		}
	}
}
