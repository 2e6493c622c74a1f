package modes

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects which context map(s) are active for a user.
type Mode string

const (
	ModeWork     Mode = "work"
	ModePersonal Mode = "personal"
	ModeMixed    Mode = "mixed"
)

// DefaultMode is the mode a user is in before any switch.
const DefaultMode = ModePersonal

// ErrInvalidMode is returned when a mode name is not work, personal, or mixed.
var ErrInvalidMode = errors.New("invalid mode")

// ErrInvalidContextKind is returned when a context kind is not work or personal.
var ErrInvalidContextKind = errors.New("invalid context kind")

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeWork, ModePersonal, ModeMixed:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Reason records what caused a mode transition.
type Reason string

const (
	ReasonManual    Reason = "manual"
	ReasonAutomatic Reason = "automatic"
)

// TriggerKind discriminates the rule trigger union.
type TriggerKind string

const (
	TriggerTimeWindow      TriggerKind = "time_window"
	TriggerLocation        TriggerKind = "location"
	TriggerCalendarKeyword TriggerKind = "calendar_keyword"
)

// TimeWindow matches when the time of day lies in [Start, End] inclusive.
// Times are "HH:MM". A window with Start > End never matches unless the
// manager is configured to allow overnight windows, in which case it wraps
// past midnight.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// LocationMatch matches when the signal location equals Value exactly.
type LocationMatch struct {
	Value string `json:"value"`
}

// CalendarKeyword matches when Value (case-folded) is a substring of any
// calendar event title in the signals.
type CalendarKeyword struct {
	Value string `json:"value"`
}

// Trigger is a closed tagged union: exactly the payload matching Kind is set.
type Trigger struct {
	Kind            TriggerKind      `json:"kind"`
	TimeWindow      *TimeWindow      `json:"time_window,omitempty"`
	Location        *LocationMatch   `json:"location,omitempty"`
	CalendarKeyword *CalendarKeyword `json:"calendar_keyword,omitempty"`
}

// Validate checks that the trigger carries exactly the payload its kind
// requires and that the payload is well-formed.
func (t Trigger) Validate() error {
	switch t.Kind {
	case TriggerTimeWindow:
		if t.TimeWindow == nil || t.Location != nil || t.CalendarKeyword != nil {
			return fmt.Errorf("trigger %q requires exactly a time_window payload", t.Kind)
		}
		if _, err := parseClock(t.TimeWindow.Start); err != nil {
			return fmt.Errorf("time_window start: %w", err)
		}
		if _, err := parseClock(t.TimeWindow.End); err != nil {
			return fmt.Errorf("time_window end: %w", err)
		}
		return nil
	case TriggerLocation:
		if t.Location == nil || t.TimeWindow != nil || t.CalendarKeyword != nil {
			return fmt.Errorf("trigger %q requires exactly a location payload", t.Kind)
		}
		if t.Location.Value == "" {
			return errors.New("location value must not be empty")
		}
		return nil
	case TriggerCalendarKeyword:
		if t.CalendarKeyword == nil || t.TimeWindow != nil || t.Location != nil {
			return fmt.Errorf("trigger %q requires exactly a calendar_keyword payload", t.Kind)
		}
		if t.CalendarKeyword.Value == "" {
			return errors.New("calendar keyword must not be empty")
		}
		return nil
	}
	return fmt.Errorf("unknown trigger kind %q", t.Kind)
}

// Rule is a prioritized trigger that proposes an automatic mode switch.
type Rule struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Trigger    Trigger `json:"trigger"`
	TargetMode Mode    `json:"target_mode"`
	Priority   int     `json:"priority"`
	Active     bool    `json:"active"`
}

// CalendarEvent is one calendar entry carried in the signal context.
type CalendarEvent struct {
	Title string `json:"title"`
}

// Signals is the ambient context rules are evaluated against.
type Signals struct {
	Location       string          `json:"location,omitempty"`
	CalendarEvents []CalendarEvent `json:"calendar_events,omitempty"`
}

// LearningEvent is one bounded-buffer interaction summary.
type LearningEvent struct {
	RequestText  string    `json:"request_text"`
	ResponseText string    `json:"response_text"`
	ActionCount  int       `json:"actions_count"`
	Confidence   float64   `json:"confidence"`
	VoiceInput   bool      `json:"voice_input"`
	Timestamp    time.Time `json:"timestamp"`
	Mode         Mode      `json:"mode"`
}

// learningBucketCap bounds each per-mode learning buffer (FIFO eviction).
const learningBucketCap = 1000

// Profile is the in-memory form of a user profile.
type Profile struct {
	UserID          string
	Name            string
	Preferences     map[string]any
	WorkContext     map[string]any
	PersonalContext map[string]any
	LearningData    map[string][]LearningEvent
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PrivacyReport summarizes what the system stores about a user. Context
// values are never included, only key names.
type PrivacyReport struct {
	UserID              string    `json:"user_id"`
	ProfileCreated      time.Time `json:"profile_created"`
	LastUpdated         time.Time `json:"last_updated"`
	TransitionCount     int       `json:"transition_count"`
	RuleCount           int       `json:"rule_count"`
	WorkContextKeys     []string  `json:"work_context_keys"`
	PersonalContextKeys []string  `json:"personal_context_keys"`
	LearningDataBytes   int       `json:"learning_data_bytes"`
}
