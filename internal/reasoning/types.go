package reasoning

import (
	"encoding/json"
	"fmt"
	"time"
)

// Request is one assembled call into the reasoning engine.
type Request struct {
	Text       string         `json:"text"`
	Mode       string         `json:"mode"`
	Context    map[string]any `json:"context"`
	UserID     string         `json:"user_id"`
	Timestamp  time.Time      `json:"timestamp"`
	VoiceInput bool           `json:"voice_input"`
}

// Response is the reasoning engine's answer: natural-language text, an
// ordered list of structured actions, a confidence score in [0,1], and
// whether the user must confirm before the actions run.
type Response struct {
	Text                 string   `json:"text"`
	Actions              []Action `json:"actions"`
	Confidence           float64  `json:"confidence"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
}

// ActionType discriminates the action union.
type ActionType string

const (
	ActionAppControl           ActionType = "app_control"
	ActionSendMessage          ActionType = "send_message"
	ActionMakeCall             ActionType = "make_call"
	ActionCreateReminder       ActionType = "create_reminder"
	ActionCalendarEvent        ActionType = "calendar_event"
	ActionDeleteData           ActionType = "delete_data"
	ActionFinancialTransaction ActionType = "financial_transaction"
)

// AppControl drives an application: open it and run a command.
type AppControl struct {
	App        string            `json:"app"`
	Command    string            `json:"command"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// SendMessage sends a message to a recipient.
type SendMessage struct {
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

// MakeCall places a call.
type MakeCall struct {
	Recipient string `json:"recipient"`
}

// CreateReminder schedules a reminder.
type CreateReminder struct {
	Title string `json:"title"`
	At    string `json:"at"` // RFC3339 or natural-language time
}

// CalendarEvent creates a calendar entry.
type CalendarEvent struct {
	Title string `json:"title"`
	Start string `json:"start"` // RFC3339 or natural-language time
	End   string `json:"end,omitempty"`
}

// DeleteData requests removal of stored data.
type DeleteData struct {
	Target string `json:"target"`
}

// FinancialTransaction moves money to a recipient.
type FinancialTransaction struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Memo      string `json:"memo,omitempty"`
}

// Action is a closed tagged union: exactly the payload matching Type is set.
type Action struct {
	Type                 ActionType            `json:"type"`
	AppControl           *AppControl           `json:"app_control,omitempty"`
	SendMessage          *SendMessage          `json:"send_message,omitempty"`
	MakeCall             *MakeCall             `json:"make_call,omitempty"`
	CreateReminder       *CreateReminder       `json:"create_reminder,omitempty"`
	CalendarEvent        *CalendarEvent        `json:"calendar_event,omitempty"`
	DeleteData           *DeleteData           `json:"delete_data,omitempty"`
	FinancialTransaction *FinancialTransaction `json:"financial_transaction,omitempty"`
}

// Validate checks that the action carries exactly the payload its type
// requires and that required fields are present.
func (a Action) Validate() error {
	switch a.Type {
	case ActionAppControl:
		if a.AppControl == nil {
			return fmt.Errorf("action %q missing payload", a.Type)
		}
		if a.AppControl.App == "" {
			return fmt.Errorf("action %q requires an app", a.Type)
		}
	case ActionSendMessage:
		if a.SendMessage == nil {
			return fmt.Errorf("action %q missing payload", a.Type)
		}
		if a.SendMessage.Recipient == "" {
			return fmt.Errorf("action %q requires a recipient", a.Type)
		}
	case ActionMakeCall:
		if a.MakeCall == nil {
			return fmt.Errorf("action %q missing payload", a.Type)
		}
		if a.MakeCall.Recipient == "" {
			return fmt.Errorf("action %q requires a recipient", a.Type)
		}
	case ActionCreateReminder:
		if a.CreateReminder == nil {
			return fmt.Errorf("action %q missing payload", a.Type)
		}
		if a.CreateReminder.Title == "" {
			return fmt.Errorf("action %q requires a title", a.Type)
		}
	case ActionCalendarEvent:
		if a.CalendarEvent == nil {
			return fmt.Errorf("action %q missing payload", a.Type)
		}
		if a.CalendarEvent.Title == "" {
			return fmt.Errorf("action %q requires a title", a.Type)
		}
		if a.CalendarEvent.Start == "" {
			return fmt.Errorf("action %q requires a start time", a.Type)
		}
	case ActionDeleteData:
		if a.DeleteData == nil {
			return fmt.Errorf("action %q missing payload", a.Type)
		}
		if a.DeleteData.Target == "" {
			return fmt.Errorf("action %q requires a target", a.Type)
		}
	case ActionFinancialTransaction:
		if a.FinancialTransaction == nil {
			return fmt.Errorf("action %q missing payload", a.Type)
		}
		if a.FinancialTransaction.Recipient == "" {
			return fmt.Errorf("action %q requires a recipient", a.Type)
		}
		if a.FinancialTransaction.Amount == "" {
			return fmt.Errorf("action %q requires an amount", a.Type)
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// DecodeAction unmarshals and validates a single action. Unknown types and
// malformed payloads are rejected.
func DecodeAction(raw json.RawMessage) (Action, error) {
	var a Action
	if err := json.Unmarshal(raw, &a); err != nil {
		return Action{}, fmt.Errorf("unmarshalling action: %w", err)
	}
	if err := a.Validate(); err != nil {
		return Action{}, err
	}
	return a, nil
}

// highImpact lists action kinds that always require user confirmation.
var highImpact = map[ActionType]bool{
	ActionSendMessage:          true,
	ActionMakeCall:             true,
	ActionDeleteData:           true,
	ActionFinancialTransaction: true,
}

// NeedsConfirmation reports whether any action is high-impact.
func NeedsConfirmation(actions []Action) bool {
	for _, a := range actions {
		if highImpact[a.Type] {
			return true
		}
	}
	return false
}
