// Package orchestrator sequences one end-to-end assistant request: profile
// resolution, auto-switch evaluation, context assembly, reasoning dispatch,
// learning-buffer update, and bounded-history bookkeeping.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"facet/internal/modes"
	"facet/internal/reasoning"
)

// ContextManager defines the mode/context operations the orchestrator needs.
// Implemented by modes.Manager.
type ContextManager interface {
	GetProfile(userID string) (modes.Profile, bool, error)
	CreateProfile(userID, name string, prefs map[string]any) (modes.Profile, error)
	EvaluateAutoSwitch(userID string, signals modes.Signals) (modes.Mode, bool, error)
	SwitchMode(userID string, newMode modes.Mode, reason modes.Reason) error
	CurrentMode(userID string) modes.Mode
	EffectiveContext(userID string) (map[string]any, error)
	RecordLearningEvent(userID string, event modes.LearningEvent) error
	EraseUser(userID string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// historyCap bounds the global request-history ring (FIFO eviction).
const historyCap = 100

// defaultDispatchTimeout bounds a single reasoning call.
const defaultDispatchTimeout = 30 * time.Second

// degradedText is returned when the pipeline fails anywhere before the
// history append.
const degradedText = "I'm sorry, I encountered an error processing your request. Please try again."

// HistoryEntry is one immutable processed request/response record.
type HistoryEntry struct {
	ID           string             `json:"id"`
	Timestamp    time.Time          `json:"timestamp"`
	UserID       string             `json:"user_id"`
	Mode         modes.Mode         `json:"mode"`
	RequestText  string             `json:"request_text"`
	ResponseText string             `json:"response_text"`
	Actions      []reasoning.Action `json:"actions"`
}

// Orchestrator runs the per-request pipeline and owns the global bounded
// request history.
type Orchestrator struct {
	contexts ContextManager
	engine   reasoning.Engine
	clock    Clock
	timeout  time.Duration

	mu      sync.Mutex
	history []HistoryEntry
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock substitutes the wall clock (for testing).
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithDispatchTimeout bounds the reasoning call.
func WithDispatchTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// New creates an Orchestrator.
func New(contexts ContextManager, engine reasoning.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		contexts: contexts,
		engine:   engine,
		clock:    realClock{},
		timeout:  defaultDispatchTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessRequest runs the full pipeline for one user request. Failures
// anywhere before the history append are absorbed: the caller always gets a
// response, degraded if necessary, never an error.
func (o *Orchestrator) ProcessRequest(ctx context.Context, userID, text string, voiceInput bool, extra modes.Signals) reasoning.Response {
	// Resolve the profile, creating one lazily for new users.
	_, found, err := o.contexts.GetProfile(userID)
	if err != nil {
		return o.degrade(userID, text, "resolving profile", err)
	}
	if !found {
		if _, err := o.contexts.CreateProfile(userID, derivedName(userID), nil); err != nil {
			return o.degrade(userID, text, "creating profile", err)
		}
	}

	// Evaluate automatic mode switching against the ambient signals.
	if target, matched, err := o.contexts.EvaluateAutoSwitch(userID, extra); err != nil {
		return o.degrade(userID, text, "evaluating auto-switch", err)
	} else if matched {
		if err := o.contexts.SwitchMode(userID, target, modes.ReasonAutomatic); err != nil {
			return o.degrade(userID, text, "auto-switching mode", err)
		}
	}

	// Assemble the effective context for the current mode.
	effective, err := o.contexts.EffectiveContext(userID)
	if err != nil {
		return o.degrade(userID, text, "building context", err)
	}
	mode := o.contexts.CurrentMode(userID)
	now := o.clock.Now()

	// Dispatch to the reasoning engine under a bounded timeout.
	dispatchCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	resp, err := o.engine.Process(dispatchCtx, reasoning.Request{
		Text:       text,
		Mode:       string(mode),
		Context:    effective,
		UserID:     userID,
		Timestamp:  now,
		VoiceInput: voiceInput,
	})
	if err != nil {
		return o.degrade(userID, text, "dispatching to reasoning engine", err)
	}

	// Record the interaction summary in the learning buffer.
	event := modes.LearningEvent{
		RequestText:  text,
		ResponseText: resp.Text,
		ActionCount:  len(resp.Actions),
		Confidence:   resp.Confidence,
		VoiceInput:   voiceInput,
	}
	if err := o.contexts.RecordLearningEvent(userID, event); err != nil {
		return o.degrade(userID, text, "recording learning event", err)
	}

	// Append to the bounded global history.
	o.appendHistory(HistoryEntry{
		ID:           uuid.NewString(),
		Timestamp:    now,
		UserID:       userID,
		Mode:         mode,
		RequestText:  text,
		ResponseText: resp.Text,
		Actions:      resp.Actions,
	})

	slog.Info("processed request", "user_id", userID, "mode", mode, "text", truncate(text, 50))
	return resp
}

// HandleModeSwitch processes an explicit mode-switch request. Invalid input
// yields a descriptive text result, not an error.
func (o *Orchestrator) HandleModeSwitch(userID, targetMode string) string {
	mode, err := modes.ParseMode(targetMode)
	if err != nil {
		return fmt.Sprintf("Invalid mode %q. Valid modes are: work, personal, mixed", targetMode)
	}

	if err := o.contexts.SwitchMode(userID, mode, modes.ReasonManual); err != nil {
		slog.Error("mode switch failed", "user_id", userID, "target", targetMode, "error", err)
		return "Error switching mode. Please try again."
	}
	return fmt.Sprintf("Switched to %s mode", mode)
}

// RequestHistory returns the user's most recent history entries, newest last.
func (o *Orchestrator) RequestHistory(userID string, limit int) []HistoryEntry {
	if limit <= 0 {
		limit = 10
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	var entries []HistoryEntry
	for _, e := range o.history {
		if e.UserID == userID {
			entries = append(entries, e)
		}
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// ClearUserData removes the user's history entries and cascades to the
// context manager's persisted state.
func (o *Orchestrator) ClearUserData(userID string) error {
	o.mu.Lock()
	kept := o.history[:0]
	for _, e := range o.history {
		if e.UserID != userID {
			kept = append(kept, e)
		}
	}
	o.history = kept
	o.mu.Unlock()

	if err := o.contexts.EraseUser(userID); err != nil {
		return fmt.Errorf("cascading user erasure: %w", err)
	}

	slog.Info("cleared user data", "user_id", userID)
	return nil
}

func (o *Orchestrator) appendHistory(e HistoryEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history, e)
	if len(o.history) > historyCap {
		o.history = o.history[len(o.history)-historyCap:]
	}
}

// degrade logs the failure and returns the apology response. Request text
// is truncated in logs; payloads are never logged in full.
func (o *Orchestrator) degrade(userID, text, stage string, err error) reasoning.Response {
	slog.Error("request pipeline failed",
		"user_id", userID, "stage", stage, "text", truncate(text, 50), "error", err)
	return reasoning.Response{
		Text:                 degradedText,
		Actions:              []reasoning.Action{},
		Confidence:           0,
		RequiresConfirmation: false,
	}
}

// derivedName builds a default display name from a user id prefix.
func derivedName(userID string) string {
	prefix := userID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return "User_" + prefix
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
