package orchestrator

import (
	"fmt"
	"time"

	"facet/internal/modes"
	"facet/internal/storage"
)

// ContextSummary is a read-side snapshot of a user's current context state.
type ContextSummary struct {
	UserName              string     `json:"user_name"`
	CurrentMode           modes.Mode `json:"current_mode"`
	LastUpdated           time.Time  `json:"last_updated"`
	RecentRequestCount    int        `json:"recent_request_count"`
	WorkContextActive     bool       `json:"work_context_active"`
	PersonalContextActive bool       `json:"personal_context_active"`
	LearningInteractions  int        `json:"learning_interactions"`
}

// DailySummary aggregates one calendar day of a user's request history.
type DailySummary struct {
	Date             string         `json:"date"`
	TotalRequests    int            `json:"total_requests"`
	ModeDistribution map[string]int `json:"mode_distribution"`
	ActionTypes      map[string]int `json:"action_types"`
	MostActiveMode   string         `json:"most_active_mode,omitempty"`
	Suggestions      []string       `json:"suggestions"`
}

// recentWindow is how many trailing history entries the context summary
// counts recent requests over.
const recentWindow = 20

// ContextSummary summarizes the user's current mode and recent activity.
// Returns storage.ErrNotFound when the profile does not exist.
func (o *Orchestrator) ContextSummary(userID string) (ContextSummary, error) {
	profile, found, err := o.contexts.GetProfile(userID)
	if err != nil {
		return ContextSummary{}, fmt.Errorf("reading profile: %w", err)
	}
	if !found {
		return ContextSummary{}, storage.ErrNotFound
	}

	o.mu.Lock()
	tail := o.history
	if len(tail) > recentWindow {
		tail = tail[len(tail)-recentWindow:]
	}
	recent := 0
	for _, e := range tail {
		if e.UserID == userID {
			recent++
		}
	}
	o.mu.Unlock()

	interactions := 0
	for _, events := range profile.LearningData {
		interactions += len(events)
	}

	return ContextSummary{
		UserName:              profile.Name,
		CurrentMode:           o.contexts.CurrentMode(userID),
		LastUpdated:           profile.UpdatedAt,
		RecentRequestCount:    recent,
		WorkContextActive:     len(profile.WorkContext) > 0,
		PersonalContextActive: len(profile.PersonalContext) > 0,
		LearningInteractions:  interactions,
	}, nil
}

// DailySummary aggregates the user's requests from the current local
// calendar day: totals, mode and action-type histograms, the most active
// mode (ties resolved by arrival order), and heuristic suggestions.
func (o *Orchestrator) DailySummary(userID string) DailySummary {
	today := o.clock.Now()
	y, m, d := today.Date()

	o.mu.Lock()
	var entries []HistoryEntry
	for _, e := range o.history {
		ey, em, ed := e.Timestamp.Date()
		if e.UserID == userID && ey == y && em == m && ed == d {
			entries = append(entries, e)
		}
	}
	o.mu.Unlock()

	modeCounts := make(map[string]int)
	actionTypes := make(map[string]int)
	var modeOrder []string

	for _, e := range entries {
		mode := string(e.Mode)
		if modeCounts[mode] == 0 {
			modeOrder = append(modeOrder, mode)
		}
		modeCounts[mode]++
		for _, a := range e.Actions {
			actionTypes[string(a.Type)]++
		}
	}

	// Most active mode; ties go to the mode seen first.
	var mostActive string
	best := 0
	for _, mode := range modeOrder {
		if modeCounts[mode] > best {
			mostActive = mode
			best = modeCounts[mode]
		}
	}

	return DailySummary{
		Date:             today.Format("2006-01-02"),
		TotalRequests:    len(entries),
		ModeDistribution: modeCounts,
		ActionTypes:      actionTypes,
		MostActiveMode:   mostActive,
		Suggestions:      dailySuggestions(entries),
	}
}

// dailySuggestions derives heuristic nudges from the day's activity.
func dailySuggestions(entries []HistoryEntry) []string {
	suggestions := []string{}

	if len(entries) > 10 {
		suggestions = append(suggestions, "You've been quite active today! Consider setting up automation rules for common tasks.")
	}

	work := 0
	for _, e := range entries {
		if e.Mode == modes.ModeWork {
			work++
		}
	}
	if work > 5 {
		suggestions = append(suggestions, "Consider creating work-specific shortcuts for your frequent tasks.")
	}

	return suggestions
}
