package modes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"facet/internal/storage"
)

// Store defines the persistence operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	CreateProfile(storage.Profile) error
	GetProfile(userID string) (storage.Profile, error)
	UpdateProfile(storage.Profile) error
	InsertRule(storage.Rule) error
	ListRules(userID string, activeOnly bool) ([]storage.Rule, error)
	SetRuleActive(userID, ruleID string, active bool) error
	InsertTransition(storage.Transition) error
	CountTransitions(userID string) (int, error)
	CountRules(userID string) (int, error)
	EraseUser(userID string) error
}

// AccessGate decides which signal kinds the rule engine may read and
// audits every allowed read. Implemented by privacy.Gate.
type AccessGate interface {
	CheckPermission(userID, dataType string) bool
	LogAccess(userID, dataType, reason, module string)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager owns per-user mode state, the rule engine, the transition audit
// trail, and the bounded learning buffers. Profiles and rules live in the
// Store; the per-user current mode lives in memory and defaults to personal.
type Manager struct {
	store          Store
	gate           AccessGate
	clock          Clock
	allowOvernight bool

	mu    sync.RWMutex
	modes map[string]Mode

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock substitutes the wall clock (for testing).
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithOvernightWindows makes time-window rules with Start > End wrap past
// midnight instead of never matching.
func WithOvernightWindows(enabled bool) Option {
	return func(m *Manager) { m.allowOvernight = enabled }
}

// NewManager creates a Manager backed by the given store and access gate.
func NewManager(store Store, gate AccessGate, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		gate:  gate,
		clock: realClock{},
		modes: make(map[string]Mode),
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// profileLock returns the mutex serializing read-modify-write cycles on one
// user's profile row. Without it, concurrent context patches or learning
// events for the same user overwrite each other's writes.
func (m *Manager) profileLock(userID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// CreateProfile creates a new profile. Returns storage.ErrAlreadyExists if
// the user id is taken.
func (m *Manager) CreateProfile(userID, name string, prefs map[string]any) (Profile, error) {
	if prefs == nil {
		prefs = map[string]any{}
	}
	now := m.clock.Now()
	p := Profile{
		UserID:          userID,
		Name:            name,
		Preferences:     prefs,
		WorkContext:     map[string]any{},
		PersonalContext: map[string]any{},
		LearningData:    map[string][]LearningEvent{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	row, err := encodeProfile(p)
	if err != nil {
		return Profile{}, err
	}
	if err := m.store.CreateProfile(row); err != nil {
		return Profile{}, fmt.Errorf("creating profile %s: %w", userID, err)
	}

	slog.Info("created user profile", "user_id", userID)
	return p, nil
}

// GetProfile reads a profile. Absence is not an error: callers routinely
// probe for existence.
func (m *Manager) GetProfile(userID string) (Profile, bool, error) {
	row, err := m.store.GetProfile(userID)
	if err == storage.ErrNotFound {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("reading profile %s: %w", userID, err)
	}
	p, err := decodeProfile(row)
	if err != nil {
		return Profile{}, false, err
	}
	return p, true, nil
}

// UpdateContext shallow-merges patch into the named context map (work or
// personal): new keys are added, existing keys overwritten.
func (m *Manager) UpdateContext(userID, kind string, patch map[string]any) error {
	if kind != "work" && kind != "personal" {
		return fmt.Errorf("%w: %q", ErrInvalidContextKind, kind)
	}

	lock := m.profileLock(userID)
	lock.Lock()
	defer lock.Unlock()

	row, err := m.store.GetProfile(userID)
	if err != nil {
		return fmt.Errorf("reading profile %s: %w", userID, err)
	}
	p, err := decodeProfile(row)
	if err != nil {
		return err
	}

	target := p.PersonalContext
	if kind == "work" {
		target = p.WorkContext
	}
	for k, v := range patch {
		target[k] = v
	}
	p.UpdatedAt = m.clock.Now()

	if err := m.persist(p); err != nil {
		return err
	}
	slog.Info("updated context", "user_id", userID, "kind", kind, "keys", len(patch))
	return nil
}

// UpdatePreferences shallow-merges patch into the preferences bag.
func (m *Manager) UpdatePreferences(userID string, patch map[string]any) error {
	lock := m.profileLock(userID)
	lock.Lock()
	defer lock.Unlock()

	row, err := m.store.GetProfile(userID)
	if err != nil {
		return fmt.Errorf("reading profile %s: %w", userID, err)
	}
	p, err := decodeProfile(row)
	if err != nil {
		return err
	}

	for k, v := range patch {
		p.Preferences[k] = v
	}
	p.UpdatedAt = m.clock.Now()
	return m.persist(p)
}

// AddRule validates and stores a rule, assigning it an id.
func (m *Manager) AddRule(userID string, r Rule) (Rule, error) {
	if err := r.Trigger.Validate(); err != nil {
		return Rule{}, err
	}
	if _, err := ParseMode(string(r.TargetMode)); err != nil {
		return Rule{}, err
	}

	r.ID = uuid.NewString()
	payload, err := encodeTriggerPayload(r.Trigger)
	if err != nil {
		return Rule{}, err
	}
	row := storage.Rule{
		ID:             r.ID,
		UserID:         userID,
		Name:           r.Name,
		TriggerKind:    string(r.Trigger.Kind),
		TriggerPayload: payload,
		TargetMode:     string(r.TargetMode),
		Priority:       r.Priority,
		Active:         r.Active,
		CreatedAt:      m.clock.Now(),
	}
	if err := m.store.InsertRule(row); err != nil {
		return Rule{}, fmt.Errorf("storing rule %q: %w", r.Name, err)
	}

	slog.Info("added context rule", "user_id", userID, "rule", r.Name, "target_mode", r.TargetMode)
	return r, nil
}

// ActiveRules returns a user's active rules ordered by priority descending,
// ties broken by insertion order.
func (m *Manager) ActiveRules(userID string) ([]Rule, error) {
	rows, err := m.store.ListRules(userID, true)
	if err != nil {
		return nil, fmt.Errorf("listing rules for %s: %w", userID, err)
	}
	rules := make([]Rule, 0, len(rows))
	for _, row := range rows {
		r, err := decodeRule(row)
		if err != nil {
			slog.Warn("skipping malformed rule", "user_id", userID, "rule_id", row.ID, "error", err)
			continue
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// SetRuleActive flips a rule's active flag.
func (m *Manager) SetRuleActive(userID, ruleID string, active bool) error {
	if err := m.store.SetRuleActive(userID, ruleID, active); err != nil {
		return fmt.Errorf("updating rule %s: %w", ruleID, err)
	}
	return nil
}

// EvaluateAutoSwitch scans active rules in priority order and returns the
// target mode of the first match. Signal kinds the user has not granted
// access to are stripped before evaluation; allowed reads are audited.
func (m *Manager) EvaluateAutoSwitch(userID string, signals Signals) (Mode, bool, error) {
	rules, err := m.ActiveRules(userID)
	if err != nil {
		return "", false, err
	}
	if len(rules) == 0 {
		return "", false, nil
	}

	signals = m.gatedSignals(userID, signals)
	now := m.clock.Now()

	for _, r := range rules {
		if matches(r.Trigger, signals, now, m.allowOvernight) {
			slog.Info("auto-switch rule matched", "user_id", userID, "rule", r.Name, "target_mode", r.TargetMode)
			return r.TargetMode, true, nil
		}
	}
	return "", false, nil
}

// gatedSignals strips signal kinds the gate denies and logs allowed reads.
func (m *Manager) gatedSignals(userID string, signals Signals) Signals {
	if signals.Location != "" {
		if m.gate.CheckPermission(userID, "location") {
			m.gate.LogAccess(userID, "location", "rule evaluation", "modes")
		} else {
			signals.Location = ""
		}
	}
	if len(signals.CalendarEvents) > 0 {
		if m.gate.CheckPermission(userID, "calendar") {
			m.gate.LogAccess(userID, "calendar", "rule evaluation", "modes")
		} else {
			signals.CalendarEvents = nil
		}
	}
	return signals
}

// SwitchMode sets the user's current mode and appends a transition record
// capturing the previous value.
func (m *Manager) SwitchMode(userID string, newMode Mode, reason Reason) error {
	if _, err := ParseMode(string(newMode)); err != nil {
		return err
	}

	m.mu.Lock()
	previous, ok := m.modes[userID]
	if !ok {
		previous = DefaultMode
	}
	m.modes[userID] = newMode
	m.mu.Unlock()

	t := storage.Transition{
		UserID:       userID,
		Timestamp:    m.clock.Now(),
		NewMode:      string(newMode),
		PreviousMode: string(previous),
		Reason:       string(reason),
	}
	if err := m.store.InsertTransition(t); err != nil {
		return fmt.Errorf("recording transition for %s: %w", userID, err)
	}

	slog.Info("switched mode", "user_id", userID, "from", previous, "to", newMode, "reason", reason)
	return nil
}

// CurrentMode returns the user's current mode, personal when never switched.
func (m *Manager) CurrentMode(userID string) Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mode, ok := m.modes[userID]; ok {
		return mode
	}
	return DefaultMode
}

// EffectiveContext returns the context map for the user's current mode. In
// mixed mode the personal map is overlaid by the work map; work wins key
// conflicts. The returned map is a copy.
func (m *Manager) EffectiveContext(userID string) (map[string]any, error) {
	row, err := m.store.GetProfile(userID)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", userID, err)
	}
	p, err := decodeProfile(row)
	if err != nil {
		return nil, err
	}

	switch m.CurrentMode(userID) {
	case ModeWork:
		return copyMap(p.WorkContext), nil
	case ModePersonal:
		return copyMap(p.PersonalContext), nil
	default: // mixed
		combined := copyMap(p.PersonalContext)
		for k, v := range p.WorkContext {
			combined[k] = v
		}
		return combined, nil
	}
}

// RecordLearningEvent appends a stamped event to the current mode's learning
// bucket, evicting the oldest entries past the bucket cap. Skipped entirely
// when the user has learning disabled.
func (m *Manager) RecordLearningEvent(userID string, event LearningEvent) error {
	if !m.gate.CheckPermission(userID, "learning") {
		slog.Debug("learning disabled, skipping event", "user_id", userID)
		return nil
	}

	lock := m.profileLock(userID)
	lock.Lock()
	defer lock.Unlock()

	row, err := m.store.GetProfile(userID)
	if err != nil {
		return fmt.Errorf("reading profile %s: %w", userID, err)
	}
	p, err := decodeProfile(row)
	if err != nil {
		return err
	}

	mode := m.CurrentMode(userID)
	event.Timestamp = m.clock.Now()
	event.Mode = mode

	bucket := string(mode) + "_interactions"
	events := append(p.LearningData[bucket], event)
	if len(events) > learningBucketCap {
		events = events[len(events)-learningBucketCap:]
	}
	p.LearningData[bucket] = events
	p.UpdatedAt = m.clock.Now()

	if err := m.persist(p); err != nil {
		return err
	}
	slog.Debug("recorded learning event", "user_id", userID, "bucket", bucket, "size", len(events))
	return nil
}

// PrivacyReport summarizes stored data for a user: counts and key names
// only, never context values.
func (m *Manager) PrivacyReport(userID string) (PrivacyReport, error) {
	row, err := m.store.GetProfile(userID)
	if err != nil {
		return PrivacyReport{}, fmt.Errorf("reading profile %s: %w", userID, err)
	}
	p, err := decodeProfile(row)
	if err != nil {
		return PrivacyReport{}, err
	}

	transitions, err := m.store.CountTransitions(userID)
	if err != nil {
		return PrivacyReport{}, fmt.Errorf("counting transitions: %w", err)
	}
	rules, err := m.store.CountRules(userID)
	if err != nil {
		return PrivacyReport{}, fmt.Errorf("counting rules: %w", err)
	}

	return PrivacyReport{
		UserID:              userID,
		ProfileCreated:      p.CreatedAt,
		LastUpdated:         p.UpdatedAt,
		TransitionCount:     transitions,
		RuleCount:           rules,
		WorkContextKeys:     sortedKeys(p.WorkContext),
		PersonalContextKeys: sortedKeys(p.PersonalContext),
		LearningDataBytes:   len(row.LearningData),
	}, nil
}

// EraseUser removes the user's profile, rules, and transitions from storage
// and drops the in-memory mode state.
func (m *Manager) EraseUser(userID string) error {
	if err := m.store.EraseUser(userID); err != nil {
		return fmt.Errorf("erasing user %s: %w", userID, err)
	}
	m.mu.Lock()
	delete(m.modes, userID)
	m.mu.Unlock()
	m.locksMu.Lock()
	delete(m.locks, userID)
	m.locksMu.Unlock()

	slog.Info("erased user data", "user_id", userID)
	return nil
}

func (m *Manager) persist(p Profile) error {
	row, err := encodeProfile(p)
	if err != nil {
		return err
	}
	if err := m.store.UpdateProfile(row); err != nil {
		return fmt.Errorf("persisting profile %s: %w", p.UserID, err)
	}
	return nil
}

// --- codecs ---

func encodeProfile(p Profile) (storage.Profile, error) {
	prefs, err := json.Marshal(p.Preferences)
	if err != nil {
		return storage.Profile{}, fmt.Errorf("marshalling preferences: %w", err)
	}
	work, err := json.Marshal(p.WorkContext)
	if err != nil {
		return storage.Profile{}, fmt.Errorf("marshalling work context: %w", err)
	}
	personal, err := json.Marshal(p.PersonalContext)
	if err != nil {
		return storage.Profile{}, fmt.Errorf("marshalling personal context: %w", err)
	}
	learning, err := json.Marshal(p.LearningData)
	if err != nil {
		return storage.Profile{}, fmt.Errorf("marshalling learning data: %w", err)
	}
	return storage.Profile{
		UserID:          p.UserID,
		Name:            p.Name,
		Preferences:     string(prefs),
		WorkContext:     string(work),
		PersonalContext: string(personal),
		LearningData:    string(learning),
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}, nil
}

func decodeProfile(row storage.Profile) (Profile, error) {
	p := Profile{
		UserID:          row.UserID,
		Name:            row.Name,
		Preferences:     map[string]any{},
		WorkContext:     map[string]any{},
		PersonalContext: map[string]any{},
		LearningData:    map[string][]LearningEvent{},
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	for _, f := range []struct {
		raw    string
		target any
		name   string
	}{
		{row.Preferences, &p.Preferences, "preferences"},
		{row.WorkContext, &p.WorkContext, "work context"},
		{row.PersonalContext, &p.PersonalContext, "personal context"},
		{row.LearningData, &p.LearningData, "learning data"},
	} {
		if f.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.target); err != nil {
			return Profile{}, fmt.Errorf("unmarshalling %s for %s: %w", f.name, row.UserID, err)
		}
	}
	return p, nil
}

func encodeTriggerPayload(t Trigger) (string, error) {
	var payload any
	switch t.Kind {
	case TriggerTimeWindow:
		payload = t.TimeWindow
	case TriggerLocation:
		payload = t.Location
	case TriggerCalendarKeyword:
		payload = t.CalendarKeyword
	default:
		return "", fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshalling trigger payload: %w", err)
	}
	return string(b), nil
}

func decodeRule(row storage.Rule) (Rule, error) {
	r := Rule{
		ID:         row.ID,
		Name:       row.Name,
		TargetMode: Mode(row.TargetMode),
		Priority:   row.Priority,
		Active:     row.Active,
		Trigger:    Trigger{Kind: TriggerKind(row.TriggerKind)},
	}
	switch r.Trigger.Kind {
	case TriggerTimeWindow:
		r.Trigger.TimeWindow = &TimeWindow{}
		if err := json.Unmarshal([]byte(row.TriggerPayload), r.Trigger.TimeWindow); err != nil {
			return Rule{}, fmt.Errorf("unmarshalling time_window payload: %w", err)
		}
	case TriggerLocation:
		r.Trigger.Location = &LocationMatch{}
		if err := json.Unmarshal([]byte(row.TriggerPayload), r.Trigger.Location); err != nil {
			return Rule{}, fmt.Errorf("unmarshalling location payload: %w", err)
		}
	case TriggerCalendarKeyword:
		r.Trigger.CalendarKeyword = &CalendarKeyword{}
		if err := json.Unmarshal([]byte(row.TriggerPayload), r.Trigger.CalendarKeyword); err != nil {
			return Rule{}, fmt.Errorf("unmarshalling calendar_keyword payload: %w", err)
		}
	default:
		return Rule{}, fmt.Errorf("unknown trigger kind %q", row.TriggerKind)
	}
	return r, nil
}

func copyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
