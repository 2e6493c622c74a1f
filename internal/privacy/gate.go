// Package privacy gates which ambient signals the rule engine may read and
// keeps an append-only audit log of every allowed read.
package privacy

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"facet/internal/storage"
)

// Data types subject to permission checks.
const (
	DataLocation = "location"
	DataCalendar = "calendar"
	DataLearning = "learning"
)

// Store defines the persistence operations the Gate needs.
// Implemented by storage.Store.
type Store interface {
	GetPrivacySettings(userID string) (storage.PrivacySettings, error)
	UpsertPrivacySettings(storage.PrivacySettings) error
	InsertAccessLog(storage.AccessLogEntry) error
	CountAccessLog(userID string) (int, error)
	ListAccessLog(userID string, limit int) ([]storage.AccessLogEntry, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Gate answers permission checks against stored per-user settings. Ambient
// signals (location, calendar) are denied until explicitly granted; learning
// is enabled until explicitly revoked.
type Gate struct {
	store Store
	clock Clock
}

// NewGate creates a Gate backed by the given store.
func NewGate(store Store) *Gate {
	return &Gate{store: store, clock: realClock{}}
}

// NewGateWithClock creates a Gate with a custom clock (for testing).
func NewGateWithClock(store Store, clock Clock) *Gate {
	return &Gate{store: store, clock: clock}
}

// defaults returns the settings applied to users who never configured any.
func defaults(userID string) storage.PrivacySettings {
	return storage.PrivacySettings{
		UserID:          userID,
		LocationAccess:  false,
		CalendarAccess:  false,
		LearningEnabled: true,
	}
}

// Settings returns the user's effective privacy settings, falling back to
// defaults when none are stored.
func (g *Gate) Settings(userID string) (storage.PrivacySettings, error) {
	s, err := g.store.GetPrivacySettings(userID)
	if err == storage.ErrNotFound {
		return defaults(userID), nil
	}
	if err != nil {
		return storage.PrivacySettings{}, fmt.Errorf("reading privacy settings for %s: %w", userID, err)
	}
	return s, nil
}

// SetPermission grants or revokes access to one data type.
func (g *Gate) SetPermission(userID, dataType string, allowed bool) error {
	s, err := g.Settings(userID)
	if err != nil {
		return err
	}

	switch dataType {
	case DataLocation:
		s.LocationAccess = allowed
	case DataCalendar:
		s.CalendarAccess = allowed
	case DataLearning:
		s.LearningEnabled = allowed
	default:
		return fmt.Errorf("unknown data type %q", dataType)
	}
	s.UpdatedAt = g.clock.Now()

	if err := g.store.UpsertPrivacySettings(s); err != nil {
		return fmt.Errorf("storing privacy settings for %s: %w", userID, err)
	}
	slog.Info("privacy permission changed", "user_id", userID, "data_type", dataType, "allowed", allowed)
	return nil
}

// CheckPermission reports whether the user has granted access to dataType.
// Unknown data types are denied. Storage failures deny access: reading a
// signal without a confirmed grant is never acceptable.
func (g *Gate) CheckPermission(userID, dataType string) bool {
	s, err := g.Settings(userID)
	if err != nil {
		slog.Warn("permission check failed, denying", "user_id", userID, "data_type", dataType, "error", err)
		return false
	}
	switch dataType {
	case DataLocation:
		return s.LocationAccess
	case DataCalendar:
		return s.CalendarAccess
	case DataLearning:
		return s.LearningEnabled
	}
	return false
}

// LogAccess appends one access-audit record. Failures are logged, not
// returned: auditing must never break the request path.
func (g *Gate) LogAccess(userID, dataType, reason, module string) {
	entry := storage.AccessLogEntry{
		ID:        uuid.NewString(),
		Timestamp: g.clock.Now(),
		UserID:    userID,
		DataType:  dataType,
		Reason:    reason,
		Module:    module,
	}
	if err := g.store.InsertAccessLog(entry); err != nil {
		slog.Warn("failed to write access log", "user_id", userID, "data_type", dataType, "error", err)
	}
}

// AccessLog returns the most recent access records for a user, newest first.
func (g *Gate) AccessLog(userID string, limit int) ([]storage.AccessLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	entries, err := g.store.ListAccessLog(userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing access log for %s: %w", userID, err)
	}
	return entries, nil
}

// AccessCount returns how many audited reads exist for a user.
func (g *Gate) AccessCount(userID string) (int, error) {
	n, err := g.store.CountAccessLog(userID)
	if err != nil {
		return 0, fmt.Errorf("counting access log for %s: %w", userID, err)
	}
	return n, nil
}
