package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when creating a record whose key is taken.
var ErrAlreadyExists = errors.New("already exists")

// Profile is the persisted form of a user profile. The context maps and
// learning buckets are stored as JSON text; the modes package owns their
// in-memory shape.
type Profile struct {
	UserID          string
	Name            string
	Preferences     string // JSON object stored as text
	WorkContext     string // JSON object stored as text
	PersonalContext string // JSON object stored as text
	LearningData    string // JSON object: bucket name -> event list
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Rule is the persisted form of a context-switching rule.
type Rule struct {
	ID             string
	UserID         string
	Name           string
	TriggerKind    string
	TriggerPayload string // JSON, shape depends on TriggerKind
	TargetMode     string
	Priority       int
	Active         bool
	CreatedAt      time.Time
}

// Transition is one append-only mode-transition audit record.
type Transition struct {
	UserID       string
	Timestamp    time.Time
	NewMode      string
	PreviousMode string
	Reason       string // "manual" or "automatic"
}

// PrivacySettings holds per-user data-access permissions.
type PrivacySettings struct {
	UserID          string
	LocationAccess  bool
	CalendarAccess  bool
	LearningEnabled bool
	UpdatedAt       time.Time
}

// AccessLogEntry is one append-only data-access audit record.
type AccessLogEntry struct {
	ID        string
	Timestamp time.Time
	UserID    string
	DataType  string
	Reason    string
	Module    string
}
