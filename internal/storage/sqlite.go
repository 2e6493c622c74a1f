package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding profiles, rules, transitions,
// privacy settings, and the data-access log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "facet.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Profiles ---

// CreateProfile inserts a new profile row. Returns ErrAlreadyExists if the
// user_id is already taken.
func (s *Store) CreateProfile(p Profile) error {
	_, err := s.db.Exec(`
		INSERT INTO user_profiles (user_id, name, preferences, work_context, personal_context, learning_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Name, p.Preferences, p.WorkContext, p.PersonalContext, p.LearningData,
		p.CreatedAt.UTC().Format(time.RFC3339), p.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return ErrAlreadyExists
	}
	return err
}

// GetProfile reads a profile by user id. Returns ErrNotFound if absent.
func (s *Store) GetProfile(userID string) (Profile, error) {
	var p Profile
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT user_id, name, preferences, work_context, personal_context, learning_data, created_at, updated_at
		FROM user_profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.Name, &p.Preferences, &p.WorkContext, &p.PersonalContext, &p.LearningData, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Profile{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Profile{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return p, nil
}

// UpdateProfile overwrites the mutable fields of an existing profile row.
func (s *Store) UpdateProfile(p Profile) error {
	res, err := s.db.Exec(`
		UPDATE user_profiles
		SET name = ?, preferences = ?, work_context = ?, personal_context = ?, learning_data = ?, updated_at = ?
		WHERE user_id = ?`,
		p.Name, p.Preferences, p.WorkContext, p.PersonalContext, p.LearningData,
		p.UpdatedAt.UTC().Format(time.RFC3339), p.UserID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Rules ---

func (s *Store) InsertRule(r Rule) error {
	_, err := s.db.Exec(`
		INSERT INTO context_rules (id, user_id, name, trigger_kind, trigger_payload, target_mode, priority, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Name, r.TriggerKind, r.TriggerPayload, r.TargetMode,
		r.Priority, boolToInt(r.Active), r.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListRules returns a user's rules ordered by priority descending, insertion
// order ascending. When activeOnly is set, inactive rules are excluded.
func (s *Store) ListRules(userID string, activeOnly bool) ([]Rule, error) {
	query := `
		SELECT id, user_id, name, trigger_kind, trigger_payload, target_mode, priority, active, created_at
		FROM context_rules WHERE user_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY priority DESC, rowid ASC`

	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Rule
	for rows.Next() {
		var r Rule
		var active int
		var createdAt string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &r.TriggerKind, &r.TriggerPayload, &r.TargetMode, &r.Priority, &active, &createdAt); err != nil {
			return nil, err
		}
		r.Active = active != 0
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for rule %s: %w", r.ID, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SetRuleActive flips a rule's active flag. Returns ErrNotFound if the rule
// does not exist or belongs to another user.
func (s *Store) SetRuleActive(userID, ruleID string, active bool) error {
	res, err := s.db.Exec(`UPDATE context_rules SET active = ? WHERE id = ? AND user_id = ?`,
		boolToInt(active), ruleID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CountRules(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM context_rules WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// --- Transitions ---

func (s *Store) InsertTransition(t Transition) error {
	_, err := s.db.Exec(`
		INSERT INTO mode_transitions (user_id, timestamp, new_mode, previous_mode, reason)
		VALUES (?, ?, ?, ?, ?)`,
		t.UserID, t.Timestamp.UTC().Format(time.RFC3339), t.NewMode, t.PreviousMode, t.Reason,
	)
	return err
}

func (s *Store) CountTransitions(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM mode_transitions WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// ListTransitions returns the most recent transitions for a user, newest first.
func (s *Store) ListTransitions(userID string, limit int) ([]Transition, error) {
	rows, err := s.db.Query(`
		SELECT user_id, timestamp, new_mode, previous_mode, reason
		FROM mode_transitions WHERE user_id = ?
		ORDER BY id DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Transition
	for rows.Next() {
		var t Transition
		var ts string
		if err := rows.Scan(&t.UserID, &ts, &t.NewMode, &t.PreviousMode, &t.Reason); err != nil {
			return nil, err
		}
		if t.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("parsing transition timestamp: %w", err)
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// --- Privacy settings ---

// GetPrivacySettings reads a user's settings. Returns ErrNotFound if the
// user never configured any; callers apply defaults.
func (s *Store) GetPrivacySettings(userID string) (PrivacySettings, error) {
	var p PrivacySettings
	var location, calendar, learning int
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT user_id, location_access, calendar_access, learning_enabled, updated_at
		FROM privacy_settings WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &location, &calendar, &learning, &updatedAt)
	if err == sql.ErrNoRows {
		return PrivacySettings{}, ErrNotFound
	}
	if err != nil {
		return PrivacySettings{}, err
	}
	p.LocationAccess = location != 0
	p.CalendarAccess = calendar != 0
	p.LearningEnabled = learning != 0
	if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return PrivacySettings{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return p, nil
}

func (s *Store) UpsertPrivacySettings(p PrivacySettings) error {
	_, err := s.db.Exec(`
		INSERT INTO privacy_settings (user_id, location_access, calendar_access, learning_enabled, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			location_access = excluded.location_access,
			calendar_access = excluded.calendar_access,
			learning_enabled = excluded.learning_enabled,
			updated_at = excluded.updated_at`,
		p.UserID, boolToInt(p.LocationAccess), boolToInt(p.CalendarAccess),
		boolToInt(p.LearningEnabled), p.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// --- Access log ---

func (s *Store) InsertAccessLog(e AccessLogEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO access_log (id, timestamp, user_id, data_type, reason, module)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC().Format(time.RFC3339), e.UserID, e.DataType, e.Reason, e.Module,
	)
	return err
}

func (s *Store) CountAccessLog(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM access_log WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// ListAccessLog returns the most recent access-log entries for a user, newest first.
func (s *Store) ListAccessLog(userID string, limit int) ([]AccessLogEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, user_id, data_type, reason, module
		FROM access_log WHERE user_id = ?
		ORDER BY timestamp DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AccessLogEntry
	for rows.Next() {
		var e AccessLogEntry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.UserID, &e.DataType, &e.Reason, &e.Module); err != nil {
			return nil, err
		}
		if e.Timestamp, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("parsing access log timestamp: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// --- Erasure ---

// EraseUser deletes every row belonging to a user across all tables in a
// single transaction. Erasing an unknown user is not an error.
func (s *Store) EraseUser(userID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning erase transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"user_profiles", "context_rules", "mode_transitions", "privacy_settings", "access_log"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE user_id = ?", userID); err != nil {
			return fmt.Errorf("erasing %s: %w", table, err)
		}
	}

	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
