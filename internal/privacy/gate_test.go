package privacy

import (
	"errors"
	"testing"
	"time"

	"facet/internal/storage"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func newTestGate(t *testing.T) (*Gate, *fixedClock) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := &fixedClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	return NewGateWithClock(store, clock), clock
}

func TestDefaults(t *testing.T) {
	g, _ := newTestGate(t)

	// Ambient signals are denied until granted; learning is opt-out.
	if g.CheckPermission("u1", DataLocation) {
		t.Error("location should be denied by default")
	}
	if g.CheckPermission("u1", DataCalendar) {
		t.Error("calendar should be denied by default")
	}
	if !g.CheckPermission("u1", DataLearning) {
		t.Error("learning should be enabled by default")
	}
}

func TestSetPermission(t *testing.T) {
	g, _ := newTestGate(t)

	if err := g.SetPermission("u1", DataLocation, true); err != nil {
		t.Fatalf("SetPermission: %v", err)
	}
	if !g.CheckPermission("u1", DataLocation) {
		t.Error("location grant not effective")
	}
	// Other defaults untouched.
	if g.CheckPermission("u1", DataCalendar) {
		t.Error("calendar grant leaked from location grant")
	}
	if !g.CheckPermission("u1", DataLearning) {
		t.Error("learning default lost after partial update")
	}

	if err := g.SetPermission("u1", DataLearning, false); err != nil {
		t.Fatalf("SetPermission(learning): %v", err)
	}
	if g.CheckPermission("u1", DataLearning) {
		t.Error("learning revoke not effective")
	}

	if err := g.SetPermission("u1", "biometrics", true); err == nil {
		t.Error("expected error for unknown data type")
	}
}

func TestCheckPermissionUnknownType(t *testing.T) {
	g, _ := newTestGate(t)

	if g.CheckPermission("u1", "biometrics") {
		t.Error("unknown data type must be denied")
	}
}

func TestCheckPermissionStorageFailureDenies(t *testing.T) {
	g := &Gate{store: failingStore{}, clock: &fixedClock{now: time.Now()}}

	if g.CheckPermission("u1", DataLearning) {
		t.Error("storage failure must deny access")
	}
}

type failingStore struct{}

func (failingStore) GetPrivacySettings(string) (storage.PrivacySettings, error) {
	return storage.PrivacySettings{}, errors.New("disk on fire")
}
func (failingStore) UpsertPrivacySettings(storage.PrivacySettings) error { return nil }
func (failingStore) InsertAccessLog(storage.AccessLogEntry) error        { return nil }
func (failingStore) CountAccessLog(string) (int, error)                  { return 0, nil }
func (failingStore) ListAccessLog(string, int) ([]storage.AccessLogEntry, error) {
	return nil, nil
}

func TestLogAccessAndQuery(t *testing.T) {
	g, clock := newTestGate(t)

	g.LogAccess("u1", DataLocation, "rule evaluation", "modes")
	clock.now = clock.now.Add(time.Minute)
	g.LogAccess("u1", DataCalendar, "rule evaluation", "modes")
	g.LogAccess("u2", DataLocation, "rule evaluation", "modes")

	n, err := g.AccessCount("u1")
	if err != nil {
		t.Fatalf("AccessCount: %v", err)
	}
	if n != 2 {
		t.Errorf("access count = %d, want 2", n)
	}

	entries, err := g.AccessLog("u1", 0)
	if err != nil {
		t.Fatalf("AccessLog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].DataType != DataCalendar {
		t.Errorf("expected newest entry first, got %s", entries[0].DataType)
	}
	if entries[0].Module != "modes" || entries[0].Reason != "rule evaluation" {
		t.Errorf("entry fields not carried: %+v", entries[0])
	}
}
