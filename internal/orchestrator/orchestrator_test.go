package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"facet/internal/modes"
	"facet/internal/privacy"
	"facet/internal/reasoning"
	"facet/internal/storage"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

// fakeEngine returns a canned response and records the requests it saw.
type fakeEngine struct {
	resp reasoning.Response
	err  error
	reqs []reasoning.Request
}

func (e *fakeEngine) Process(ctx context.Context, req reasoning.Request) (reasoning.Response, error) {
	e.reqs = append(e.reqs, req)
	if e.err != nil {
		return reasoning.Response{}, e.err
	}
	return e.resp, nil
}

type testRig struct {
	orch    *Orchestrator
	manager *modes.Manager
	gate    *privacy.Gate
	engine  *fakeEngine
	clock   *fixedClock
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := &fixedClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	gate := privacy.NewGateWithClock(store, clock)
	manager := modes.NewManager(store, gate, modes.WithClock(clock))
	engine := &fakeEngine{resp: reasoning.Response{Text: "Done.", Confidence: 0.9}}

	return &testRig{
		orch:    New(manager, engine, WithClock(clock)),
		manager: manager,
		gate:    gate,
		engine:  engine,
		clock:   clock,
	}
}

func TestProcessRequestCreatesProfileLazily(t *testing.T) {
	rig := newTestRig(t)

	resp := rig.orch.ProcessRequest(context.Background(), "alice-12345", "play some music", false, modes.Signals{})
	if resp.Text != "Done." {
		t.Fatalf("response = %q", resp.Text)
	}

	p, found, err := rig.manager.GetProfile("alice-12345")
	if err != nil || !found {
		t.Fatalf("profile not auto-created: found=%v err=%v", found, err)
	}
	if p.Name != "User_alice-12" {
		t.Errorf("derived name = %q, want User_alice-12", p.Name)
	}

	// Request ran in the default mode.
	if len(rig.engine.reqs) != 1 || rig.engine.reqs[0].Mode != "personal" {
		t.Errorf("engine requests = %+v", rig.engine.reqs)
	}
}

func TestProcessRequestRecordsHistoryAndLearning(t *testing.T) {
	rig := newTestRig(t)

	rig.orch.ProcessRequest(context.Background(), "u1", "what's the weather?", true, modes.Signals{})

	history := rig.orch.RequestHistory("u1", 10)
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	e := history[0]
	if e.RequestText != "what's the weather?" || e.ResponseText != "Done." || e.Mode != modes.ModePersonal {
		t.Errorf("history entry mismatch: %+v", e)
	}
	if e.ID == "" {
		t.Error("history entry missing id")
	}

	p, _, err := rig.manager.GetProfile("u1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	bucket := p.LearningData["personal_interactions"]
	if len(bucket) != 1 {
		t.Fatalf("learning bucket size = %d, want 1", len(bucket))
	}
	if !bucket[0].VoiceInput || bucket[0].Confidence != 0.9 {
		t.Errorf("learning event mismatch: %+v", bucket[0])
	}
}

func TestProcessRequestRepeatable(t *testing.T) {
	rig := newTestRig(t)

	first := rig.orch.ProcessRequest(context.Background(), "u1", "list my reminders", false, modes.Signals{})
	second := rig.orch.ProcessRequest(context.Background(), "u1", "list my reminders", false, modes.Signals{})

	if first.Text != second.Text || first.Confidence != second.Confidence {
		t.Errorf("responses diverged: %+v vs %+v", first, second)
	}
	if len(first.Actions) != len(second.Actions) {
		t.Errorf("action counts diverged: %d vs %d", len(first.Actions), len(second.Actions))
	}
	if got := len(rig.orch.RequestHistory("u1", 10)); got != 2 {
		t.Errorf("history length = %d, want one entry per call", got)
	}
}

func TestProcessRequestAutoSwitches(t *testing.T) {
	rig := newTestRig(t)

	if _, err := rig.manager.CreateProfile("u1", "Alice", nil); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if err := rig.gate.SetPermission("u1", privacy.DataLocation, true); err != nil {
		t.Fatalf("SetPermission: %v", err)
	}
	_, err := rig.manager.AddRule("u1", modes.Rule{
		Name:       "at the office",
		Trigger:    modes.Trigger{Kind: modes.TriggerLocation, Location: &modes.LocationMatch{Value: "office"}},
		TargetMode: modes.ModeWork,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	rig.orch.ProcessRequest(context.Background(), "u1", "open my standup notes", false, modes.Signals{Location: "office"})

	if rig.manager.CurrentMode("u1") != modes.ModeWork {
		t.Errorf("mode = %s, want work after auto-switch", rig.manager.CurrentMode("u1"))
	}
	if len(rig.engine.reqs) != 1 || rig.engine.reqs[0].Mode != "work" {
		t.Errorf("engine saw mode %q, want work", rig.engine.reqs[0].Mode)
	}

	// Without the matching signal the mode is left alone.
	rig.orch.ProcessRequest(context.Background(), "u1", "another request", false, modes.Signals{})
	if rig.manager.CurrentMode("u1") != modes.ModeWork {
		t.Error("mode must persist when no rule matches")
	}
}

func TestProcessRequestDegradesOnEngineFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.err = errors.New("model exploded")

	resp := rig.orch.ProcessRequest(context.Background(), "u1", "hello", false, modes.Signals{})

	if resp.Text != degradedText {
		t.Errorf("text = %q, want the degraded apology", resp.Text)
	}
	if resp.Confidence != 0 || len(resp.Actions) != 0 || resp.RequiresConfirmation {
		t.Errorf("degraded response not neutral: %+v", resp)
	}
	// Failed requests leave no history entry.
	if got := rig.orch.RequestHistory("u1", 10); len(got) != 0 {
		t.Errorf("degraded request recorded history: %+v", got)
	}
}

func TestHandleModeSwitch(t *testing.T) {
	rig := newTestRig(t)

	got := rig.orch.HandleModeSwitch("u1", "work")
	if got != "Switched to work mode" {
		t.Errorf("result = %q", got)
	}
	if rig.manager.CurrentMode("u1") != modes.ModeWork {
		t.Error("mode not switched")
	}

	got = rig.orch.HandleModeSwitch("u1", "vacation")
	want := `Invalid mode "vacation". Valid modes are: work, personal, mixed`
	if got != want {
		t.Errorf("result = %q, want %q", got, want)
	}
	if rig.manager.CurrentMode("u1") != modes.ModeWork {
		t.Error("invalid switch must not change the mode")
	}
}

func TestRequestHistoryPerUser(t *testing.T) {
	rig := newTestRig(t)

	for i := 0; i < 5; i++ {
		rig.clock.now = rig.clock.now.Add(time.Minute)
		rig.orch.ProcessRequest(context.Background(), "u1", fmt.Sprintf("u1 request %d", i), false, modes.Signals{})
		rig.orch.ProcessRequest(context.Background(), "u2", fmt.Sprintf("u2 request %d", i), false, modes.Signals{})
	}

	got := rig.orch.RequestHistory("u1", 3)
	if len(got) != 3 {
		t.Fatalf("history length = %d, want 3", len(got))
	}
	for _, e := range got {
		if e.UserID != "u1" {
			t.Errorf("foreign entry in history: %+v", e)
		}
	}
	// Newest last.
	if !strings.HasSuffix(got[2].RequestText, "request 4") {
		t.Errorf("last entry = %q, want the newest", got[2].RequestText)
	}

	if got := rig.orch.RequestHistory("nobody", 10); len(got) != 0 {
		t.Errorf("unknown user has history: %+v", got)
	}
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	rig := newTestRig(t)

	for i := 0; i < historyCap+50; i++ {
		rig.orch.appendHistory(HistoryEntry{
			ID:          fmt.Sprintf("e%d", i),
			Timestamp:   rig.clock.now,
			UserID:      "u1",
			Mode:        modes.ModePersonal,
			RequestText: fmt.Sprintf("request %d", i),
		})
	}

	got := rig.orch.RequestHistory("u1", historyCap+50)
	if len(got) != historyCap {
		t.Fatalf("history length = %d, want %d", len(got), historyCap)
	}
	if got[0].ID != "e50" {
		t.Errorf("oldest surviving entry = %s, expected FIFO eviction", got[0].ID)
	}
}

func TestClearUserData(t *testing.T) {
	rig := newTestRig(t)

	rig.orch.ProcessRequest(context.Background(), "u1", "hello", false, modes.Signals{})
	rig.orch.ProcessRequest(context.Background(), "u2", "hi there", false, modes.Signals{})
	rig.orch.HandleModeSwitch("u1", "work")

	if err := rig.orch.ClearUserData("u1"); err != nil {
		t.Fatalf("ClearUserData: %v", err)
	}

	if got := rig.orch.RequestHistory("u1", 10); len(got) != 0 {
		t.Errorf("history survived clearing: %+v", got)
	}
	_, found, err := rig.manager.GetProfile("u1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if found {
		t.Error("profile survived clearing")
	}
	if rig.manager.CurrentMode("u1") != modes.DefaultMode {
		t.Error("mode state survived clearing")
	}

	// Other users are untouched.
	if got := rig.orch.RequestHistory("u2", 10); len(got) != 1 {
		t.Errorf("unrelated history lost: %+v", got)
	}
}
