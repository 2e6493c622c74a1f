package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"facet/internal/modes"
	"facet/internal/orchestrator"
	"facet/internal/privacy"
	"facet/internal/reasoning"
	"facet/internal/storage"
)

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gate := privacy.NewGate(store)
	contexts := modes.NewManager(store, gate)
	engine := &stubEngine{resp: reasoning.Response{Text: "Done.", Confidence: 0.9}}
	return MCPDeps{
		Orchestrator: orchestrator.New(contexts, engine),
		Contexts:     contexts,
	}
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	return req
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("tool content is %T, want TextContent", result.Content[0])
	}
	return text.Text
}

func TestMCPAsk(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpAsk(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"user_id": "u1",
		"text":    "what is next",
	}))
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if result.IsError {
		t.Fatalf("ask returned error: %s", toolText(t, result))
	}

	var resp reasoning.Response
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("decoding answer: %v", err)
	}
	if resp.Text != "Done." {
		t.Errorf("answer text = %q", resp.Text)
	}

	if got := len(deps.Orchestrator.RequestHistory("u1", 10)); got != 1 {
		t.Errorf("history entries = %d, want 1", got)
	}
}

func TestMCPAskCalendarSignals(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gate := privacy.NewGate(store)
	contexts := modes.NewManager(store, gate)
	engine := &stubEngine{resp: reasoning.Response{Text: "Done.", Confidence: 0.9}}
	deps := MCPDeps{
		Orchestrator: orchestrator.New(contexts, engine),
		Contexts:     contexts,
	}

	if _, err := contexts.CreateProfile("u1", "Alice", nil); err != nil {
		t.Fatalf("creating profile: %v", err)
	}
	if err := gate.SetPermission("u1", privacy.DataCalendar, true); err != nil {
		t.Fatalf("granting calendar access: %v", err)
	}
	if _, err := contexts.AddRule("u1", modes.Rule{
		Name:       "in meetings",
		Trigger:    modes.Trigger{Kind: modes.TriggerCalendarKeyword, CalendarKeyword: &modes.CalendarKeyword{Value: "standup"}},
		TargetMode: modes.ModeWork,
		Active:     true,
	}); err != nil {
		t.Fatalf("adding rule: %v", err)
	}

	handler := mcpAsk(deps)
	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"user_id":         "u1",
		"text":            "what is next",
		"calendar_events": []interface{}{"team standup", "lunch"},
	}))
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if result.IsError {
		t.Fatalf("ask returned error: %s", toolText(t, result))
	}

	if deps.Contexts.CurrentMode("u1") != modes.ModeWork {
		t.Error("calendar signal did not fire the rule")
	}
}

func TestMCPAskMissingArgs(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpAsk(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"user_id": "u1",
	}))
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !result.IsError {
		t.Error("missing text should be a tool error")
	}
}

func TestMCPSwitchMode(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpSwitchMode(deps)

	result, err := handler(context.Background(), makeCallToolRequest("switch_mode", map[string]interface{}{
		"user_id": "u1",
		"mode":    "work",
	}))
	if err != nil {
		t.Fatalf("switch_mode: %v", err)
	}
	if got := toolText(t, result); got != "Switched to work mode" {
		t.Errorf("result = %q", got)
	}
	if deps.Contexts.CurrentMode("u1") != modes.ModeWork {
		t.Error("mode not switched")
	}

	result, err = handler(context.Background(), makeCallToolRequest("switch_mode", map[string]interface{}{
		"user_id": "u1",
		"mode":    "vacation",
	}))
	if err != nil {
		t.Fatalf("switch_mode: %v", err)
	}
	if got := toolText(t, result); got != `Invalid mode "vacation". Valid modes are: work, personal, mixed` {
		t.Errorf("invalid mode result = %q", got)
	}
}

func TestMCPAddRule(t *testing.T) {
	deps := newTestMCPDeps(t)
	if _, err := deps.Contexts.CreateProfile("u1", "Alice", nil); err != nil {
		t.Fatalf("creating profile: %v", err)
	}
	handler := mcpAddRule(deps)

	result, err := handler(context.Background(), makeCallToolRequest("add_rule", map[string]interface{}{
		"user_id":       "u1",
		"name":          "work hours",
		"target_mode":   "work",
		"trigger_kind":  "time_window",
		"trigger_value": "09:00-17:00",
		"priority":      float64(5),
	}))
	if err != nil {
		t.Fatalf("add_rule: %v", err)
	}
	if result.IsError {
		t.Fatalf("add_rule returned error: %s", toolText(t, result))
	}
	if got := toolText(t, result); !strings.HasPrefix(got, "Added rule work hours (") {
		t.Errorf("result = %q", got)
	}

	rules, err := deps.Contexts.ActiveRules("u1")
	if err != nil {
		t.Fatalf("listing rules: %v", err)
	}
	if len(rules) != 1 || rules[0].Priority != 5 {
		t.Fatalf("rules = %+v", rules)
	}
	tw := rules[0].Trigger.TimeWindow
	if tw == nil || tw.Start != "09:00" || tw.End != "17:00" {
		t.Errorf("time window = %+v", tw)
	}
}

func TestMCPAddRuleBadTrigger(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpAddRule(deps)

	for name, args := range map[string]map[string]interface{}{
		"unknown kind": {
			"user_id": "u1", "name": "r", "target_mode": "work",
			"trigger_kind": "weather", "trigger_value": "rain",
		},
		"malformed window": {
			"user_id": "u1", "name": "r", "target_mode": "work",
			"trigger_kind": "time_window", "trigger_value": "nine to五",
		},
		"bad mode": {
			"user_id": "u1", "name": "r", "target_mode": "vacation",
			"trigger_kind": "location", "trigger_value": "office",
		},
	} {
		result, err := handler(context.Background(), makeCallToolRequest("add_rule", args))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !result.IsError {
			t.Errorf("%s: expected a tool error", name)
		}
	}
}

func TestBuildTrigger(t *testing.T) {
	trigger, err := buildTrigger("time_window", "08:30-12:00")
	if err != nil {
		t.Fatalf("time_window: %v", err)
	}
	if trigger.TimeWindow.Start != "08:30" || trigger.TimeWindow.End != "12:00" {
		t.Errorf("window = %+v", trigger.TimeWindow)
	}

	trigger, err = buildTrigger("location", "office")
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if trigger.Location.Value != "office" {
		t.Errorf("location = %+v", trigger.Location)
	}

	trigger, err = buildTrigger("calendar_keyword", "standup")
	if err != nil {
		t.Fatalf("calendar_keyword: %v", err)
	}
	if trigger.CalendarKeyword.Value != "standup" {
		t.Errorf("keyword = %+v", trigger.CalendarKeyword)
	}

	if _, err := buildTrigger("time_window", "noon"); err == nil {
		t.Error("window without dash should fail")
	}
	if _, err := buildTrigger("geo", "x"); err == nil {
		t.Error("unknown kind should fail")
	}
}

func TestMCPContextSummary(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpContextSummary(deps)

	result, err := handler(context.Background(), makeCallToolRequest("context_summary", map[string]interface{}{
		"user_id": "u1",
	}))
	if err != nil {
		t.Fatalf("context_summary: %v", err)
	}
	if !result.IsError {
		t.Error("summary for unknown user should be a tool error")
	}

	if _, err := deps.Contexts.CreateProfile("u1", "Alice", nil); err != nil {
		t.Fatalf("creating profile: %v", err)
	}
	result, err = handler(context.Background(), makeCallToolRequest("context_summary", map[string]interface{}{
		"user_id": "u1",
	}))
	if err != nil {
		t.Fatalf("context_summary: %v", err)
	}
	if result.IsError {
		t.Fatalf("context_summary returned error: %s", toolText(t, result))
	}

	var summary orchestrator.ContextSummary
	if err := json.Unmarshal([]byte(toolText(t, result)), &summary); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if summary.CurrentMode != modes.ModePersonal {
		t.Errorf("summary mode = %q", summary.CurrentMode)
	}
}

func TestMCPPrivacyReport(t *testing.T) {
	deps := newTestMCPDeps(t)
	if _, err := deps.Contexts.CreateProfile("u1", "Alice", nil); err != nil {
		t.Fatalf("creating profile: %v", err)
	}
	handler := mcpPrivacyReport(deps)

	result, err := handler(context.Background(), makeCallToolRequest("privacy_report", map[string]interface{}{
		"user_id": "u1",
	}))
	if err != nil {
		t.Fatalf("privacy_report: %v", err)
	}
	if result.IsError {
		t.Fatalf("privacy_report returned error: %s", toolText(t, result))
	}

	var report modes.PrivacyReport
	if err := json.Unmarshal([]byte(toolText(t, result)), &report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if report.UserID != "u1" {
		t.Errorf("report user = %q", report.UserID)
	}
}

func TestMCPResourceProfile(t *testing.T) {
	deps := newTestMCPDeps(t)
	if _, err := deps.Contexts.CreateProfile("u1", "Alice", map[string]any{"tone": "casual"}); err != nil {
		t.Fatalf("creating profile: %v", err)
	}
	handler := mcpResourceProfile(deps)

	contents, err := handler(context.Background(), makeReadResourceRequest("user://u1/profile"))
	if err != nil {
		t.Fatalf("reading profile resource: %v", err)
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("contents[0] is %T", contents[0])
	}

	var view struct {
		UserID      string         `json:"user_id"`
		Name        string         `json:"name"`
		Preferences map[string]any `json:"preferences"`
	}
	if err := json.Unmarshal([]byte(text.Text), &view); err != nil {
		t.Fatalf("decoding profile: %v", err)
	}
	if view.UserID != "u1" || view.Name != "Alice" || view.Preferences["tone"] != "casual" {
		t.Errorf("profile view = %+v", view)
	}

	if _, err := handler(context.Background(), makeReadResourceRequest("user://nobody/profile")); err == nil {
		t.Error("unknown user should fail")
	}
	if _, err := handler(context.Background(), makeReadResourceRequest("user:///profile")); err == nil {
		t.Error("empty user id should fail")
	}
}

func TestMCPResourceModes(t *testing.T) {
	handler := mcpResourceModes()

	contents, err := handler(context.Background(), makeReadResourceRequest("assistant://modes"))
	if err != nil {
		t.Fatalf("reading modes resource: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d items, want 1", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("contents[0] is %T", contents[0])
	}

	var listed []map[string]string
	if err := json.Unmarshal([]byte(text.Text), &listed); err != nil {
		t.Fatalf("decoding modes: %v", err)
	}
	if len(listed) != 3 {
		t.Errorf("modes listed = %d, want 3", len(listed))
	}
}
