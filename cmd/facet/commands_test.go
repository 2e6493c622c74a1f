package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found_error"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestAskCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /ask": `{"text":"Here is your schedule.","confidence":0.9}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/ask", map[string]any{
		"user_id": "default",
		"text":    "what is on today",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var answer map[string]any
	if err := decodeJSON(resp, &answer); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if answer["text"] != "Here is your schedule." {
		t.Errorf("text = %v", answer["text"])
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["text"] != "what is on today" {
		t.Errorf("body.text = %v", body["text"])
	}
}

func TestAskCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
}

func TestModeCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /mode": `{"result":"Switched to work mode"}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/mode", map[string]any{
		"user_id":     "default",
		"target_mode": "work",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["result"] != "Switched to work mode" {
		t.Errorf("result = %q", result["result"])
	}
}

func TestParseWhen(t *testing.T) {
	trigger, err := parseWhen("time=09:00-17:00")
	if err != nil {
		t.Fatalf("time window: %v", err)
	}
	if trigger["kind"] != "time_window" {
		t.Errorf("kind = %v", trigger["kind"])
	}
	window, ok := trigger["time_window"].(map[string]string)
	if !ok || window["start"] != "09:00" || window["end"] != "17:00" {
		t.Errorf("window = %v", trigger["time_window"])
	}

	trigger, err = parseWhen("location=office")
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if trigger["kind"] != "location" {
		t.Errorf("kind = %v", trigger["kind"])
	}

	trigger, err = parseWhen("calendar=standup")
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	if trigger["kind"] != "calendar_keyword" {
		t.Errorf("kind = %v", trigger["kind"])
	}

	for _, bad := range []string{"time", "time=nine", "weather=rain", ""} {
		if _, err := parseWhen(bad); err == nil {
			t.Errorf("parseWhen(%q) should fail", bad)
		}
	}
}

func TestRulesList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /rules": `[{"id":"r1","name":"work hours","target_mode":"work","priority":5,"active":true}]`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/rules?user_id=default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rules []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := decodeJSON(resp, &rules); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(rules) != 1 || rules[0].Name != "work hours" {
		t.Errorf("rules = %+v", rules)
	}
}

func TestPrivacyReportCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /privacy/report": `{"report":{"user_id":"default","rule_count":2},"access_count":7}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/privacy/report?user_id=default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var report map[string]any
	if err := decodeJSON(resp, &report); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if report["access_count"] != float64(7) {
		t.Errorf("access_count = %v", report["access_count"])
	}
}

func TestClearCommand_Delete(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /users/default": `{"status":"cleared"}`,
	})

	client := ts.client()
	resp, err := client.delete(ctx, "/users/default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "cleared" {
		t.Errorf("status = %q", result["status"])
	}
}

func TestErrorResponseSurfaced(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	client := ts.client()
	resp, err := client.get(ctx, "/profiles/nobody")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var out map[string]any
	err = decodeJSON(resp, &out)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want it to mention 404", err.Error())
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}
