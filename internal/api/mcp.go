package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"facet/internal/modes"
	"facet/internal/orchestrator"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Orchestrator *orchestrator.Orchestrator
	Contexts     *modes.Manager
}

// NewMCPServer creates an MCP server with all assistant tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"facet",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("facet — context-aware personal assistant with work, personal, and mixed modes."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Dispatch a natural-language request to the assistant under the user's current context mode."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
			mcp.WithString("text", mcp.Description("The request text"), mcp.Required()),
			mcp.WithString("location", mcp.Description("Optional current location signal")),
			mcp.WithArray("calendar_events", mcp.Description("Optional calendar event titles in effect right now")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("switch_mode",
			mcp.WithDescription("Manually switch the user's context mode."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
			mcp.WithString("mode", mcp.Description("Target mode: work, personal, or mixed"), mcp.Required()),
		),
		mcpSwitchMode(deps),
	)

	s.AddTool(
		mcp.NewTool("add_rule",
			mcp.WithDescription("Add an automatic mode-switching rule for a user."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Human-readable rule name"), mcp.Required()),
			mcp.WithString("target_mode", mcp.Description("Mode the rule switches to: work, personal, or mixed"), mcp.Required()),
			mcp.WithString("trigger_kind", mcp.Description("Trigger kind: time_window, location, or calendar_keyword"), mcp.Required()),
			mcp.WithString("trigger_value", mcp.Description("Trigger value. For time_window use HH:MM-HH:MM; otherwise the string to match."), mcp.Required()),
			mcp.WithNumber("priority", mcp.Description("Rule priority; higher wins (default 0)")),
		),
		mcpAddRule(deps),
	)

	s.AddTool(
		mcp.NewTool("context_summary",
			mcp.WithDescription("Return the user's current mode, context sizes, and recent activity."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
		),
		mcpContextSummary(deps),
	)

	s.AddTool(
		mcp.NewTool("privacy_report",
			mcp.WithDescription("Return a report of what data the assistant holds for a user."),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
		),
		mcpPrivacyReport(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"assistant://modes",
			"Context Modes",
			mcp.WithResourceDescription("Available context modes and what each one means"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceModes(),
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"user://{id}/profile",
			"User Profile",
			mcp.WithTemplateDescription("A user's profile: preferences, context keys, and learning-buffer size"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		signals := modes.Signals{
			Location: req.GetString("location", ""),
		}
		for _, title := range req.GetStringSlice("calendar_events", nil) {
			signals.CalendarEvents = append(signals.CalendarEvents, modes.CalendarEvent{Title: title})
		}

		resp := deps.Orchestrator.ProcessRequest(ctx, userID, text, false, signals)

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSwitchMode(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		mode, err := req.RequireString("mode")
		if err != nil {
			return mcpError("mode is required"), nil
		}

		return mcpText(deps.Orchestrator.HandleModeSwitch(userID, mode)), nil
	}
}

func mcpAddRule(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		targetMode, err := req.RequireString("target_mode")
		if err != nil {
			return mcpError("target_mode is required"), nil
		}
		triggerKind, err := req.RequireString("trigger_kind")
		if err != nil {
			return mcpError("trigger_kind is required"), nil
		}
		triggerValue, err := req.RequireString("trigger_value")
		if err != nil {
			return mcpError("trigger_value is required"), nil
		}

		trigger, terr := buildTrigger(triggerKind, triggerValue)
		if terr != nil {
			return mcpError(terr.Error()), nil
		}

		rule := modes.Rule{
			Name:       name,
			TargetMode: modes.Mode(targetMode),
			Trigger:    trigger,
			Priority:   req.GetInt("priority", 0),
			Active:     true,
		}

		created, err := deps.Contexts.AddRule(userID, rule)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to add rule: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Added rule %s (%s)", created.Name, created.ID)), nil
	}
}

// buildTrigger translates the flat kind/value pair used on the tool surface
// into the structured trigger.
func buildTrigger(kind, value string) (modes.Trigger, error) {
	switch modes.TriggerKind(kind) {
	case modes.TriggerTimeWindow:
		start, end, ok := strings.Cut(value, "-")
		if !ok {
			return modes.Trigger{}, fmt.Errorf("time_window value must look like HH:MM-HH:MM, got %q", value)
		}
		return modes.Trigger{
			Kind:       modes.TriggerTimeWindow,
			TimeWindow: &modes.TimeWindow{Start: strings.TrimSpace(start), End: strings.TrimSpace(end)},
		}, nil
	case modes.TriggerLocation:
		return modes.Trigger{
			Kind:     modes.TriggerLocation,
			Location: &modes.LocationMatch{Value: value},
		}, nil
	case modes.TriggerCalendarKeyword:
		return modes.Trigger{
			Kind:            modes.TriggerCalendarKeyword,
			CalendarKeyword: &modes.CalendarKeyword{Value: value},
		}, nil
	default:
		return modes.Trigger{}, fmt.Errorf("unknown trigger kind %q", kind)
	}
}

func mcpContextSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		summary, err := deps.Orchestrator.ContextSummary(userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to build summary: %v", err)), nil
		}

		b, err := json.Marshal(summary)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpPrivacyReport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		report, err := deps.Contexts.PrivacyReport(userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to build report: %v", err)), nil
		}

		b, err := json.Marshal(report)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal report: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceModes() server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		modesDoc := []map[string]string{
			{"mode": string(modes.ModeWork), "description": "Work profile: professional context, calendars, and tools."},
			{"mode": string(modes.ModePersonal), "description": "Personal profile: private context and personal preferences."},
			{"mode": string(modes.ModeMixed), "description": "Blend of both; work context wins on key conflicts."},
		}

		b, err := json.Marshal(modesDoc)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal modes: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		userID := strings.TrimSuffix(strings.TrimPrefix(req.Params.URI, "user://"), "/profile")
		if userID == "" || strings.Contains(userID, "/") {
			return nil, fmt.Errorf("malformed profile URI %q", req.Params.URI)
		}

		profile, found, err := deps.Contexts.GetProfile(userID)
		if err != nil {
			return nil, fmt.Errorf("reading profile: %w", err)
		}
		if !found {
			return nil, fmt.Errorf("no profile for user %q", userID)
		}

		b, err := json.Marshal(viewOf(profile))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
