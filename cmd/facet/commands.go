package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"facet/internal/config"
)

// userFlag adds the shared --user flag. Most commands act on behalf of one
// user.
func userFlag(cmd *cobra.Command) {
	cmd.Flags().String("user", "default", "user identifier")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <text>",
	Short: "Dispatch a request to the assistant",
	Long: `Dispatch a request to the assistant under the user's current mode.

Examples:
  facet ask "remind me to call the dentist tomorrow"
  facet ask --user alice --location office "what's next on my calendar?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		user, _ := cmd.Flags().GetString("user")
		location, _ := cmd.Flags().GetString("location")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"user_id": user,
			"text":    text,
		}
		if location != "" {
			body["signals"] = map[string]any{"location": location}
		}

		resp, err := client.post(cmd.Context(), "/ask", body)
		if err != nil {
			return err
		}

		var result struct {
			Text                 string            `json:"text"`
			Actions              []json.RawMessage `json:"actions"`
			Confidence           float64           `json:"confidence"`
			RequiresConfirmation bool              `json:"requires_confirmation"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Text)
		if len(result.Actions) > 0 {
			fmt.Printf("\n%s\n", colorize(colorBold, fmt.Sprintf("Actions (%d):", len(result.Actions))))
			for _, a := range result.Actions {
				fmt.Printf("  %s\n", string(a))
			}
		}
		if result.RequiresConfirmation {
			printWarning("These actions require confirmation before execution.")
		}
		return nil
	},
}

// --- mode ---

var modeCmd = &cobra.Command{
	Use:   "mode <work|personal|mixed>",
	Short: "Switch the active context mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/mode", map[string]string{
			"user_id":     user,
			"target_mode": args[0],
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result["result"])
		return nil
	},
}

// --- summary ---

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the current context summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		daily, _ := cmd.Flags().GetBool("daily")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/summary?user_id=" + user
		if daily {
			path = "/summary/daily?user_id=" + user
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var summary any
		if err := decodeJSON(resp, &summary); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/history?user_id=%s&limit=%d", user, limit))
		if err != nil {
			return err
		}

		var entries []struct {
			ID           string `json:"id"`
			Timestamp    string `json:"timestamp"`
			Mode         string `json:"mode"`
			RequestText  string `json:"request_text"`
			ResponseText string `json:"response_text"`
		}
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No requests found.")
			return nil
		}

		for _, e := range entries {
			request := e.RequestText
			if len(request) > 80 {
				request = request[:80] + "..."
			}
			fmt.Printf("%s  %s  [%s]  %s\n",
				colorize(colorCyan, e.ID[:8]),
				e.Timestamp,
				e.Mode,
				request,
			)
		}
		return nil
	},
}

// --- rules ---

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage automatic mode-switching rules",
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a mode-switching rule",
	Long: `Add a mode-switching rule.

Examples:
  facet rules add --name "work hours" --mode work --when time=09:00-17:00 --priority 10
  facet rules add --name "at the office" --mode work --when location=office
  facet rules add --name "standup" --mode work --when calendar=standup`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		name, _ := cmd.Flags().GetString("name")
		mode, _ := cmd.Flags().GetString("mode")
		when, _ := cmd.Flags().GetString("when")
		priority, _ := cmd.Flags().GetInt("priority")

		if name == "" || mode == "" || when == "" {
			return fmt.Errorf("--name, --mode, and --when are required")
		}

		trigger, err := parseWhen(when)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/rules", map[string]any{
			"user_id": user,
			"rule": map[string]any{
				"name":        name,
				"target_mode": mode,
				"trigger":     trigger,
				"priority":    priority,
				"active":      true,
			},
		})
		if err != nil {
			return err
		}

		var rule struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := decodeJSON(resp, &rule); err != nil {
			return err
		}

		printSuccess("Added rule %s (%s)", rule.Name, rule.ID)
		return nil
	},
}

// parseWhen turns the --when shorthand into a trigger object.
// Accepted forms: time=HH:MM-HH:MM, location=<value>, calendar=<keyword>.
func parseWhen(when string) (map[string]any, error) {
	kind, value, ok := strings.Cut(when, "=")
	if !ok {
		return nil, fmt.Errorf("--when must look like kind=value, got %q", when)
	}

	switch kind {
	case "time":
		start, end, ok := strings.Cut(value, "-")
		if !ok {
			return nil, fmt.Errorf("time window must look like HH:MM-HH:MM, got %q", value)
		}
		return map[string]any{
			"kind":        "time_window",
			"time_window": map[string]string{"start": start, "end": end},
		}, nil
	case "location":
		return map[string]any{
			"kind":     "location",
			"location": map[string]string{"value": value},
		}, nil
	case "calendar":
		return map[string]any{
			"kind":             "calendar_keyword",
			"calendar_keyword": map[string]string{"value": value},
		}, nil
	default:
		return nil, fmt.Errorf("unknown trigger kind %q (want time, location, or calendar)", kind)
	}
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/rules?user_id="+user)
		if err != nil {
			return err
		}

		var rules []struct {
			ID         string         `json:"id"`
			Name       string         `json:"name"`
			TargetMode string         `json:"target_mode"`
			Priority   int            `json:"priority"`
			Trigger    map[string]any `json:"trigger"`
		}
		if err := decodeJSON(resp, &rules); err != nil {
			return err
		}

		if len(rules) == 0 {
			fmt.Println("No active rules.")
			return nil
		}

		for _, r := range rules {
			trigger, _ := json.Marshal(r.Trigger)
			fmt.Printf("%s  %s -> %s  (priority %d)  %s\n",
				colorize(colorCyan, r.ID[:8]),
				r.Name,
				r.TargetMode,
				r.Priority,
				string(trigger),
			)
		}
		return nil
	},
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <rule-id>",
	Short: "Deactivate a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  setRuleActive(false),
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <rule-id>",
	Short: "Reactivate a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  setRuleActive(true),
}

func setRuleActive(active bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/rules/"+args[0]+"/active", map[string]any{
			"user_id": user,
			"active":  active,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if active {
			printSuccess("Rule %s enabled", args[0])
		} else {
			printSuccess("Rule %s disabled", args[0])
		}
		return nil
	}
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage user profiles",
}

var profileCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/profiles", map[string]any{
			"user_id": user,
			"name":    args[0],
		})
		if err != nil {
			return err
		}

		var profile struct {
			UserID string `json:"user_id"`
			Name   string `json:"name"`
		}
		if err := decodeJSON(resp, &profile); err != nil {
			return err
		}

		printSuccess("Created profile %s for %s", profile.Name, profile.UserID)
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/profiles/"+user)
		if err != nil {
			return err
		}

		var profile any
		if err := decodeJSON(resp, &profile); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(profile)
	},
}

var profileSetContextCmd = &cobra.Command{
	Use:   "set-context <work|personal> <key> <value>",
	Short: "Set a context field",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		kind, key, value := args[0], args[1], args[2]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/profiles/"+user+"/context", map[string]any{
			"kind":  kind,
			"patch": map[string]any{key: value},
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Set %s context %s = %s", kind, key, value)
		return nil
	},
}

var profileSetPrefCmd = &cobra.Command{
	Use:   "set-pref <key> <value>",
	Short: "Set a preference field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		key, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/profiles/"+user+"/preferences", map[string]any{key: value})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Set preference %s = %s", key, value)
		return nil
	},
}

// --- privacy ---

var privacyCmd = &cobra.Command{
	Use:   "privacy",
	Short: "Inspect and control data access",
}

var privacyReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show what data is stored for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/privacy/report?user_id="+user)
		if err != nil {
			return err
		}

		var report any
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

var privacyAllowCmd = &cobra.Command{
	Use:   "allow <location|calendar|learning>",
	Short: "Grant access to a data type",
	Args:  cobra.ExactArgs(1),
	RunE:  setPrivacy(true),
}

var privacyDenyCmd = &cobra.Command{
	Use:   "deny <location|calendar|learning>",
	Short: "Revoke access to a data type",
	Args:  cobra.ExactArgs(1),
	RunE:  setPrivacy(false),
}

func setPrivacy(allowed bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/privacy/settings", map[string]any{
			"user_id":   user,
			"data_type": args[0],
			"allowed":   allowed,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if allowed {
			printSuccess("Granted %s access", args[0])
		} else {
			printSuccess("Revoked %s access", args[0])
		}
		return nil
	}
}

var privacyLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent data accesses",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/privacy/access-log?user_id=%s&limit=%d", user, limit))
		if err != nil {
			return err
		}

		var entries []struct {
			Timestamp string `json:"timestamp"`
			DataType  string `json:"data_type"`
			Reason    string `json:"reason"`
			Module    string `json:"module"`
		}
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No data accesses recorded.")
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%s  %s  %s (%s)\n", e.Timestamp, colorize(colorBold, e.DataType), e.Reason, e.Module)
		}
		return nil
	},
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all stored data for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL data for user %q. Use --confirm to proceed.", user)
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/users/"+user)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("All data for %q deleted", user)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	userFlag(askCmd)
	askCmd.Flags().String("location", "", "current location signal")

	userFlag(modeCmd)

	userFlag(summaryCmd)
	summaryCmd.Flags().Bool("daily", false, "show the daily activity summary instead")

	userFlag(historyCmd)
	historyCmd.Flags().Int("limit", 10, "maximum number of entries to list")

	userFlag(rulesAddCmd)
	rulesAddCmd.Flags().String("name", "", "rule name")
	rulesAddCmd.Flags().String("mode", "", "target mode: work, personal, or mixed")
	rulesAddCmd.Flags().String("when", "", "trigger: time=HH:MM-HH:MM, location=<value>, or calendar=<keyword>")
	rulesAddCmd.Flags().Int("priority", 0, "rule priority; higher wins")
	userFlag(rulesListCmd)
	userFlag(rulesEnableCmd)
	userFlag(rulesDisableCmd)
	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesEnableCmd)
	rulesCmd.AddCommand(rulesDisableCmd)

	userFlag(profileCreateCmd)
	userFlag(profileShowCmd)
	userFlag(profileSetContextCmd)
	userFlag(profileSetPrefCmd)
	profileCmd.AddCommand(profileCreateCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetContextCmd)
	profileCmd.AddCommand(profileSetPrefCmd)

	userFlag(privacyReportCmd)
	userFlag(privacyAllowCmd)
	userFlag(privacyDenyCmd)
	userFlag(privacyLogCmd)
	privacyLogCmd.Flags().Int("limit", 20, "maximum number of entries to list")
	privacyCmd.AddCommand(privacyReportCmd)
	privacyCmd.AddCommand(privacyAllowCmd)
	privacyCmd.AddCommand(privacyDenyCmd)
	privacyCmd.AddCommand(privacyLogCmd)

	userFlag(clearCmd)
	clearCmd.Flags().Bool("confirm", false, "confirm deletion")
}
