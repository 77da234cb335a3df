package sessioncard

import "fmt"

// badgeSymbols, statusSymbols, and activitySymbols are presentational
// helpers transports may use; SPEC_FULL.md §12 carries them forward since
// both concrete transports need some rendering and duplicating this map in
// each would be worse than sharing it here.
var badgeSymbols = map[string]string{
	"claude":   "\U0001F7E3",
	"codex":    "\U0001F7E2",
	"opencode": "\U0001F535",
	"pi":       "\U0001F7E0",
	"liaison":  "\U0001F7E1",
}

var statusSymbols = map[AgentStatus]string{
	AgentActive:  "▶",
	AgentWaiting: "⏸",
	AgentDone:    "✓",
	AgentError:   "✗",
}

var activitySymbols = map[string]string{
	"action":            "▸",
	"input_answered":    "✓",
	"subagent_spawned":  "➕",
	"pane_activity":     "▸",
	"warning":           "⚠",
	"error":             "✗",
	"complete":          "✓",
}

// FormatBadge renders one badge as "<color><status><engine>".
func FormatBadge(b AgentBadge) string {
	color, ok := badgeSymbols[string(b.Engine)]
	if !ok {
		color = "⚫"
	}
	return fmt.Sprintf("%s%s%s", color, statusSymbols[b.Status], b.Engine)
}

// FormatActivityItem renders one feed entry as "<symbol> [engine] summary".
func FormatActivityItem(item ActivityItem, showEngine bool) string {
	symbol, ok := activitySymbols[item.Kind]
	if !ok {
		symbol = "•"
	}
	engineTag := ""
	if showEngine {
		engineTag = fmt.Sprintf("[%s] ", item.Engine)
	}
	return fmt.Sprintf("%s %s%s", symbol, engineTag, item.Summary)
}
