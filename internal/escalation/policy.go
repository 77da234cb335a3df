// Package escalation classifies a subagent's question as escalate-to-human
// or auto-answerable, and assigns an urgency label. The always_escalate
// family always wins over auto_approve, which always wins over a custom
// decider, which always wins over the escalate-by-default safety bias.
// When a question reads as a shell command, internal/command_safety's
// token-aware danger/safety classifiers are folded into the
// always_escalate/auto_approve checks respectively, ahead of the custom
// decider, since they understand shell syntax (git subcommand safety and
// the like) that a flat regex cannot. The question is split into tokens on
// whitespace without honouring quotes, so a quoted multi-word bash -lc
// script reaches them as several tokens and is not parsed as a script.
//
// Grounded on: original_source/src/takopi/runners/escalation.py
package escalation

import (
	"regexp"
	"strings"

	"github.com/classicrob/takopi-go/internal/command_safety"
)

// Decision is the outcome of should-escalate classification.
type Decision string

const (
	DecisionEscalate Decision = "escalate"
	DecisionAuto     Decision = "auto"
	DecisionNone     Decision = "none"
)

// CustomDecider is an optional, configurable final say before the
// escalate-by-default fallback. It returns DecisionEscalate, DecisionAuto,
// or DecisionNone (none meaning "no opinion, fall through to default").
type CustomDecider func(question, context string) Decision

var defaultAlwaysEscalate = []string{
	`(?i)\b(delete|remove|destroy|drop|truncate)\b`,
	`(?i)\b(production|prod|live)\b`,
	`(?i)\b(credential|password|token|secret|api[_ ]?key)\b`,
	`(?i)\b(billing|payment|charge|cost)\b`,
	`(?i)(--force\b|-f\b|\bforce\b)`,
	`(?i)\b(push|merge)\b.*\b(main|master)\b`,
}

var defaultAutoApprove = []string{
	`(?i)\bmkdir\b|create.*directory`,
	`(?i)\b(npm|pip|go|cargo|yarn|pnpm)\b.*\binstall\b.*\bdev\b`,
	`(?i)\b(pytest|go test|jest|unittest|run tests?)\b`,
	`(?i)\b(format|lint|fmt|prettier|eslint)\b`,
	`(?i)\b(build|compile)\b`,
	`(?i)\b(read|view|show|list|ls|cat)\b`,
}

// Policy holds compiled pattern families plus optional configuration.
// The zero value is not usable; construct with New or NewDefault.
type Policy struct {
	alwaysEscalate []*regexp.Regexp
	autoApprove    []*regexp.Regexp
	customDecider  CustomDecider
	// DefaultTimeoutSeconds is the caller-facing default wait time before an
	// unanswered escalation is treated as a timeout. A nil value (0) means
	// "no default timeout"; callers wire this into their own scheduling.
	DefaultTimeoutSeconds float64
}

// Config lets callers override the pattern families; a nil field falls
// back to the package default list.
type Config struct {
	AlwaysEscalate        []string
	AutoApprove           []string
	CustomDecider         CustomDecider
	DefaultTimeoutSeconds float64
}

// NewDefault returns a Policy using the built-in pattern families with the
// spec's 300-second default timeout.
func NewDefault() *Policy {
	p, err := New(Config{DefaultTimeoutSeconds: 300})
	if err != nil {
		// The built-in patterns are compile-time constants; a compile
		// failure here is a programmer error, not a runtime condition.
		panic(err)
	}
	return p
}

// New compiles a Policy from cfg, falling back to built-in pattern lists
// for any nil slice.
func New(cfg Config) (*Policy, error) {
	always := cfg.AlwaysEscalate
	if always == nil {
		always = defaultAlwaysEscalate
	}
	auto := cfg.AutoApprove
	if auto == nil {
		auto = defaultAutoApprove
	}
	p := &Policy{
		customDecider:         cfg.CustomDecider,
		DefaultTimeoutSeconds: cfg.DefaultTimeoutSeconds,
	}
	for _, pat := range always {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, err
		}
		p.alwaysEscalate = append(p.alwaysEscalate, re)
	}
	for _, pat := range auto {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, err
		}
		p.autoApprove = append(p.autoApprove, re)
	}
	return p, nil
}

func anyMatch(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ShouldEscalate reports whether question (with optional context) must be
// surfaced to a human rather than auto-answered. always_escalate beats
// auto_approve beats the custom decider beats the escalate-by-default bias.
func (p *Policy) ShouldEscalate(question, context string) bool {
	combined := question
	if context != "" {
		combined = question + "\n" + context
	}
	if anyMatch(p.alwaysEscalate, combined) {
		return true
	}
	if tokens := strings.Fields(question); len(tokens) > 0 && command_safety.CommandMightBeDangerous(tokens) {
		return true
	}
	if anyMatch(p.autoApprove, combined) {
		return false
	}
	if tokens := strings.Fields(question); len(tokens) > 0 && command_safety.IsKnownSafeCommand(tokens) {
		return false
	}
	if p.customDecider != nil {
		switch p.customDecider(question, context) {
		case DecisionEscalate:
			return true
		case DecisionAuto:
			return false
		}
	}
	return true
}

var (
	yesNoPattern    = regexp.MustCompile(`(?i)\b(y/n|yes/no|Y/N)\s*[:>]`)
	confirmPattern  = regexp.MustCompile(`(?i)\b(confirm|proceed|continue)\b`)
	pressEnterRegex = regexp.MustCompile(`(?i)press enter`)
)

// AutoResponse computes the canned reply sent into a pane when the policy
// decided auto. Only meaningful when ShouldEscalate returned false.
func AutoResponse(question string) string {
	switch {
	case yesNoPattern.MatchString(question):
		return "y"
	case pressEnterRegex.MatchString(question):
		return ""
	case confirmPattern.MatchString(question):
		return "yes"
	default:
		return "yes"
	}
}

var (
	criticalPattern = regexp.MustCompile(`(?i)\b(production|prod|live|billing|payment|charge|cost|credential|password|token|secret|api[_ ]?key)\b`)
	highPattern     = regexp.MustCompile(`(?i)\b(delete|remove|destroy|drop|truncate|force|overwrite)\b`)
	lowPattern      = regexp.MustCompile(`(?i)\bmkdir\b|\binstall\b|\b(format|fmt|lint)\b`)
)

// AssessUrgency labels a question for presentation/ordering purposes:
// critical (production/billing/credentials) > high (destructive/force) >
// low (mkdir/install/format) > normal (default).
func AssessUrgency(question string) string {
	switch {
	case criticalPattern.MatchString(question):
		return "critical"
	case highPattern.MatchString(question):
		return "high"
	case lowPattern.MatchString(question):
		return "low"
	default:
		return "normal"
	}
}

// TrimQuestion is a small normalization helper shared by callers that scan
// raw pane lines: strips surrounding whitespace and the backticks some
// backends wrap resume/question lines in, from both ends.
func TrimQuestion(line string) string {
	return strings.Trim(strings.TrimSpace(line), "`")
}
