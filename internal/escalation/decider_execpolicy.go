package escalation

import (
	"strings"

	"github.com/classicrob/takopi-go/internal/execpolicy"
)

// NewExecPolicyDecider adapts internal/execpolicy's Starlark-defined
// command-prefix rules into the "optional custom decider" slot described
// by §4.1: source is a policy file's contents (prefix_rule(pattern=...,
// decision="allow"|"prompt"|"forbidden") calls), and the returned
// CustomDecider tokenizes a question's leading shell command and maps the
// policy's verdict onto auto/escalate/none.
func NewExecPolicyDecider(filename, source string) (CustomDecider, error) {
	policy, err := execpolicy.ParsePolicy(filename, source)
	if err != nil {
		return nil, err
	}
	return func(question, _ string) Decision {
		cmd := strings.Fields(question)
		if len(cmd) == 0 {
			return DecisionNone
		}
		eval := policy.Check(cmd, func([]string) execpolicy.Decision { return execpolicy.DecisionPrompt })
		switch eval.Decision {
		case execpolicy.DecisionAllow:
			return DecisionAuto
		case execpolicy.DecisionForbidden:
			return DecisionEscalate
		default:
			return DecisionNone
		}
	}, nil
}
