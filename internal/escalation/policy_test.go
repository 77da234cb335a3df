package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldEscalateDefaults(t *testing.T) {
	p := NewDefault()

	assert.True(t, p.ShouldEscalate("Delete the old logs?", ""))
	assert.Equal(t, "high", AssessUrgency("Delete the old logs?"))

	assert.False(t, p.ShouldEscalate("Run tests?", ""))
	assert.Equal(t, "yes", AutoResponse("Run tests?"))

	assert.True(t, p.ShouldEscalate("Deploy to production?", ""))
	assert.Equal(t, "critical", AssessUrgency("Deploy to production?"))

	assert.True(t, p.ShouldEscalate("Enter your API key:", ""))
	assert.Equal(t, "critical", AssessUrgency("Enter your API key:"))
}

func TestAlwaysEscalateWinsOverAutoApprove(t *testing.T) {
	p := NewDefault()
	// Matches auto_approve's "ls/list" and always_escalate's "remove".
	assert.True(t, p.ShouldEscalate("list and remove the old build directory?", ""))
}

func TestQuotedDangerousShellScriptEscalates(t *testing.T) {
	p := NewDefault()
	assert.True(t, p.ShouldEscalate("bash -lc \"rm -rf /\"", ""))
}

func TestCommandSafetyClassifierAutoApprovesKnownSafeCommand(t *testing.T) {
	p := NewDefault()
	assert.False(t, p.ShouldEscalate("git status", ""))
}

func TestAutoResponseVariants(t *testing.T) {
	assert.Equal(t, "y", AutoResponse("Continue? y/n:"))
	assert.Equal(t, "yes", AutoResponse("Do you want to proceed?"))
	assert.Equal(t, "", AutoResponse("Press Enter to continue"))
	assert.Equal(t, "yes", AutoResponse("What is your favorite color?"))
}

func TestCustomDeciderConsultedBetweenFamiliesAndDefault(t *testing.T) {
	calls := 0
	p, err := New(Config{
		CustomDecider: func(q, c string) Decision {
			calls++
			return DecisionAuto
		},
	})
	require.NoError(t, err)
	assert.False(t, p.ShouldEscalate("Should I rename this variable?", ""))
	assert.Equal(t, 1, calls)
}

func TestEscalateByDefaultWhenNoFamilyOrDeciderMatches(t *testing.T) {
	p := NewDefault()
	assert.True(t, p.ShouldEscalate("What should the new function be called?", ""))
}
