package guest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPromptPolicy_Eligible(t *testing.T) {
	p := DefaultPromptPolicy()

	tests := []struct {
		name          string
		count         int
		lastDismissed int
		want          bool
	}{
		{"no answers", 0, 0, false},
		{"below limit", 1, 0, false},
		{"at limit", 2, 0, true},
		{"above limit never dismissed", 7, 0, true},
		{"just dismissed", 3, 3, false},
		{"one after dismissal", 4, 3, false},
		{"two after dismissal", 5, 3, true},
		{"dismissed before limit", 2, 1, false},
		{"dismissed before limit rearmed", 3, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Eligible(tt.count, tt.lastDismissed))
		})
	}
}

func TestPromptPolicy_CustomLimitAndRearm(t *testing.T) {
	p := PromptPolicy{FreeQuestionLimit: 5, RearmAfter: 3}

	assert.False(t, p.Eligible(4, 0))
	assert.True(t, p.Eligible(5, 0))
	assert.False(t, p.Eligible(7, 5))
	assert.True(t, p.Eligible(8, 5))
}

func TestPromptPolicy_Phase(t *testing.T) {
	p := DefaultPromptPolicy()

	assert.Equal(t, PhaseNotYetEligible, p.Phase(1, 0, false))
	assert.Equal(t, PhaseEligibleUnshown, p.Phase(2, 0, false))
	assert.Equal(t, PhaseEligibleShown, p.Phase(2, 0, true))
	assert.Equal(t, PhaseDismissedArmed, p.Phase(3, 3, false))
	assert.Equal(t, PhaseEligibleShown, p.Phase(5, 3, true))
}

func TestPromptPolicy_AnswersUntilPrompt(t *testing.T) {
	p := DefaultPromptPolicy()

	assert.Equal(t, 2, p.AnswersUntilPrompt(0, 0))
	assert.Equal(t, 1, p.AnswersUntilPrompt(1, 0))
	assert.Equal(t, 0, p.AnswersUntilPrompt(2, 0))
	assert.Equal(t, 2, p.AnswersUntilPrompt(3, 3))
	assert.Equal(t, 1, p.AnswersUntilPrompt(4, 3))
	assert.Equal(t, 2, p.AnswersUntilPrompt(1, 1))
}

func TestState_Policy(t *testing.T) {
	s := NewState(4)
	s.LastDismissedAtCount = 4

	p := s.Policy(3)
	assert.Equal(t, PromptPolicy{FreeQuestionLimit: 4, RearmAfter: 3}, p)
	assert.Equal(t, 3, p.AnswersUntilPrompt(4, s.LastDismissedAtCount))
}
