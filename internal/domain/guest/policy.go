package guest

// DefaultRearmAfter is how many further answers a guest records after
// dismissing the auth prompt before it is shown again.
const DefaultRearmAfter = 2

// PromptPhase describes where a guest is in the auth-prompt lifecycle.
type PromptPhase string

const (
	PhaseNotYetEligible  PromptPhase = "not_yet_eligible"
	PhaseEligibleUnshown PromptPhase = "eligible_unshown"
	PhaseEligibleShown   PromptPhase = "eligible_shown"
	PhaseDismissedArmed  PromptPhase = "dismissed_armed"
)

// PromptPolicy is the threshold-and-hysteresis rule deciding when a guest
// is asked to authenticate.
//
// A guest is eligible once the answer count reaches FreeQuestionLimit. After
// a dismissal at count N the prompt stays hidden until the count reaches
// N+RearmAfter.
type PromptPolicy struct {
	FreeQuestionLimit int
	RearmAfter        int
}

// DefaultPromptPolicy returns the policy with the default limit and re-arm delta.
func DefaultPromptPolicy() PromptPolicy {
	return PromptPolicy{
		FreeQuestionLimit: DefaultFreeQuestionLimit,
		RearmAfter:        DefaultRearmAfter,
	}
}

// Policy returns the prompt policy for s: its stored limit with the given
// re-arm delta. Views built from one State and its Policy are consistent.
func (s State) Policy(rearmAfter int) PromptPolicy {
	return PromptPolicy{
		FreeQuestionLimit: s.FreeQuestionLimit,
		RearmAfter:        rearmAfter,
	}
}

// Eligible reports whether the prompt should be shown for answerCount given
// the count at the last dismissal (0 means never dismissed).
func (p PromptPolicy) Eligible(answerCount, lastDismissedAtCount int) bool {
	if answerCount < p.FreeQuestionLimit {
		return false
	}
	if lastDismissedAtCount == 0 {
		return true
	}
	return answerCount-lastDismissedAtCount >= p.RearmAfter
}

// Phase classifies the current gating state.
func (p PromptPolicy) Phase(answerCount, lastDismissedAtCount int, shown bool) PromptPhase {
	eligible := p.Eligible(answerCount, lastDismissedAtCount)
	switch {
	case eligible && shown:
		return PhaseEligibleShown
	case eligible:
		return PhaseEligibleUnshown
	case lastDismissedAtCount > 0:
		return PhaseDismissedArmed
	default:
		return PhaseNotYetEligible
	}
}

// AnswersUntilPrompt returns how many more answers are needed before the
// prompt becomes eligible, or 0 if it already is.
func (p PromptPolicy) AnswersUntilPrompt(answerCount, lastDismissedAtCount int) int {
	if p.Eligible(answerCount, lastDismissedAtCount) {
		return 0
	}
	need := p.FreeQuestionLimit - answerCount
	if lastDismissedAtCount > 0 {
		if rearm := lastDismissedAtCount + p.RearmAfter - answerCount; rearm > need {
			need = rearm
		}
	}
	return need
}
