// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"

	"github.com/paperhub/guest-hub/internal/domain/guest"
)

// TrackerProvider resolves the live tracker for a guest and pins it until
// the returned release func is called.
// session.Registry is the production implementation.
type TrackerProvider interface {
	Acquire(ctx context.Context, id guest.GuestID) (*guest.Tracker, func(), error)
}

// PromptStatus is the auth-prompt view returned after every write that can
// move the prompt lifecycle.
type PromptStatus struct {
	// ShouldShowAuthModal is the persisted flag the UI renders.
	ShouldShowAuthModal bool

	// Phase is where the guest is in the prompt lifecycle.
	Phase guest.PromptPhase

	// AnswersUntilPrompt is how many more answers make the prompt eligible.
	AnswersUntilPrompt int
}

func promptStatus(t *guest.Tracker, state guest.State) PromptStatus {
	policy := state.Policy(t.RearmAfter())
	count := len(state.Answers)

	return PromptStatus{
		ShouldShowAuthModal: state.ShouldShowAuthModal,
		Phase:               policy.Phase(count, state.LastDismissedAtCount, state.ShouldShowAuthModal),
		AnswersUntilPrompt:  policy.AnswersUntilPrompt(count, state.LastDismissedAtCount),
	}
}
