package command

import (
	"context"
	"fmt"

	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISMISS PROMPT COMMAND
// Hides the auth prompt. It re-arms after a few more answers.
// ══════════════════════════════════════════════════════════════════════════════

// DismissPromptCommand dismisses the auth prompt for a guest.
type DismissPromptCommand struct {
	GuestID string
}

// Validate validates the command.
func (c DismissPromptCommand) Validate() error {
	if !guest.GuestID(c.GuestID).IsValid() {
		return shared.ErrInvalidGuestID
	}
	return nil
}

// DismissPromptResult contains the prompt status after dismissal.
type DismissPromptResult struct {
	// DismissedAtCount is the answer count the dismissal was recorded at.
	DismissedAtCount int

	Prompt PromptStatus
}

// DismissPromptHandler handles the DismissPromptCommand.
type DismissPromptHandler struct {
	trackers TrackerProvider
}

// NewDismissPromptHandler creates a new DismissPromptHandler.
func NewDismissPromptHandler(trackers TrackerProvider) *DismissPromptHandler {
	return &DismissPromptHandler{trackers: trackers}
}

// Handle executes the dismiss prompt command.
func (h *DismissPromptHandler) Handle(ctx context.Context, cmd DismissPromptCommand) (*DismissPromptResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("dismiss_prompt: validation failed: %w", err)
	}

	tracker, release, err := h.trackers.Acquire(ctx, guest.GuestID(cmd.GuestID))
	if err != nil {
		return nil, fmt.Errorf("dismiss_prompt: failed to load guest: %w", err)
	}
	defer release()

	tracker.DismissAuthModal(ctx)

	state := tracker.Snapshot()
	return &DismissPromptResult{
		DismissedAtCount: state.LastDismissedAtCount,
		Prompt:           promptStatus(tracker, state),
	}, nil
}
