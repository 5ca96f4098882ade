package command

import (
	"context"
	"fmt"

	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/domain/shared"
	"github.com/paperhub/guest-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLEAR GUEST DATA COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// ClearGuestDataCommand resets a guest to an empty state.
type ClearGuestDataCommand struct {
	GuestID string
}

// Validate validates the command.
func (c ClearGuestDataCommand) Validate() error {
	if !guest.GuestID(c.GuestID).IsValid() {
		return shared.ErrInvalidGuestID
	}
	return nil
}

// ClearGuestDataHandler handles the ClearGuestDataCommand.
type ClearGuestDataHandler struct {
	trackers TrackerProvider
	log      *logger.Logger
}

// NewClearGuestDataHandler creates a new ClearGuestDataHandler.
func NewClearGuestDataHandler(trackers TrackerProvider, log *logger.Logger) *ClearGuestDataHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ClearGuestDataHandler{trackers: trackers, log: log}
}

// Handle executes the clear guest data command.
func (h *ClearGuestDataHandler) Handle(ctx context.Context, cmd ClearGuestDataCommand) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("clear_guest_data: validation failed: %w", err)
	}

	tracker, release, err := h.trackers.Acquire(ctx, guest.GuestID(cmd.GuestID))
	if err != nil {
		return fmt.Errorf("clear_guest_data: failed to load guest: %w", err)
	}
	defer release()

	answers := tracker.AnswerCount()
	tracker.ClearGuestData(ctx)

	h.log.Info("guest data cleared",
		logger.GuestID(cmd.GuestID),
		logger.AnswerCount(answers),
	)
	return nil
}
