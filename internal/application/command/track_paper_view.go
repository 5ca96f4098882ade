package command

import (
	"context"
	"fmt"

	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRACK PAPER VIEW COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// TrackPaperViewCommand records that a guest opened a paper.
type TrackPaperViewCommand struct {
	GuestID string
	PaperID int64
}

// Validate validates the command.
func (c TrackPaperViewCommand) Validate() error {
	if !guest.GuestID(c.GuestID).IsValid() {
		return shared.ErrInvalidGuestID
	}
	if c.PaperID <= 0 {
		return shared.ErrInvalidRefID
	}
	return nil
}

// TrackPaperViewResult contains the result of tracking a paper view.
type TrackPaperViewResult struct {
	// FirstView is false when the paper was already recorded.
	FirstView bool

	// PapersViewed is the number of distinct papers the guest opened.
	PapersViewed int
}

// TrackPaperViewHandler handles the TrackPaperViewCommand.
type TrackPaperViewHandler struct {
	trackers TrackerProvider
}

// NewTrackPaperViewHandler creates a new TrackPaperViewHandler.
func NewTrackPaperViewHandler(trackers TrackerProvider) *TrackPaperViewHandler {
	return &TrackPaperViewHandler{trackers: trackers}
}

// Handle executes the track paper view command.
func (h *TrackPaperViewHandler) Handle(ctx context.Context, cmd TrackPaperViewCommand) (*TrackPaperViewResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("track_paper_view: validation failed: %w", err)
	}

	tracker, release, err := h.trackers.Acquire(ctx, guest.GuestID(cmd.GuestID))
	if err != nil {
		return nil, fmt.Errorf("track_paper_view: failed to load guest: %w", err)
	}
	defer release()

	first := tracker.AddPaperViewed(ctx, cmd.PaperID)

	return &TrackPaperViewResult{
		FirstView:    first,
		PapersViewed: len(tracker.PapersViewed()),
	}, nil
}
