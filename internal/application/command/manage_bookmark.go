package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MANAGE BOOKMARK COMMAND
// Adds or removes a bookmark on a question, paper or resource.
// ══════════════════════════════════════════════════════════════════════════════

// BookmarkAction is what to do with the bookmark.
type BookmarkAction string

const (
	// BookmarkActionAdd creates the bookmark if it does not exist.
	BookmarkActionAdd BookmarkAction = "add"

	// BookmarkActionRemove deletes the bookmark if it exists.
	BookmarkActionRemove BookmarkAction = "remove"

	// BookmarkActionToggle removes an existing bookmark or adds a missing one.
	BookmarkActionToggle BookmarkAction = "toggle"
)

// ManageBookmarkCommand contains the data to change a bookmark.
type ManageBookmarkCommand struct {
	GuestID string
	Action  BookmarkAction
	Type    string
	RefID   int64

	// Title, Note and Folder only apply when a bookmark is created.
	Title  string
	Note   string
	Folder string
}

// Validate validates the command.
func (c ManageBookmarkCommand) Validate() error {
	if !guest.GuestID(c.GuestID).IsValid() {
		return shared.ErrInvalidGuestID
	}
	if _, err := guest.ParseBookmarkType(c.Type); err != nil {
		return err
	}
	if c.RefID <= 0 {
		return shared.ErrInvalidRefID
	}

	switch c.Action {
	case BookmarkActionAdd, BookmarkActionRemove, BookmarkActionToggle:
	default:
		return shared.NewDomainError("guest", "ManageBookmark", shared.ErrInvalidInput,
			fmt.Sprintf("unknown bookmark action: %q", c.Action))
	}

	return nil
}

// ManageBookmarkResult contains the result of a bookmark change.
type ManageBookmarkResult struct {
	// Bookmarked is whether the bookmark exists after the command.
	Bookmarked bool

	// Changed is false when the command was a no-op (adding an existing
	// bookmark or removing a missing one).
	Changed bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ManageBookmarkHandler handles the ManageBookmarkCommand.
type ManageBookmarkHandler struct {
	trackers TrackerProvider
}

// NewManageBookmarkHandler creates a new ManageBookmarkHandler.
func NewManageBookmarkHandler(trackers TrackerProvider) *ManageBookmarkHandler {
	return &ManageBookmarkHandler{trackers: trackers}
}

// Handle executes the manage bookmark command.
func (h *ManageBookmarkHandler) Handle(ctx context.Context, cmd ManageBookmarkCommand) (*ManageBookmarkResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("manage_bookmark: validation failed: %w", err)
	}

	tracker, release, err := h.trackers.Acquire(ctx, guest.GuestID(cmd.GuestID))
	if err != nil {
		return nil, fmt.Errorf("manage_bookmark: failed to load guest: %w", err)
	}
	defer release()

	kind := guest.BookmarkType(cmd.Type)
	action := cmd.Action
	if action == BookmarkActionToggle {
		action = BookmarkActionAdd
		if tracker.IsBookmarked(kind, cmd.RefID) {
			action = BookmarkActionRemove
		}
	}

	if action == BookmarkActionRemove {
		removed := tracker.RemoveBookmark(ctx, kind, cmd.RefID)
		return &ManageBookmarkResult{Bookmarked: false, Changed: removed}, nil
	}

	added, err := tracker.AddBookmark(ctx, kind, cmd.RefID,
		guest.WithTitle(strings.TrimSpace(cmd.Title)),
		guest.WithNote(cmd.Note),
		guest.WithFolder(guest.Folder(strings.TrimSpace(cmd.Folder))),
	)
	if err != nil {
		return nil, fmt.Errorf("manage_bookmark: %w", err)
	}

	return &ManageBookmarkResult{Bookmarked: true, Changed: added}, nil
}
