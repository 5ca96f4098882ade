package query

import (
	"context"
	"fmt"
	"time"

	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST BOOKMARKS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ListBookmarksQuery lists a guest's bookmarks, optionally filtered.
type ListBookmarksQuery struct {
	GuestID string

	// Type filters by bookmark type. Empty lists every type.
	Type string

	// Folder filters by folder. Empty lists every folder.
	Folder string
}

// Validate validates the query.
func (q ListBookmarksQuery) Validate() error {
	if !guest.GuestID(q.GuestID).IsValid() {
		return shared.ErrInvalidGuestID
	}
	if q.Type != "" {
		if _, err := guest.ParseBookmarkType(q.Type); err != nil {
			return err
		}
	}
	return nil
}

// BookmarkDTO is one bookmark.
type BookmarkDTO struct {
	Type      guest.BookmarkType `json:"type"`
	RefID     int64              `json:"ref_id"`
	Title     string             `json:"title,omitempty"`
	Note      string             `json:"note,omitempty"`
	Folder    guest.Folder       `json:"folder"`
	CreatedAt time.Time          `json:"created_at"`
}

// ListBookmarksResult contains the matching bookmarks in insertion order.
type ListBookmarksResult struct {
	Bookmarks []BookmarkDTO `json:"bookmarks"`
	Total     int           `json:"total"`
}

// ListBookmarksHandler handles the ListBookmarksQuery.
type ListBookmarksHandler struct {
	trackers TrackerProvider
}

// NewListBookmarksHandler creates a new handler.
func NewListBookmarksHandler(trackers TrackerProvider) *ListBookmarksHandler {
	return &ListBookmarksHandler{trackers: trackers}
}

// Handle executes the query.
func (h *ListBookmarksHandler) Handle(ctx context.Context, q ListBookmarksQuery) (*ListBookmarksResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("list_bookmarks: validation failed: %w", err)
	}

	tracker, release, err := h.trackers.Acquire(ctx, guest.GuestID(q.GuestID))
	if err != nil {
		return nil, fmt.Errorf("list_bookmarks: failed to load guest: %w", err)
	}
	defer release()

	all := tracker.BookmarksByType(guest.BookmarkType(q.Type))
	if q.Folder != "" {
		filtered := all[:0]
		for _, b := range all {
			if b.Folder == guest.Folder(q.Folder) {
				filtered = append(filtered, b)
			}
		}
		all = filtered
	}

	dtos := bookmarkDTOs(all)
	return &ListBookmarksResult{Bookmarks: dtos, Total: len(dtos)}, nil
}

// IsBookmarked reports whether the guest bookmarked (kind, refID).
func (h *ListBookmarksHandler) IsBookmarked(ctx context.Context, guestID, kind string, refID int64) (bool, error) {
	bt, err := guest.ParseBookmarkType(kind)
	if err != nil {
		return false, fmt.Errorf("is_bookmarked: validation failed: %w", err)
	}

	tracker, release, err := h.trackers.Acquire(ctx, guest.GuestID(guestID))
	if err != nil {
		return false, fmt.Errorf("is_bookmarked: failed to load guest: %w", err)
	}
	defer release()
	return tracker.IsBookmarked(bt, refID), nil
}

func bookmarkDTOs(bookmarks []guest.Bookmark) []BookmarkDTO {
	out := make([]BookmarkDTO, 0, len(bookmarks))
	for _, b := range bookmarks {
		out = append(out, BookmarkDTO{
			Type:      b.Type,
			RefID:     b.RefID,
			Title:     b.Title,
			Note:      b.Note,
			Folder:    b.Folder,
			CreatedAt: b.CreatedAt,
		})
	}
	return out
}
