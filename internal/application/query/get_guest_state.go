// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/domain/shared"
)

// TrackerProvider resolves the live tracker for a guest.
// The returned release func unpins the tracker.
type TrackerProvider interface {
	Acquire(ctx context.Context, id guest.GuestID) (*guest.Tracker, func(), error)
}

// ══════════════════════════════════════════════════════════════════════════════
// GET GUEST STATE QUERY
// Everything the client needs to render a guest session: counters, the
// recorded activity and where the guest is in the auth-prompt lifecycle.
// ══════════════════════════════════════════════════════════════════════════════

// GetGuestStateQuery contains the parameters of the query.
type GetGuestStateQuery struct {
	GuestID string

	// IncludeActivity adds answers, bookmarks and viewed papers to the result.
	// Without it only counters and the prompt view are returned.
	IncludeActivity bool
}

// Validate validates the query.
func (q GetGuestStateQuery) Validate() error {
	if !guest.GuestID(q.GuestID).IsValid() {
		return shared.ErrInvalidGuestID
	}
	return nil
}

// AnswerDTO is one recorded answer.
type AnswerDTO struct {
	QuestionID       int64     `json:"question_id"`
	AnswerText       string    `json:"answer_text,omitempty"`
	SelectedOption   string    `json:"selected_option,omitempty"`
	TimeSpentSeconds int       `json:"time_spent_seconds,omitempty"`
	AnsweredAt       time.Time `json:"answered_at"`
}

// PromptDTO is the auth-prompt view.
type PromptDTO struct {
	// ShouldShowAuthModal is the persisted flag.
	ShouldShowAuthModal bool `json:"should_show_auth_modal"`

	// ShouldPrompt is the policy evaluated against the current counters.
	ShouldPrompt bool `json:"should_prompt"`

	Phase              guest.PromptPhase `json:"phase"`
	AnswersUntilPrompt int               `json:"answers_until_prompt"`
	FreeQuestionLimit  int               `json:"free_question_limit"`
	DismissedAtCount   int               `json:"dismissed_at_count,omitempty"`
}

// GuestStateDTO is the full guest view.
type GuestStateDTO struct {
	GuestID string `json:"guest_id"`

	// ─────────────────────────────────────────────────────────────────────────
	// Counters
	// ─────────────────────────────────────────────────────────────────────────

	AnswerCount   int `json:"answer_count"`
	BookmarkCount int `json:"bookmark_count"`
	PapersViewed  int `json:"papers_viewed"`

	Prompt PromptDTO `json:"prompt"`

	// ─────────────────────────────────────────────────────────────────────────
	// Activity (only with IncludeActivity)
	// ─────────────────────────────────────────────────────────────────────────

	Answers   []AnswerDTO   `json:"answers,omitempty"`
	Bookmarks []BookmarkDTO `json:"bookmarks,omitempty"`
	PaperIDs  []int64       `json:"paper_ids,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetGuestStateHandler handles the GetGuestStateQuery.
type GetGuestStateHandler struct {
	trackers TrackerProvider
}

// NewGetGuestStateHandler creates a new handler.
func NewGetGuestStateHandler(trackers TrackerProvider) *GetGuestStateHandler {
	return &GetGuestStateHandler{trackers: trackers}
}

// Handle executes the query.
func (h *GetGuestStateHandler) Handle(ctx context.Context, q GetGuestStateQuery) (*GuestStateDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_guest_state: validation failed: %w", err)
	}

	tracker, release, err := h.trackers.Acquire(ctx, guest.GuestID(q.GuestID))
	if err != nil {
		return nil, fmt.Errorf("get_guest_state: failed to load guest: %w", err)
	}
	defer release()

	return stateDTO(tracker, q.IncludeActivity), nil
}

// StateOf builds the view of an already-resolved tracker.
func StateOf(t *guest.Tracker, includeActivity bool) *GuestStateDTO {
	return stateDTO(t, includeActivity)
}

func stateDTO(t *guest.Tracker, includeActivity bool) *GuestStateDTO {
	state := t.Snapshot()

	dto := &GuestStateDTO{
		GuestID:       t.ID().String(),
		AnswerCount:   len(state.Answers),
		BookmarkCount: len(state.Bookmarks),
		PapersViewed:  len(state.PapersViewed),
		Prompt:        promptDTO(t, state),
	}
	if !includeActivity {
		return dto
	}

	dto.Answers = make([]AnswerDTO, 0, len(state.Answers))
	for _, a := range state.Answers {
		dto.Answers = append(dto.Answers, AnswerDTO{
			QuestionID:       int64(a.QuestionID),
			AnswerText:       a.AnswerText,
			SelectedOption:   a.SelectedOption,
			TimeSpentSeconds: a.TimeSpentSeconds,
			AnsweredAt:       a.AnsweredAt,
		})
	}
	dto.Bookmarks = bookmarkDTOs(state.Bookmarks)
	dto.PaperIDs = state.PapersViewed

	return dto
}

// promptDTO derives every field from the one snapshot.
func promptDTO(t *guest.Tracker, state guest.State) PromptDTO {
	policy := state.Policy(t.RearmAfter())
	count := len(state.Answers)

	return PromptDTO{
		ShouldShowAuthModal: state.ShouldShowAuthModal,
		ShouldPrompt:        policy.Eligible(count, state.LastDismissedAtCount),
		Phase:               policy.Phase(count, state.LastDismissedAtCount, state.ShouldShowAuthModal),
		AnswersUntilPrompt:  policy.AnswersUntilPrompt(count, state.LastDismissedAtCount),
		FreeQuestionLimit:   state.FreeQuestionLimit,
		DismissedAtCount:    state.LastDismissedAtCount,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// GET PROMPT STATUS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetPromptStatusHandler returns only the prompt view. It never changes the
// persisted flag.
type GetPromptStatusHandler struct {
	trackers TrackerProvider
}

// NewGetPromptStatusHandler creates a new handler.
func NewGetPromptStatusHandler(trackers TrackerProvider) *GetPromptStatusHandler {
	return &GetPromptStatusHandler{trackers: trackers}
}

// Handle returns the prompt view for guestID.
func (h *GetPromptStatusHandler) Handle(ctx context.Context, guestID string) (*PromptDTO, error) {
	if !guest.GuestID(guestID).IsValid() {
		return nil, fmt.Errorf("get_prompt_status: validation failed: %w", shared.ErrInvalidGuestID)
	}

	tracker, release, err := h.trackers.Acquire(ctx, guest.GuestID(guestID))
	if err != nil {
		return nil, fmt.Errorf("get_prompt_status: failed to load guest: %w", err)
	}
	defer release()

	p := promptDTO(tracker, tracker.Snapshot())
	return &p, nil
}
