package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperhub/guest-hub/internal/application/session"
	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/domain/shared"
	"github.com/paperhub/guest-hub/internal/infrastructure/persistence/memory"
)

const testGuest = "guest-1"

func newRegistry(t *testing.T) *session.Registry {
	t.Helper()
	reg := session.NewRegistry(memory.NewKVStore(), session.DefaultConfig())
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

type fakeImporter struct {
	err   error
	calls int
	got   guest.State
}

func (f *fakeImporter) ImportGuestState(_ context.Context, _ string, s guest.State) (guest.ImportResult, error) {
	f.calls++
	f.got = s
	if f.err != nil {
		return guest.ImportResult{}, f.err
	}
	return guest.ImportResult{AnswersUpserted: len(s.Answers), BookmarksInserted: len(s.Bookmarks)}, nil
}

type outcomes struct{ ok, failed int }

func (o *outcomes) MigrationFinished(succeeded bool) {
	if succeeded {
		o.ok++
	} else {
		o.failed++
	}
}

func record(t *testing.T, h *RecordAnswerHandler, q int64) *RecordAnswerResult {
	t.Helper()
	res, err := h.Handle(context.Background(), RecordAnswerCommand{GuestID: testGuest, QuestionID: q, SelectedOption: "B"})
	require.NoError(t, err)
	return res
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ANSWER / DISMISS
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordAnswer_PromptLifecycle(t *testing.T) {
	reg := newRegistry(t)
	answers := NewRecordAnswerHandler(reg)
	dismiss := NewDismissPromptHandler(reg)

	res := record(t, answers, 1)
	assert.Equal(t, 1, res.AnswerCount)
	assert.False(t, res.Prompt.ShouldShowAuthModal)
	assert.Equal(t, 1, res.Prompt.AnswersUntilPrompt)

	res = record(t, answers, 2)
	assert.True(t, res.Prompt.ShouldShowAuthModal)
	assert.Equal(t, guest.PhaseEligibleShown, res.Prompt.Phase)

	dres, err := dismiss.Handle(context.Background(), DismissPromptCommand{GuestID: testGuest})
	require.NoError(t, err)
	assert.Equal(t, 2, dres.DismissedAtCount)
	assert.False(t, dres.Prompt.ShouldShowAuthModal)
	assert.Equal(t, guest.PhaseDismissedArmed, dres.Prompt.Phase)

	res = record(t, answers, 3)
	assert.False(t, res.Prompt.ShouldShowAuthModal)

	res = record(t, answers, 4)
	assert.True(t, res.Prompt.ShouldShowAuthModal)
}

func TestRecordAnswer_Validation(t *testing.T) {
	h := NewRecordAnswerHandler(newRegistry(t))

	tests := []struct {
		name string
		cmd  RecordAnswerCommand
		want error
	}{
		{"bad guest", RecordAnswerCommand{GuestID: "no spaces allowed", QuestionID: 1}, shared.ErrInvalidGuestID},
		{"zero question", RecordAnswerCommand{GuestID: testGuest}, shared.ErrInvalidQuestionID},
		{"negative time", RecordAnswerCommand{GuestID: testGuest, QuestionID: 1, TimeSpentSeconds: -1}, shared.ErrNegativeValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Handle(context.Background(), tt.cmd)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, shared.IsValidation(err))
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BOOKMARKS / PAPERS
// ══════════════════════════════════════════════════════════════════════════════

func TestManageBookmark(t *testing.T) {
	reg := newRegistry(t)
	h := NewManageBookmarkHandler(reg)
	ctx := context.Background()

	cmd := ManageBookmarkCommand{GuestID: testGuest, Action: BookmarkActionAdd, Type: "question", RefID: 7, Folder: "review"}

	res, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, &ManageBookmarkResult{Bookmarked: true, Changed: true}, res)

	cmd.Folder = "favorite"
	res, err = h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, &ManageBookmarkResult{Bookmarked: true, Changed: false}, res)

	tracker, release, err := reg.Acquire(ctx, testGuest)
	require.NoError(t, err)
	defer release()
	require.Len(t, tracker.BookmarksByType(guest.BookmarkQuestion), 1)
	assert.Equal(t, guest.FolderReview, tracker.BookmarksByType(guest.BookmarkQuestion)[0].Folder)

	cmd.Action = BookmarkActionToggle
	res, err = h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, &ManageBookmarkResult{Bookmarked: false, Changed: true}, res)

	cmd.Action = BookmarkActionRemove
	res, err = h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, res.Changed)
}

func TestManageBookmark_Validation(t *testing.T) {
	h := NewManageBookmarkHandler(newRegistry(t))

	_, err := h.Handle(context.Background(), ManageBookmarkCommand{GuestID: testGuest, Action: BookmarkActionAdd, Type: "video", RefID: 1})
	assert.ErrorIs(t, err, shared.ErrInvalidBookmarkType)

	_, err = h.Handle(context.Background(), ManageBookmarkCommand{GuestID: testGuest, Action: BookmarkActionAdd, Type: "paper"})
	assert.ErrorIs(t, err, shared.ErrInvalidRefID)

	_, err = h.Handle(context.Background(), ManageBookmarkCommand{GuestID: testGuest, Action: "star", Type: "paper", RefID: 1})
	assert.True(t, shared.IsValidation(err))
}

func TestTrackPaperView(t *testing.T) {
	h := NewTrackPaperViewHandler(newRegistry(t))
	ctx := context.Background()

	res, err := h.Handle(ctx, TrackPaperViewCommand{GuestID: testGuest, PaperID: 3})
	require.NoError(t, err)
	assert.Equal(t, &TrackPaperViewResult{FirstView: true, PapersViewed: 1}, res)

	res, err = h.Handle(ctx, TrackPaperViewCommand{GuestID: testGuest, PaperID: 3})
	require.NoError(t, err)
	assert.Equal(t, &TrackPaperViewResult{FirstView: false, PapersViewed: 1}, res)

	_, err = h.Handle(ctx, TrackPaperViewCommand{GuestID: testGuest})
	assert.ErrorIs(t, err, shared.ErrInvalidRefID)
}

// ══════════════════════════════════════════════════════════════════════════════
// CLEAR / MIGRATE
// ══════════════════════════════════════════════════════════════════════════════

func TestClearGuestData(t *testing.T) {
	reg := newRegistry(t)
	record(t, NewRecordAnswerHandler(reg), 1)

	require.NoError(t, NewClearGuestDataHandler(reg, nil).Handle(context.Background(), ClearGuestDataCommand{GuestID: testGuest}))

	tracker, release, err := reg.Acquire(context.Background(), testGuest)
	require.NoError(t, err)
	defer release()
	assert.True(t, tracker.Snapshot().IsEmpty())
}

func TestMigrateGuest_Success(t *testing.T) {
	reg := newRegistry(t)
	record(t, NewRecordAnswerHandler(reg), 1)
	record(t, NewRecordAnswerHandler(reg), 2)

	imp := &fakeImporter{}
	rec := &outcomes{}
	h := NewMigrateGuestHandler(reg, imp, rec, nil)
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return clock }

	res, err := h.Handle(context.Background(), MigrateGuestCommand{GuestID: testGuest, AccountID: " acct-9 "})
	require.NoError(t, err)

	assert.Equal(t, "acct-9", res.AccountID)
	assert.Equal(t, 2, res.AnswersUpserted)
	assert.Equal(t, clock, res.MigratedAt)
	assert.Len(t, imp.got.Answers, 2)
	assert.Equal(t, outcomes{ok: 1}, *rec)

	tracker, release, err := reg.Acquire(context.Background(), testGuest)
	require.NoError(t, err)
	defer release()
	assert.Zero(t, tracker.AnswerCount())
}

func TestMigrateGuest_FailureKeepsState(t *testing.T) {
	reg := newRegistry(t)
	record(t, NewRecordAnswerHandler(reg), 1)

	imp := &fakeImporter{err: errors.New("db down")}
	rec := &outcomes{}
	h := NewMigrateGuestHandler(reg, imp, rec, nil)

	_, err := h.Handle(context.Background(), MigrateGuestCommand{GuestID: testGuest, AccountID: "acct-9"})
	require.Error(t, err)
	assert.Equal(t, outcomes{failed: 1}, *rec)

	tracker, release, err := reg.Acquire(context.Background(), testGuest)
	require.NoError(t, err)
	defer release()
	assert.Equal(t, 1, tracker.AnswerCount())
}

func TestMigrateGuest_Validation(t *testing.T) {
	reg := newRegistry(t)

	_, err := NewMigrateGuestHandler(reg, &fakeImporter{}, nil, nil).
		Handle(context.Background(), MigrateGuestCommand{GuestID: testGuest, AccountID: "  "})
	assert.ErrorIs(t, err, shared.ErrInvalidAccountID)

	_, err = NewMigrateGuestHandler(reg, nil, nil, nil).
		Handle(context.Background(), MigrateGuestCommand{GuestID: testGuest, AccountID: "acct-1"})
	assert.ErrorIs(t, err, ErrMigrationDisabled)
	assert.True(t, shared.IsRetryable(err))
}
