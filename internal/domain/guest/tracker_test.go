package guest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperhub/guest-hub/internal/domain/shared"
)

// memKV is an in-memory KVStore for tests.
type memKV struct {
	mu      sync.Mutex
	data    map[string][]byte
	failSet error
	sets    int
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, shared.ErrSnapshotNotFound
	}
	return v, nil
}

func (m *memKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.failSet != nil {
		return m.failSet
	}
	m.data[key] = value
	return nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type recordingObserver struct {
	NopObserver
	shown     []int
	dismissed []int
	failures  []string
}

func (o *recordingObserver) PromptShown(_ GuestID, n int)     { o.shown = append(o.shown, n) }
func (o *recordingObserver) PromptDismissed(_ GuestID, n int) { o.dismissed = append(o.dismissed, n) }
func (o *recordingObserver) PersistFailed(_ GuestID, op string, _ error) {
	o.failures = append(o.failures, op)
}

type fakeImporter struct {
	err      error
	received State
	account  string
}

func (f *fakeImporter) ImportGuestState(_ context.Context, accountID string, s State) (ImportResult, error) {
	if f.err != nil {
		return ImportResult{}, f.err
	}
	f.account = accountID
	f.received = s
	return ImportResult{AnswersUpserted: len(s.Answers), BookmarksInserted: len(s.Bookmarks), PapersRecorded: len(s.PapersViewed)}, nil
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestTracker(t *testing.T, kv KVStore, opts ...Option) *Tracker {
	t.Helper()
	store := NewSnapshotStore(kv, "", "guest-1", DefaultFreeQuestionLimit)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewTracker(context.Background(), "guest-1", store, opts...)
}

func answer(q QuestionID) Answer {
	return Answer{QuestionID: q, SelectedOption: "B"}
}

func TestTracker_PromptPolicyScenario(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, newMemKV())

	tr.RecordAnswer(ctx, answer(1))
	assert.False(t, tr.ShouldShowAuthModal())
	assert.Equal(t, PhaseNotYetEligible, tr.PromptPhase())

	tr.RecordAnswer(ctx, answer(2))
	assert.True(t, tr.ShouldShowAuthModal())
	assert.Equal(t, PhaseEligibleShown, tr.PromptPhase())

	tr.RecordAnswer(ctx, answer(3))
	assert.True(t, tr.ShouldShowAuthModal())

	tr.DismissAuthModal(ctx)
	assert.False(t, tr.ShouldShowAuthModal())
	assert.Equal(t, 3, tr.Snapshot().LastDismissedAtCount)
	assert.Equal(t, PhaseDismissedArmed, tr.PromptPhase())

	tr.RecordAnswer(ctx, answer(4))
	assert.False(t, tr.ShouldShowAuthModal())
	assert.Equal(t, 1, tr.AnswersUntilPrompt())

	tr.RecordAnswer(ctx, answer(5))
	assert.True(t, tr.ShouldShowAuthModal())
	assert.Equal(t, PhaseEligibleShown, tr.PromptPhase())
}

func TestTracker_RecordAnswerUpsertsByQuestion(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, newMemKV())

	tr.RecordAnswer(ctx, Answer{QuestionID: 7, AnswerText: "first"})
	tr.RecordAnswer(ctx, Answer{QuestionID: 7, AnswerText: "second"})
	tr.RecordAnswer(ctx, Answer{QuestionID: 8, AnswerText: "other"})
	tr.RecordAnswer(ctx, Answer{QuestionID: 7, AnswerText: "third"})

	answers := tr.Answers()
	require.Len(t, answers, 2)
	assert.Equal(t, 2, tr.AnswerCount())
	assert.Equal(t, "third", answers[0].AnswerText)
	assert.Equal(t, fixedNow, answers[0].AnsweredAt)
	assert.Equal(t, "other", answers[1].AnswerText)
}

func TestTracker_RepeatedAnswerDoesNotAdvancePrompt(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, newMemKV())

	for i := 0; i < 5; i++ {
		tr.RecordAnswer(ctx, answer(1))
	}
	assert.Equal(t, 1, tr.AnswerCount())
	assert.False(t, tr.ShouldShowAuthModal())
}

func TestTracker_Bookmarks(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, newMemKV())

	added, err := tr.AddBookmark(ctx, BookmarkQuestion, 42, WithTitle("Q4 (b)"), WithNote("redo"))
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, tr.IsBookmarked(BookmarkQuestion, 42))
	assert.False(t, tr.IsBookmarked(BookmarkPaper, 42))

	added, err = tr.AddBookmark(ctx, BookmarkQuestion, 42, WithTitle("changed"), WithFolder(FolderReview))
	require.NoError(t, err)
	assert.False(t, added)

	qs := tr.BookmarksByType(BookmarkQuestion)
	require.Len(t, qs, 1)
	assert.Equal(t, "Q4 (b)", qs[0].Title)
	assert.Equal(t, "redo", qs[0].Note)
	assert.Equal(t, FolderDefault, qs[0].Folder)
	assert.Equal(t, fixedNow, qs[0].CreatedAt)

	_, err = tr.AddBookmark(ctx, BookmarkPaper, 9, WithFolder(FolderFavorite))
	require.NoError(t, err)
	_, err = tr.AddBookmark(ctx, BookmarkResource, 3)
	require.NoError(t, err)

	assert.Len(t, tr.BookmarksByType(""), 3)
	assert.Len(t, tr.BookmarksByType(BookmarkPaper), 1)
	assert.Equal(t, FolderFavorite, tr.BookmarksByType(BookmarkPaper)[0].Folder)

	assert.True(t, tr.RemoveBookmark(ctx, BookmarkQuestion, 42))
	assert.False(t, tr.IsBookmarked(BookmarkQuestion, 42))
	assert.False(t, tr.RemoveBookmark(ctx, BookmarkQuestion, 42))
	assert.Len(t, tr.BookmarksByType(""), 2)
}

func TestTracker_AddBookmarkRejectsUnknownType(t *testing.T) {
	tr := newTestTracker(t, newMemKV())

	added, err := tr.AddBookmark(context.Background(), BookmarkType("video"), 1)
	assert.False(t, added)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
	assert.Empty(t, tr.BookmarksByType(""))
}

func TestTracker_AddPaperViewedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, newMemKV())

	assert.True(t, tr.AddPaperViewed(ctx, 11))
	assert.False(t, tr.AddPaperViewed(ctx, 11))
	assert.True(t, tr.AddPaperViewed(ctx, 12))
	assert.Equal(t, []int64{11, 12}, tr.PapersViewed())
}

func TestTracker_CheckShouldPromptAuthIsPure(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	tr := newTestTracker(t, kv)

	tr.RecordAnswer(ctx, answer(1))
	tr.RecordAnswer(ctx, answer(2))
	tr.DismissAuthModal(ctx)
	sets := kv.sets

	assert.False(t, tr.CheckShouldPromptAuth())
	assert.False(t, tr.CheckShouldPromptAuth())
	assert.Equal(t, sets, kv.sets)
	assert.Equal(t, 2, tr.Snapshot().LastDismissedAtCount)
}

func TestTracker_ClearGuestData(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, newMemKV())

	tr.RecordAnswer(ctx, answer(1))
	tr.RecordAnswer(ctx, answer(2))
	_, _ = tr.AddBookmark(ctx, BookmarkPaper, 5)
	tr.AddPaperViewed(ctx, 5)
	tr.DismissAuthModal(ctx)

	tr.ClearGuestData(ctx)

	assert.Equal(t, 0, tr.AnswerCount())
	assert.Empty(t, tr.BookmarksByType(""))
	assert.Empty(t, tr.PapersViewed())
	assert.Equal(t, NewState(DefaultFreeQuestionLimit), tr.Snapshot())
}

func TestTracker_StateSurvivesReload(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	tr := newTestTracker(t, kv)

	tr.RecordAnswer(ctx, answer(1))
	tr.RecordAnswer(ctx, answer(2))
	_, _ = tr.AddBookmark(ctx, BookmarkQuestion, 2, WithNote("tricky"))
	tr.AddPaperViewed(ctx, 77)

	reloaded := newTestTracker(t, kv)
	assert.Equal(t, tr.Snapshot(), reloaded.Snapshot())
	assert.True(t, reloaded.ShouldShowAuthModal())
}

func TestTracker_RecordAnswerRejectsNonPositiveQuestion(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	tr := newTestTracker(t, kv)

	assert.ErrorIs(t, tr.RecordAnswer(ctx, answer(0)), shared.ErrInvalidQuestionID)
	assert.ErrorIs(t, tr.RecordAnswer(ctx, answer(-3)), shared.ErrInvalidQuestionID)
	assert.Zero(t, kv.sets, "rejected answers are not saved")

	require.NoError(t, tr.RecordAnswer(ctx, answer(7)))
	assert.Equal(t, 1, tr.AnswerCount())
	assert.False(t, tr.ShouldShowAuthModal())

	reloaded := newTestTracker(t, kv)
	assert.Equal(t, tr.Snapshot(), reloaded.Snapshot())
	assert.Equal(t, reloaded.ShouldShowAuthModal(), reloaded.CheckShouldPromptAuth())
}

func TestTracker_LoadedLimitTakesPrecedence(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	store := NewSnapshotStore(kv, "", "guest-1", 5)
	s := NewState(5)
	require.NoError(t, store.Save(ctx, s))

	tr := NewTracker(ctx, "guest-1", store, WithFreeQuestionLimit(3))
	for q := QuestionID(1); q <= 4; q++ {
		tr.RecordAnswer(ctx, answer(q))
	}
	assert.False(t, tr.ShouldShowAuthModal())
	tr.RecordAnswer(ctx, answer(5))
	assert.True(t, tr.ShouldShowAuthModal())
}

func TestTracker_PersistenceFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	kv.failSet = errors.New("quota exceeded")
	obs := &recordingObserver{}
	tr := newTestTracker(t, kv, WithObserver(obs))

	tr.RecordAnswer(ctx, answer(1))
	tr.RecordAnswer(ctx, answer(2))
	_, err := tr.AddBookmark(ctx, BookmarkPaper, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, tr.AnswerCount())
	assert.True(t, tr.ShouldShowAuthModal())
	assert.Equal(t, []string{"record_answer", "record_answer", "add_bookmark"}, obs.failures)
	assert.Equal(t, []int{2}, obs.shown)
}

func TestTracker_MalformedSnapshotStartsEmpty(t *testing.T) {
	kv := newMemKV()
	kv.data[SnapshotKey(DefaultNamespace, "guest-1")] = []byte("{not json")
	obs := &recordingObserver{}

	tr := newTestTracker(t, kv, WithObserver(obs))

	assert.Equal(t, 0, tr.AnswerCount())
	assert.Equal(t, []string{"load"}, obs.failures)
}

func TestTracker_MissingSnapshotIsNotAFailure(t *testing.T) {
	obs := &recordingObserver{}
	tr := newTestTracker(t, newMemKV(), WithObserver(obs))

	assert.Equal(t, 0, tr.AnswerCount())
	assert.Empty(t, obs.failures)
}

func TestTracker_MigrateToClearsOnSuccess(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, newMemKV())
	tr.RecordAnswer(ctx, answer(1))
	_, _ = tr.AddBookmark(ctx, BookmarkQuestion, 1)
	tr.AddPaperViewed(ctx, 3)

	imp := &fakeImporter{}
	res, err := tr.MigrateTo(ctx, "acct-9", imp)
	require.NoError(t, err)

	assert.Equal(t, "acct-9", imp.account)
	assert.Len(t, imp.received.Answers, 1)
	assert.Equal(t, ImportResult{AnswersUpserted: 1, BookmarksInserted: 1, PapersRecorded: 1}, res)
	assert.Equal(t, 0, tr.AnswerCount())
	assert.Empty(t, tr.BookmarksByType(""))
}

func TestTracker_MigrateToKeepsStateOnFailure(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, newMemKV())
	tr.RecordAnswer(ctx, answer(1))

	_, err := tr.MigrateTo(ctx, "acct-9", &fakeImporter{err: errors.New("db down")})
	require.Error(t, err)
	assert.Equal(t, 1, tr.AnswerCount())

	_, err = tr.MigrateTo(ctx, "", &fakeImporter{})
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}

func TestTracker_ConcurrentAnswersStayDistinct(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, newMemKV())

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for q := QuestionID(1); q <= 20; q++ {
				tr.RecordAnswer(ctx, answer(q))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, tr.AnswerCount())
}

func TestGuestID_IsValid(t *testing.T) {
	assert.True(t, GuestID("3f1c2a9e-4b7d-4c1e-9a55-0d2f3e4b5c6d").IsValid())
	assert.False(t, GuestID("").IsValid())
	assert.False(t, GuestID("has space").IsValid())
	assert.False(t, GuestID("a:b").IsValid())

	_, err := ParseGuestID("../etc")
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}
