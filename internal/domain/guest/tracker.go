package guest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/paperhub/guest-hub/internal/domain/shared"
)

// Tracker owns the state of one guest session and decides when the guest
// should be prompted to authenticate.
//
// Every mutation is applied in memory first and then handed to the
// Persistence. Persistence failures are reported to the Observer and never
// returned: memory stays the source of truth for the rest of the session.
// A Tracker is safe for concurrent use; operations are serialized so each
// call observes the effects of all earlier calls.
type Tracker struct {
	mu sync.Mutex

	id          GuestID
	state       State
	rearmAfter  int
	baseLimit   int
	persistence Persistence
	observer    Observer
	now         func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithFreeQuestionLimit sets the limit used for fresh state.
// A limit already stored in a loaded snapshot takes precedence.
func WithFreeQuestionLimit(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.baseLimit = n
		}
	}
}

// WithRearmAfter sets how many answers after a dismissal re-arm the prompt.
func WithRearmAfter(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.rearmAfter = n
		}
	}
}

// WithObserver sets the observer notified about tracker events.
func WithObserver(o Observer) Option {
	return func(t *Tracker) {
		if o != nil {
			t.observer = o
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker creates a tracker for id and loads its state from p.
// A missing or unreadable snapshot starts the guest from empty state.
func NewTracker(ctx context.Context, id GuestID, p Persistence, opts ...Option) *Tracker {
	t := &Tracker{
		id:          id,
		rearmAfter:  DefaultRearmAfter,
		baseLimit:   DefaultFreeQuestionLimit,
		persistence: p,
		observer:    NopObserver{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.state = NewState(t.baseLimit)
	if p == nil {
		return t
	}

	state, err := p.Load(ctx)
	switch {
	case err == nil:
		t.state = state.normalize(t.baseLimit)
	case shared.IsNotFound(err):
		// first visit
	default:
		t.observer.PersistFailed(id, "load", err)
	}
	return t
}

// ID returns the guest this tracker belongs to.
func (t *Tracker) ID() GuestID {
	return t.id
}

func (t *Tracker) policy() PromptPolicy {
	return t.state.Policy(t.rearmAfter)
}

// RearmAfter returns the re-arm delta. It is fixed at construction.
func (t *Tracker) RearmAfter() int {
	return t.rearmAfter
}

// persist must be called with t.mu held.
func (t *Tracker) persist(ctx context.Context, op string) {
	if t.persistence == nil {
		return
	}
	if err := t.persistence.Save(ctx, t.state.Clone()); err != nil {
		t.observer.PersistFailed(t.id, op, err)
	}
}

// RecordAnswer upserts the answer for its question and re-evaluates the
// prompt policy. Recording the same question again replaces the answer.
// A non-positive question ID is rejected; such answers would not survive a
// snapshot reload.
func (t *Tracker) RecordAnswer(ctx context.Context, a Answer) error {
	if a.QuestionID <= 0 {
		return shared.ErrInvalidQuestionID
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if a.AnsweredAt.IsZero() {
		a.AnsweredAt = t.now().UTC()
	}

	replaced := false
	for i := range t.state.Answers {
		if t.state.Answers[i].QuestionID == a.QuestionID {
			t.state.Answers[i] = a
			replaced = true
			break
		}
	}
	if !replaced {
		t.state.Answers = append(t.state.Answers, a)
	}

	count := len(t.state.Answers)
	wasShown := t.state.ShouldShowAuthModal
	t.state.ShouldShowAuthModal = t.policy().Eligible(count, t.state.LastDismissedAtCount)

	t.observer.AnswerRecorded(t.id, count)
	if t.state.ShouldShowAuthModal && !wasShown {
		t.observer.PromptShown(t.id, count)
	}
	t.persist(ctx, "record_answer")
	return nil
}

// BookmarkOption sets optional bookmark fields.
type BookmarkOption func(*Bookmark)

// WithTitle sets the bookmark's display title.
func WithTitle(title string) BookmarkOption {
	return func(b *Bookmark) { b.Title = title }
}

// WithNote attaches a free-text note.
func WithNote(note string) BookmarkOption {
	return func(b *Bookmark) { b.Note = note }
}

// WithFolder files the bookmark under folder.
func WithFolder(folder Folder) BookmarkOption {
	return func(b *Bookmark) { b.Folder = folder }
}

// AddBookmark bookmarks (kind, refID). It is insert-only: if the pair is
// already bookmarked nothing changes, including title, note and folder, and
// false is returned.
func (t *Tracker) AddBookmark(ctx context.Context, kind BookmarkType, refID int64, opts ...BookmarkOption) (bool, error) {
	if !kind.IsValid() {
		return false, shared.ErrInvalidBookmarkType
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if containsBookmark(t.state.Bookmarks, kind, refID) {
		return false, nil
	}

	b := Bookmark{
		Type:      kind,
		RefID:     refID,
		Folder:    FolderDefault,
		CreatedAt: t.now().UTC(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	b.Folder = b.Folder.OrDefault()

	t.state.Bookmarks = append(t.state.Bookmarks, b)
	t.persist(ctx, "add_bookmark")
	return true, nil
}

// RemoveBookmark deletes the bookmark for (kind, refID).
// It returns false if there was nothing to remove.
func (t *Tracker) RemoveBookmark(ctx context.Context, kind BookmarkType, refID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, b := range t.state.Bookmarks {
		if b.Matches(kind, refID) {
			t.state.Bookmarks = append(t.state.Bookmarks[:i:i], t.state.Bookmarks[i+1:]...)
			t.persist(ctx, "remove_bookmark")
			return true
		}
	}
	return false
}

// IsBookmarked reports whether (kind, refID) is bookmarked.
func (t *Tracker) IsBookmarked(kind BookmarkType, refID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return containsBookmark(t.state.Bookmarks, kind, refID)
}

// BookmarksByType returns the bookmarks of the given type in insertion
// order. An empty kind returns all bookmarks.
func (t *Tracker) BookmarksByType(kind BookmarkType) []Bookmark {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Bookmark, 0, len(t.state.Bookmarks))
	for _, b := range t.state.Bookmarks {
		if kind == "" || b.Type == kind {
			out = append(out, b)
		}
	}
	return out
}

// AddPaperViewed records that the guest opened a paper.
// It returns false if the paper was already recorded.
func (t *Tracker) AddPaperViewed(ctx context.Context, paperID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.state.PapersViewed {
		if p == paperID {
			return false
		}
	}
	t.state.PapersViewed = append(t.state.PapersViewed, paperID)
	t.persist(ctx, "add_paper_viewed")
	return true
}

// PapersViewed returns the ids of papers the guest opened.
func (t *Tracker) PapersViewed() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int64(nil), t.state.PapersViewed...)
}

// CheckShouldPromptAuth evaluates the prompt policy against the current
// counters without changing anything.
func (t *Tracker) CheckShouldPromptAuth() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.policy().Eligible(len(t.state.Answers), t.state.LastDismissedAtCount)
}

// ShouldShowAuthModal returns the flag last set by RecordAnswer or
// DismissAuthModal.
func (t *Tracker) ShouldShowAuthModal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.ShouldShowAuthModal
}

// PromptPhase classifies where the guest is in the prompt lifecycle.
func (t *Tracker) PromptPhase() PromptPhase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.policy().Phase(len(t.state.Answers), t.state.LastDismissedAtCount, t.state.ShouldShowAuthModal)
}

// AnswersUntilPrompt returns how many more answers trigger the prompt.
func (t *Tracker) AnswersUntilPrompt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.policy().AnswersUntilPrompt(len(t.state.Answers), t.state.LastDismissedAtCount)
}

// DismissAuthModal hides the prompt and re-arms it relative to the current
// answer count.
func (t *Tracker) DismissAuthModal(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.ShouldShowAuthModal = false
	t.state.LastDismissedAtCount = len(t.state.Answers)
	t.observer.PromptDismissed(t.id, t.state.LastDismissedAtCount)
	t.persist(ctx, "dismiss_auth_modal")
}

// ClearGuestData resets the guest to empty state.
func (t *Tracker) ClearGuestData(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = NewState(t.baseLimit)
	t.persist(ctx, "clear_guest_data")
}

// AnswerCount returns the number of distinct questions answered.
func (t *Tracker) AnswerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.state.Answers)
}

// Answers returns the recorded answers in first-answered order.
func (t *Tracker) Answers() []Answer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Answer(nil), t.state.Answers...)
}

// Snapshot returns a deep copy of the full state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Clone()
}

// MigrateTo imports the guest state into an account and clears it on
// success. On failure the guest state is left untouched.
func (t *Tracker) MigrateTo(ctx context.Context, accountID string, importer AccountImporter) (ImportResult, error) {
	if accountID == "" {
		return ImportResult{}, shared.ErrInvalidAccountID
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	res, err := importer.ImportGuestState(ctx, accountID, t.state.Clone())
	if err != nil {
		return ImportResult{}, err
	}

	t.state = NewState(t.baseLimit)
	t.persist(ctx, "migrate")
	return res, nil
}

// Close releases the persistence if it holds resources (for example a
// write-behind goroutine).
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.persistence.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
