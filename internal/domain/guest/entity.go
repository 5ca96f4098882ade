// Package guest contains the domain model for anonymous (guest) sessions:
// answers, bookmarks, viewed papers and the auth-prompt gating that decides
// when a guest is asked to create an account.
// This is a pure domain layer with zero external dependencies.
package guest

import (
	"regexp"
	"time"

	"github.com/paperhub/guest-hub/internal/domain/shared"
)

// GuestID identifies one anonymous session (one browser or device).
type GuestID string

var guestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// IsValid checks if the guest ID is valid.
func (g GuestID) IsValid() bool {
	return guestIDPattern.MatchString(string(g))
}

// String returns the string representation of GuestID.
func (g GuestID) String() string {
	return string(g)
}

// ParseGuestID validates a raw guest ID.
func ParseGuestID(raw string) (GuestID, error) {
	id := GuestID(raw)
	if !id.IsValid() {
		return "", shared.ErrInvalidGuestID
	}
	return id, nil
}

// QuestionID identifies a question of a paper.
type QuestionID int64

// BookmarkType is the kind of entity a bookmark references.
type BookmarkType string

const (
	BookmarkQuestion BookmarkType = "question"
	BookmarkPaper    BookmarkType = "paper"
	BookmarkResource BookmarkType = "resource"
)

// BookmarkTypes lists every valid bookmark type.
var BookmarkTypes = []BookmarkType{BookmarkQuestion, BookmarkPaper, BookmarkResource}

// IsValid reports whether t is one of the known bookmark types.
func (t BookmarkType) IsValid() bool {
	switch t {
	case BookmarkQuestion, BookmarkPaper, BookmarkResource:
		return true
	}
	return false
}

// ParseBookmarkType validates a raw bookmark type.
func ParseBookmarkType(raw string) (BookmarkType, error) {
	t := BookmarkType(raw)
	if !t.IsValid() {
		return "", shared.ErrInvalidBookmarkType
	}
	return t, nil
}

// Folder is the label a bookmark is filed under.
// Any non-empty label is accepted; these are the ones the UI offers.
type Folder string

const (
	FolderDefault   Folder = "default"
	FolderReview    Folder = "review"
	FolderDifficult Folder = "difficult"
	FolderFavorite  Folder = "favorite"
)

// OrDefault returns FolderDefault for an empty label.
func (f Folder) OrDefault() Folder {
	if f == "" {
		return FolderDefault
	}
	return f
}

// Answer is a guest's answer to a single question.
// At most one answer per question is kept; the latest write wins.
type Answer struct {
	QuestionID       QuestionID `json:"questionId"`
	AnswerText       string     `json:"answerText,omitempty"`
	SelectedOption   string     `json:"selectedOption,omitempty"`
	TimeSpentSeconds int        `json:"timeSpentSeconds,omitempty"`
	AnsweredAt       time.Time  `json:"timestamp"`
}

// Bookmark is a saved reference to a question, paper or resource.
type Bookmark struct {
	Type      BookmarkType `json:"type"`
	RefID     int64        `json:"refId"`
	Title     string       `json:"title,omitempty"`
	Note      string       `json:"note,omitempty"`
	Folder    Folder       `json:"folder"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Matches reports whether the bookmark references (kind, refID).
func (b Bookmark) Matches(kind BookmarkType, refID int64) bool {
	return b.Type == kind && b.RefID == refID
}

// DefaultFreeQuestionLimit is how many answers a guest may record before
// being asked to sign in.
const DefaultFreeQuestionLimit = 2

// State is the full guest state. It is what gets persisted and what the
// account migration reads.
type State struct {
	Answers              []Answer   `json:"answers"`
	Bookmarks            []Bookmark `json:"bookmarks"`
	PapersViewed         []int64    `json:"papersViewed"`
	FreeQuestionLimit    int        `json:"freeQuestionLimit"`
	LastDismissedAtCount int        `json:"lastDismissedAtCount"`
	ShouldShowAuthModal  bool       `json:"shouldShowAuthModal"`
}

// NewState returns an empty state with the given free question limit.
// A non-positive limit falls back to DefaultFreeQuestionLimit.
func NewState(freeQuestionLimit int) State {
	if freeQuestionLimit <= 0 {
		freeQuestionLimit = DefaultFreeQuestionLimit
	}
	return State{
		Answers:           []Answer{},
		Bookmarks:         []Bookmark{},
		PapersViewed:      []int64{},
		FreeQuestionLimit: freeQuestionLimit,
	}
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := s
	out.Answers = append(make([]Answer, 0, len(s.Answers)), s.Answers...)
	out.Bookmarks = append(make([]Bookmark, 0, len(s.Bookmarks)), s.Bookmarks...)
	out.PapersViewed = append(make([]int64, 0, len(s.PapersViewed)), s.PapersViewed...)
	return out
}

// IsEmpty reports whether the state holds no guest activity.
func (s State) IsEmpty() bool {
	return len(s.Answers) == 0 && len(s.Bookmarks) == 0 && len(s.PapersViewed) == 0
}

// normalize repairs a state read from storage so the tracker invariants hold:
// one answer per question (last wins), one bookmark per (type, ref) (first
// wins), no duplicate papers, known bookmark types only and sane counters.
func (s State) normalize(defaultLimit int) State {
	out := NewState(s.FreeQuestionLimit)
	if s.FreeQuestionLimit <= 0 {
		out = NewState(defaultLimit)
	}

	answerIdx := make(map[QuestionID]int, len(s.Answers))
	for _, a := range s.Answers {
		if a.QuestionID <= 0 {
			continue
		}
		if i, ok := answerIdx[a.QuestionID]; ok {
			out.Answers[i] = a
			continue
		}
		answerIdx[a.QuestionID] = len(out.Answers)
		out.Answers = append(out.Answers, a)
	}

	for _, b := range s.Bookmarks {
		if !b.Type.IsValid() || containsBookmark(out.Bookmarks, b.Type, b.RefID) {
			continue
		}
		b.Folder = b.Folder.OrDefault()
		out.Bookmarks = append(out.Bookmarks, b)
	}

	seen := make(map[int64]struct{}, len(s.PapersViewed))
	for _, p := range s.PapersViewed {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out.PapersViewed = append(out.PapersViewed, p)
	}

	if s.LastDismissedAtCount > 0 {
		out.LastDismissedAtCount = s.LastDismissedAtCount
	}
	out.ShouldShowAuthModal = s.ShouldShowAuthModal
	return out
}

func containsBookmark(bookmarks []Bookmark, kind BookmarkType, refID int64) bool {
	for _, b := range bookmarks {
		if b.Matches(kind, refID) {
			return true
		}
	}
	return false
}
