package guest

import (
	"context"
)

// KVStore is the durable key-value store guest snapshots are written to.
// This interface is implemented by the infrastructure layer (Redis, SQLite,
// in-memory).
type KVStore interface {
	// Get returns the value stored under key.
	// Returns shared.ErrSnapshotNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Persistence loads and saves the state of a single guest.
// The tracker calls Load once on construction and Save after every mutation.
type Persistence interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}

// AccountImporter upserts a guest's state into an authenticated account.
// It is the server-side half of merge-then-clear migration.
type AccountImporter interface {
	ImportGuestState(ctx context.Context, accountID string, state State) (ImportResult, error)
}

// ImportResult reports what an account import wrote.
type ImportResult struct {
	AnswersUpserted   int
	BookmarksInserted int
	BookmarksSkipped  int
	PapersRecorded    int
}

// Observer receives tracker events. Implementations must not block.
type Observer interface {
	AnswerRecorded(id GuestID, answerCount int)
	PromptShown(id GuestID, answerCount int)
	PromptDismissed(id GuestID, answerCount int)
	PersistFailed(id GuestID, op string, err error)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) AnswerRecorded(GuestID, int)          {}
func (NopObserver) PromptShown(GuestID, int)             {}
func (NopObserver) PromptDismissed(GuestID, int)         {}
func (NopObserver) PersistFailed(GuestID, string, error) {}
