package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/domain/shared"
)

func openTestStore(t *testing.T) *KVStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKVStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Get(ctx, "ns:a")
	assert.ErrorIs(t, err, shared.ErrSnapshotNotFound)

	require.NoError(t, s.Set(ctx, "ns:a", []byte("one")))
	require.NoError(t, s.Set(ctx, "ns:a", []byte("two")))

	v, err := s.Get(ctx, "ns:a")
	require.NoError(t, err)
	assert.Equal(t, "two", string(v))

	require.NoError(t, s.Delete(ctx, "ns:a"))
	require.NoError(t, s.Delete(ctx, "ns:a"))
	_, err = s.Get(ctx, "ns:a")
	assert.True(t, shared.IsNotFound(err))
}

func TestKVStore_Keys(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Set(ctx, "guest-storage:b", []byte("x")))
	require.NoError(t, s.Set(ctx, "guest-storage:a", []byte("x")))
	require.NoError(t, s.Set(ctx, "other:c", []byte("x")))

	keys, err := s.Keys(ctx, "guest-storage:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"guest-storage:a", "guest-storage:b"}, keys)
}

func TestKVStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "guest.db")

	s, err := Open(path)
	require.NoError(t, err)
	tr := guest.NewTracker(ctx, "device", guest.NewSnapshotStore(s, "", "device", 2))
	tr.RecordAnswer(ctx, guest.Answer{QuestionID: 3, SelectedOption: "A"})
	_, err = tr.AddBookmark(ctx, guest.BookmarkQuestion, 3, guest.WithFolder(guest.FolderReview))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(ctx))

	reloaded := guest.NewTracker(ctx, "device", guest.NewSnapshotStore(s, "", "device", 2))
	assert.Equal(t, 1, reloaded.AnswerCount())
	assert.True(t, reloaded.IsBookmarked(guest.BookmarkQuestion, 3))
	assert.Equal(t, guest.FolderReview, reloaded.BookmarksByType(guest.BookmarkQuestion)[0].Folder)
}
