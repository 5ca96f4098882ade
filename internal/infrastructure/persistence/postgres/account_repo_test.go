package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/domain/shared"
)

type fakeBatchResults struct {
	tags []pgconn.CommandTag
	errs []error
	i    int
}

func (f *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	i := f.i
	f.i++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if i < len(f.tags) {
		return f.tags[i], err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), err
}

func (f *fakeBatchResults) Query() (pgx.Rows, error) { return nil, errors.New("not used") }
func (f *fakeBatchResults) QueryRow() pgx.Row        { return nil }
func (f *fakeBatchResults) Close() error             { return nil }

func importState() guest.State {
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	s := guest.NewState(2)
	s.Answers = []guest.Answer{
		{QuestionID: 1, SelectedOption: "A", AnsweredAt: at},
		{QuestionID: 2, AnswerText: "42", TimeSpentSeconds: 30, AnsweredAt: at},
	}
	s.Bookmarks = []guest.Bookmark{
		{Type: guest.BookmarkQuestion, RefID: 2, Folder: guest.FolderReview, CreatedAt: at},
		{Type: guest.BookmarkPaper, RefID: 9, CreatedAt: at},
	}
	s.PapersViewed = []int64{9}
	return s
}

func TestBuildImportBatch(t *testing.T) {
	batch := buildImportBatch("acct-1", importState())

	require.Equal(t, 5, batch.Len())
	q := batch.QueuedQueries

	assert.Equal(t, upsertAnswerSQL, q[0].SQL)
	assert.Equal(t, []any{"acct-1", int64(1), "", "A", 0, importState().Answers[0].AnsweredAt}, q[0].Arguments)

	assert.Equal(t, insertBookmarkSQL, q[2].SQL)
	assert.Equal(t, "review", q[2].Arguments[5])
	assert.Equal(t, "default", q[3].Arguments[5])

	assert.Equal(t, insertPaperViewedSQL, q[4].SQL)
	assert.Equal(t, []any{"acct-1", int64(9)}, q[4].Arguments)
}

func TestCollectImportResults(t *testing.T) {
	br := &fakeBatchResults{tags: []pgconn.CommandTag{
		pgconn.NewCommandTag("INSERT 0 1"),
		pgconn.NewCommandTag("INSERT 0 1"),
		pgconn.NewCommandTag("INSERT 0 0"), // bookmark already on the account
		pgconn.NewCommandTag("INSERT 0 1"),
		pgconn.NewCommandTag("INSERT 0 0"), // paper already recorded
	}}

	res, err := collectImportResults(br, importState())
	require.NoError(t, err)

	assert.Equal(t, guest.ImportResult{
		AnswersUpserted:   2,
		BookmarksInserted: 1,
		BookmarksSkipped:  1,
		PapersRecorded:    0,
	}, res)
}

func TestCollectImportResults_StopsOnError(t *testing.T) {
	br := &fakeBatchResults{errs: []error{nil, errors.New("check constraint")}}

	_, err := collectImportResults(br, importState())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert answer 2")
}

func TestImportGuestState_RejectsBlankAccount(t *testing.T) {
	repo := NewAccountRepository(nil, nil)

	_, err := repo.ImportGuestState(context.Background(), "  ", importState())
	assert.ErrorIs(t, err, shared.ErrInvalidAccountID)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsTransient(&pgconn.PgError{Code: "08006"}))
	assert.False(t, IsTransient(&pgconn.PgError{Code: "23514"}))
	assert.False(t, IsTransient(errors.New("plain")))
}

func TestAccountRepository_RetriesOnlyTransientFailures(t *testing.T) {
	repo := NewAccountRepository(nil, nil)

	attempts := 0
	err := repo.retrier.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts == 1 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	attempts = 0
	err = repo.retrier.Do(context.Background(), func(context.Context) error {
		attempts++
		return &pgconn.PgError{Code: "23514"}
	})
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "23514", pgErr.Code)
	assert.Equal(t, 1, attempts)
}
