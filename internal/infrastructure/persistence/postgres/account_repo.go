package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/domain/shared"
	"github.com/paperhub/guest-hub/pkg/circuitbreaker"
	"github.com/paperhub/guest-hub/pkg/retry"
)

const (
	upsertAnswerSQL = `
		INSERT INTO account_answers
			(account_id, question_id, answer_text, selected_option, time_spent_seconds, answered_at, source)
		VALUES ($1, $2, $3, $4, $5, $6, 'guest')
		ON CONFLICT (account_id, question_id) DO UPDATE SET
			answer_text        = EXCLUDED.answer_text,
			selected_option    = EXCLUDED.selected_option,
			time_spent_seconds = EXCLUDED.time_spent_seconds,
			answered_at        = EXCLUDED.answered_at,
			source             = EXCLUDED.source,
			updated_at         = NOW()`

	insertBookmarkSQL = `
		INSERT INTO account_bookmarks
			(account_id, bookmark_type, ref_id, title, note, folder, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id, bookmark_type, ref_id) DO NOTHING`

	insertPaperViewedSQL = `
		INSERT INTO account_papers_viewed (account_id, paper_id)
		VALUES ($1, $2)
		ON CONFLICT (account_id, paper_id) DO NOTHING`

	insertImportAuditSQL = `
		INSERT INTO guest_imports
			(account_id, answers_upserted, bookmarks_inserted, bookmarks_skipped, papers_recorded)
		VALUES ($1, $2, $3, $4, $5)`
)

// AccountRepository implements guest.AccountImporter.
//
// Answers are upserted so a guest's newer attempt wins over an older account
// answer. Bookmarks and viewed papers are insert-only; an existing account
// row is never overwritten.
type AccountRepository struct {
	conn    *Connection
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
}

// Compile-time check.
var _ guest.AccountImporter = (*AccountRepository)(nil)

// NewAccountRepository creates a repository on conn.
func NewAccountRepository(conn *Connection, onBreakerChange func(name string, from, to circuitbreaker.State)) *AccountRepository {
	return &AccountRepository{
		conn:    conn,
		retrier: retry.DatabaseRetrier(IsTransient),
		breaker: circuitbreaker.DatabaseBreaker(onBreakerChange),
	}
}

// ImportGuestState writes state into accountID's records in one transaction.
func (r *AccountRepository) ImportGuestState(ctx context.Context, accountID string, state guest.State) (guest.ImportResult, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return guest.ImportResult{}, shared.ErrInvalidAccountID
	}

	var result guest.ImportResult
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.retrier.Do(ctx, func(ctx context.Context) error {
			var txErr error
			result, txErr = r.importTx(ctx, accountID, state)
			return txErr
		})
	})
	if err != nil {
		kind := shared.ErrExternalService
		if circuitbreaker.IsRejected(err) {
			kind = shared.ErrServiceUnavailable
		}
		return guest.ImportResult{}, shared.WrapError("account", "ImportGuestState", kind, "failed to import guest state", err)
	}

	return result, nil
}

func (r *AccountRepository) importTx(ctx context.Context, accountID string, state guest.State) (guest.ImportResult, error) {
	var result guest.ImportResult

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		batch := buildImportBatch(accountID, state)
		br := tx.SendBatch(ctx, batch)

		var err error
		result, err = collectImportResults(br, state)
		if closeErr := br.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, insertImportAuditSQL, accountID,
			result.AnswersUpserted, result.BookmarksInserted, result.BookmarksSkipped, result.PapersRecorded)
		return err
	})

	return result, err
}

// buildImportBatch queues answers, then bookmarks, then viewed papers.
func buildImportBatch(accountID string, state guest.State) *pgx.Batch {
	batch := &pgx.Batch{}

	for _, a := range state.Answers {
		batch.Queue(upsertAnswerSQL, accountID, int64(a.QuestionID), a.AnswerText, a.SelectedOption, a.TimeSpentSeconds, a.AnsweredAt)
	}
	for _, b := range state.Bookmarks {
		batch.Queue(insertBookmarkSQL, accountID, string(b.Type), b.RefID, b.Title, b.Note, string(b.Folder.OrDefault()), b.CreatedAt)
	}
	for _, p := range state.PapersViewed {
		batch.Queue(insertPaperViewedSQL, accountID, p)
	}

	return batch
}

// collectImportResults reads batch results in the order buildImportBatch queued them.
func collectImportResults(br pgx.BatchResults, state guest.State) (guest.ImportResult, error) {
	var result guest.ImportResult

	for _, a := range state.Answers {
		if _, err := br.Exec(); err != nil {
			return result, fmt.Errorf("upsert answer %d: %w", a.QuestionID, err)
		}
		result.AnswersUpserted++
	}

	for _, b := range state.Bookmarks {
		tag, err := br.Exec()
		if err != nil {
			return result, fmt.Errorf("insert bookmark %s/%d: %w", b.Type, b.RefID, err)
		}
		if tag.RowsAffected() > 0 {
			result.BookmarksInserted++
		} else {
			result.BookmarksSkipped++
		}
	}

	for _, p := range state.PapersViewed {
		tag, err := br.Exec()
		if err != nil {
			return result, fmt.Errorf("record paper %d: %w", p, err)
		}
		if tag.RowsAffected() > 0 {
			result.PapersRecorded++
		}
	}

	return result, nil
}
