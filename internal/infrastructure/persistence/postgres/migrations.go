package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: ACCOUNT ANSWERS AND PAPERS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS account_answers (
    account_id         TEXT        NOT NULL,
    question_id        BIGINT      NOT NULL,
    answer_text        TEXT        NOT NULL DEFAULT '',
    selected_option    TEXT        NOT NULL DEFAULT '',
    time_spent_seconds INTEGER     NOT NULL DEFAULT 0,
    answered_at        TIMESTAMPTZ NOT NULL,
    source             VARCHAR(20) NOT NULL DEFAULT 'guest',
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (account_id, question_id),
    CONSTRAINT valid_question_id CHECK (question_id > 0),
    CONSTRAINT valid_time_spent CHECK (time_spent_seconds >= 0)
);

CREATE INDEX IF NOT EXISTS idx_account_answers_answered_at ON account_answers(account_id, answered_at DESC);

CREATE TABLE IF NOT EXISTS account_papers_viewed (
    account_id      TEXT        NOT NULL,
    paper_id        BIGINT      NOT NULL,
    first_viewed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (account_id, paper_id)
);
`

const migration001Down = `
DROP TABLE IF EXISTS account_papers_viewed;
DROP TABLE IF EXISTS account_answers;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: ACCOUNT BOOKMARKS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS account_bookmarks (
    account_id    TEXT        NOT NULL,
    bookmark_type VARCHAR(20) NOT NULL,
    ref_id        BIGINT      NOT NULL,
    title         TEXT        NOT NULL DEFAULT '',
    note          TEXT        NOT NULL DEFAULT '',
    folder        VARCHAR(20) NOT NULL DEFAULT 'default',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (account_id, bookmark_type, ref_id),
    CONSTRAINT valid_bookmark_type CHECK (bookmark_type IN ('question', 'paper', 'resource')),
    CONSTRAINT valid_folder CHECK (folder IN ('default', 'review', 'difficult', 'favorite'))
);

CREATE INDEX IF NOT EXISTS idx_account_bookmarks_folder ON account_bookmarks(account_id, folder);
`

const migration002Down = `
DROP TABLE IF EXISTS account_bookmarks;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: IMPORT AUDIT LOG
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS guest_imports (
    id                 BIGSERIAL PRIMARY KEY,
    account_id         TEXT        NOT NULL,
    answers_upserted   INTEGER     NOT NULL,
    bookmarks_inserted INTEGER     NOT NULL,
    bookmarks_skipped  INTEGER     NOT NULL,
    papers_recorded    INTEGER     NOT NULL,
    imported_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_guest_imports_account ON guest_imports(account_id, imported_at DESC);
`

const migration003Down = `
DROP TABLE IF EXISTS guest_imports;
`

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_account_answers", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_account_bookmarks", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_guest_imports", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies embedded schema migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	return nil
}

func (m *Migrator) appliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)

	rows, err := m.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time

		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}

		applied[version] = appliedAt
	}

	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, isApplied := applied[mig.Version]; isApplied {
			continue
		}

		if mig.UpSQL == "" {
			return fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}

			insertQuery := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
			_, err := tx.Exec(ctx, insertQuery, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}

	return nil
}

// Status returns every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)

	for i := range result {
		if appliedAt, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = appliedAt
		}
	}

	return result, nil
}
