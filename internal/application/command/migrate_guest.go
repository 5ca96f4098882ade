package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/domain/shared"
	"github.com/paperhub/guest-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE GUEST COMMAND
// Imports a guest's answers, bookmarks and viewed papers into a freshly
// created account, then clears the guest. A failed import leaves the guest
// untouched so the client can retry.
// ══════════════════════════════════════════════════════════════════════════════

// ErrMigrationDisabled is returned when no account store is configured.
var ErrMigrationDisabled = shared.NewDomainError("account", "ImportGuestState",
	shared.ErrServiceUnavailable, "account migration is not configured")

// MigrationRecorder receives migration outcomes.
// metrics.Observer implements it.
type MigrationRecorder interface {
	MigrationFinished(succeeded bool)
}

// MigrateGuestCommand contains the data to migrate a guest.
type MigrateGuestCommand struct {
	// GuestID is the anonymous session to migrate.
	GuestID string

	// AccountID is the account that now owns the guest's activity.
	AccountID string
}

// Validate validates the command.
func (c MigrateGuestCommand) Validate() error {
	if !guest.GuestID(c.GuestID).IsValid() {
		return shared.ErrInvalidGuestID
	}
	if strings.TrimSpace(c.AccountID) == "" {
		return shared.ErrInvalidAccountID
	}
	return nil
}

// MigrateGuestResult contains the result of a migration.
type MigrateGuestResult struct {
	guest.ImportResult

	AccountID  string
	Duration   time.Duration
	MigratedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// MigrateGuestHandler handles the MigrateGuestCommand.
type MigrateGuestHandler struct {
	trackers TrackerProvider
	importer guest.AccountImporter
	recorder MigrationRecorder
	log      *logger.Logger
	now      func() time.Time
}

// NewMigrateGuestHandler creates a new MigrateGuestHandler.
// importer may be nil when no account database is configured; every
// migration then fails with ErrMigrationDisabled.
func NewMigrateGuestHandler(
	trackers TrackerProvider,
	importer guest.AccountImporter,
	recorder MigrationRecorder,
	log *logger.Logger,
) *MigrateGuestHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &MigrateGuestHandler{
		trackers: trackers,
		importer: importer,
		recorder: recorder,
		log:      log,
		now:      time.Now,
	}
}

// Handle executes the migrate guest command.
func (h *MigrateGuestHandler) Handle(ctx context.Context, cmd MigrateGuestCommand) (*MigrateGuestResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("migrate_guest: validation failed: %w", err)
	}
	if h.importer == nil {
		return nil, ErrMigrationDisabled
	}

	tracker, release, err := h.trackers.Acquire(ctx, guest.GuestID(cmd.GuestID))
	if err != nil {
		return nil, fmt.Errorf("migrate_guest: failed to load guest: %w", err)
	}
	defer release()

	accountID := strings.TrimSpace(cmd.AccountID)
	log := h.log.With(logger.GuestID(cmd.GuestID), logger.AccountID(accountID))

	start := h.now()
	res, err := tracker.MigrateTo(ctx, accountID, h.importer)
	elapsed := h.now().Sub(start)
	h.record(err == nil)

	if err != nil {
		log.Error("guest migration failed", logger.Err(err), logger.Latency(elapsed))
		return nil, fmt.Errorf("migrate_guest: %w", err)
	}

	log.Info("guest migrated",
		logger.Int("answers_upserted", res.AnswersUpserted),
		logger.Int("bookmarks_inserted", res.BookmarksInserted),
		logger.Int("bookmarks_skipped", res.BookmarksSkipped),
		logger.Int("papers_recorded", res.PapersRecorded),
		logger.Latency(elapsed),
	)

	return &MigrateGuestResult{
		ImportResult: res,
		AccountID:    accountID,
		Duration:     elapsed,
		MigratedAt:   start.UTC(),
	}, nil
}

func (h *MigrateGuestHandler) record(succeeded bool) {
	if h.recorder != nil {
		h.recorder.MigrationFinished(succeeded)
	}
}
