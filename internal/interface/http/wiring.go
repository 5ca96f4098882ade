package http

import (
	"github.com/paperhub/guest-hub/internal/application/command"
	"github.com/paperhub/guest-hub/internal/application/query"
	"github.com/paperhub/guest-hub/internal/application/session"
	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/pkg/logger"
)

// GuestDependencies builds every command and query handler on top of reg.
// importer may be nil, in which case migration answers 503.
func GuestDependencies(
	reg *session.Registry,
	importer guest.AccountImporter,
	recorder command.MigrationRecorder,
	log *logger.Logger,
) Dependencies {
	return Dependencies{
		Guests: reg,

		RecordAnswer:   command.NewRecordAnswerHandler(reg),
		ManageBookmark: command.NewManageBookmarkHandler(reg),
		TrackPaperView: command.NewTrackPaperViewHandler(reg),
		DismissPrompt:  command.NewDismissPromptHandler(reg),
		ClearGuestData: command.NewClearGuestDataHandler(reg, log),
		MigrateGuest:   command.NewMigrateGuestHandler(reg, importer, recorder, log),

		GetGuestState:   query.NewGetGuestStateHandler(reg),
		GetPromptStatus: query.NewGetPromptStatusHandler(reg),
		ListBookmarks:   query.NewListBookmarksHandler(reg),

		Logger: log,
	}
}
