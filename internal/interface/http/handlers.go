package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paperhub/guest-hub/internal/application/command"
	"github.com/paperhub/guest-hub/internal/application/query"
	"github.com/paperhub/guest-hub/internal/application/session"
	"github.com/paperhub/guest-hub/internal/domain/shared"
	"github.com/paperhub/guest-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "Guest Hub API",
		"version": "v1",
		"endpoints": map[string]string{
			"health": "/health",
			"guests": "/api/v1/guests",
		},
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": s.Uptime().String(),
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// GUEST SESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleIssueGuest handles POST /api/v1/guests
func (s *Server) handleIssueGuest(w http.ResponseWriter, r *http.Request) {
	tracker, release, err := s.deps.Guests.Issue(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	defer release()

	writeJSONWithMeta(w, r, http.StatusCreated, query.StateOf(tracker, false), nil)
}

// handleGetGuest handles GET /api/v1/guests/{id}?activity=true
func (s *Server) handleGetGuest(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.GetGuestState.Handle(r.Context(), query.GetGuestStateQuery{
		GuestID:         r.PathValue("id"),
		IncludeActivity: getQueryParamBool(r, "activity"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, result, nil)
}

// handleClearGuest handles DELETE /api/v1/guests/{id}
func (s *Server) handleClearGuest(w http.ResponseWriter, r *http.Request) {
	err := s.deps.ClearGuestData.Handle(r.Context(), command.ClearGuestDataCommand{GuestID: r.PathValue("id")})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// ANSWER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type recordAnswerRequest struct {
	QuestionID       int64     `json:"question_id"`
	AnswerText       string    `json:"answer_text"`
	SelectedOption   string    `json:"selected_option"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
	AnsweredAt       time.Time `json:"answered_at"`
}

type promptResponse struct {
	ShouldShowAuthModal bool   `json:"should_show_auth_modal"`
	Phase               string `json:"phase"`
	AnswersUntilPrompt  int    `json:"answers_until_prompt"`
}

func toPromptResponse(p command.PromptStatus) promptResponse {
	return promptResponse{
		ShouldShowAuthModal: p.ShouldShowAuthModal,
		Phase:               string(p.Phase),
		AnswersUntilPrompt:  p.AnswersUntilPrompt,
	}
}

// handleRecordAnswer handles POST /api/v1/guests/{id}/answers
func (s *Server) handleRecordAnswer(w http.ResponseWriter, r *http.Request) {
	var req recordAnswerRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.RecordAnswer.Handle(r.Context(), command.RecordAnswerCommand{
		GuestID:          r.PathValue("id"),
		QuestionID:       req.QuestionID,
		AnswerText:       req.AnswerText,
		SelectedOption:   req.SelectedOption,
		TimeSpentSeconds: req.TimeSpentSeconds,
		AnsweredAt:       req.AnsweredAt,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, map[string]interface{}{
		"answer_count": result.AnswerCount,
		"prompt":       toPromptResponse(result.Prompt),
	}, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// BOOKMARK HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type manageBookmarkRequest struct {
	// Action is add, remove or toggle. Empty means add.
	Action string `json:"action"`

	Type   string `json:"type"`
	RefID  int64  `json:"ref_id"`
	Title  string `json:"title"`
	Note   string `json:"note"`
	Folder string `json:"folder"`
}

// handleListBookmarks handles GET /api/v1/guests/{id}/bookmarks?type=&folder=
func (s *Server) handleListBookmarks(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.ListBookmarks.Handle(r.Context(), query.ListBookmarksQuery{
		GuestID: r.PathValue("id"),
		Type:    r.URL.Query().Get("type"),
		Folder:  r.URL.Query().Get("folder"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, result.Bookmarks, &ResponseMeta{TotalCount: result.Total})
}

// handleManageBookmark handles POST /api/v1/guests/{id}/bookmarks
func (s *Server) handleManageBookmark(w http.ResponseWriter, r *http.Request) {
	var req manageBookmarkRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	action := command.BookmarkAction(strings.ToLower(strings.TrimSpace(req.Action)))
	if action == "" {
		action = command.BookmarkActionAdd
	}

	result, err := s.deps.ManageBookmark.Handle(r.Context(), command.ManageBookmarkCommand{
		GuestID: r.PathValue("id"),
		Action:  action,
		Type:    req.Type,
		RefID:   req.RefID,
		Title:   req.Title,
		Note:    req.Note,
		Folder:  req.Folder,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Bookmarked && result.Changed {
		status = http.StatusCreated
	}
	writeJSONWithMeta(w, r, status, map[string]bool{
		"bookmarked": result.Bookmarked,
		"changed":    result.Changed,
	}, nil)
}

// handleIsBookmarked handles GET /api/v1/guests/{id}/bookmarks/{type}/{ref}
func (s *Server) handleIsBookmarked(w http.ResponseWriter, r *http.Request) {
	refID, ok := s.pathInt64(w, r, "ref")
	if !ok {
		return
	}

	bookmarked, err := s.deps.ListBookmarks.IsBookmarked(r.Context(), r.PathValue("id"), r.PathValue("type"), refID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, map[string]bool{"bookmarked": bookmarked}, nil)
}

// handleRemoveBookmark handles DELETE /api/v1/guests/{id}/bookmarks/{type}/{ref}
func (s *Server) handleRemoveBookmark(w http.ResponseWriter, r *http.Request) {
	refID, ok := s.pathInt64(w, r, "ref")
	if !ok {
		return
	}

	result, err := s.deps.ManageBookmark.Handle(r.Context(), command.ManageBookmarkCommand{
		GuestID: r.PathValue("id"),
		Action:  command.BookmarkActionRemove,
		Type:    r.PathValue("type"),
		RefID:   refID,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if !result.Changed {
		writeJSONError(w, http.StatusNotFound, "not_found", "Bookmark not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// PAPER & PROMPT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handlePaperViewed handles POST /api/v1/guests/{id}/papers/{paper}/view
func (s *Server) handlePaperViewed(w http.ResponseWriter, r *http.Request) {
	paperID, ok := s.pathInt64(w, r, "paper")
	if !ok {
		return
	}

	result, err := s.deps.TrackPaperView.Handle(r.Context(), command.TrackPaperViewCommand{
		GuestID: r.PathValue("id"),
		PaperID: paperID,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, map[string]interface{}{
		"first_view":    result.FirstView,
		"papers_viewed": result.PapersViewed,
	}, nil)
}

// handleGetPrompt handles GET /api/v1/guests/{id}/prompt
func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.GetPromptStatus.Handle(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, result, nil)
}

// handleDismissPrompt handles POST /api/v1/guests/{id}/prompt/dismiss
func (s *Server) handleDismissPrompt(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.DismissPrompt.Handle(r.Context(), command.DismissPromptCommand{GuestID: r.PathValue("id")})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, map[string]interface{}{
		"dismissed_at_count": result.DismissedAtCount,
		"prompt":             toPromptResponse(result.Prompt),
	}, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION HANDLER
// ══════════════════════════════════════════════════════════════════════════════

type migrateRequest struct {
	AccountID string `json:"account_id"`
}

// handleMigrateGuest handles POST /api/v1/guests/{id}/migrate
func (s *Server) handleMigrateGuest(w http.ResponseWriter, r *http.Request) {
	var req migrateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.MigrateGuest.Handle(r.Context(), command.MigrateGuestCommand{
		GuestID:   r.PathValue("id"),
		AccountID: req.AccountID,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, map[string]interface{}{
		"account_id":         result.AccountID,
		"answers_upserted":   result.AnswersUpserted,
		"bookmarks_inserted": result.BookmarksInserted,
		"bookmarks_skipped":  result.BookmarksSkipped,
		"papers_recorded":    result.PapersRecorded,
		"migrated_at":        result.MigratedAt,
	}, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST & ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody decodes a JSON body into dst. It writes a 400 and returns false
// on malformed input.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
			return false
		}
		writeJSONErrorWithDetails(w, http.StatusBadRequest, "invalid_json", "Malformed request body", err.Error())
		return false
	}
	return true
}

func (s *Server) pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || v <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", name+" must be a positive integer")
		return 0, false
	}
	return v, true
}

// writeDomainError maps application errors to HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var de *shared.DomainError
	message := err.Error()
	if errors.As(err, &de) {
		message = de.Message
	}

	switch {
	case shared.IsValidation(err):
		writeJSONErrorWithDetails(w, http.StatusBadRequest, "invalid_request", message, err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", message)
	case errors.Is(err, session.ErrRegistryClosed), shared.IsRetryable(err):
		w.Header().Set("Retry-After", "5")
		writeJSONError(w, http.StatusServiceUnavailable, "unavailable", message)
	case shared.IsExternalService(err):
		logger.FromContext(r.Context()).Error("upstream failure", logger.Err(err), logger.String("path", r.URL.Path))
		writeJSONError(w, http.StatusBadGateway, "upstream_error", message)
	default:
		logger.FromContext(r.Context()).Error("request failed", logger.Err(err), logger.String("path", r.URL.Path))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
