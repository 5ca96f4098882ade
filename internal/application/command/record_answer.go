package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ANSWER COMMAND
// Stores a guest's answer to a question and re-evaluates the auth prompt.
// Answering the same question twice replaces the earlier answer.
// ══════════════════════════════════════════════════════════════════════════════

// RecordAnswerCommand contains the data to record an answer.
type RecordAnswerCommand struct {
	// GuestID is the anonymous session the answer belongs to.
	GuestID string

	// QuestionID is the answered question.
	QuestionID int64

	// AnswerText is the free-text answer, if any.
	AnswerText string

	// SelectedOption is the chosen option for multiple-choice questions.
	SelectedOption string

	// TimeSpentSeconds is how long the guest spent on the question.
	TimeSpentSeconds int

	// AnsweredAt is when the answer was given (defaults to now if zero).
	AnsweredAt time.Time
}

// Validate validates the command.
func (c RecordAnswerCommand) Validate() error {
	if !guest.GuestID(c.GuestID).IsValid() {
		return shared.ErrInvalidGuestID
	}
	if c.QuestionID <= 0 {
		return shared.ErrInvalidQuestionID
	}
	if c.TimeSpentSeconds < 0 {
		return shared.NewDomainError("guest", "RecordAnswer", shared.ErrNegativeValue, "time spent cannot be negative")
	}
	return nil
}

// RecordAnswerResult contains the result of recording an answer.
type RecordAnswerResult struct {
	// AnswerCount is the number of distinct questions answered.
	AnswerCount int

	// Prompt is the auth-prompt status after the answer.
	Prompt PromptStatus
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordAnswerHandler handles the RecordAnswerCommand.
type RecordAnswerHandler struct {
	trackers TrackerProvider
}

// NewRecordAnswerHandler creates a new RecordAnswerHandler.
func NewRecordAnswerHandler(trackers TrackerProvider) *RecordAnswerHandler {
	return &RecordAnswerHandler{trackers: trackers}
}

// Handle executes the record answer command.
func (h *RecordAnswerHandler) Handle(ctx context.Context, cmd RecordAnswerCommand) (*RecordAnswerResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_answer: validation failed: %w", err)
	}

	tracker, release, err := h.trackers.Acquire(ctx, guest.GuestID(cmd.GuestID))
	if err != nil {
		return nil, fmt.Errorf("record_answer: failed to load guest: %w", err)
	}
	defer release()

	err = tracker.RecordAnswer(ctx, guest.Answer{
		QuestionID:       guest.QuestionID(cmd.QuestionID),
		AnswerText:       cmd.AnswerText,
		SelectedOption:   strings.TrimSpace(cmd.SelectedOption),
		TimeSpentSeconds: cmd.TimeSpentSeconds,
		AnsweredAt:       cmd.AnsweredAt,
	})
	if err != nil {
		return nil, fmt.Errorf("record_answer: %w", err)
	}

	state := tracker.Snapshot()
	return &RecordAnswerResult{
		AnswerCount: len(state.Answers),
		Prompt:      promptStatus(tracker, state),
	}, nil
}
