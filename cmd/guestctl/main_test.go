package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperhub/guest-hub/internal/application/query"
	"github.com/paperhub/guest-hub/internal/domain/guest"
)

type cli struct {
	t  *testing.T
	db string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("GUEST_STORE", "memory")
	return &cli{t: t, db: filepath.Join(t.TempDir(), "guests.db")}
}

// run invokes guestctl against the test database with a fixed prompt policy.
func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--db", c.db, "--limit", "2", "--rearm", "2"}, args...)
	err := execute(full, &stdout, &stderr)
	return stdout.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, "guestctl %s", strings.Join(args, " "))
	return out
}

func TestNewAndList(t *testing.T) {
	c := newCLI(t)

	id := strings.TrimSpace(c.mustRun("new"))
	require.True(t, guest.GuestID(id).IsValid(), id)

	out := c.mustRun("list")
	assert.Equal(t, id+"\n", out)
}

func TestList_Empty(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("list", "--json")
	assert.JSONEq(t, `[]`, out)
}

func TestPromptLifecycleAcrossInvocations(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("-g", "device-1", "answer", "1", "--option", "B")
	assert.Contains(t, out, "answers: 1")
	assert.Contains(t, out, "prompt: not_yet_eligible (show=false, answers until prompt=1)")

	out = c.mustRun("-g", "device-1", "answer", "2", "--text", "42", "--seconds", "30")
	assert.Contains(t, out, "answers: 2")
	assert.Contains(t, out, "show=true")

	out = c.mustRun("-g", "device-1", "dismiss")
	assert.Contains(t, out, "dismissed at 2 answers")
	assert.Contains(t, out, "show=false")

	// Each invocation reopens the store, so the state above was persisted.
	var state query.GuestStateDTO
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("-g", "device-1", "--json", "show", "--activity")), &state))
	assert.Equal(t, 2, state.AnswerCount)
	assert.Equal(t, guest.PhaseDismissedArmed, state.Prompt.Phase)
	assert.Equal(t, 2, state.Prompt.DismissedAtCount)
	require.Len(t, state.Answers, 2)
	assert.Equal(t, "B", state.Answers[0].SelectedOption)
	assert.Equal(t, 30, state.Answers[1].TimeSpentSeconds)

	// Re-answering does not move the count; two new answers re-arm the prompt.
	c.mustRun("-g", "device-1", "answer", "2", "--option", "C")
	c.mustRun("-g", "device-1", "answer", "3")
	out = c.mustRun("-g", "device-1", "answer", "4")
	assert.Contains(t, out, "answers: 4")
	assert.Contains(t, out, "show=true")
}

func TestBookmarks(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("-g", "g1", "bookmark", "add", "question", "5", "--folder", "review", "--title", "Limits")
	assert.Equal(t, "bookmarked\n", out)

	out = c.mustRun("-g", "g1", "bookmark", "add", "question", "5")
	assert.Equal(t, "bookmarked (unchanged)\n", out)

	c.mustRun("-g", "g1", "bookmark", "toggle", "paper", "9")

	var res query.ListBookmarksResult
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("-g", "g1", "--json", "bookmark", "list")), &res))
	require.Equal(t, 2, res.Total)
	assert.Equal(t, guest.FolderReview, res.Bookmarks[0].Folder)
	assert.Equal(t, "Limits", res.Bookmarks[0].Title)
	assert.Equal(t, guest.BookmarkPaper, res.Bookmarks[1].Type)

	out = c.mustRun("-g", "g1", "bookmark", "list", "--type", "paper")
	assert.Contains(t, out, "paper")
	assert.NotContains(t, out, "Limits")

	out = c.mustRun("-g", "g1", "bookmark", "remove", "paper", "9")
	assert.Equal(t, "not bookmarked\n", out)
}

func TestViewAndClear(t *testing.T) {
	c := newCLI(t)

	assert.Equal(t, "papers viewed: 1\n", c.mustRun("-g", "g2", "view", "11"))
	assert.Equal(t, "already viewed\npapers viewed: 1\n", c.mustRun("-g", "g2", "view", "11"))

	c.mustRun("-g", "g2", "answer", "1")
	assert.Equal(t, "cleared\n", c.mustRun("-g", "g2", "clear"))

	out := c.mustRun("-g", "g2", "show")
	assert.Contains(t, out, "answers        0")
	assert.Contains(t, out, "papers viewed  0")
}

func TestExport(t *testing.T) {
	c := newCLI(t)
	c.mustRun("-g", "g3", "answer", "7", "--option", "A")

	out := c.mustRun("-g", "g3", "export")

	state, err := guest.DecodeSnapshot([]byte(strings.TrimSpace(out)), 2)
	require.NoError(t, err)
	require.Len(t, state.Answers, 1)
	assert.Equal(t, "A", state.Answers[0].SelectedOption)
}

func TestErrors(t *testing.T) {
	c := newCLI(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing guest", []string{"show"}, "--guest is required"},
		{"bad question id", []string{"-g", "g", "answer", "x"}, "question-id must be a positive integer"},
		{"zero paper id", []string{"-g", "g", "view", "0"}, "paper-id must be a positive integer"},
		{"bad bookmark type", []string{"-g", "g", "bookmark", "add", "video", "1"}, "bookmark"},
		{"invalid guest", []string{"-g", "not a guest", "dismiss"}, "guest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.run(tt.args...)
			require.Error(t, err)
			assert.Contains(t, strings.ToLower(err.Error()), tt.want)
		})
	}
}
