package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/paperhub/guest-hub/internal/application/command"
	"github.com/paperhub/guest-hub/internal/application/query"
	"github.com/paperhub/guest-hub/internal/domain/guest"
)

// ═══════════════════════════════════════════════════════════════════════════
// SESSION COMMANDS
// ═══════════════════════════════════════════════════════════════════════════

func (a *app) newCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create a guest session and print its ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, release, err := a.reg.Issue(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			// Persist an empty snapshot so the guest shows up in list.
			t.ClearGuestData(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), t.ID())
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored guest IDs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prefix := guest.SnapshotKey(a.namespace, "")
			keys, err := a.store.Keys(cmd.Context(), prefix)
			if err != nil {
				return err
			}

			ids := make([]string, 0, len(keys))
			for _, k := range keys {
				ids = append(ids, strings.TrimPrefix(k, prefix))
			}

			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), ids)
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	var activity bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a guest's counters and prompt status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := a.guest()
			if err != nil {
				return err
			}

			state, err := query.NewGetGuestStateHandler(a.reg).Handle(cmd.Context(), query.GetGuestStateQuery{
				GuestID:         id,
				IncludeActivity: activity,
			})
			if err != nil {
				return err
			}

			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), state)
			}
			printState(cmd.OutOrStdout(), state)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&activity, "activity", "a", false, "Include answers, bookmarks and viewed papers")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print a guest's stored snapshot",
		Long:  "Prints the snapshot exactly as it is persisted, for debugging or for hand-migrating a device.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := a.guest()
			if err != nil {
				return err
			}

			t, release, err := a.reg.Acquire(cmd.Context(), guest.GuestID(id))
			if err != nil {
				return err
			}
			defer release()

			data, err := guest.EncodeSnapshot(t.Snapshot())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ACTIVITY COMMANDS
// ═══════════════════════════════════════════════════════════════════════════

func (a *app) answerCmd() *cobra.Command {
	var (
		option  string
		text    string
		seconds int
	)

	cmd := &cobra.Command{
		Use:   "answer <question-id>",
		Short: "Record an answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.guest()
			if err != nil {
				return err
			}
			questionID, err := parseID("question-id", args[0])
			if err != nil {
				return err
			}

			res, err := command.NewRecordAnswerHandler(a.reg).Handle(cmd.Context(), command.RecordAnswerCommand{
				GuestID:          id,
				QuestionID:       questionID,
				AnswerText:       text,
				SelectedOption:   option,
				TimeSpentSeconds: seconds,
			})
			if err != nil {
				return err
			}

			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "answers: %d\n", res.AnswerCount)
			printPrompt(cmd.OutOrStdout(), res.Prompt)
			return nil
		},
	}

	cmd.Flags().StringVarP(&option, "option", "o", "", "Selected option")
	cmd.Flags().StringVarP(&text, "text", "t", "", "Free-text answer")
	cmd.Flags().IntVarP(&seconds, "seconds", "s", 0, "Time spent on the question")
	return cmd
}

func (a *app) viewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view <paper-id>",
		Short: "Record that a paper was opened",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.guest()
			if err != nil {
				return err
			}
			paperID, err := parseID("paper-id", args[0])
			if err != nil {
				return err
			}

			res, err := command.NewTrackPaperViewHandler(a.reg).Handle(cmd.Context(), command.TrackPaperViewCommand{
				GuestID: id,
				PaperID: paperID,
			})
			if err != nil {
				return err
			}

			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			if !res.FirstView {
				fmt.Fprintln(cmd.OutOrStdout(), "already viewed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "papers viewed: %d\n", res.PapersViewed)
			return nil
		},
	}
}

func (a *app) dismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss",
		Short: "Dismiss the auth prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := a.guest()
			if err != nil {
				return err
			}

			res, err := command.NewDismissPromptHandler(a.reg).Handle(cmd.Context(), command.DismissPromptCommand{GuestID: id})
			if err != nil {
				return err
			}

			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dismissed at %d answers\n", res.DismissedAtCount)
			printPrompt(cmd.OutOrStdout(), res.Prompt)
			return nil
		},
	}
}

func (a *app) clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Reset a guest to an empty session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := a.guest()
			if err != nil {
				return err
			}

			err = command.NewClearGuestDataHandler(a.reg, a.log).Handle(cmd.Context(), command.ClearGuestDataCommand{GuestID: id})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cleared")
			return nil
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// BOOKMARKS
// ═══════════════════════════════════════════════════════════════════════════

func (a *app) bookmarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookmark",
		Short: "Manage a guest's bookmarks",
	}

	var title, note, folder string
	add := &cobra.Command{
		Use:   "add <type> <ref-id>",
		Short: "Add a bookmark (question, paper or resource)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.manageBookmark(cmd, command.ManageBookmarkCommand{
				Action: command.BookmarkActionAdd,
				Title:  title,
				Note:   note,
				Folder: folder,
			}, args)
		},
	}
	add.Flags().StringVar(&title, "title", "", "Bookmark title")
	add.Flags().StringVar(&note, "note", "", "Bookmark note")
	add.Flags().StringVar(&folder, "folder", "", "Folder (default, review, difficult, favorite, or any label)")

	remove := &cobra.Command{
		Use:   "remove <type> <ref-id>",
		Short: "Remove a bookmark",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.manageBookmark(cmd, command.ManageBookmarkCommand{Action: command.BookmarkActionRemove}, args)
		},
	}

	toggle := &cobra.Command{
		Use:   "toggle <type> <ref-id>",
		Short: "Add a missing bookmark or remove an existing one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.manageBookmark(cmd, command.ManageBookmarkCommand{Action: command.BookmarkActionToggle}, args)
		},
	}

	var listType, listFolder string
	list := &cobra.Command{
		Use:   "list",
		Short: "List bookmarks in insertion order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := a.guest()
			if err != nil {
				return err
			}

			res, err := query.NewListBookmarksHandler(a.reg).Handle(cmd.Context(), query.ListBookmarksQuery{
				GuestID: id,
				Type:    listType,
				Folder:  listFolder,
			})
			if err != nil {
				return err
			}

			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printBookmarks(cmd.OutOrStdout(), res.Bookmarks)
			return nil
		},
	}
	list.Flags().StringVar(&listType, "type", "", "Only this bookmark type")
	list.Flags().StringVar(&listFolder, "folder", "", "Only this folder")

	cmd.AddCommand(add, remove, toggle, list)
	return cmd
}

func (a *app) manageBookmark(cmd *cobra.Command, c command.ManageBookmarkCommand, args []string) error {
	id, err := a.guest()
	if err != nil {
		return err
	}
	refID, err := parseID("ref-id", args[1])
	if err != nil {
		return err
	}

	c.GuestID = id
	c.Type = args[0]
	c.RefID = refID

	res, err := command.NewManageBookmarkHandler(a.reg).Handle(cmd.Context(), c)
	if err != nil {
		return err
	}

	if a.jsonOut {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	state := "not bookmarked"
	if res.Bookmarked {
		state = "bookmarked"
	}
	if !res.Changed {
		state += " (unchanged)"
	}
	fmt.Fprintln(cmd.OutOrStdout(), state)
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// OUTPUT
// ═══════════════════════════════════════════════════════════════════════════

func parseID(name, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPrompt(w io.Writer, p command.PromptStatus) {
	fmt.Fprintf(w, "prompt: %s (show=%t, answers until prompt=%d)\n",
		p.Phase, p.ShouldShowAuthModal, p.AnswersUntilPrompt)
}

func printState(w io.Writer, s *query.GuestStateDTO) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "guest\t%s\n", s.GuestID)
	fmt.Fprintf(tw, "answers\t%d\n", s.AnswerCount)
	fmt.Fprintf(tw, "bookmarks\t%d\n", s.BookmarkCount)
	fmt.Fprintf(tw, "papers viewed\t%d\n", s.PapersViewed)
	fmt.Fprintf(tw, "free limit\t%d\n", s.Prompt.FreeQuestionLimit)
	fmt.Fprintf(tw, "prompt phase\t%s\n", s.Prompt.Phase)
	fmt.Fprintf(tw, "show modal\t%t\n", s.Prompt.ShouldShowAuthModal)
	if s.Prompt.DismissedAtCount > 0 {
		fmt.Fprintf(tw, "dismissed at\t%d\n", s.Prompt.DismissedAtCount)
	}
	_ = tw.Flush()

	if len(s.Answers) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "QUESTION\tOPTION\tTEXT\tSECONDS\tANSWERED")
		for _, ans := range s.Answers {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", ans.QuestionID, ans.SelectedOption, ans.AnswerText,
				ans.TimeSpentSeconds, ans.AnsweredAt.Format(time.RFC3339))
		}
		_ = tw.Flush()
	}
	if len(s.Bookmarks) > 0 {
		fmt.Fprintln(w)
		printBookmarks(w, s.Bookmarks)
	}
	if len(s.PaperIDs) > 0 {
		ids := make([]string, len(s.PaperIDs))
		for i, p := range s.PaperIDs {
			ids[i] = strconv.FormatInt(p, 10)
		}
		fmt.Fprintf(w, "\npapers: %s\n", strings.Join(ids, ", "))
	}
}

func printBookmarks(w io.Writer, bookmarks []query.BookmarkDTO) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tREF\tFOLDER\tTITLE")
	for _, b := range bookmarks {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", b.Type, b.RefID, b.Folder, b.Title)
	}
	_ = tw.Flush()
}
