package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/flitapp/flit-sync/internal/model"
)

var (
	typeStyle = lipgloss.NewStyle().Bold(true).Width(10)
	idStyle   = lipgloss.NewStyle().Faint(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List active captures",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		limit, _ := cmd.Flags().GetInt("limit")
		captures, err := a.db.ListCaptures(ctx, limit, 0)
		if err != nil {
			return err
		}
		printCaptures(captures)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search captures by text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		captures, err := a.db.SearchCaptures(ctx, args[0], 50)
		if err != nil {
			return err
		}
		printCaptures(captures)
		return nil
	},
}

var trashCmd = &cobra.Command{
	Use:   "trash [id]",
	Short: "Move a capture to the trash, or list the trash",
	Long: `With an id, moves that capture to the trash. Without arguments,
lists trashed captures. Trash can be undone with restore until the
retention window expires.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if len(args) == 0 {
			captures, err := a.db.ListTrashed(ctx)
			if err != nil {
				return err
			}
			printCaptures(captures)
			return nil
		}

		if err := a.db.SoftDelete(ctx, args[0]); err != nil {
			return err
		}
		if _, _, err := a.queue.Enqueue(ctx, args[0], model.OpPush); err != nil {
			return err
		}
		fmt.Printf("Trashed %s\n", args[0])
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a capture from the trash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.db.UndoSoftDelete(ctx, args[0]); err != nil {
			return err
		}
		if _, _, err := a.queue.Enqueue(ctx, args[0], model.OpPush); err != nil {
			return err
		}
		fmt.Printf("Restored %s\n", args[0])
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a capture permanently",
	Long: `Marks the capture deleted. The deletion propagates to your other
devices on the next sync; the local tombstone is cleaned up once the
server acknowledges it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.db.MarkDeleted(ctx, args[0]); err != nil {
			return err
		}
		if _, _, err := a.queue.Enqueue(ctx, args[0], model.OpPush); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var confirmCmd = &cobra.Command{
	Use:   "confirm [id]",
	Short: "Confirm a classification",
	Long:  `Confirms the AI classification of one capture, or every unconfirmed capture with --all.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		all, _ := cmd.Flags().GetBool("all")
		switch {
		case all:
			n, err := a.db.ConfirmAll(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Confirmed %d captures\n", n)
		case len(args) == 1:
			if err := a.db.Confirm(ctx, args[0]); err != nil {
				return err
			}
			if _, _, err := a.queue.Enqueue(ctx, args[0], model.OpPush); err != nil {
				return err
			}
			fmt.Printf("Confirmed %s\n", args[0])
		default:
			return fmt.Errorf("pass a capture id or --all")
		}
		return nil
	},
}

var reclassifyCmd = &cobra.Command{
	Use:   "reclassify <id> <type>",
	Short: "Change a capture's type",
	Long: `Overrides the classification. Valid types: schedule, task, note,
quick_note. Notes accept an optional sub-type with --sub (inbox, idea,
bookmark).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		sub, _ := cmd.Flags().GetString("sub")
		newType := model.CaptureType(args[1])
		switch newType {
		case model.TypeSchedule, model.TypeTask, model.TypeNote, model.TypeQuickNote:
		default:
			return fmt.Errorf("unknown type %q", args[1])
		}

		if err := a.db.Reclassify(ctx, args[0], newType, model.NoteSubType(sub)); err != nil {
			return err
		}
		if _, _, err := a.queue.Enqueue(ctx, args[0], model.OpPush); err != nil {
			return err
		}
		fmt.Printf("Reclassified %s as %s\n", args[0], newType)
		return nil
	},
}

func printCaptures(captures []*model.Capture) {
	if len(captures) == 0 {
		fmt.Println(dimStyle.Render("no captures"))
		return
	}
	for _, c := range captures {
		title := c.Title
		if title == "" {
			title = c.OriginalText
		}
		if len(title) > 70 {
			title = title[:70]
		}
		marker := " "
		if c.Type != model.TypeUnclassified && !c.Confirmed {
			marker = "?"
		}
		fmt.Printf("%s%s %s %s\n",
			marker,
			typeStyle.Render(string(c.Type)),
			title,
			idStyle.Render(c.ID[:8]))
	}
}

func init() {
	listCmd.Flags().Int("limit", 30, "maximum captures to show")
	confirmCmd.Flags().Bool("all", false, "confirm every unconfirmed capture")
	reclassifyCmd.Flags().String("sub", "", "note sub-type (inbox, idea, bookmark)")

	rootCmd.AddCommand(listCmd, searchCmd, trashCmd, restoreCmd,
		deleteCmd, confirmCmd, reclassifyCmd)
}
