package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kittclouds/storykeep/internal/store"
	"github.com/kittclouds/storykeep/pkg/session"
)

func newNoteCommand(flags *globalFlags) *cobra.Command {
	noteCommand := &cobra.Command{
		Use:   "note",
		Short: "Manage sticky notes",
	}
	noteCommand.AddCommand(
		&cobra.Command{
			Use:   "add <subject> [content]",
			Short: "Add a sticky note",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				var content string
				if len(args) == 2 {
					content = args[1]
				}
				return flags.run(cmd, func(ctx context.Context, a *app) error {
					n, err := a.session.AddNote(ctx, args[0], content)
					if err != nil {
						return err
					}
					a.ok("Added %s note %d", n.Color, n.ID)
					return nil
				})
			},
		},
		newNoteListCommand(flags),
		newNoteEditCommand(flags),
		&cobra.Command{
			Use:   "delete <note id>",
			Short: "Delete a sticky note",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return flags.run(cmd, func(ctx context.Context, a *app) error {
					if err := a.session.DeleteNote(ctx, id); err != nil {
						return err
					}
					a.ok("Deleted note %d", id)
					return nil
				})
			},
		},
	)
	return noteCommand
}

func newNoteListCommand(flags *globalFlags) *cobra.Command {
	var (
		bookID string
		charID int64
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notes, optionally only those naming a book's characters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, func(ctx context.Context, a *app) error {
				notes := a.session.Notes()
				if bookID != "" {
					var err error
					if notes, err = a.session.NotesMentioning(bookID, charID); err != nil {
						return err
					}
				}
				w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "ID\tCOLOR\tSUBJECT\tCONTENT")
				for _, n := range notes {
					_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", n.ID, n.Color, n.Subject, firstLine(n.Content))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&bookID, "book", "", "only notes mentioning this book's characters")
	cmd.Flags().Int64Var(&charID, "character", 0, "with --book, only notes mentioning this character")
	return cmd
}

func newNoteEditCommand(flags *globalFlags) *cobra.Command {
	var subject, content, color string
	cmd := &cobra.Command{
		Use:   "edit <note id>",
		Short: "Change a note's subject, content or color",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if !f.Changed("subject") && !f.Changed("content") && !f.Changed("color") {
				return fmt.Errorf("nothing to change: pass --subject, --content or --color")
			}

			return flags.run(cmd, func(ctx context.Context, a *app) error {
				cur, ok := a.session.Note(id)
				if !ok {
					return fmt.Errorf("%w: %d", session.ErrNoteNotFound, id)
				}
				changed := false
				if f.Changed("subject") || f.Changed("content") {
					if f.Changed("subject") {
						cur.Subject = subject
					}
					if f.Changed("content") {
						cur.Content = content
					}
					c, err := a.session.UpdateNote(ctx, id, cur.Subject, cur.Content)
					if err != nil {
						return err
					}
					changed = changed || c
				}
				if f.Changed("color") {
					c, err := a.session.SetNoteColor(ctx, id, store.NoteColor(color))
					if err != nil {
						return err
					}
					changed = changed || c
				}
				if !changed {
					a.warn("Nothing changed")
					return nil
				}
				a.ok("Updated note %d", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "new subject")
	cmd.Flags().StringVar(&content, "content", "", "new content")
	cmd.Flags().StringVar(&color, "color", "", "new color: yellow, pink, blue, green, purple or orange")
	return cmd
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}
