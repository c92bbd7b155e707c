package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newBookCommand(flags *globalFlags) *cobra.Command {
	bookCommand := &cobra.Command{
		Use:   "book",
		Short: "Manage books",
	}
	bookCommand.AddCommand(
		&cobra.Command{
			Use:   "add <title>",
			Short: "Add a book",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return flags.run(cmd, func(ctx context.Context, a *app) error {
					book, err := a.session.AddBook(ctx, strings.Join(args, " "))
					if err != nil {
						return err
					}
					a.ok("Added book %q (%s)", book.Title, book.ID)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List books, oldest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return flags.run(cmd, func(ctx context.Context, a *app) error {
					w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
					_, _ = fmt.Fprintln(w, "ID\tTITLE\tVOLUME\tCHARACTERS\tCREATED")
					for _, b := range a.session.Books() {
						_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
							b.ID, b.Title, b.Volume, len(b.Characters), formatMillis(b.CreatedAt))
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "rename <book id> <title>",
			Short: "Rename a book",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return flags.run(cmd, func(ctx context.Context, a *app) error {
					changed, err := a.session.RenameBook(ctx, args[0], strings.Join(args[1:], " "))
					if err != nil {
						return err
					}
					if !changed {
						a.warn("Title unchanged")
						return nil
					}
					a.ok("Renamed book %s", args[0])
					return nil
				})
			},
		},
		newBookDescribeCommand(flags),
		&cobra.Command{
			Use:   "delete <book id>",
			Short: "Delete a book and its characters",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return flags.run(cmd, func(ctx context.Context, a *app) error {
					deleted, err := a.session.DeleteBook(ctx, args[0], flags.confirmer(cmd))
					if err != nil {
						return err
					}
					if !deleted {
						a.warn("Cancelled")
						return nil
					}
					a.ok("Deleted book %s", args[0])
					return nil
				})
			},
		},
	)
	return bookCommand
}

func newBookDescribeCommand(flags *globalFlags) *cobra.Command {
	var (
		summary string
		volume  int
	)
	cmd := &cobra.Command{
		Use:   "describe <book id>",
		Short: "Set a book's summary and volume number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var summaryArg *string
			var volumeArg *int
			if cmd.Flags().Changed("summary") {
				summaryArg = &summary
			}
			if cmd.Flags().Changed("volume") {
				volumeArg = &volume
			}
			if summaryArg == nil && volumeArg == nil {
				return fmt.Errorf("nothing to change: pass --summary and/or --volume")
			}

			return flags.run(cmd, func(ctx context.Context, a *app) error {
				changed, err := a.session.UpdateBookDetails(ctx, args[0], summaryArg, volumeArg)
				if err != nil {
					return err
				}
				if !changed {
					a.warn("Nothing changed")
					return nil
				}
				a.ok("Updated book %s", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&summary, "summary", "", "book summary")
	cmd.Flags().IntVar(&volume, "volume", 0, "volume number in the series")
	return cmd
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
