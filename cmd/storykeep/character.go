package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kittclouds/storykeep/pkg/session"
	"github.com/kittclouds/storykeep/pkg/textnorm"
)

func newCharacterCommand(flags *globalFlags) *cobra.Command {
	characterCommand := &cobra.Command{
		Use:     "character",
		Aliases: []string{"char"},
		Short:   "Manage the characters of a book",
	}
	characterCommand.AddCommand(
		newCharacterAddCommand(flags),
		&cobra.Command{
			Use:   "list <book id>",
			Short: "List a book's characters",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return flags.run(cmd, func(ctx context.Context, a *app) error {
					book, ok := a.session.Book(args[0])
					if !ok {
						return fmt.Errorf("%w: %s", session.ErrBookNotFound, args[0])
					}
					w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
					_, _ = fmt.Fprintln(w, "ID\tNAME\tROLE\tARC\tABILITIES\tIMAGE")
					for _, c := range book.Characters {
						_, hasImage := a.session.CharacterImage(c.ID)
						_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%t\n",
							c.ID, c.Name, c.Role, c.ArcStage, textnorm.JoinAbilities(c.Abilities), hasImage)
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "edit <book id> <character id> <field> <value>",
			Short: "Set one field: name, role, notes, abilities or arcStage",
			Args:  cobra.MinimumNArgs(4),
			RunE: func(cmd *cobra.Command, args []string) error {
				charID, err := parseID(args[1])
				if err != nil {
					return err
				}
				field, err := session.ParseField(args[2])
				if err != nil {
					return err
				}
				return flags.run(cmd, func(ctx context.Context, a *app) error {
					changed, err := a.session.SetCharacterField(ctx, args[0], charID, field, strings.Join(args[3:], " "))
					if err != nil {
						return err
					}
					if !changed {
						a.warn("%s unchanged", field)
						return nil
					}
					a.ok("Updated %s of character %d", field, charID)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <book id> <character id>",
			Short: "Delete a character",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				charID, err := parseID(args[1])
				if err != nil {
					return err
				}
				return flags.run(cmd, func(ctx context.Context, a *app) error {
					deleted, err := a.session.DeleteCharacter(ctx, args[0], charID, flags.confirmer(cmd))
					if err != nil {
						return err
					}
					if !deleted {
						a.warn("Cancelled")
						return nil
					}
					a.ok("Deleted character %d", charID)
					return nil
				})
			},
		},
	)
	return characterCommand
}

func newCharacterAddCommand(flags *globalFlags) *cobra.Command {
	var in session.CharacterInput
	cmd := &cobra.Command{
		Use:   "add <book id> <name>",
		Short: "Add a character to a book",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = strings.Join(args[1:], " ")
			return flags.run(cmd, func(ctx context.Context, a *app) error {
				c, err := a.session.AddCharacter(ctx, args[0], in)
				if err != nil {
					return err
				}
				a.ok("Added character %q (%d)", c.Name, c.ID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Role, "role", "", "role in the story")
	f.StringVar(&in.Notes, "notes", "", "free-form notes")
	f.StringVar(&in.Abilities, "abilities", "", "comma-separated abilities")
	f.StringVar(&in.ArcStage, "arc", "", "current arc stage")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}
