package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kittclouds/storykeep/internal/store"
)

func newExportCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write all books and images to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, func(ctx context.Context, a *app) error {
				if err := a.session.ExportFile(ctx, args[0]); err != nil {
					return err
				}
				a.ok("Exported %d books to %s", len(a.session.Books()), args[0])
				return nil
			})
		},
	}
}

func newImportCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace all books and images with the contents of a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer f.Close()

			return flags.run(cmd, func(ctx context.Context, a *app) error {
				prompt := fmt.Sprintf("Replace %d books with the contents of %s?", len(a.session.Books()), args[0])
				if !flags.confirmer(cmd)(prompt) {
					a.warn("Cancelled")
					return nil
				}
				res, err := a.session.Import(ctx, f)
				if err != nil {
					return err
				}
				a.ok("Imported %d books and %d images", len(res.Books), len(res.Images))
				if res.NotesReplaced {
					a.ok("Replaced notes with %d from the file", len(res.Notes))
				}
				return nil
			})
		},
	}
}

func newMigrateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade the database schema and show engine details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, func(ctx context.Context, a *app) error {
				version, err := a.store.SchemaVersion(ctx)
				if err != nil {
					return err
				}
				info, err := a.store.Engine(ctx)
				if err != nil {
					return err
				}
				a.log.Debug("Engine", zap.String("driver", info.Driver), zap.String("sqlite", info.SQLiteVersion))

				fmt.Fprintf(a.out, "database:  %s\n", a.cfg.Store.Path)
				fmt.Fprintf(a.out, "schema:    v%d (current v%d)\n", version, store.CurrentSchemaVersion)
				fmt.Fprintf(a.out, "driver:    %s\n", info.Driver)
				fmt.Fprintf(a.out, "sqlite:    %s\n", info.SQLiteVersion)
				if info.VecVersion != "" {
					fmt.Fprintf(a.out, "sqlite-vec: %s\n", info.VecVersion)
				}
				return nil
			})
		},
	}
}
