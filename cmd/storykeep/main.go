package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configFile string
	dbPath     string
	yes        bool
	verbose    bool
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	rootCommand := &cobra.Command{
		Use:           "storykeep",
		Short:         "Organize books, their characters and sticky notes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := rootCommand.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "config file path")
	pf.StringVar(&flags.dbPath, "db", "", "database path (overrides store.path)")
	pf.BoolVarP(&flags.yes, "yes", "y", false, "do not ask before deleting or replacing data")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	rootCommand.AddCommand(
		newBookCommand(flags),
		newCharacterCommand(flags),
		newNoteCommand(flags),
		newImageCommand(flags),
		newExportCommand(flags),
		newImportCommand(flags),
		newMigrateCommand(flags),
	)
	return rootCommand
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if _, fprintfErr := fmt.Fprintf(os.Stderr, "storykeep: %v\n", err); fprintfErr != nil {
			panic(fmt.Errorf("failed to output an error: %w. Reason: %w", err, fprintfErr))
		}
		os.Exit(1)
	}
}
