package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/cookbook-sync/internal/catalog"
	"github.com/open-edge-platform/cookbook-sync/internal/config"
	"github.com/open-edge-platform/cookbook-sync/internal/utils/logger"
)

var validateUniverse bool

// createValidateCommand creates the validate subcommand
func createValidateCommand() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate [flags] [FILE]",
		Short: "Validate a remotes file or a universe document",
		Long: `Validate checks a remotes file against the remotes schema without
syncing anything. FILE defaults to the --remotes file. With --universe, FILE
is read as a universe catalog document instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: executeValidate,
	}

	validateCmd.Flags().BoolVar(&validateUniverse, "universe", false,
		"Validate FILE as a universe catalog document")
	return validateCmd
}

// executeValidate handles the validate command logic
func executeValidate(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	file := remotesFile
	if len(args) == 1 {
		file = args[0]
	}

	if validateUniverse {
		if len(args) == 0 {
			return fmt.Errorf("no universe file provided, usage: cookbook-sync validate --universe FILE")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading %s: %w", file, err)
		}
		idx, err := catalog.Build(data)
		if err != nil {
			return fmt.Errorf("universe validation failed: %w", err)
		}
		log.Infof("universe %s is valid", file)
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d cookbooks, %d versions\n", file, len(idx.Names()), idx.Len())
		return nil
	}

	log.Infof("validating remotes file: %s", file)
	remotes, err := config.LoadRemotes(file)
	if err != nil {
		return fmt.Errorf("remotes validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d remote(s)\n", file, len(remotes))
	for _, r := range remotes {
		fmt.Fprintf(out, "  %s -> %s  policy=%s mirror=%v cookbooks=%s\n",
			r.Name, r.Repository, r.Policy, r.Mirror, r.Cookbooks)
		if verbose {
			fmt.Fprintf(out, "    url: %s/%s\n", r.URL, r.IndexPath)
			if r.SigningKey != "" {
				fmt.Fprintf(out, "    signing key: %s\n", r.SigningKey)
			}
		}
	}
	return nil
}
