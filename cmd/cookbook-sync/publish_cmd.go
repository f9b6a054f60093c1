package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/cookbook-sync/internal/config"
	"github.com/open-edge-platform/cookbook-sync/internal/publish"
	"github.com/open-edge-platform/cookbook-sync/internal/utils/logger"
)

// Publish command flags
var (
	publishVersion  string
	publishBasePath string
	publishOutput   string
)

// createPublishCommand creates the publish subcommand
func createPublishCommand() *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish [flags] REPOSITORY",
		Short: "Render a repository version as a universe document",
		Long: `Publish renders the universe document for a version of REPOSITORY.
Download urls point below the base url built from content.host,
content.path_prefix and --base-path (default: the repository name).`,
		Args: cobra.ExactArgs(1),
		RunE: executePublish,
	}

	publishCmd.Flags().StringVar(&publishVersion, "version", "latest", "Version number to publish")
	publishCmd.Flags().StringVar(&publishBasePath, "base-path", "", "Distribution base path")
	publishCmd.Flags().StringVar(&publishOutput, "output", "", "Output file path (default: stdout)")
	return publishCmd
}

// executePublish handles the publish command logic
func executePublish(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	repo := args[0]

	_, versions, err := openStores()
	if err != nil {
		return err
	}
	v, err := lookupVersion(versions, repo, publishVersion)
	if err != nil {
		return err
	}

	basePath := publishBasePath
	if basePath == "" {
		basePath = repo
	}
	content := config.GlConfig.Content
	baseURL := publish.BaseURL(content.Host, content.PathPrefix, basePath)

	doc, err := publish.Universe(v, baseURL)
	if err != nil {
		return err
	}
	if publishOutput == "" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), string(doc))
		return err
	}
	if err := os.WriteFile(publishOutput, append(doc, '\n'), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", publishOutput, err)
	}
	log.Infof("published %s version %d at %s to %s", repo, v.Number, baseURL, publishOutput)
	return nil
}
