package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/cookbook-sync/internal/config"
	"github.com/open-edge-platform/cookbook-sync/internal/contentstore"
	"github.com/open-edge-platform/cookbook-sync/internal/cookbook"
	"github.com/open-edge-platform/cookbook-sync/internal/syncengine"
	"github.com/open-edge-platform/cookbook-sync/internal/utils/logger"
)

// Fetch command flags
var (
	fetchVersion string
	fetchOutput  string
)

// createFetchCommand creates the fetch subcommand
func createFetchCommand() *cobra.Command {
	fetchCmd := &cobra.Command{
		Use:   "fetch [flags] REPOSITORY NAME VERSION",
		Short: "Download a unit's artifact into the content store",
		Long: `Fetch makes the artifact of cookbook NAME at VERSION, as recorded in a
repository version, available in the content store. Units synced with a
deferred policy are downloaded now and given their SHA256 identity.`,
		Args: cobra.ExactArgs(3),
		RunE: executeFetch,
	}

	fetchCmd.Flags().StringVar(&fetchVersion, "repository-version", "latest", "Repository version to read the unit from")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "Also copy the artifact to this file")
	return fetchCmd
}

// executeFetch handles the fetch command logic
func executeFetch(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	repo, name, version := args[0], args[1], args[2]

	content, versions, err := openStores()
	if err != nil {
		return err
	}
	v, err := lookupVersion(versions, repo, fetchVersion)
	if err != nil {
		return err
	}

	unit, err := pickUnit(v.Units, name, version)
	if err != nil {
		return fmt.Errorf("%s version %d: %w", repo, v.Number, err)
	}

	unlock, err := content.Lock()
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(); err != nil {
			log.Warnf("releasing store lock: %v", err)
		}
	}()

	engine := syncengine.New(syncengine.Options{
		Downloader: newDownloader(),
		Content:    content,
		Versions:   versions,
		Workers:    config.GlConfig.Workers,
		Progress:   cmd.ErrOrStderr(),
	})
	res, err := engine.Materialize(cmd.Context(), unit)
	if err != nil {
		return err
	}
	log.Infof("%s %s stored as %s (deduplicated=%v)", name, version, res.Unit.RelativePath(), res.Deduplicated)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s:%s %s\n", res.Unit.Name, res.Unit.Version,
		res.Unit.ContentID().Type(), res.Unit.ContentID().Value(), res.Unit.RelativePath())

	if fetchOutput == "" {
		return nil
	}
	return copyArtifact(content, res.Unit, fetchOutput)
}

// pickUnit prefers a unit with stored bytes over a placeholder.
func pickUnit(units []cookbook.PackageUnit, name, version string) (cookbook.PackageUnit, error) {
	var found *cookbook.PackageUnit
	for i := range units {
		u := units[i]
		if u.Name != name || u.Version != version {
			continue
		}
		if found == nil || (found.ContentID().Type() != cookbook.ContentIDSHA256 && u.ContentID().Type() == cookbook.ContentIDSHA256) {
			found = &u
		}
	}
	if found == nil {
		return cookbook.PackageUnit{}, fmt.Errorf("no unit %s %s", name, version)
	}
	return *found, nil
}

func copyArtifact(content *contentstore.Store, u cookbook.PackageUnit, dst string) error {
	rc, err := content.OpenArtifact(u)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copying artifact to %s: %w", dst, err)
	}
	return f.Close()
}
