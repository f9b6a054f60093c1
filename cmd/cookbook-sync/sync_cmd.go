package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/open-edge-platform/cookbook-sync/internal/config"
	"github.com/open-edge-platform/cookbook-sync/internal/syncengine"
	"github.com/open-edge-platform/cookbook-sync/internal/utils/logger"
)

// Sync command flags
var (
	syncFormat    string
	syncReportDir string
	syncPolicy    string
	syncMirror    bool
)

// createSyncCommand creates the sync subcommand
func createSyncCommand() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync [flags] [REMOTE...]",
		Short: "Sync remotes into their repositories",
		Long: `Sync fetches each remote's catalog, resolves its cookbook selection,
identifies and stores the selected units and publishes a new repository
version. Without arguments every remote in the remotes file is synced.`,
		RunE:              executeSync,
		ValidArgsFunction: remoteNameCompletion,
	}

	syncCmd.Flags().StringVar(&syncFormat, "format", "text", "Output format: text or json")
	syncCmd.Flags().StringVar(&syncReportDir, "report-dir", "",
		"Directory for the list of fetched urls (default: <temp_dir>/cookbook-sync)")
	syncCmd.Flags().StringVar(&syncPolicy, "policy", "",
		"Override the download policy: immediate, on_demand or streamed")
	syncCmd.Flags().BoolVar(&syncMirror, "mirror", false,
		"Override the remotes' mirror setting")
	return syncCmd
}

// executeSync handles the sync command logic
func executeSync(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	if err := checkFormat(syncFormat); err != nil {
		return err
	}

	remotes, err := config.LoadRemotes(remotesFile)
	if err != nil {
		return err
	}
	selected, err := selectRemotes(remotes, args)
	if err != nil {
		return err
	}
	for i := range selected {
		if syncPolicy != "" {
			selected[i].Policy = config.Policy(syncPolicy)
		}
		if cmd.Flags().Changed("mirror") {
			selected[i].Mirror = syncMirror
		}
		if err := selected[i].Validate(); err != nil {
			return err
		}
	}

	content, versions, err := openStores()
	if err != nil {
		return err
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
	if err := content.CleanTemp(); err != nil {
		log.Warnf("cleaning store temp files: %v", err)
	}
	engine := syncengine.New(syncengine.Options{
		Downloader: newDownloader(),
		Content:    content,
		Versions:   versions,
		Workers:    config.GlConfig.Workers,
		Progress:   cmd.ErrOrStderr(),
	})

	var (
		reports []*syncengine.Report
		failed  []string
	)
	for _, remote := range selected {
		log.Infof("syncing remote %s into %s (%s)", remote.Name, remote.Repository, remote.Policy)
		report, err := engine.Sync(cmd.Context(), remote)
		reports = append(reports, report)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", remote.Name, err))
			if cmd.Context().Err() != nil {
				break
			}
		}
	}

	if err := writeFetchedURLs(); err != nil {
		log.Warnf("writing fetched url report: %v", err)
	}

	if syncFormat == "json" {
		if err := writeJSON(cmd, reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			r.WriteText(cmd.OutOrStdout())
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("sync failed for %d remote(s): %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}

func selectRemotes(remotes []config.RemoteSpec, names []string) ([]config.RemoteSpec, error) {
	if len(names) == 0 {
		if len(remotes) == 0 {
			return nil, fmt.Errorf("no remotes defined in %s", remotesFile)
		}
		return append([]config.RemoteSpec(nil), remotes...), nil
	}
	out := make([]config.RemoteSpec, 0, len(names))
	for _, name := range names {
		r, err := config.FindRemote(remotes, name)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// writeFetchedURLs stores the urls fetched by this process next to the
// other run artifacts.
func writeFetchedURLs() error {
	dir := syncReportDir
	if dir == "" {
		var err error
		dir, err = config.NewConfigHelpers(config.GlConfig).CreateTempDir("cookbook-sync")
		if err != nil {
			return err
		}
	}
	reportPath, err := logger.GlobalStringListReport.WriteListToFile(osfs.New(dir), ".")
	if err != nil {
		return err
	}
	logger.Logger().Infof("fetched url list written to %s", filepath.Join(dir, reportPath))
	return nil
}

// remoteNameCompletion completes remote names from the remotes file.
func remoteNameCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	remotes, err := config.LoadRemotes(remotesFile)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var names []string
	for _, r := range remotes {
		if strings.HasPrefix(r.Name, toComplete) {
			names = append(names, r.Name)
		}
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
