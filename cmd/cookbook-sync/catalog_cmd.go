package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/spf13/cobra"

	"github.com/open-edge-platform/cookbook-sync/internal/catalog"
	"github.com/open-edge-platform/cookbook-sync/internal/pkgfetcher"
	"github.com/open-edge-platform/cookbook-sync/internal/selection"
	"github.com/open-edge-platform/cookbook-sync/internal/utils/logger"
)

// Catalog command flags
var (
	catalogFormat  string
	catalogResolve bool
	catalogSave    string
)

// createCatalogCommand creates the catalog subcommand
func createCatalogCommand() *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog [flags] REMOTE",
		Short: "Show a remote's catalog",
		Long: `Catalog fetches and decodes the universe document of REMOTE and lists
the cookbooks it offers. With --resolve only the units the remote's
cookbooks filter selects are listed, followed by unresolved entries.`,
		Args:              cobra.ExactArgs(1),
		RunE:              executeCatalog,
		ValidArgsFunction: remoteNameCompletion,
	}

	catalogCmd.Flags().StringVar(&catalogFormat, "format", "text", "Output format: text or json")
	catalogCmd.Flags().BoolVar(&catalogResolve, "resolve", false, "Apply the remote's cookbooks filter")
	catalogCmd.Flags().StringVar(&catalogSave, "save", "", "Also write the decoded catalog document to this file")
	return catalogCmd
}

type catalogLine struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	DownloadURL string `json:"download_url"`
}

// executeCatalog handles the catalog command logic
func executeCatalog(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	if err := checkFormat(catalogFormat); err != nil {
		return err
	}

	remote, err := loadRemote(args[0])
	if err != nil {
		return err
	}

	var keyring openpgp.EntityList
	if remote.SigningKey != "" {
		if keyring, err = pkgfetcher.LoadKeyRing(remote.SigningKey); err != nil {
			return err
		}
	}
	raw, err := newDownloader().FetchCatalog(cmd.Context(), remote.URL, remote.IndexPath, keyring)
	if err != nil {
		return err
	}
	idx, err := catalog.Build(raw)
	if err != nil {
		return err
	}
	if catalogSave != "" {
		if err := os.WriteFile(catalogSave, raw, 0644); err != nil {
			return fmt.Errorf("saving catalog: %w", err)
		}
		log.Infof("catalog saved to %s", catalogSave)
	}

	var (
		lines      []catalogLine
		unresolved []string
	)
	if catalogResolve {
		res := selection.Resolve(remote.Cookbooks, idx)
		for _, u := range res.Units {
			lines = append(lines, catalogLine{Name: u.Name, Version: u.Version, DownloadURL: u.DownloadURL})
		}
		for _, w := range res.Warnings {
			unresolved = append(unresolved, w.Error())
		}
	} else {
		for _, e := range idx.All() {
			lines = append(lines, catalogLine{Name: e.Name, Version: e.Version, DownloadURL: e.DownloadURL})
		}
	}

	if catalogFormat == "json" {
		return writeJSON(cmd, struct {
			Remote     string        `json:"remote"`
			Units      []catalogLine `json:"units"`
			Unresolved []string      `json:"unresolved,omitempty"`
		}{Remote: remote.Name, Units: lines, Unresolved: unresolved})
	}

	out := cmd.OutOrStdout()
	for _, name := range groupNames(lines) {
		var versions []string
		for _, l := range lines {
			if l.Name == name {
				versions = append(versions, l.Version)
			}
		}
		if latest, ok := idx.Latest(name); ok && !catalogResolve {
			fmt.Fprintf(out, "%-30s %s (latest %s)\n", name, strings.Join(versions, ", "), latest.Version)
		} else {
			fmt.Fprintf(out, "%-30s %s\n", name, strings.Join(versions, ", "))
		}
	}
	for _, u := range unresolved {
		fmt.Fprintf(out, "unresolved: %s\n", u)
	}
	return nil
}

func groupNames(lines []catalogLine) []string {
	var names []string
	for i, l := range lines {
		if i == 0 || lines[i-1].Name != l.Name {
			names = append(names, l.Name)
		}
	}
	return names
}
