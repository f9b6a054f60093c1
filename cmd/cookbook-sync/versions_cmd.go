package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/cookbook-sync/internal/repository"
)

var versionsFormat string

// createVersionsCommand creates the versions subcommand
func createVersionsCommand() *cobra.Command {
	versionsCmd := &cobra.Command{
		Use:   "versions [flags] REPOSITORY [NUMBER]",
		Short: "List repository versions or show one",
		Long: `Versions lists the committed versions of REPOSITORY with their
additions and removals. Given NUMBER it shows the units of that version;
"latest" selects the newest one.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: executeVersions,
	}

	versionsCmd.Flags().StringVar(&versionsFormat, "format", "text", "Output format: text or json")
	return versionsCmd
}

// executeVersions handles the versions command logic
func executeVersions(cmd *cobra.Command, args []string) error {
	if err := checkFormat(versionsFormat); err != nil {
		return err
	}
	_, versions, err := openStores()
	if err != nil {
		return err
	}
	repo := args[0]

	if len(args) == 2 {
		v, err := lookupVersion(versions, repo, args[1])
		if err != nil {
			return err
		}
		if versionsFormat == "json" {
			return writeJSON(cmd, v)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s version %d (base %d, %s)\n", v.Repository, v.Number, v.Base, v.CreatedAt.Format("2006-01-02 15:04:05"))
		for _, u := range v.Units {
			fmt.Fprintf(out, "  %-24s %-12s %-6s %s\n", u.Name, u.Version, u.ContentID().Type(), u.RelativePath())
		}
		return nil
	}

	numbers, err := versions.List(repo)
	if err != nil {
		return err
	}
	var all []*repository.Version
	for _, n := range numbers {
		v, err := versions.Get(repo, n)
		if err != nil {
			return err
		}
		all = append(all, v)
	}
	if versionsFormat == "json" {
		return writeJSON(cmd, all)
	}
	out := cmd.OutOrStdout()
	if len(all) == 0 {
		fmt.Fprintf(out, "%s has no versions\n", repo)
		return nil
	}
	for _, v := range all {
		fmt.Fprintf(out, "%4d  %s  %3d units  +%d -%d\n",
			v.Number, v.CreatedAt.Format("2006-01-02 15:04:05"), len(v.Units), len(v.Added), len(v.Removed))
	}
	return nil
}

// lookupVersion resolves a version argument: a number or "latest".
func lookupVersion(versions *repository.Store, repo, arg string) (*repository.Version, error) {
	if arg == "" || arg == "latest" {
		return versions.Latest(repo)
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid version %q (expected a number or latest)", arg)
	}
	return versions.Get(repo, n)
}
