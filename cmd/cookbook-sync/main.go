package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/open-edge-platform/cookbook-sync/internal/config"
	"github.com/open-edge-platform/cookbook-sync/internal/contentstore"
	"github.com/open-edge-platform/cookbook-sync/internal/pkgfetcher"
	"github.com/open-edge-platform/cookbook-sync/internal/repository"
	"github.com/open-edge-platform/cookbook-sync/internal/utils/logger"
)

// Global command flags
var (
	configFile  string
	logLevel    string
	remotesFile string
	verbose     bool
)

const defaultRemotesFile = "remotes.yml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := createRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// createRootCommand creates the root command with all subcommands
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cookbook-sync",
		Short: "Mirror Chef cookbook catalogs into versioned local repositories",
		Long: `cookbook-sync fetches the universe catalog of a Chef Supermarket style
remote, selects cookbooks from it, stores their artifacts by content and
records each sync as a new immutable repository version.

Remotes are described in a YAML file (default: remotes.yml); process settings
come from cookbook-sync.yml or the file named by $COOKBOOK_SYNC_CONFIG.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Global configuration file (default: $"+config.ConfigEnvVar+" or ./"+config.DefaultConfigFile+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&remotesFile, "remotes", defaultRemotesFile,
		"Remotes definition file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	rootCmd.AddCommand(createSyncCommand())
	rootCmd.AddCommand(createValidateCommand())
	rootCmd.AddCommand(createCatalogCommand())
	rootCmd.AddCommand(createVersionsCommand())
	rootCmd.AddCommand(createPublishCommand())
	rootCmd.AddCommand(createFetchCommand())

	attachLoggingHooks(rootCmd)
	return rootCmd
}

// attachLoggingHooks makes every subcommand load the global config and set
// up logging before it runs.
func attachLoggingHooks(root *cobra.Command) {
	for _, cmd := range root.Commands() {
		cmd.PersistentPreRunE = initializeCommand
	}
}

func initializeCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadGlobalConfig(config.ResolveConfigPath(configFile))
	if err != nil {
		return err
	}
	config.GlConfig = cfg

	level := resolveRequestedLogLevel(cmd)
	if level == "" {
		level = cfg.Logging.Level
	}
	if _, err := logger.Setup(level); err != nil {
		return err
	}
	logger.Logger().Debugf("log level %s, store %s, %d workers", logger.Level(), cfg.StoreDir, cfg.Workers)
	return nil
}

// resolveRequestedLogLevel returns the level asked for on the command line:
// --log-level wins, then --verbose means debug. Empty means "use config".
func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if logLevel != "" {
		return logLevel
	}
	if cmd == nil {
		return ""
	}
	if flagSetTo(cmd.Flags(), "verbose") {
		return "debug"
	}
	return ""
}

// flagSetTo reports whether a bool flag was given and is true.
func flagSetTo(fs *pflag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	if f == nil || !f.Changed {
		return false
	}
	v, err := fs.GetBool(name)
	return err == nil && v
}

// openStores opens the content store and the version store below the
// configured store directory.
func openStores() (*contentstore.Store, *repository.Store, error) {
	helpers := config.NewConfigHelpers(config.GlConfig)
	storeDir, err := helpers.CreateStoreDir()
	if err != nil {
		return nil, nil, fmt.Errorf("preparing store directory: %w", err)
	}
	content := contentstore.NewOS(filepath.Join(storeDir, "content"))
	versions := repository.NewStore(osfs.New(filepath.Join(storeDir, "repositories")))
	return content, versions, nil
}

func newDownloader() *pkgfetcher.Downloader {
	fetch := config.GlConfig.Fetch
	return pkgfetcher.NewDownloader(pkgfetcher.Config{
		Attempts:        fetch.Attempts,
		InitialInterval: fetch.InitialInterval.Std(),
		Timeout:         fetch.Timeout.Std(),
	})
}

func loadRemote(name string) (config.RemoteSpec, error) {
	remotes, err := config.LoadRemotes(remotesFile)
	if err != nil {
		return config.RemoteSpec{}, err
	}
	return config.FindRemote(remotes, name)
}

func writeJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

func checkFormat(format string) error {
	switch format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("invalid --format %q (expected text|json)", format)
	}
}
