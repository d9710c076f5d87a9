package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/notionwidgets/internal/config"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "notionwidgets",
		Short:         "Local-first sync engine publishing Notion data to home-screen widgets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig()
		},
	}

	setupFlags(root)

	root.AddCommand(
		newServeCmd(),
		newCredentialCmd(),
		newSyncCmd(),
		newSweepCmd(),
		newReconcileCmd(),
		newWatchCmd(),
	)
	return root
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("db-path", defaults.GetString("db.path"), "SQLite database path")
	flags.String("shared-dir", defaults.GetString("shared.dir"), "Directory of the shared widget store")
	flags.String("listen-addr", defaults.GetString("http.listen_addr"), "Control API listen address")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-file", defaults.GetString("log.file"), "Rotated log file (stderr when empty)")
	flags.Duration("sync-interval", defaults.GetDuration("sync.interval"), "Time between scheduled refresh runs")

	bindFlag(cmd, "db.path", "db-path")
	bindFlag(cmd, "shared.dir", "shared-dir")
	bindFlag(cmd, "http.listen_addr", "listen-addr")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "sync.interval", "sync-interval")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile == "" {
		return nil
	}

	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return fmt.Errorf("config file %s not found: %w", cfgFile, err)
		}
		return fmt.Errorf("read config file %s: %w", cfgFile, err)
	}
	return nil
}
