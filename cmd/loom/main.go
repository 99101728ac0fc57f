// Command loom keeps a local project tree and a remote database in step.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomnotes/loom/internal/config"
	"github.com/loomnotes/loom/internal/logging"
)

var (
	v       = config.NewViper()
	cfgFile string

	// Set by the root PersistentPreRunE.
	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Sync writing projects between local files and a remote database",
	Long: `loom reconciles a tree of local project directories with a remote
relational database.

Each project directory holds a project.json index and one JSON file per
chapter, note, reference and lore item, plus a timeline.json. loom pushes
local changes to the remote store, deletes remote projects that no longer
exist locally, and pulls remote projects back into local files.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
		&cobra.Group{ID: "maint", Title: "Maintenance Commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./loom.toml or $XDG_CONFIG_HOME/loom/loom.toml)")
	flags.String("root", "", "project root directory")
	flags.String("dsn", "", "remote database DSN")
	flags.Int64("creator", 0, "authenticated creator id")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("log-file", "", "log to a rotated file instead of stderr")

	bindFlag("local.root", "root")
	bindFlag("remote.dsn", "dsn")
	bindFlag("session.creator_id", "creator")
	bindFlag("log.level", "log-level")
	bindFlag("log.format", "log-format")
	bindFlag("log.file", "log-file")
}

func bindFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// bindLocal binds a command's own flag to a config key.
func bindLocal(cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

func setup(cmd *cobra.Command, args []string) error {
	if cmd.Annotations["skipConfig"] == "true" {
		return nil
	}

	loaded, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	logger, err = logging.New(logging.Config{
		File:       cfg.Log.File,
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return err
	}
	logger.Debug("config loaded", "file", v.ConfigFileUsed(), "root", cfg.Local.Root)
	return nil
}

// exit reports err and exits. An exitError carries its own status and has
// already been reported through the command's output.
func exit(err error) {
	if logger != nil {
		_ = logger.Close()
	}
	var code exitError
	if errors.As(err, &code) {
		os.Exit(code.code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
