package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/loomnotes/loom/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Manage loom configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default loom.toml",
	Long: `Write a commented loom.toml holding every setting at its default.

Without a path the file is written to ./loom.toml.`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{"skipConfig": "true"},
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		path := config.FileName + ".toml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteDefault(path, force); err != nil {
			exit(err)
		}
		abs, _ := filepath.Abs(path)
		fmt.Printf("Wrote %s\n", abs)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		shown := *cfg
		if shown.Remote.AuthToken != "" {
			shown.Remote.AuthToken = "********"
		}
		data, err := config.Encode(shown)
		if err != nil {
			exit(err)
		}
		if used := v.ConfigFileUsed(); used != "" {
			fmt.Printf("# loaded from %s\n", used)
		}
		_, _ = os.Stdout.Write(data)
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
