package main

import (
	"github.com/spf13/cobra"

	"github.com/pthm/stillsuit/internal/cli"
)

var (
	// Global state set during PersistentPreRunE
	cfg        *cli.Config
	configPath string

	// Persistent flags
	cfgFile string
	verbose int
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "stillsuit",
	Short: "Query tree resolution over declared data models",
	Long: `stillsuit - Query tree resolution over declared data models

Stillsuit lowers declarative read/write operations into query trees,
rewrites them through tokenization, authorization and static evaluation,
and executes whatever remains against a storage backend.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help/completion/version commands
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, configPath, err = cli.LoadConfig(cfgFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}

		return nil
	},
	SilenceUsage:  true, // Don't show usage on errors
	SilenceErrors: true, // We handle errors ourselves
}

// Command group IDs
const (
	groupModel   = "model"
	groupData    = "data"
	groupUtility = "utility"
)

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: auto-discover stillsuit.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase verbosity (can be repeated)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")

	// Define command groups
	rootCmd.AddGroup(
		&cobra.Group{ID: groupModel, Title: "Model:"},
		&cobra.Group{ID: groupData, Title: "Data:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	// Model commands
	validateCmd.GroupID = groupModel
	explainCmd.GroupID = groupModel
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(explainCmd)

	// Data commands
	runCmd.GroupID = groupData
	migrateCmd.GroupID = groupData
	loadCmd.GroupID = groupData
	doctorCmd.GroupID = groupData
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(doctorCmd)

	// Utility commands
	versionCmd.GroupID = groupUtility
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		cli.ExitWithError(err)
	}
}

// resolveString returns the first non-empty string from the provided values.
// Used to implement precedence: flag > config > default.
func resolveString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveBool returns true if any of the provided values is true.
// Used for boolean flags where any true value should win.
func resolveBool(values ...bool) bool {
	for _, v := range values {
		if v {
			return true
		}
	}
	return false
}
