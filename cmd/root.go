package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/claims-router/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "claims-router",
	Short: "Routing and verification engine for photo-based vehicle claims",
	Long: "Assesses claim photos with Claude, routes each claim to auto-approval, human review or escalation " +
		"under tunable controls, and records every AI stage and human action in a hash-chained audit log.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// loadConfig runs before every command. Flags win over file and env.
func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "load config")
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		c.Log.Level = f.Value.String()
	}
	if f := cmd.Flags().Lookup("database-url"); f != nil && f.Changed {
		c.Store.DatabaseURL = f.Value.String()
	}
	cfg = c

	if err := config.InitLogger(cfg.Log); err != nil {
		return eris.Wrap(err, "init logger")
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("database-url", "", "override store.database_url")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
