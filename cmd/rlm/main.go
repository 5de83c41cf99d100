// Command rlm runs navigation scripts against recorded conversations.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rlmrepl/internal/config"
	"rlmrepl/internal/logging"
)

var (
	// Global flags
	cfgPath        string
	verbose        bool
	timeout        time.Duration
	transcriptPath string
	dbPath         string
	sessionID      string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rlm",
	Short: "rlm - sandboxed conversation navigation",
	Long: `rlm stores a conversation as structured memory and runs short Go
scripts against it inside a sandbox. Scripts call capabilities such as
find_messages, summarize_range and analyze_subsection and assign the
reserved variable result.

Conversations come from a JSONL transcript (--transcript) or a SQLite
transcript database (--db, --session).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if verbose {
			loaded.Logging.Level = "debug"
		}
		if dbPath != "" {
			loaded.Transcript.DatabasePath = dbPath
		}
		if err := logging.Initialize(loaded.Logging); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		logger = logging.Get(logging.CategoryBoot)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "rlm.yaml", "Config file (defaults apply when missing)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "Overall command timeout")
	rootCmd.PersistentFlags().StringVarP(&transcriptPath, "transcript", "t", "", "JSONL transcript to load")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite transcript database")
	rootCmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "", "Session to load (default: most recent in --db)")

	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(navCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
