package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rlmrepl/internal/config"
	"rlmrepl/internal/sandbox"
	"rlmrepl/internal/transcript"
)

var checkCode string

var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Statically validate a script without running it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

var importCmd = &cobra.Command{
	Use:   "import <transcript.jsonl>",
	Short: "Import a JSONL transcript into the SQLite database",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions recorded in the SQLite database",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var exportCmd = &cobra.Command{
	Use:   "export <session>",
	Short: "Write a recorded session to standard output as JSONL",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var deleteSessionCmd = &cobra.Command{
	Use:   "delete <session>",
	Short: "Delete a recorded session",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteSession,
}

func init() {
	checkCmd.Flags().StringVar(&checkCode, "code", "", "Script source")
	sessionsCmd.AddCommand(deleteSessionCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	code := checkCode
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		code = string(data)
	}

	replCfg := config.DefaultREPLConfig()
	if cfg != nil {
		replCfg = cfg.REPL
	}
	v, err := sandbox.NewValidator(replCfg, logger)
	if err != nil {
		return err
	}

	report := v.Validate(code)
	if report.OK() {
		fmt.Fprintf(cmd.OutOrStdout(), "ok (%d facts)\n", report.Facts)
		return nil
	}
	for _, violation := range report.Violations {
		fmt.Fprintln(cmd.OutOrStdout(), violation.String())
	}
	return report.Err()
}

func openDB() (*transcript.SQLite, error) {
	path := dbPath
	if path == "" && cfg != nil {
		path = cfg.Transcript.DatabasePath
	}
	if path == "" {
		return nil, fmt.Errorf("no transcript database: pass --db")
	}
	return transcript.NewSQLite(path, logger)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	session := sessionID
	if session == "" {
		session = uuid.NewString()
	}

	msgs, err := transcript.JSONLFile{Path: args[0]}.Load(ctx, sessionID)
	if err != nil {
		return err
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	for _, msg := range msgs {
		if err := db.Record(ctx, session, msg); err != nil {
			return fmt.Errorf("record message %d: %w", msg.ID, err)
		}
	}
	if logger != nil {
		logger.Info("Imported transcript", zap.String("session", session), zap.Int("messages", len(msgs)))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d messages into session %s\n", len(msgs), session)
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := db.Sessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tMESSAGES\tFIRST\tLAST")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", s.ID, s.Messages, formatTime(s.First), formatTime(s.Last))
	}
	return w.Flush()
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	msgs, err := db.Load(ctx, args[0])
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("session %s not found", args[0])
	}
	return transcript.WriteJSONL(cmd.OutOrStdout(), args[0], msgs)
}

func runDeleteSession(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}

func formatTime(s string) string {
	t, ok := transcript.ParseTimestamp(s)
	if !ok {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}
