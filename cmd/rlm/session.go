package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"rlmrepl/internal/config"
	"rlmrepl/internal/repl"
	"rlmrepl/internal/transcript"
)

// openManager builds a manager and restores the conversation named by the
// global --transcript, or --db and --session, flags.
func openManager(ctx context.Context) (*repl.Manager, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runCfg := *cfg
	runCfg.Transcript.Enabled = false

	m, err := repl.New(&runCfg)
	if err != nil {
		return nil, err
	}

	switch {
	case transcriptPath != "":
		n, err := m.Restore(ctx, transcript.JSONLFile{Path: transcriptPath}, sessionID)
		if err != nil {
			return nil, err
		}
		logger.Debug("Loaded transcript", zap.String("path", transcriptPath), zap.Int("messages", n))
	case dbPath != "":
		db, err := transcript.NewSQLite(dbPath, logger)
		if err != nil {
			return nil, err
		}
		defer db.Close()

		session := sessionID
		if session == "" {
			sessions, err := db.Sessions(ctx)
			if err != nil {
				return nil, err
			}
			if len(sessions) == 0 {
				return nil, fmt.Errorf("no sessions recorded in %s", dbPath)
			}
			session = sessions[0].ID
		}
		n, err := m.Restore(ctx, db, session)
		if err != nil {
			return nil, err
		}
		logger.Debug("Loaded session", zap.String("session", session), zap.Int("messages", n))
	}
	return m, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
