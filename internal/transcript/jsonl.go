package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"rlmrepl/internal/conversation"
)

// maxLineBytes bounds one JSONL record.
const maxLineBytes = 4 << 20

type jsonlRecord struct {
	Session   string                 `json:"session,omitempty"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp string                 `json:"timestamp,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// JSONLFile reads a transcript with one JSON message per line:
//
//	{"role": "user", "content": "...", "timestamp": "...", "metadata": {...}}
//
// Lines carrying a "session" field are only returned for that session; lines
// without one belong to every session.
type JSONLFile struct {
	Path string
}

// Load implements Source.
func (f JSONLFile) Load(ctx context.Context, session string) ([]conversation.Message, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer file.Close()
	return ReadJSONL(ctx, file, session)
}

// ReadJSONL parses JSONL records from r. IDs are assigned in read order.
func ReadJSONL(ctx context.Context, r io.Reader, session string) ([]conversation.Message, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	msgs := []conversation.Message{}
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.Role == "" {
			return nil, fmt.Errorf("line %d: missing role", line)
		}
		if session != "" && rec.Session != "" && rec.Session != session {
			continue
		}
		msgs = append(msgs, conversation.Message{
			ID:        len(msgs),
			Role:      rec.Role,
			Content:   rec.Content,
			Timestamp: rec.Timestamp,
			Metadata:  rec.Metadata,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return msgs, nil
}

// WriteJSONL writes msgs as JSONL records tagged with session.
func WriteJSONL(w io.Writer, session string, msgs []conversation.Message) error {
	enc := json.NewEncoder(w)
	for _, m := range msgs {
		rec := jsonlRecord{
			Session:   session,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Metadata:  m.Metadata,
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write message %d: %w", m.ID, err)
		}
	}
	return nil
}
