// Package transcript persists conversation messages so a session can be
// restored into a fresh manager.
package transcript

import (
	"context"
	"time"

	"rlmrepl/internal/conversation"
)

// Recorder appends messages of a session to durable storage.
type Recorder interface {
	Record(ctx context.Context, session string, msg conversation.Message) error
}

// Source yields the messages of a session in their original order.
type Source interface {
	Load(ctx context.Context, session string) ([]conversation.Message, error)
}

// ParseTimestamp accepts the store's fixed-width layout and RFC 3339.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range []string{conversation.TimestampLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
