package repl

import (
	"rlmrepl/internal/conversation"
	"rlmrepl/internal/stats"
)

// Context snapshot window sizes.
const (
	contextMessages = 50
	contextFacts    = 20
	contextEntities = 20
	contextTimeline = 30
	contextTopics   = 20
)

// ContextSnapshot is a bounded view of the session for display or prompting.
type ContextSnapshot struct {
	Session  string                       `json:"session"`
	Messages []conversation.Message       `json:"messages"`
	Facts    []conversation.Fact          `json:"facts"`
	Entities map[string]int               `json:"entities"`
	Timeline []conversation.TimelineEntry `json:"timeline"`
	Metadata conversation.Metadata        `json:"metadata"`
	Stats    stats.Snapshot               `json:"stats"`
}

// GetContext returns the most recent messages, facts and timeline entries,
// the top entities, conversation metadata and stats.
func (m *Manager) GetContext() ContextSnapshot {
	return ContextSnapshot{
		Session:  m.ID(),
		Messages: tail(m.store.Messages(), contextMessages),
		Facts:    tail(m.store.Facts(), contextFacts),
		Entities: m.store.TopEntities(contextEntities),
		Timeline: tail(m.store.Timeline(), contextTimeline),
		Metadata: m.store.Metadata(contextTopics),
		Stats:    m.GetStats(),
	}
}

func tail[T any](items []T, n int) []T {
	if len(items) > n {
		return items[len(items)-n:]
	}
	return items
}
