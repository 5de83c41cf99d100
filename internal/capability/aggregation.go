package capability

import (
	"rlmrepl/internal/conversation"
)

// SummarizeRange returns the memoized summary of messages[start:end].
func (s *Scope) SummarizeRange(start, end int) string {
	return guard(s.ctx, s.reg.governor, "summarize_range", func() string {
		return s.reg.store.SummarizeRange(start, end)
	})
}

// AggregateFacts returns every mined fact.
func (s *Scope) AggregateFacts() []conversation.Fact {
	return guardList(s.ctx, s.reg.governor, "aggregate_facts", s.reg.store.Facts)
}

// ExtractEntities returns entity occurrence counts.
func (s *Scope) ExtractEntities() map[string]int {
	return guard(s.ctx, s.reg.governor, "extract_entities", s.reg.store.Entities)
}

// GetTimeline returns the per-message timeline.
func (s *Scope) GetTimeline() []conversation.TimelineEntry {
	return guardList(s.ctx, s.reg.governor, "get_timeline", s.reg.store.Timeline)
}

// GetTopics returns the topN most frequent topics (default 10).
func (s *Scope) GetTopics(topN ...int) []conversation.TopicCount {
	n := 10
	if len(topN) > 0 {
		n = topN[0]
	}
	if n < 0 {
		n = 0
	}
	return guardList(s.ctx, s.reg.governor, "get_topics", func() []conversation.TopicCount {
		return s.reg.store.TopTopics(n)
	})
}
