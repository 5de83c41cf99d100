package capability

import (
	"rlmrepl/internal/conversation"
)

// CountMessages counts all messages, or only those with role when given.
func (s *Scope) CountMessages(role ...string) int {
	r := ""
	if len(role) > 0 {
		r = role[0]
	}
	return guard(s.ctx, s.reg.governor, "count_messages", func() int {
		return s.reg.store.Count(r)
	})
}

// GetMessage returns the message at idx, or nil when idx is out of range.
func (s *Scope) GetMessage(idx int) *conversation.Message {
	return guard(s.ctx, s.reg.governor, "get_message", func() *conversation.Message {
		m, ok := s.reg.store.Message(idx)
		if !ok {
			return nil
		}
		return &m
	})
}

// SliceMessages returns messages[start:end] with bounds clamped to the conversation.
func (s *Scope) SliceMessages(start, end int) []conversation.Message {
	return guardList(s.ctx, s.reg.governor, "slice_messages", func() []conversation.Message {
		return s.reg.store.Slice(start, end)
	})
}
