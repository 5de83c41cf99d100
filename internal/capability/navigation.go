package capability

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"rlmrepl/internal/conversation"
)

const defaultTopK = 10

// FindMessages returns messages whose content contains keyword literally.
// Matching is case-insensitive unless caseSensitive is passed as true.
func (s *Scope) FindMessages(keyword string, caseSensitive ...bool) []conversation.Message {
	sensitive := len(caseSensitive) > 0 && caseSensitive[0]
	return guardList(s.ctx, s.reg.governor, "find_messages", func() []conversation.Message {
		needle := keyword
		if !sensitive {
			needle = strings.ToLower(keyword)
		}
		return s.reg.store.Filter(func(m conversation.Message) bool {
			if sensitive {
				return strings.Contains(m.Content, needle)
			}
			return strings.Contains(strings.ToLower(m.Content), needle)
		})
	})
}

// FilterByRole returns messages with the given role.
func (s *Scope) FilterByRole(role string) []conversation.Message {
	return guardList(s.ctx, s.reg.governor, "filter_by_role", func() []conversation.Message {
		return s.reg.store.Filter(func(m conversation.Message) bool { return m.Role == role })
	})
}

// FilterByDate returns messages with start <= timestamp <= end, compared as strings.
func (s *Scope) FilterByDate(start, end string) []conversation.Message {
	return guardList(s.ctx, s.reg.governor, "filter_by_date", func() []conversation.Message {
		return s.reg.store.Filter(func(m conversation.Message) bool {
			return m.Timestamp >= start && m.Timestamp <= end
		})
	})
}

// Grep returns messages matching an RE2 pattern.
func (s *Scope) Grep(pattern string) []conversation.Message {
	return guardList(s.ctx, s.reg.governor, "grep", func() []conversation.Message {
		re, err := regexp.Compile(pattern)
		if err != nil {
			raisef("grep", "invalid regex pattern: %v", err)
		}
		return s.reg.store.Filter(func(m conversation.Message) bool { return re.MatchString(m.Content) })
	})
}

// SearchSemantic ranks messages by how many distinct query terms they contain.
func (s *Scope) SearchSemantic(query string, topK ...int) []conversation.Message {
	k := defaultTopK
	if len(topK) > 0 {
		k = topK[0]
	}
	return guardList(s.ctx, s.reg.governor, "search_semantic", func() []conversation.Message {
		if k <= 0 {
			return []conversation.Message{}
		}
		terms := distinctTerms(query)

		type scored struct {
			score int
			msg   conversation.Message
		}
		var hits []scored
		for _, m := range s.reg.store.Messages() {
			content := strings.ToLower(m.Content)
			score := 0
			for _, t := range terms {
				if strings.Contains(content, t) {
					score++
				}
			}
			if score > 0 {
				hits = append(hits, scored{score, m})
			}
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

		out := make([]conversation.Message, 0, k)
		for _, h := range hits {
			if len(out) == k {
				break
			}
			out = append(out, h.msg)
		}
		return out
	})
}

func distinctTerms(query string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, t := range strings.Fields(strings.ToLower(query)) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	return terms
}

// FilterByMetadata returns messages whose metadata value at a gjson path
// renders as value.
func (s *Scope) FilterByMetadata(path, value string) []conversation.Message {
	return guardList(s.ctx, s.reg.governor, "filter_by_metadata", func() []conversation.Message {
		return s.reg.store.Filter(func(m conversation.Message) bool {
			if len(m.Metadata) == 0 {
				return false
			}
			data, err := json.Marshal(m.Metadata)
			if err != nil {
				return false
			}
			r := gjson.GetBytes(data, path)
			return r.Exists() && r.String() == value
		})
	})
}
