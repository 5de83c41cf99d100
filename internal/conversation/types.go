// Package conversation owns the structured in-memory record of a session:
// messages, mined facts, entity and topic tables, the timeline and the
// memoized range-summary cache.
package conversation

import (
	"time"
)

// TimestampLayout renders timestamps for string comparison (filter_by_date).
// Fixed width, UTC, no zone suffix.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Role values used by the extraction pipeline. Any string is accepted as a role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one conversation turn. ID equals its index in the store.
type Message struct {
	ID        int                    `json:"id"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp string                 `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata"`
	Tokens    int                    `json:"tokens"`
}

// Fact is a sentence mined from a message.
type Fact struct {
	Text       string  `json:"text"`
	Role       string  `json:"role"`
	Timestamp  string  `json:"timestamp"`
	MessageID  int     `json:"message_id"`
	Confidence float64 `json:"confidence"`
}

// TimelineEntry is the per-message digest kept in message order.
type TimelineEntry struct {
	MessageID int    `json:"message_id"`
	Timestamp string `json:"timestamp"`
	Role      string `json:"role"`
	Summary   string `json:"summary"`
}

// TopicCount pairs a topic word with its occurrence count.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// Metadata describes the conversation as a whole.
type Metadata struct {
	StartTime  string       `json:"start_time"`
	TotalTurns int          `json:"total_turns"`
	Topics     []TopicCount `json:"topics"`
}

func (m Message) clone() Message {
	if m.Metadata != nil {
		m.Metadata = copyMap(m.Metadata)
	}
	return m
}

func copyMap(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = copyValue(v)
	}
	return dst
}

// copyValue deep-copies the container shapes JSON-like metadata is built from.
func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if t == nil {
			return t
		}
		return copyMap(t)
	case []interface{}:
		if t == nil {
			return t
		}
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case map[string]string:
		if t == nil {
			return t
		}
		out := make(map[string]string, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []int:
		return append([]int(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	case []map[string]interface{}:
		if t == nil {
			return t
		}
		out := make([]map[string]interface{}, len(t))
		for i, e := range t {
			if e != nil {
				out[i] = copyMap(e)
			}
		}
		return out
	}
	return v
}

const timelineSummaryLen = 100

func timelineSummary(content string) string {
	r := []rune(content)
	if len(r) <= timelineSummaryLen {
		return content
	}
	return string(r[:timelineSummaryLen]) + "..."
}
