package conversation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// EmptyRangeSummary is returned for ranges that select no messages.
const EmptyRangeSummary = "No messages in range"

var (
	keyPointPattern   = regexp.MustCompile(`(?:^|\n)[\*\-\d+\.]\s*([^\n]{20,100})`)
	summaryStopwords  = map[string]struct{}{"this": {}, "that": {}, "with": {}, "from": {}, "have": {}}
	maxRangeTopics    = 10
	maxKeyPointsPer   = 2
	maxKeyPointsTotal = 10
	maxSummaryItems   = 5
)

// RangeKey is the summary cache key for [start, end).
func RangeKey(start, end int) string {
	return fmt.Sprintf("%d:%d", start, end)
}

// SummarizeRange returns the memoized extractive summary of messages[start:end].
// The first call for a key computes and stores it; later calls return the
// stored string unchanged until ClearCache.
func (s *Store) SummarizeRange(start, end int) string {
	key := RangeKey(start, end)

	s.mu.RLock()
	if cached, ok := s.summaries[key]; ok {
		s.mu.RUnlock()
		return cached
	}
	msgs := s.sliceLocked(start, end)
	s.mu.RUnlock()

	summary := summarizeMessages(msgs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.summaries[key]; ok {
		return cached
	}
	s.summaries[key] = summary
	return summary
}

func summarizeMessages(msgs []Message) string {
	if len(msgs) == 0 {
		return EmptyRangeSummary
	}

	var user, assistant []Message
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			user = append(user, m)
		case RoleAssistant:
			assistant = append(assistant, m)
		}
	}

	var parts []string
	if len(user) > 0 {
		topics := RankTopics(user)
		parts = append(parts, "User asked about: "+strings.Join(head(topics, maxSummaryItems), ", "))
	}
	if len(assistant) > 0 {
		points := keyPoints(assistant)
		parts = append(parts, "Discussed: "+strings.Join(head(points, maxSummaryItems), ", "))
	}
	return strings.Join(parts, " | ")
}

// RankTopics returns up to ten frequent words (four or more letters) across
// msgs, most frequent first; ties keep first-occurrence order.
func RankTopics(msgs []Message) []string {
	counts := make(map[string]int)
	var order []string
	for _, m := range msgs {
		for _, w := range topicPattern.FindAllString(strings.ToLower(m.Content), -1) {
			if _, stop := summaryStopwords[w]; stop {
				continue
			}
			if counts[w] == 0 {
				order = append(order, w)
			}
			counts[w]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	return head(order, maxRangeTopics)
}

func keyPoints(msgs []Message) []string {
	var points []string
	for _, m := range msgs {
		matches := keyPointPattern.FindAllStringSubmatch(m.Content, -1)
		for i, match := range matches {
			if i == maxKeyPointsPer {
				break
			}
			points = append(points, strings.TrimSpace(match[1]))
		}
	}
	return head(points, maxKeyPointsTotal)
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
