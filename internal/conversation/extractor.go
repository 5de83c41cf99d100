package conversation

import (
	"regexp"
	"strings"
)

// Extraction is what an Extractor mines from one message.
type Extraction struct {
	Facts    []string
	Entities []string
	Topics   []string
}

// Extractor mines facts, entities and topics from message content.
type Extractor interface {
	Extract(content string) Extraction
}

var (
	sentenceSplit = regexp.MustCompile(`[.!?]+`)
	factVerb      = regexp.MustCompile(`(?i)\b(is|are|was|were|has|have|shows|indicates)\b`)
	entityPattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)
	topicPattern  = regexp.MustCompile(`\b\w{4,}\b`)
)

var entityStopwords = map[string]struct{}{
	"The": {}, "This": {}, "That": {}, "These": {}, "Those": {},
	"When": {}, "Where": {}, "What": {}, "Why": {}, "How": {},
	"Which": {}, "Who": {},
}

var topicStopwords = map[string]struct{}{
	"this": {}, "that": {}, "with": {}, "from": {}, "have": {},
	"will": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"about": {}, "their": {}, "there": {},
}

const (
	minFactLen = 20
	maxFactLen = 200
)

// HeuristicExtractor is the regex-based default Extractor. Results are
// approximations, not NLP.
type HeuristicExtractor struct{}

// Extract implements Extractor.
func (HeuristicExtractor) Extract(content string) Extraction {
	return Extraction{
		Facts:    extractFacts(content),
		Entities: extractEntities(content),
		Topics:   extractTopics(content),
	}
}

func extractFacts(content string) []string {
	var facts []string
	for _, s := range sentenceSplit.Split(content, -1) {
		s = strings.TrimSpace(s)
		if len(s) < minFactLen || len(s) >= maxFactLen {
			continue
		}
		if factVerb.MatchString(s) {
			facts = append(facts, s)
		}
	}
	return facts
}

func extractEntities(content string) []string {
	var entities []string
	for _, m := range entityPattern.FindAllString(content, -1) {
		if _, stop := entityStopwords[m]; stop || len(m) <= 2 {
			continue
		}
		entities = append(entities, m)
	}
	return entities
}

func extractTopics(content string) []string {
	var topics []string
	for _, w := range topicPattern.FindAllString(strings.ToLower(content), -1) {
		if _, stop := topicStopwords[w]; stop {
			continue
		}
		topics = append(topics, w)
	}
	return topics
}
