package conversation

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultFactConfidence is attached to every heuristically mined fact.
const DefaultFactConfidence = 0.7

// Store is the append-only conversation record. All reads return copies.
type Store struct {
	mu sync.RWMutex

	messages    []Message
	facts       []Fact
	entities    map[string]int
	entityOrder []string
	topics      map[string]int
	topicOrder  []string
	timeline    []TimelineEntry
	summaries   map[string]string
	startTime   string

	extractor  Extractor
	counter    TokenCounter
	now        func() time.Time
	confidence float64
	logger     *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithExtractor replaces the heuristic extractor.
func WithExtractor(e Extractor) Option {
	return func(s *Store) {
		if e != nil {
			s.extractor = e
		}
	}
}

// WithTokenCounter replaces the len/4 token estimate.
func WithTokenCounter(c TokenCounter) Option {
	return func(s *Store) {
		if c != nil {
			s.counter = c
		}
	}
}

// WithClock injects the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithFactConfidence overrides the confidence tagged on mined facts.
func WithFactConfidence(c float64) Option {
	return func(s *Store) { s.confidence = c }
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		extractor:  HeuristicExtractor{},
		counter:    HeuristicCounter{},
		now:        time.Now,
		confidence: DefaultFactConfidence,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resetLocked()
	return s
}

func (s *Store) resetLocked() {
	s.messages = nil
	s.facts = nil
	s.entities = make(map[string]int)
	s.entityOrder = nil
	s.topics = make(map[string]int)
	s.topicOrder = nil
	s.timeline = nil
	s.summaries = make(map[string]string)
	s.startTime = FormatTimestamp(s.now())
}

// Add appends a message stamped with the store clock.
func (s *Store) Add(role, content string, metadata map[string]interface{}) Message {
	return s.AddRecord(role, content, s.now(), metadata)
}

// AddRecord appends a message with a caller-supplied timestamp and runs
// extraction for user and assistant turns.
func (s *Store) AddRecord(role, content string, ts time.Time, metadata map[string]interface{}) Message {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	stamp := FormatTimestamp(ts)

	var ex Extraction
	mined := role == RoleUser || role == RoleAssistant
	if mined {
		ex = s.extractor.Extract(content)
	}
	tokens := s.counter.Count(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := Message{
		ID:        len(s.messages),
		Role:      role,
		Content:   content,
		Timestamp: stamp,
		Metadata:  metadata,
		Tokens:    tokens,
	}.clone()
	s.messages = append(s.messages, msg)

	if mined {
		for _, text := range ex.Facts {
			s.facts = append(s.facts, Fact{
				Text:       text,
				Role:       role,
				Timestamp:  stamp,
				MessageID:  msg.ID,
				Confidence: s.confidence,
			})
		}
		for _, e := range ex.Entities {
			if s.entities[e] == 0 {
				s.entityOrder = append(s.entityOrder, e)
			}
			s.entities[e]++
		}
		for _, t := range ex.Topics {
			if s.topics[t] == 0 {
				s.topicOrder = append(s.topicOrder, t)
			}
			s.topics[t]++
		}
	}

	s.timeline = append(s.timeline, TimelineEntry{
		MessageID: msg.ID,
		Timestamp: stamp,
		Role:      role,
		Summary:   timelineSummary(content),
	})

	s.logger.Debug("Message added",
		zap.Int("id", msg.ID),
		zap.String("role", role),
		zap.Int("facts", len(ex.Facts)),
		zap.Int("entities", len(ex.Entities)),
		zap.Int("tokens", tokens))

	return msg.clone()
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Messages returns a copy of every message in insertion order.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sliceLocked(0, len(s.messages))
}

// Message returns the message at idx.
func (s *Store) Message(idx int) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx < 0 || idx >= len(s.messages) {
		return Message{}, false
	}
	return s.messages[idx].clone(), true
}

// Slice returns copies of messages[start:end] with both bounds clamped to [0, Len].
func (s *Store) Slice(start, end int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sliceLocked(start, end)
}

func (s *Store) sliceLocked(start, end int) []Message {
	n := len(s.messages)
	start = clamp(start, 0, n)
	end = clamp(end, 0, n)
	if start >= end {
		return []Message{}
	}
	out := make([]Message, 0, end-start)
	for _, m := range s.messages[start:end] {
		out = append(out, m.clone())
	}
	return out
}

// Filter returns copies of the messages for which keep is true, in order.
func (s *Store) Filter(keep func(Message) bool) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Message{}
	for _, m := range s.messages {
		if keep(m) {
			out = append(out, m.clone())
		}
	}
	return out
}

// Count returns the number of messages, or of those with role when non-empty.
func (s *Store) Count(role string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if role == "" {
		return len(s.messages)
	}
	n := 0
	for _, m := range s.messages {
		if m.Role == role {
			n++
		}
	}
	return n
}

// Facts returns a copy of all mined facts.
func (s *Store) Facts() []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Fact{}, s.facts...)
}

// Entities returns a copy of the entity table.
func (s *Store) Entities() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyCounts(s.entities)
}

// TopEntities returns the n most frequent entities.
func (s *Store) TopEntities(n int) map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for _, tc := range rank(s.entities, s.entityOrder, n) {
		out[tc.Topic] = tc.Count
	}
	return out
}

// Topics returns a copy of the topic table.
func (s *Store) Topics() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyCounts(s.topics)
}

// TopTopics returns the n most frequent topics, ties in first-seen order.
func (s *Store) TopTopics(n int) []TopicCount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rank(s.topics, s.topicOrder, n)
}

// Timeline returns a copy of the timeline.
func (s *Store) Timeline() []TimelineEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TimelineEntry{}, s.timeline...)
}

// Metadata summarizes the conversation. topN bounds the topic list.
func (s *Store) Metadata(topN int) Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Metadata{
		StartTime:  s.startTime,
		TotalTurns: len(s.messages) / 2,
		Topics:     rank(s.topics, s.topicOrder, topN),
	}
}

// CachedSummary returns the stored summary for key, if any.
func (s *Store) CachedSummary(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.summaries[key]
	return v, ok
}

// CacheSize returns the number of memoized range summaries.
func (s *Store) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.summaries)
}

// ClearCache empties the summary cache.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = make(map[string]string)
}

// Reset drops all state and restarts the conversation clock.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func rank(counts map[string]int, order []string, n int) []TopicCount {
	ranked := make([]TopicCount, 0, len(order))
	for _, k := range order {
		ranked = append(ranked, TopicCount{Topic: k, Count: counts[k]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
