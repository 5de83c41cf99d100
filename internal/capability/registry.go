// Package capability defines everything a sandboxed script can call. The set
// is fixed and enumerable; a Scope binds it to one execution's context.
package capability

import (
	"context"
	"reflect"
	"time"

	"go.uber.org/zap"

	"rlmrepl/internal/analysis"
	"rlmrepl/internal/config"
	"rlmrepl/internal/conversation"
)

// Group classifies capabilities.
type Group string

const (
	GroupNavigation  Group = "navigation"
	GroupAggregation Group = "aggregation"
	GroupRecursive   Group = "recursive_analysis"
	GroupUtility     Group = "utility"
	GroupPrimitive   Group = "primitive"
)

// Capability describes one script-callable function.
type Capability struct {
	Name   string // protocol name used in scripts
	Symbol string // exported Scope method
	Group  Group
	Doc    string
}

var capabilities = []Capability{
	{"find_messages", "FindMessages", GroupNavigation, "find_messages(keyword, caseSensitive...) - literal substring match"},
	{"filter_by_role", "FilterByRole", GroupNavigation, "filter_by_role(role) - messages with that role"},
	{"filter_by_date", "FilterByDate", GroupNavigation, "filter_by_date(start, end) - inclusive ISO-8601 range"},
	{"grep", "Grep", GroupNavigation, "grep(pattern) - RE2 regular expression match"},
	{"search_semantic", "SearchSemantic", GroupNavigation, "search_semantic(query, topK...) - term-overlap ranking"},
	{"filter_by_metadata", "FilterByMetadata", GroupNavigation, "filter_by_metadata(path, value) - gjson path over metadata"},
	{"summarize_range", "SummarizeRange", GroupAggregation, "summarize_range(start, end) - memoized extractive summary"},
	{"aggregate_facts", "AggregateFacts", GroupAggregation, "aggregate_facts() - all mined facts"},
	{"extract_entities", "ExtractEntities", GroupAggregation, "extract_entities() - entity counts"},
	{"get_timeline", "GetTimeline", GroupAggregation, "get_timeline() - per-message digests"},
	{"get_topics", "GetTopics", GroupAggregation, "get_topics(topN...) - most frequent topics"},
	{"analyze_subsection", "AnalyzeSubsection", GroupRecursive, "analyze_subsection(messages, prompt...) - nested analysis"},
	{"parallel_analyze", "ParallelAnalyze", GroupRecursive, "parallel_analyze(ranges) - analyze up to 10 ranges"},
	{"count_messages", "CountMessages", GroupUtility, "count_messages(role...) - message count"},
	{"get_message", "GetMessage", GroupUtility, "get_message(idx) - message or nil"},
	{"slice_messages", "SliceMessages", GroupUtility, "slice_messages(start, end) - clamped slice"},
	{"str", "Str", GroupPrimitive, "str(v) - string conversion"},
	{"to_int", "ToInt", GroupPrimitive, "to_int(v) - integer conversion"},
	{"to_float", "ToFloat", GroupPrimitive, "to_float(v) - float conversion"},
	{"sorted", "Sorted", GroupPrimitive, "sorted(list) - ascending copy"},
	{"minimum", "Minimum", GroupPrimitive, "minimum(values...) - smallest value"},
	{"maximum", "Maximum", GroupPrimitive, "maximum(values...) - largest value"},
	{"sum", "Sum", GroupPrimitive, "sum(values...) - numeric total"},
}

// Capabilities lists every script-callable function.
func Capabilities() []Capability {
	return append([]Capability{}, capabilities...)
}

// Types are the exported data types scripts may name as rlm.<Type>.
var Types = map[string]reflect.Value{
	"Message":       reflect.ValueOf((*conversation.Message)(nil)),
	"Fact":          reflect.ValueOf((*conversation.Fact)(nil)),
	"TimelineEntry": reflect.ValueOf((*conversation.TimelineEntry)(nil)),
	"TopicCount":    reflect.ValueOf((*conversation.TopicCount)(nil)),
	"Analysis":      reflect.ValueOf((*Analysis)(nil)),
	"RangeAnalysis": reflect.ValueOf((*RangeAnalysis)(nil)),
}

// Registry owns the shared collaborators capabilities run against.
type Registry struct {
	store     *conversation.Store
	view      *conversation.View
	backend   analysis.Backend
	recursion *RecursionController
	governor  *Governor
	workers   int
	maxRanges int
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithBackend injects the nested analysis backend.
func WithBackend(b analysis.Backend) Option {
	return func(r *Registry) {
		if b != nil {
			r.backend = b
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock injects the time source for analysis timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a registry over store with the given limits.
func NewRegistry(store *conversation.Store, cfg config.REPLConfig, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		view:      conversation.NewView(store),
		backend:   analysis.Local{},
		recursion: NewRecursionController(cfg.MaxRecursionDepth),
		workers:   cfg.ParallelWorkers,
		maxRanges: cfg.MaxParallelRanges,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers < 1 {
		r.workers = 1
	}
	if r.maxRanges < 1 {
		r.maxRanges = 10
	}
	r.governor = NewGovernor(cfg, r.logger)
	return r
}

// Recursion returns the shared recursion controller.
func (r *Registry) Recursion() *RecursionController { return r.recursion }

// Governor returns the shared execution governor.
func (r *Registry) Governor() *Governor { return r.governor }

// Backend returns the injected analysis backend.
func (r *Registry) Backend() analysis.Backend { return r.backend }

// Bind returns the callables for one execution running under ctx.
func (r *Registry) Bind(ctx context.Context) *Scope {
	return &Scope{ctx: ctx, reg: r}
}

// Scope is the set of capabilities bound to one execution context.
type Scope struct {
	ctx context.Context
	reg *Registry
}

// View returns the read-only conversation view exposed as `conversation`.
func (s *Scope) View() *conversation.View { return s.reg.view }

// Exports maps each capability's Go symbol to its bound method value, plus
// View and the data types, for loading into an interpreter.
func (s *Scope) Exports() map[string]reflect.Value {
	rv := reflect.ValueOf(s)
	out := make(map[string]reflect.Value, len(capabilities)+len(Types)+1)
	for _, c := range capabilities {
		out[c.Symbol] = rv.MethodByName(c.Symbol)
	}
	out["View"] = rv.MethodByName("View")
	for name, t := range Types {
		out[name] = t
	}
	return out
}
