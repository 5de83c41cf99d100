package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlmrepl/internal/analysis"
	"rlmrepl/internal/config"
	"rlmrepl/internal/conversation"
)

func testClock() func() time.Time {
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		t := base.Add(time.Duration(n) * time.Hour)
		n++
		return t
	}
}

func newScope(t *testing.T, contents []string, opts ...Option) (*Scope, *Registry, *conversation.Store) {
	t.Helper()
	store := conversation.NewStore(conversation.WithClock(testClock()))
	for i, c := range contents {
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		store.Add(role, c, map[string]interface{}{"index": i, "source": map[string]interface{}{"kind": fmt.Sprintf("k%d", i%3)}})
	}
	reg := NewRegistry(store, config.DefaultREPLConfig(), opts...)
	return reg.Bind(context.Background()), reg, store
}

// capture runs fn and returns the *Error it panicked with, if any.
func capture(fn func()) (err *Error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			err = e
		}
	}()
	fn()
	return nil
}

func ids(msgs []conversation.Message) []int {
	out := []int{}
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestFindMessages_Quantum(t *testing.T) {
	contents := []string{
		"hello", "Quantum computing is neat", "nothing here", "more QUANTUM stuff",
		"classical", "bits", "qubits in quantum land", "other", "again", "final",
	}
	s, _, _ := newScope(t, contents)

	assert.Equal(t, []int{1, 3, 6}, ids(s.FindMessages("quantum")))
	assert.Equal(t, []int{6}, ids(s.FindMessages("quantum", true)))
	assert.Empty(t, s.FindMessages("photon"))
}

func TestFindMessages_Literal(t *testing.T) {
	s, _, _ := newScope(t, []string{"a.b matches", "axb must not", "(paren)"})
	assert.Equal(t, []int{0}, ids(s.FindMessages("a.b")))
	assert.Equal(t, []int{2}, ids(s.FindMessages("(paren")))
}

func TestFilterByRole(t *testing.T) {
	s, _, _ := newScope(t, []string{"u0", "a1", "u2", "a3", "u4"})
	assert.Equal(t, []int{0, 2, 4}, ids(s.FilterByRole("user")))
	assert.Equal(t, []int{1, 3}, ids(s.FilterByRole("assistant")))
	assert.Empty(t, s.FilterByRole("system"))
}

func TestFilterByDate_Inclusive(t *testing.T) {
	s, _, store := newScope(t, []string{"m0", "m1", "m2", "m3"})
	msgs := store.Messages()

	got := s.FilterByDate(msgs[1].Timestamp, msgs[2].Timestamp)
	assert.Equal(t, []int{1, 2}, ids(got))
	assert.Equal(t, []int{0, 1, 2, 3}, ids(s.FilterByDate("2024-05-01", "2024-05-02")))
}

func TestGrep(t *testing.T) {
	s, _, _ := newScope(t, []string{"error: disk full", "all good", "Error 42"})
	assert.Equal(t, []int{0, 2}, ids(s.Grep(`(?i)^error`)))

	err := capture(func() { s.Grep("([unclosed") })
	require.NotNil(t, err)
	assert.Equal(t, KindCapability, err.Kind)
	assert.Equal(t, "grep", err.Op)
	assert.Contains(t, err.Error(), "invalid regex")
}

func TestSearchSemantic(t *testing.T) {
	s, _, _ := newScope(t, []string{
		"go concurrency patterns",
		"unrelated",
		"Concurrency in GO with channels",
		"channels only",
		"go go go",
	})

	assert.Equal(t, []int{2, 0, 3, 4}, ids(s.SearchSemantic("go concurrency channels go")))
	assert.Equal(t, []int{2, 0}, ids(s.SearchSemantic("go concurrency channels", 2)))
	assert.Empty(t, s.SearchSemantic("go", 0))
	assert.Empty(t, s.SearchSemantic("zzz"))
}

func TestSearchSemantic_PerCallCap(t *testing.T) {
	contents := make([]string, 150)
	for i := range contents {
		contents[i] = "needle"
	}
	s, _, _ := newScope(t, contents)
	assert.Len(t, s.SearchSemantic("needle", 500), 100)
}

func TestFilterByMetadata(t *testing.T) {
	s, _, _ := newScope(t, []string{"m0", "m1", "m2", "m3"})
	assert.Equal(t, []int{0, 3}, ids(s.FilterByMetadata("source.kind", "k0")))
	assert.Equal(t, []int{2}, ids(s.FilterByMetadata("index", "2")))
	assert.Empty(t, s.FilterByMetadata("missing.path", "x"))
}

func TestUtility(t *testing.T) {
	s, _, _ := newScope(t, []string{"u0", "a1", "u2", "a3", "u4", "a5"})

	assert.Equal(t, 6, s.CountMessages())
	assert.Equal(t, 3, s.CountMessages("user"))
	assert.Equal(t, 0, s.CountMessages("system"))

	m := s.GetMessage(2)
	require.NotNil(t, m)
	assert.Equal(t, "u2", m.Content)
	assert.Nil(t, s.GetMessage(6))
	assert.Nil(t, s.GetMessage(-1))

	assert.Equal(t, []int{4, 5}, ids(s.SliceMessages(4, 100)))
	assert.Equal(t, []int{0, 1}, ids(s.SliceMessages(-4, 2)))
	assert.Empty(t, s.SliceMessages(5, 1))
}

func TestAggregation(t *testing.T) {
	s, _, store := newScope(t, []string{
		"Alice Smith is researching quantum error correction.",
		"* Surface codes are a leading approach today\n* Logical qubits need many physical qubits",
	})

	first := s.SummarizeRange(0, 2)
	assert.Equal(t, first, s.SummarizeRange(0, 2))
	assert.Equal(t, 1, store.CacheSize())
	assert.True(t, strings.HasPrefix(first, "User asked about: "), first)
	assert.Contains(t, first, "Discussed: Surface codes are a leading approach today")

	assert.NotEmpty(t, s.AggregateFacts())
	assert.Equal(t, 1, s.ExtractEntities()["Alice Smith"])
	assert.Len(t, s.GetTimeline(), 2)

	topics := s.GetTopics(2)
	require.Len(t, topics, 2)
	assert.Equal(t, "qubits", topics[0].Topic)
	assert.Equal(t, 2, topics[0].Count)
	assert.Equal(t, "alice", topics[1].Topic)
	assert.Len(t, s.GetTopics(), 10)
}

func TestRecursionController(t *testing.T) {
	rc := NewRecursionController(2)
	ctx := context.Background()

	c1, rel1, ok := rc.Enter(ctx)
	require.True(t, ok)
	assert.Equal(t, 1, DepthFrom(c1))

	c2, rel2, ok := rc.Enter(c1)
	require.True(t, ok)
	assert.Equal(t, 2, DepthFrom(c2))
	assert.Equal(t, 2, rc.Depth())

	_, _, ok = rc.Enter(c2)
	assert.False(t, ok)
	assert.Equal(t, 2, rc.Depth())

	rel2()
	rel2() // idempotent
	assert.Equal(t, 1, rc.Depth())
	rel1()
	assert.Equal(t, 0, rc.Depth())
	assert.Equal(t, int64(2), rc.Calls())
}

// nestingBackend recurses through Request.Recurse until the guard refuses.
type nestingBackend struct {
	depths []int
	guard  Analysis
}

func (b *nestingBackend) Analyze(ctx context.Context, req analysis.Request) (analysis.Result, error) {
	b.depths = append(b.depths, req.Depth)
	_, err := req.Recurse(ctx, req.Messages, req.Prompt)
	if errors.Is(err, analysis.ErrDepthExceeded) {
		return analysis.Result{Summary: fmt.Sprintf("bottom at %d", req.Depth)}, nil
	}
	return analysis.Result{Summary: fmt.Sprintf("level %d", req.Depth)}, err
}

func (b *nestingBackend) Name() string { return "nesting" }

func TestAnalyzeSubsection_DepthGuard(t *testing.T) {
	backend := &nestingBackend{}
	s, reg, store := newScope(t, []string{"one", "two"}, WithBackend(backend))

	res := s.AnalyzeSubsection(store.Messages(), "dig")
	assert.Equal(t, "level 1", res.Summary)
	assert.Equal(t, 1, res.Depth)
	assert.Equal(t, 2, res.SubsectionSize)
	assert.Empty(t, res.Error)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, backend.depths)

	assert.Equal(t, 0, reg.Recursion().Depth())
	assert.Equal(t, int64(5), reg.Recursion().Calls())
}

func TestAnalyzeSubsection_GuardReportsAttemptedDepth(t *testing.T) {
	cfg := config.DefaultREPLConfig()
	cfg.MaxRecursionDepth = 2
	store := conversation.NewStore()
	store.Add("user", "hello", nil)
	reg := NewRegistry(store, cfg)

	ctx, rel, ok := reg.Recursion().Enter(context.Background())
	require.True(t, ok)
	defer rel()
	ctx, rel2, ok := reg.Recursion().Enter(ctx)
	require.True(t, ok)
	defer rel2()

	res := reg.Bind(ctx).AnalyzeSubsection(store.Messages())
	assert.Equal(t, 3, res.Depth)
	assert.Equal(t, "Maximum recursion depth (2) reached", res.Error)
	assert.Equal(t, 2, reg.Recursion().Depth())
}

type failingBackend struct{}

func (failingBackend) Analyze(context.Context, analysis.Request) (analysis.Result, error) {
	return analysis.Result{}, errors.New("model unavailable")
}
func (failingBackend) Name() string { return "failing" }

func TestAnalyzeSubsection_BackendErrorRestoresDepth(t *testing.T) {
	s, reg, store := newScope(t, []string{"x"}, WithBackend(failingBackend{}))

	err := capture(func() { s.AnalyzeSubsection(store.Messages()) })
	require.NotNil(t, err)
	assert.Equal(t, KindCapability, err.Kind)
	assert.Contains(t, err.Error(), "model unavailable")
	assert.Equal(t, 0, reg.Recursion().Depth())
}

func TestAnalyzeSubsection_LocalDefault(t *testing.T) {
	s, _, store := newScope(t, []string{"rockets rockets fuel", "fuel tanks"}, WithClock(func() time.Time {
		return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	}))
	res := s.AnalyzeSubsection(store.Messages())
	want := Analysis{
		SubsectionSize: 2,
		Summary:        "Discussed 2 messages about: rockets, fuel, tanks",
		KeyTopics:      []string{"rockets", "fuel", "tanks"},
		Depth:          1,
		Timestamp:      "2024-01-02T03:04:05.000000",
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("AnalyzeSubsection mismatch (-want +got):\n%s", diff)
	}
}

func TestParallelAnalyze_OrderAndCap(t *testing.T) {
	contents := make([]string, 30)
	for i := range contents {
		contents[i] = fmt.Sprintf("message about topic%02d", i)
	}

	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			cfg := config.DefaultREPLConfig()
			cfg.ParallelWorkers = workers
			store := conversation.NewStore()
			for _, c := range contents {
				store.Add("user", c, nil)
			}
			reg := NewRegistry(store, cfg)
			s := reg.Bind(context.Background())

			var ranges [][2]int
			for i := 0; i < 12; i++ {
				ranges = append(ranges, [2]int{i * 2, i*2 + 2})
			}
			got := s.ParallelAnalyze(ranges)
			require.Len(t, got, 10)
			for i, ra := range got {
				assert.Equal(t, ranges[i], ra.Range)
				assert.Equal(t, 2, ra.Analysis.SubsectionSize)
				assert.Equal(t, 1, ra.Analysis.Depth)
				assert.Contains(t, ra.Analysis.KeyTopics, fmt.Sprintf("topic%02d", i*2))
			}
			assert.Equal(t, 0, reg.Recursion().Depth())
			assert.Equal(t, int64(10), reg.Recursion().Calls())
		})
	}
}

func TestParallelAnalyze_WorkerPanicPropagates(t *testing.T) {
	cfg := config.DefaultREPLConfig()
	cfg.ParallelWorkers = 3
	store := conversation.NewStore()
	store.Add("user", "a", nil)
	reg := NewRegistry(store, cfg, WithBackend(failingBackend{}))

	err := capture(func() {
		reg.Bind(context.Background()).ParallelAnalyze([][2]int{{0, 1}, {0, 1}, {0, 1}})
	})
	require.NotNil(t, err)
	assert.Equal(t, "analyze_subsection", err.Op)
}

func TestGovernor_RefusesAfterContextDone(t *testing.T) {
	_, reg, _ := newScope(t, []string{"a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := capture(func() { reg.Bind(ctx).CountMessages() })
	require.NotNil(t, err)
	assert.Equal(t, KindCapability, err.Kind)

	dctx, dcancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer dcancel()
	err = capture(func() { reg.Bind(dctx).FindMessages("a") })
	require.NotNil(t, err)
	assert.Equal(t, KindTimeout, err.Kind)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGovernor_BudgetOverrun(t *testing.T) {
	cfg := config.DefaultREPLConfig()
	cfg.CallBudgets = map[string]string{"slow_op": "1ms"}
	g := NewGovernor(cfg, nil)

	err := capture(func() {
		guard(context.Background(), g, "slow_op", func() int {
			time.Sleep(20 * time.Millisecond)
			return 1
		})
	})
	require.NotNil(t, err)
	assert.Equal(t, KindTimeout, err.Kind)

	assert.Nil(t, capture(func() {
		guard(context.Background(), g, "unbudgeted", func() int {
			time.Sleep(5 * time.Millisecond)
			return 1
		})
	}))
}

func TestGovernor_Truncate(t *testing.T) {
	cfg := config.DefaultREPLConfig()
	cfg.MaxResultItems = 3
	g := NewGovernor(cfg, nil)

	v, truncated := g.Truncate([]int{1, 2, 3, 4, 5})
	assert.True(t, truncated)
	assert.Equal(t, []int{1, 2, 3}, v)

	v, truncated = g.Truncate([]string{"a"})
	assert.False(t, truncated)
	assert.Equal(t, []string{"a"}, v)

	v, truncated = g.Truncate(42)
	assert.False(t, truncated)
	assert.Equal(t, 42, v)

	v, truncated = g.Truncate(nil)
	assert.False(t, truncated)
	assert.Nil(t, v)
}

func TestScope_ExportsEveryCapability(t *testing.T) {
	s, _, _ := newScope(t, nil)
	exports := s.Exports()

	for _, c := range Capabilities() {
		v, ok := exports[c.Symbol]
		require.True(t, ok, c.Name)
		assert.True(t, v.IsValid(), "%s has no method %s", c.Name, c.Symbol)
	}
	assert.True(t, exports["View"].IsValid())
	assert.Contains(t, exports, "Message")
	assert.Len(t, Capabilities(), 23)
}
