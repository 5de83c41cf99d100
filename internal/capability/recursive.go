package capability

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rlmrepl/internal/analysis"
	"rlmrepl/internal/conversation"
)

// DefaultAnalysisPrompt is used when analyze_subsection gets no prompt.
const DefaultAnalysisPrompt = "Analyze this subsection"

// Analysis is the value analyze_subsection returns. A refused call carries
// only Error and the depth it attempted.
type Analysis struct {
	SubsectionSize int      `json:"subsection_size,omitempty"`
	Summary        string   `json:"summary,omitempty"`
	KeyTopics      []string `json:"key_topics,omitempty"`
	Depth          int      `json:"depth"`
	Timestamp      string   `json:"timestamp,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// RangeAnalysis pairs a [start, end) range with its analysis.
type RangeAnalysis struct {
	Range    [2]int   `json:"range"`
	Analysis Analysis `json:"analysis"`
}

// AnalyzeSubsection delegates messages to the analysis backend one recursion
// level below the caller.
func (s *Scope) AnalyzeSubsection(messages []conversation.Message, prompt ...string) Analysis {
	p := DefaultAnalysisPrompt
	if len(prompt) > 0 && prompt[0] != "" {
		p = prompt[0]
	}
	return s.analyze(s.ctx, messages, p)
}

func (s *Scope) analyze(ctx context.Context, msgs []conversation.Message, prompt string) Analysis {
	const op = "analyze_subsection"
	s.reg.governor.admit(ctx, op)

	rc := s.reg.recursion
	child, release, ok := rc.Enter(ctx)
	if !ok {
		attempted := DepthFrom(ctx) + 1
		s.reg.logger.Info("Recursion guard refused call",
			zap.Int("attempted_depth", attempted),
			zap.Int("max_depth", rc.Max()))
		return Analysis{
			Error: fmt.Sprintf("Maximum recursion depth (%d) reached", rc.Max()),
			Depth: attempted,
		}
	}
	defer release()

	depth := DepthFrom(child)
	res, err := s.reg.backend.Analyze(child, analysis.Request{
		Messages: msgs,
		Prompt:   prompt,
		Depth:    depth,
		Recurse: func(ctx context.Context, part []conversation.Message, p string) (analysis.Result, error) {
			a := s.analyze(ctx, part, p)
			if a.Error != "" {
				return analysis.Result{}, analysis.ErrDepthExceeded
			}
			return analysis.Result{Summary: a.Summary, KeyTopics: a.KeyTopics}, nil
		},
	})
	if err != nil {
		if ctxErr := child.Err(); ctxErr != nil {
			raise(contextKind(ctxErr), op, err)
		}
		raise(KindCapability, op, fmt.Errorf("%s backend: %w", s.reg.backend.Name(), err))
	}

	topics := res.KeyTopics
	if topics == nil {
		topics = []string{}
	}
	return Analysis{
		SubsectionSize: len(msgs),
		Summary:        res.Summary,
		KeyTopics:      topics,
		Depth:          depth,
		Timestamp:      conversation.FormatTimestamp(s.reg.now()),
	}
}

// ParallelAnalyze analyzes up to the configured number of ranges (10 by
// default), returning one record per range in input order. Ranges run
// concurrently only when more than one worker is configured.
func (s *Scope) ParallelAnalyze(ranges [][2]int) []RangeAnalysis {
	const op = "parallel_analyze"
	s.reg.governor.admit(s.ctx, op)

	if len(ranges) > s.reg.maxRanges {
		s.reg.logger.Info("Parallel analysis ranges capped",
			zap.Int("requested", len(ranges)),
			zap.Int("cap", s.reg.maxRanges))
		ranges = ranges[:s.reg.maxRanges]
	}

	out := make([]RangeAnalysis, len(ranges))
	run := func(ctx context.Context, i int) {
		rg := ranges[i]
		msgs := s.reg.store.Slice(rg[0], rg[1])
		out[i] = RangeAnalysis{Range: rg, Analysis: s.analyze(ctx, msgs, DefaultAnalysisPrompt)}
	}

	if s.reg.workers <= 1 || len(ranges) <= 1 {
		for i := range ranges {
			run(s.ctx, i)
		}
		return out
	}

	g, gctx := errgroup.WithContext(s.ctx)
	g.SetLimit(s.reg.workers)
	for i := range ranges {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &panicked{value: r}
				}
			}()
			run(gctx, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if p, ok := err.(*panicked); ok {
			panic(p.value)
		}
		raise(KindCapability, op, err)
	}
	return out
}

// panicked carries a worker panic back to the calling goroutine.
type panicked struct{ value interface{} }

func (p *panicked) Error() string { return fmt.Sprintf("worker panic: %v", p.value) }
