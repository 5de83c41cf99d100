package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultChunkSize is the subsection size above which Hierarchical splits.
const DefaultChunkSize = 20

// Hierarchical splits oversized subsections in half and analyzes each half
// through Request.Recurse, so every split counts against the recursion limit.
// Once the guard refuses, the remaining half is handed to the leaf backend.
type Hierarchical struct {
	leaf      Backend
	chunkSize int
}

// NewHierarchical wraps leaf. chunkSize <= 1 uses DefaultChunkSize.
func NewHierarchical(leaf Backend, chunkSize int) *Hierarchical {
	if chunkSize <= 1 {
		chunkSize = DefaultChunkSize
	}
	if leaf == nil {
		leaf = Local{}
	}
	return &Hierarchical{leaf: leaf, chunkSize: chunkSize}
}

// Analyze implements Backend.
func (h *Hierarchical) Analyze(ctx context.Context, req Request) (Result, error) {
	if len(req.Messages) <= h.chunkSize || req.Recurse == nil {
		return h.leaf.Analyze(ctx, req)
	}

	mid := len(req.Messages) / 2
	halves := [][]int{{0, mid}, {mid, len(req.Messages)}}

	var summaries []string
	for _, hv := range halves {
		part := req.Messages[hv[0]:hv[1]]
		res, err := req.Recurse(ctx, part, req.Prompt)
		if errors.Is(err, ErrDepthExceeded) {
			res, err = h.leaf.Analyze(ctx, Request{Messages: part, Prompt: req.Prompt, Depth: req.Depth})
		}
		if err != nil {
			return Result{}, fmt.Errorf("analyze messages %d-%d: %w", part[0].ID, part[len(part)-1].ID, err)
		}
		summaries = append(summaries, res.Summary)
	}

	return Result{
		Summary:   strings.Join(summaries, " / "),
		KeyTopics: localTopics(req.Messages),
	}, nil
}

// Name implements Backend.
func (h *Hierarchical) Name() string { return "hierarchical:" + h.leaf.Name() }
