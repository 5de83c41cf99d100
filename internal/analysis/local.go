package analysis

import (
	"context"
	"fmt"
	"strings"

	"rlmrepl/internal/conversation"
)

// Local is the deterministic in-process summarizer. It ignores the prompt and
// reports up to ten key topics.
type Local struct{}

// Analyze implements Backend.
func (Local) Analyze(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(req.Messages) == 0 {
		return Result{Summary: "No messages", KeyTopics: []string{}}, nil
	}
	topics := conversation.RankTopics(req.Messages)
	lead := topics
	if len(lead) > maxKeyTopics {
		lead = lead[:maxKeyTopics]
	}
	return Result{
		Summary:   fmt.Sprintf("Discussed %d messages about: %s", len(req.Messages), strings.Join(lead, ", ")),
		KeyTopics: topics,
	}, nil
}

// Name implements Backend.
func (Local) Name() string { return "local" }
