// Package analysis provides the backends analyze_subsection delegates to.
// The default is a deterministic local summarizer; model-backed variants call
// Gemini or Ollama, and the hierarchical backend re-enters the sandbox's
// recursion controller for oversized inputs.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"rlmrepl/internal/config"
	"rlmrepl/internal/conversation"
)

// ErrDepthExceeded is returned by Request.Recurse when the recursion guard refuses entry.
var ErrDepthExceeded = errors.New("maximum recursion depth exceeded")

// RecurseFunc runs a nested analysis one level deeper, under the recursion guard.
type RecurseFunc func(ctx context.Context, msgs []conversation.Message, prompt string) (Result, error)

// Request is one analyze_subsection invocation.
type Request struct {
	Messages []conversation.Message
	Prompt   string
	Depth    int         // depth this request runs at (1 for a top-level call)
	Recurse  RecurseFunc // nil when nesting is not available
}

// Result is what a backend reports about a subsection.
type Result struct {
	Summary   string   `json:"summary"`
	KeyTopics []string `json:"key_topics"`
}

// Backend performs nested analysis of a message subsection.
type Backend interface {
	Analyze(ctx context.Context, req Request) (Result, error)
	Name() string
}

const maxKeyTopics = 5

// New builds the backend named in cfg.
func New(cfg config.AnalysisConfig, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := 60 * time.Second
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid analysis timeout %q: %w", cfg.Timeout, err)
		}
		timeout = d
	}

	switch strings.ToLower(cfg.Backend) {
	case "", "local":
		return Local{}, nil
	case "hierarchical":
		return NewHierarchical(Local{}, cfg.ChunkSize), nil
	case "gemini":
		return NewGemini(context.Background(), cfg.APIKey, cfg.Model, timeout, logger)
	case "ollama":
		return NewOllama(cfg.BaseURL, cfg.Model, timeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown analysis backend: %s", cfg.Backend)
	}
}

// transcript renders msgs for a model prompt.
func transcript(msgs []conversation.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "[%d] %s: %s\n", m.ID, m.Role, m.Content)
	}
	return sb.String()
}

const analysisInstruction = `Analyze the conversation excerpt below.
Respond with a JSON object: {"summary": "<two sentences>", "key_topics": ["<topic>", ...]} (at most 5 topics).`

func buildPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString(analysisInstruction)
	if p := strings.TrimSpace(req.Prompt); p != "" {
		sb.WriteString("\nFocus: ")
		sb.WriteString(p)
	}
	sb.WriteString("\n\n")
	sb.WriteString(transcript(req.Messages))
	return sb.String()
}

// parseModelOutput reads {"summary", "key_topics"} from a model reply. Replies
// that are not JSON become the summary verbatim with locally ranked topics.
func parseModelOutput(text string, msgs []conversation.Message) Result {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if gjson.Valid(text) {
		parsed := gjson.Parse(text)
		if summary := parsed.Get("summary"); summary.Exists() {
			res := Result{Summary: summary.String()}
			for _, t := range parsed.Get("key_topics").Array() {
				if len(res.KeyTopics) == maxKeyTopics {
					break
				}
				res.KeyTopics = append(res.KeyTopics, t.String())
			}
			if len(res.KeyTopics) == 0 {
				res.KeyTopics = localTopics(msgs)
			}
			return res
		}
	}
	return Result{Summary: text, KeyTopics: localTopics(msgs)}
}

func localTopics(msgs []conversation.Message) []string {
	topics := conversation.RankTopics(msgs)
	if len(topics) > maxKeyTopics {
		topics = topics[:maxKeyTopics]
	}
	return topics
}
