package analysis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// =============================================================================
// GOOGLE GENAI ANALYSIS BACKEND
// =============================================================================

// Gemini runs nested analysis as a Gemini generateContent call.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewGemini creates a Gemini backend.
func NewGemini(ctx context.Context, apiKey, model string, timeout time.Duration, logger *zap.Logger) (*Gemini, error) {
	return newGemini(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}, model, timeout, logger)
}

func newGemini(ctx context.Context, cc *genai.ClientConfig, model string, timeout time.Duration, logger *zap.Logger) (*Gemini, error) {
	if cc.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Gemini{client: client, model: model, timeout: timeout, logger: logger}, nil
}

// Analyze implements Backend.
func (g *Gemini) Analyze(ctx context.Context, req Request) (Result, error) {
	if len(req.Messages) == 0 {
		return Local{}.Analyze(ctx, req)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	contents := []*genai.Content{
		genai.NewContentFromText(buildPrompt(req), genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.2),
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return Result{}, fmt.Errorf("GenAI generate failed: %w", err)
	}
	g.logger.Debug("Gemini analysis complete",
		zap.String("model", g.model),
		zap.Int("messages", len(req.Messages)),
		zap.Int("depth", req.Depth),
		zap.Duration("elapsed", time.Since(start)))

	text := resp.Text()
	if text == "" {
		return Result{}, fmt.Errorf("GenAI returned no text")
	}
	return parseModelOutput(text, req.Messages), nil
}

// Name implements Backend.
func (g *Gemini) Name() string {
	return fmt.Sprintf("genai:%s", g.model)
}
