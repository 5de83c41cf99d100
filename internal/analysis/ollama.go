package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// OLLAMA ANALYSIS BACKEND
// =============================================================================

// Ollama runs nested analysis against a local Ollama server.
type Ollama struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *zap.Logger
}

// NewOllama creates a new Ollama backend.
func NewOllama(endpoint, model string, timeout time.Duration, logger *zap.Logger) *Ollama {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" || strings.HasPrefix(model, "gemini") {
		model = "llama3.2"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ollama{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Analyze implements Backend.
func (o *Ollama) Analyze(ctx context.Context, req Request) (Result, error) {
	if len(req.Messages) == 0 {
		return Local{}.Analyze(ctx, req)
	}

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  o.model,
		Prompt: buildPrompt(req),
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("failed to decode response: %w", err)
	}
	o.logger.Debug("Ollama analysis complete",
		zap.String("model", o.model),
		zap.Int("messages", len(req.Messages)),
		zap.Int("depth", req.Depth))

	return parseModelOutput(result.Response, req.Messages), nil
}

// Name implements Backend.
func (o *Ollama) Name() string {
	return fmt.Sprintf("ollama:%s", o.model)
}

// =============================================================================
// OLLAMA API TYPES
// =============================================================================

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}
