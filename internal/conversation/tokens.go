package conversation

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates the token cost of a message body.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter assumes roughly four characters per token.
type HeuristicCounter struct{}

// Count implements TokenCounter.
func (HeuristicCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	tokens := len(text) / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// TiktokenCounter counts BPE tokens with a tiktoken encoding.
type TiktokenCounter struct {
	enc      tokenizer.Codec
	fallback HeuristicCounter
}

// NewTiktokenCounter loads the named encoding (cl100k_base, o200k_base, ...).
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	var name tokenizer.Encoding
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "cl100k_base":
		name = tokenizer.Cl100kBase
	case "o200k_base":
		name = tokenizer.O200kBase
	case "p50k_base":
		name = tokenizer.P50kBase
	case "r50k_base":
		name = tokenizer.R50kBase
	default:
		return nil, fmt.Errorf("unknown tokenizer encoding %q", encoding)
	}
	enc, err := tokenizer.Get(name)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count implements TokenCounter. Encoding failures fall back to the heuristic.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	n, err := c.enc.Count(text)
	if err != nil {
		return c.fallback.Count(text)
	}
	return n
}

// NewTokenCounter builds the counter named in config.
func NewTokenCounter(kind, encoding string) (TokenCounter, error) {
	switch kind {
	case "", "heuristic":
		return HeuristicCounter{}, nil
	case "tiktoken":
		return NewTiktokenCounter(encoding)
	default:
		return nil, fmt.Errorf("unknown token counter %q", kind)
	}
}
