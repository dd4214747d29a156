// Package tokens estimates token counts for prompts and completions when the provider
// does not report usage, and for dry runs.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/Sriram-PR/alt-text-gen/pkg/models"
)

// LowDetailImageTokens is the flat cost of a low-detail image part
const LowDetailImageTokens = 85

// Estimator counts tokens with the encoding matching the model family.
// Codecs are loaded lazily and cached.
type Estimator struct {
	mu     sync.Mutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

// NewEstimator creates an Estimator
func NewEstimator() *Estimator {
	return &Estimator{codecs: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

// EncodingForModel picks o200k_base for the 4o/4.1/o-series family and cl100k_base otherwise.
func EncodingForModel(model string) tokenizer.Encoding {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4.1"),
		strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"),
		strings.HasPrefix(m, "gpt-5"):
		return tokenizer.O200kBase
	}
	return tokenizer.Cl100kBase
}

// Count returns the token count of text for model. Falls back to ~4 characters per token
// if the codec cannot be loaded.
func (e *Estimator) Count(model, text string) int {
	if text == "" {
		return 0
	}
	codec, err := e.codec(EncodingForModel(model))
	if err == nil {
		if ids, _, encErr := codec.Encode(text); encErr == nil {
			return len(ids)
		}
	}
	return (len(text) + 3) / 4
}

// EstimateUsage builds a Usage for a request whose provider response carried none.
func (e *Estimator) EstimateUsage(model, system, prompt, completion string, withImage bool) models.Usage {
	p := e.Count(model, system) + e.Count(model, prompt)
	if withImage {
		p += LowDetailImageTokens
	}
	c := e.Count(model, completion)
	return models.Usage{PromptTokens: p, CompletionTokens: c, TotalTokens: p + c}
}

func (e *Estimator) codec(enc tokenizer.Encoding) (tokenizer.Codec, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.codecs[enc]; ok {
		return c, nil
	}
	c, err := tokenizer.Get(enc)
	if err != nil {
		return nil, err
	}
	e.codecs[enc] = c
	return c, nil
}
