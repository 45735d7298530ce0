// Package extract turns fetched marketplace pages into normalized
// listings using an LLM held to a strict JSON schema. Malformed model
// output degrades to an empty result instead of failing the run.
package extract

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/compscout/compscout/internal/fetch"
	"github.com/compscout/compscout/internal/listing"
)

var schemaRejections = promauto.NewCounter(prometheus.CounterOpts{
	Name: "compscout_extract_schema_rejections_total",
	Help: "Model responses discarded for violating the listings schema.",
})

// Usage is the token spend of one extraction call.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Extractor produces listings from one fetched page.
type Extractor interface {
	Extract(ctx context.Context, page fetch.Page, pageType string) ([]listing.Listing, Usage, error)
}

// LLMExtractor prompts an LLM per page type and validates the response
// against the listing schema.
type LLMExtractor struct {
	llm    LLM
	logger *log.Logger
}

// NewLLMExtractor wraps an LLM provider.
func NewLLMExtractor(llm LLM) *LLMExtractor {
	return &LLMExtractor{
		llm:    llm,
		logger: log.New(log.Writer(), "[EXTRACT] ", log.LstdFlags),
	}
}

type listingsEnvelope struct {
	Listings []listing.Listing `json:"listings"`
}

// Extract prompts the model and decodes its response strictly. Schema
// violations are logged and yield zero listings with a nil error: a page
// the model cannot read is dropped, not fatal. Transport errors from the
// LLM are returned so the caller can account for them.
func (e *LLMExtractor) Extract(ctx context.Context, page fetch.Page, pageType string) ([]listing.Listing, Usage, error) {
	prompt := PromptFor(pageType).Build(page)
	text, promptTokens, completionTokens, err := e.llm.GenerateWithTokens(ctx, prompt)
	usage := Usage{PromptTokens: promptTokens, CompletionTokens: completionTokens}
	if err != nil {
		return nil, usage, err
	}

	env, ok := decodeEnvelope(text)
	if !ok {
		schemaRejections.Inc()
		e.logger.Printf("warn: schema rejection for %s (%s page)", page.Host, pageType)
		return nil, usage, nil
	}

	out := make([]listing.Listing, 0, len(env.Listings))
	for _, l := range env.Listings {
		// Provenance always comes from the fetch, never from the model.
		l.URL = page.URL
		l.Source = page.Host
		l.FetchedAt = page.FetchedAt.Format("2006-01-02T15:04:05Z07:00")
		out = append(out, l)
	}
	return out, usage, nil
}

// decodeEnvelope parses model output as the strict listings envelope.
// Unknown fields anywhere in the document reject the whole response.
func decodeEnvelope(text string) (listingsEnvelope, bool) {
	cleaned := stripFences(text)
	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.DisallowUnknownFields()
	var env listingsEnvelope
	if err := dec.Decode(&env); err != nil {
		return listingsEnvelope{}, false
	}
	// Trailing junk after the JSON document also rejects.
	if dec.More() {
		return listingsEnvelope{}, false
	}
	return env, true
}

// stripFences removes a markdown code fence the model sometimes wraps
// around its JSON despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
