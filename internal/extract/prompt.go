package extract

import (
	"fmt"
	"strings"

	"github.com/compscout/compscout/internal/fetch"
)

const (
	maxPromptTextChars = 20000
	maxPromptHTMLChars = 12000
)

const schemaDescription = `Return STRICT JSON, no markdown, no commentary, exactly this shape:
{"listings":[{"vin":"...","make":"...","model":"...","year":2019,"price":21500,"mileage":40123,"zip":"94103","dealer":"...","dealer_phone":"...","image":"https://...","posted_at":"2025-08-01T00:00:00Z","url":"https://...","source":"..."}]}
Rules:
- Omit any field that is not present on the page; never invent values.
- "price" is the asking price in whole dollars, "mileage" in miles.
- "posted_at" is the listing date in RFC 3339 if shown.
- If the page contains no vehicle listings, return {"listings":[]}.`

// PromptBuilder renders an extraction prompt for one fetched page. Each
// marketplace page type gets its own builder so search-result grids and
// single-vehicle detail pages are prompted differently.
type PromptBuilder interface {
	Build(page fetch.Page) string
}

// PromptFor selects the builder for a page type. Unknown types fall back
// to the search-results builder, which tolerates any number of listings.
func PromptFor(pageType string) PromptBuilder {
	if pageType == "vdp" {
		return vdpPrompt{}
	}
	return srpPrompt{}
}

// srpPrompt handles search result pages: many compact listings.
type srpPrompt struct{}

func (srpPrompt) Build(page fetch.Page) string {
	var b strings.Builder
	b.WriteString("You extract used-vehicle listings from a marketplace SEARCH RESULTS page.\n")
	b.WriteString("Extract EVERY distinct vehicle listing visible.\n\n")
	b.WriteString(schemaDescription)
	writePageMaterial(&b, page)
	return b.String()
}

// vdpPrompt handles vehicle detail pages: exactly one vehicle, with the
// deepest fields (VIN, dealer phone) usually present.
type vdpPrompt struct{}

func (vdpPrompt) Build(page fetch.Page) string {
	var b strings.Builder
	b.WriteString("You extract a used-vehicle listing from a marketplace VEHICLE DETAIL page.\n")
	b.WriteString("The page describes ONE vehicle; return at most one listing. Prefer the VIN and dealer contact details when shown.\n\n")
	b.WriteString(schemaDescription)
	writePageMaterial(&b, page)
	return b.String()
}

func writePageMaterial(b *strings.Builder, page fetch.Page) {
	fmt.Fprintf(b, "\n\nPage URL: %s\nSource host: %s\n", page.URL, page.Host)
	for i, block := range page.Blocks {
		fmt.Fprintf(b, "\nEmbedded structured data block %d:\n%s\n", i+1, block)
	}
	if text := truncate(page.Text, maxPromptTextChars); text != "" {
		fmt.Fprintf(b, "\nPage text:\n%s\n", text)
	} else if len(page.Blocks) == 0 {
		// Nothing reduced cleanly; give the model raw markup to work with.
		fmt.Fprintf(b, "\nRaw HTML (truncated):\n%s\n", truncate(page.HTML, maxPromptHTMLChars))
	}
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}
