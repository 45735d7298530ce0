// Package listing defines the normalized vehicle listing record and its
// canonicalization rules. Every marketplace extraction converges on this
// one shape before filtering and persistence.
package listing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/url"
	"strings"
)

// Listing is one vehicle-for-sale record. Pointer fields distinguish
// "absent from the page" from zero values.
type Listing struct {
	VIN         *string  `json:"vin,omitempty"`
	Make        string   `json:"make"`
	Model       string   `json:"model"`
	Year        *int     `json:"year,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Mileage     *float64 `json:"mileage,omitempty"`
	Zip         *string  `json:"zip,omitempty"`
	Dealer      *string  `json:"dealer,omitempty"`
	DealerPhone *string  `json:"dealer_phone,omitempty"`
	Image       *string  `json:"image,omitempty"`
	PostedAt    *string  `json:"posted_at,omitempty"`
	URL         string   `json:"url"`
	Source      string   `json:"source"`
	FetchedAt   string   `json:"fetched_at"`
}

// CanonicalURL strips query, fragment and any trailing slash so the same
// detail page reached through different tracking parameters compares
// equal. Unparseable URLs canonicalize to their trimmed input.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)
	return strings.TrimRight(u.String(), "/")
}

// CanonicalPhone keeps digits only.
func CanonicalPhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CanonicalDealer lowercases, drops punctuation and collapses whitespace,
// so "Bob's Toyota  Inc." and "bobs toyota inc" compare equal.
func CanonicalDealer(raw string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

// CanonicalVIN trims and uppercases. Empty or whitespace-only VINs
// canonicalize to "".
func CanonicalVIN(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// DedupeKey identifies a listing across sources and re-fetches. A VIN,
// when present, is authoritative. Otherwise the key is a digest over the
// descriptive fields with price and mileage rounded to the nearest 100,
// so scrape-to-scrape noise does not mint new identities.
func DedupeKey(l Listing) string {
	if l.VIN != nil {
		if vin := CanonicalVIN(*l.VIN); vin != "" {
			return "vin:" + vin
		}
	}

	parts := []string{
		strings.ToLower(strings.TrimSpace(l.Make)),
		strings.ToLower(strings.TrimSpace(l.Model)),
		intPart(l.Year),
		roundedPart(l.Price),
		roundedPart(l.Mileage),
		strPart(l.Zip),
		strings.ToLower(strings.TrimSpace(l.Source)),
		CanonicalURL(l.URL),
		canonPart(l.DealerPhone, CanonicalPhone),
		canonPart(l.Dealer, CanonicalDealer),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Dedupe collapses listings sharing a dedupe key, first seen wins. Input
// order is preserved for survivors.
func Dedupe(in []Listing) []Listing {
	seen := make(map[string]struct{}, len(in))
	out := make([]Listing, 0, len(in))
	for _, l := range in {
		key := DedupeKey(l)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
	}
	return out
}

func intPart(v *int) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%d", *v)
}

func roundedPart(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%d", int64(math.Round(*v/100)))
}

func strPart(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

func canonPart(v *string, canon func(string) string) string {
	if v == nil {
		return ""
	}
	return canon(*v)
}
