// Package store persists listings and ingest run audit records in
// Postgres. Writes are idempotent: re-running the same query upserts on
// the dedupe key instead of inserting duplicates.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/compscout/compscout/internal/listing"
)

// Store wraps the Postgres handle.
type Store struct {
	DB     *sql.DB
	Logger *log.Logger
}

// New builds a Store around an open database handle.
func New(db *sql.DB) *Store {
	return &Store{
		DB:     db,
		Logger: log.New(log.Writer(), "[STORE] ", log.LstdFlags),
	}
}

const listingColumns = "dedupe_key, vin, make, model, year, price, mileage, zip, dealer, dealer_phone, image, posted_at, url, source, fetched_at, run_id"

// UpsertListings writes the batch in one statement, keyed by dedupe key.
// Existing rows get their volatile fields refreshed and last_seen_at
// bumped; identity fields are never rewritten. A storage error is logged
// and reported as zero rows written: ingestion survives storage hiccups.
func (s *Store) UpsertListings(ctx context.Context, runID string, listings []listing.Listing) (int64, error) {
	if len(listings) == 0 {
		return 0, nil
	}

	const fieldsPerRow = 16
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO listings (%s, first_seen_at, last_seen_at) VALUES ", listingColumns)
	args := make([]interface{}, 0, len(listings)*fieldsPerRow)
	for i, l := range listings {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := 0; j < fieldsPerRow; j++ {
			if j > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "$%d", i*fieldsPerRow+j+1)
		}
		sb.WriteString(",NOW(),NOW())")

		args = append(args,
			listing.DedupeKey(l),
			canonVINArg(l.VIN),
			l.Make,
			l.Model,
			l.Year,
			l.Price,
			l.Mileage,
			l.Zip,
			l.Dealer,
			l.DealerPhone,
			l.Image,
			l.PostedAt,
			l.URL,
			l.Source,
			l.FetchedAt,
			runID,
		)
	}
	sb.WriteString(` ON CONFLICT (dedupe_key) DO UPDATE SET
  price = EXCLUDED.price,
  mileage = EXCLUDED.mileage,
  posted_at = EXCLUDED.posted_at,
  url = EXCLUDED.url,
  image = EXCLUDED.image,
  fetched_at = EXCLUDED.fetched_at,
  run_id = EXCLUDED.run_id,
  last_seen_at = NOW()`)

	res, err := s.DB.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		s.Logger.Printf("warn: upsert %d listings: %v", len(listings), err)
		return 0, nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func canonVINArg(vin *string) interface{} {
	if vin == nil {
		return nil
	}
	v := listing.CanonicalVIN(*vin)
	if v == "" {
		return nil
	}
	return v
}

// CohortQuery selects stored listings for statistics.
type CohortQuery struct {
	Make  string
	Model string
	Year  int // 0 = any year
}

// StoredListing is a persisted listing row plus its dedupe key.
type StoredListing struct {
	DedupeKey string
	listing.Listing
}

// CohortListings returns the stored listings matching make/model and,
// when given, the year within one model year.
func (s *Store) CohortListings(ctx context.Context, q CohortQuery) ([]StoredListing, error) {
	query := `
SELECT dedupe_key, vin, make, model, year, price, mileage, zip, dealer, dealer_phone, image, posted_at, url, source, fetched_at
FROM listings
WHERE lower(make) = lower($1) AND lower(model) = lower($2)
  AND ($3 = 0 OR year IS NULL OR abs(year - $3) <= 1)
ORDER BY last_seen_at DESC`
	rows, err := s.DB.QueryContext(ctx, query, q.Make, q.Model, q.Year)
	if err != nil {
		return nil, fmt.Errorf("cohort listings: %w", err)
	}
	defer rows.Close()

	var out []StoredListing
	for rows.Next() {
		var sl StoredListing
		var vin, zip, dealer, phone, image, postedAt sql.NullString
		var year sql.NullInt64
		var price, mileage sql.NullFloat64
		if err := rows.Scan(&sl.DedupeKey, &vin, &sl.Make, &sl.Model, &year, &price, &mileage,
			&zip, &dealer, &phone, &image, &postedAt, &sl.URL, &sl.Source, &sl.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		sl.VIN = nullStr(vin)
		sl.Zip = nullStr(zip)
		sl.Dealer = nullStr(dealer)
		sl.DealerPhone = nullStr(phone)
		sl.Image = nullStr(image)
		sl.PostedAt = nullStr(postedAt)
		if year.Valid {
			y := int(year.Int64)
			sl.Year = &y
		}
		if price.Valid {
			p := price.Float64
			sl.Price = &p
		}
		if mileage.Valid {
			m := mileage.Float64
			sl.Mileage = &m
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

func nullStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
