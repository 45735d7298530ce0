package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/compscout/compscout/internal/listing"
)

func strp(s string) *string   { return &s }
func intp(i int) *int         { return &i }
func f64p(f float64) *float64 { return &f }

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func sampleListing() listing.Listing {
	return listing.Listing{
		VIN: strp("1hgcm82633a004352"), Make: "Honda", Model: "Accord",
		Year: intp(2019), Price: f64p(21500), Mileage: f64p(40000),
		Zip: strp("94103"), URL: "https://cars.example/vdp/1",
		Source: "cars.example", FetchedAt: "2026-08-20T12:00:00Z",
	}
}

func TestUpsertListings(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectExec("INSERT INTO listings .*ON CONFLICT \\(dedupe_key\\) DO UPDATE SET").
		WithArgs(
			"vin:1HGCM82633A004352", "1HGCM82633A004352", "Honda", "Accord",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			nil, nil, nil, nil,
			"https://cars.example/vdp/1", "cars.example", "2026-08-20T12:00:00Z", "run-1",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := st.UpsertListings(context.Background(), "run-1", []listing.Listing{sampleListing()})
	if err != nil {
		t.Fatalf("UpsertListings: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertListingsIdempotent(t *testing.T) {
	st, mock := newMock(t)

	// Same listing twice: the second write conflicts on the dedupe key
	// and updates in place rather than inserting.
	mock.ExpectExec("INSERT INTO listings").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO listings").WillReturnResult(sqlmock.NewResult(0, 1))

	for i := 0; i < 2; i++ {
		if _, err := st.UpsertListings(context.Background(), "run-1", []listing.Listing{sampleListing()}); err != nil {
			t.Fatalf("UpsertListings #%d: %v", i+1, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertListingsEmptyBatch(t *testing.T) {
	st, _ := newMock(t)
	n, err := st.UpsertListings(context.Background(), "run-1", nil)
	if err != nil || n != 0 {
		t.Fatalf("empty batch: n=%d err=%v", n, err)
	}
}

func TestUpsertListingsDegradesOnError(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectExec("INSERT INTO listings").WillReturnError(errors.New("connection refused"))

	n, err := st.UpsertListings(context.Background(), "run-1", []listing.Listing{sampleListing()})
	if err != nil {
		t.Fatalf("storage errors must not propagate, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected zero rows reported, got %d", n)
	}
}

func TestCreateAndFinishRunLog(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO ingest_runs (run_id, query, sources, model, url_count, status, started_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())`)).
		WithArgs(sqlmock.AnyArg(), []byte(`{"make":"Toyota","model":"Camry","year":2019,"zip":"94103","radius_miles":100}`),
			sqlmock.AnyArg(), "gpt-4o-mini", 6, RunStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	runID, err := st.CreateRunLog(context.Background(), RunLog{
		Query:    RunQuery{Make: "Toyota", Model: "Camry", Year: 2019, Zip: "94103", RadiusMiles: 100},
		Sources:  []string{"cars.example"},
		Model:    "gpt-4o-mini",
		URLCount: 6,
	})
	if err != nil {
		t.Fatalf("CreateRunLog: %v", err)
	}
	if runID == "" {
		t.Fatal("expected generated run id")
	}

	mock.ExpectExec("UPDATE ingest_runs SET").
		WithArgs(runID, RunStatusSuccess, 37, 29, int64(1200), int64(480), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = st.FinishRunLog(context.Background(), runID, RunStatusSuccess, RunStats{
		ListingsFound: 37, ListingsUpserted: 29,
		TokenInput: 1200, TokenOutput: 480,
		Notes: RunNotes{
			DropReasons: map[string]int{"stale": 5},
			Messages:    []string{"host cars.example throttled"},
		},
	})
	if err != nil {
		t.Fatalf("FinishRunLog: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFinishRunLogOnlyOnce(t *testing.T) {
	st, mock := newMock(t)

	// finished_at IS NULL guard: second finish touches zero rows.
	mock.ExpectExec("UPDATE ingest_runs SET").WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.FinishRunLog(context.Background(), "run-1", RunStatusError, RunStats{})
	if !errors.Is(err, ErrRunFinalized) {
		t.Fatalf("expected ErrRunFinalized, got %v", err)
	}
}

func TestCohortListingsScan(t *testing.T) {
	st, mock := newMock(t)

	cols := []string{"dedupe_key", "vin", "make", "model", "year", "price", "mileage",
		"zip", "dealer", "dealer_phone", "image", "posted_at", "url", "source", "fetched_at"}
	mock.ExpectQuery("SELECT dedupe_key, .* FROM listings").
		WithArgs("Toyota", "Camry", 2019).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("k1", "1HGCM82633A004352", "Toyota", "Camry", 2019, 21500.0, 40000.0,
				"94103", nil, nil, nil, "2026-08-01T00:00:00Z", "https://cars.example/1", "cars.example", "2026-08-20T12:00:00Z").
			AddRow("k2", nil, "Toyota", "Camry", nil, nil, nil,
				nil, nil, nil, nil, nil, "https://cars.example/2", "cars.example", "2026-08-20T12:00:00Z"))

	rows, err := st.CohortListings(context.Background(), CohortQuery{Make: "Toyota", Model: "Camry", Year: 2019})
	if err != nil {
		t.Fatalf("CohortListings: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Price == nil || *rows[0].Price != 21500 {
		t.Fatalf("unexpected price: %+v", rows[0].Price)
	}
	if rows[1].VIN != nil || rows[1].Year != nil || rows[1].Zip != nil {
		t.Fatalf("expected nil optional fields, got %+v", rows[1])
	}
}
