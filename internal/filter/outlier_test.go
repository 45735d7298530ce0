package filter

import (
	"fmt"
	"testing"

	"github.com/compscout/compscout/internal/listing"
)

func pricedCohort(n int, base float64) []listing.Listing {
	var out []listing.Listing
	for i := 0; i < n; i++ {
		l := baseListing(fmt.Sprintf("https://cars.example/%d", i))
		l.Price = f64p(base + float64(i)*200)
		out = append(out, l)
	}
	return out
}

func TestOutlierFencesDropExtremes(t *testing.T) {
	in := pricedCohort(8, 20000) // 20000..21400, tight cohort
	spike := baseListing("https://cars.example/spike")
	spike.Price = f64p(90000)
	lowball := baseListing("https://cars.example/lowball")
	lowball.Price = f64p(2000)
	in = append(in, spike, lowball)

	out, report := Run(in, Options{Now: fixedNow()})
	if report.Dropped[ReasonOutlier] != 2 {
		t.Fatalf("expected 2 outlier drops, got %d (%+v)", report.Dropped[ReasonOutlier], report.Dropped)
	}
	for _, l := range out {
		if *l.Price == 90000 || *l.Price == 2000 {
			t.Fatalf("outlier survived: %v", *l.Price)
		}
	}
}

func TestOutlierSmallCohortKeepsEverything(t *testing.T) {
	in := pricedCohort(6, 20000)
	spike := baseListing("https://cars.example/spike")
	spike.Price = f64p(90000)
	in = append(in, spike)

	_, report := Run(in, Options{Now: fixedNow()})
	if report.Dropped[ReasonOutlier] != 0 {
		t.Fatalf("cohorts under the sample floor must keep everything, dropped %d", report.Dropped[ReasonOutlier])
	}
}

func TestOutlierUnpricedNeverDropped(t *testing.T) {
	in := pricedCohort(10, 20000)
	unpriced := baseListing("https://cars.example/unpriced")
	unpriced.Price = nil
	in = append(in, unpriced)

	out, report := Run(in, Options{Now: fixedNow()})
	if report.Dropped[ReasonOutlier] != 0 {
		t.Fatalf("unexpected outlier drops: %d", report.Dropped[ReasonOutlier])
	}
	found := false
	for _, l := range out {
		if l.Price == nil {
			found = true
		}
	}
	if !found {
		t.Fatal("unpriced listing must survive the outlier stage")
	}
}

func TestOutlierCohortsAreIndependent(t *testing.T) {
	camrys := pricedCohort(8, 20000)
	// Different model, price that would be an outlier among the Camrys.
	truck := baseListing("https://cars.example/truck")
	truck.Model = "Tundra"
	truck.Price = f64p(55000)

	_, report := Run(append(camrys, truck), Options{Now: fixedNow()})
	if report.Dropped[ReasonOutlier] != 0 {
		t.Fatalf("cross-cohort pricing must not interact, dropped %d", report.Dropped[ReasonOutlier])
	}
	if len(report.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(report.Groups))
	}
}

func TestQuantileInterpolation(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	if q := quantile(sorted, 0.25); q != 17.5 {
		t.Fatalf("q1 = %v, want 17.5", q)
	}
	if q := quantile(sorted, 0.75); q != 32.5 {
		t.Fatalf("q3 = %v, want 32.5", q)
	}
	if q := quantile([]float64{7}, 0.5); q != 7 {
		t.Fatalf("single-sample quantile = %v, want 7", q)
	}
	if q := quantile(nil, 0.5); q != 0 {
		t.Fatalf("empty quantile = %v, want 0", q)
	}
}
