package listing

import "testing"

func strp(s string) *string   { return &s }
func intp(i int) *int         { return &i }
func f64p(f float64) *float64 { return &f }

func TestCanonicalURL(t *testing.T) {
	cases := map[string]string{
		"https://cars.example/vdp/123?utm_source=x#gallery": "https://cars.example/vdp/123",
		"HTTPS://Cars.Example/vdp/123/":                     "https://cars.example/vdp/123",
		"https://cars.example/vdp/123":                      "https://cars.example/vdp/123",
		"not a url/":                                        "not a url",
	}
	for in, want := range cases {
		if got := CanonicalURL(in); got != want {
			t.Fatalf("CanonicalURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCanonicalPhoneAndDealer(t *testing.T) {
	if got := CanonicalPhone("(415) 555-0100 ext. 2"); got != "41555501002" {
		t.Fatalf("unexpected phone: %q", got)
	}
	if CanonicalDealer("Bob's  Toyota, Inc.") != CanonicalDealer("bobs toyota inc") {
		t.Fatal("dealer names should canonicalize equal")
	}
}

func TestDedupeKeyVINWins(t *testing.T) {
	a := Listing{VIN: strp(" 1hgcm82633a004352 "), Make: "Honda", Model: "Accord", URL: "https://a.example/1", Source: "a.example"}
	b := Listing{VIN: strp("1HGCM82633A004352"), Make: "HONDA", Model: "accord", URL: "https://b.example/other", Source: "b.example"}
	if DedupeKey(a) != DedupeKey(b) {
		t.Fatal("same VIN must collapse regardless of other fields")
	}
	if DedupeKey(a) != "vin:1HGCM82633A004352" {
		t.Fatalf("unexpected vin key: %q", DedupeKey(a))
	}
}

func TestDedupeKeyEmptyVINFallsBack(t *testing.T) {
	l := Listing{VIN: strp("  "), Make: "Honda", Model: "Accord", URL: "https://a.example/1", Source: "a.example"}
	if DedupeKey(l) == "vin:" || DedupeKey(l)[:4] == "vin:" {
		t.Fatalf("blank VIN must not produce a vin key: %q", DedupeKey(l))
	}
}

func TestDedupeKeyRoundingAbsorbsNoise(t *testing.T) {
	base := Listing{
		Make: "Toyota", Model: "Camry", Year: intp(2019),
		Price: f64p(21005), Mileage: f64p(41010),
		Zip: strp("94103"), Source: "cars.example",
		URL:         "https://cars.example/vdp/9?ref=srp",
		Dealer:      strp("Mission Motors"),
		DealerPhone: strp("415-555-0100"),
	}
	noisy := base
	noisy.Price = f64p(21040)   // rounds to the same hundred
	noisy.Mileage = f64p(40990) // rounds to the same hundred
	noisy.URL = "https://cars.example/vdp/9#photos"
	if DedupeKey(base) != DedupeKey(noisy) {
		t.Fatal("rounding noise must not mint a new identity")
	}

	moved := base
	moved.Price = f64p(21600)
	if DedupeKey(base) == DedupeKey(moved) {
		t.Fatal("a real price change must produce a new key")
	}
}

func TestDedupeFirstSeenWins(t *testing.T) {
	first := Listing{VIN: strp("5YJ3E1EA7KF000316"), Make: "Tesla", Model: "Model 3", Price: f64p(30000), URL: "https://a.example/1", Source: "a.example"}
	later := Listing{VIN: strp("5YJ3E1EA7KF000316"), Make: "Tesla", Model: "Model 3", Price: f64p(29000), URL: "https://b.example/2", Source: "b.example"}
	other := Listing{Make: "Tesla", Model: "Model Y", URL: "https://a.example/3", Source: "a.example"}

	out := Dedupe([]Listing{first, later, other})
	if len(out) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(out))
	}
	if *out[0].Price != 30000 {
		t.Fatalf("first seen must win, got price %v", *out[0].Price)
	}
	if out[1].Model != "Model Y" {
		t.Fatalf("unexpected survivor order: %v", out[1].Model)
	}
}
