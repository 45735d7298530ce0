package vin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestVPICDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "DecodeVinValues/1HGCM82633A004352") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"Results":[{"Make":"HONDA","Model":"Accord","ModelYear":"2003"}]}`))
	}))
	defer srv.Close()

	d := NewVPICDecoder(5 * time.Second)
	d.BaseURL = srv.URL

	v, err := d.Decode(context.Background(), "1HGCM82633A004352")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Make != "HONDA" || v.Model != "Accord" || v.Year != 2003 {
		t.Fatalf("unexpected vehicle: %+v", v)
	}
}

func TestVPICDecodeRejectsShortVIN(t *testing.T) {
	d := NewVPICDecoder(time.Second)
	if _, err := d.Decode(context.Background(), "SHORT"); err == nil {
		t.Fatal("expected length error")
	}
}
