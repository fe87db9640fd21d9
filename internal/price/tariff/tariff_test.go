package tariff

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchNormalizesNorwegianFieldNames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"datoId":"2026-06-15T00","energileddEks":0.35,"energileddInk":0.44,"fastleddEks":0.12,"fastleddInk":0.15}]`))
	}))
	defer server.Close()

	c := NewClient(server.URL + "?date=%s")
	entries, err := c.Fetch(context.Background(), "2026-06-15")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.EnergyExVat != 0.35 || e.EnergyIncVat != 0.44 || e.FixedExVat != 0.12 {
		t.Fatalf("unexpected normalized entry: %+v", e)
	}
}

func TestFetchNotFoundIsEmptyNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.URL + "?date=%s")
	entries, err := c.Fetch(context.Background(), "2026-06-15")
	if err != nil {
		t.Fatalf("expected no error on 404, got %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty result, got %+v", entries)
	}
}
