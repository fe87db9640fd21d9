package spot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchDecodesWireShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"startsAt":"2026-06-15T00:00:00Z","total":1.23,"currency":"EUR"}]`))
	}))
	defer server.Close()

	c := NewClient(server.URL + "?area=%s&date=%s")
	entries, err := c.Fetch(context.Background(), "NO1", "2026-06-15")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(entries) != 1 || entries[0].Total != 1.23 || entries[0].Currency != "EUR" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestFetchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL + "?area=%s&date=%s")
	if _, err := c.Fetch(context.Background(), "NO1", "2026-06-15"); err == nil {
		t.Fatalf("expected error on 5xx response")
	}
}
