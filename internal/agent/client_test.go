package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"followtrader/internal/broker"
)

func TestTargetBookNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents/agent-1/positions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"symbol":" ethusdt ","side":"LONG","quantity":"2","entry_price":"2500","leverage":5},
			{"symbol":"BTCUSDT","side":"SHORT","quantity":"0.5","entry_price":"60000","leverage":0},
			{"symbol":"","quantity":"1"},
			{"symbol":"DOGEUSDT","side":"LONG","quantity":"0","entry_price":"0.1","leverage":3}
		]`))
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), srv.URL)
	book, err := client.TargetBook(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("target book failed: %v", err)
	}
	if len(book) != 2 {
		t.Fatalf("len = %d, want 2 (empty and zero-quantity entries dropped)", len(book))
	}
	if book[0].Symbol != "ETHUSDT" || book[0].Side != broker.SideLong {
		t.Fatalf("book[0] = %+v", book[0])
	}
	if book[1].Leverage != 1 {
		t.Fatalf("zero leverage should normalize to 1, got %d", book[1].Leverage)
	}
}

func TestTargetBookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such agent", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), srv.URL)
	_, err := client.TargetBook(context.Background(), "ghost")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected APIError 404, got %v", err)
	}
}

func TestTargetBookRequiresAgentID(t *testing.T) {
	client := NewClient(http.DefaultClient, "http://localhost:1")
	if _, err := client.TargetBook(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for blank agent id")
	}
}
