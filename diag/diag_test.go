package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	hopper "github.com/freekieb7/hopper/http"
)

type fixedStats hopper.ServerStats

func (s fixedStats) Stats() hopper.ServerStats {
	return hopper.ServerStats(s)
}

func TestStats(t *testing.T) {
	src := fixedStats{
		Name:     "hopper",
		Accepted: 3,
		Requests: 7,
		Active:   1,
		Conns:    []hopper.ConnStats{{ID: 3, State: "receive", Requests: 2}},
	}
	rec := httptest.NewRecorder()
	Handler(src).ServeHTTP(rec, httptest.NewRequest("GET", "/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var got hopper.ServerStats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Requests != 7 || len(got.Conns) != 1 || got.Conns[0].State != "receive" {
		t.Errorf("got %+v", got)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		shuttingDown bool
		status       int
	}{
		{false, http.StatusOK},
		{true, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		Handler(fixedStats{ShuttingDown: tt.shuttingDown}).ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
		if rec.Code != tt.status {
			t.Errorf("shutting down %v: status %d, want %d", tt.shuttingDown, rec.Code, tt.status)
		}
	}
}

func TestServerStats(t *testing.T) {
	srv := hopper.NewServer(hopper.Config{Name: "diag-test"}, hopper.NewRouter())
	rec := httptest.NewRecorder()
	Handler(srv).ServeHTTP(rec, httptest.NewRequest("GET", "/stats", nil))

	var got hopper.ServerStats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "diag-test" || got.Active != 0 {
		t.Errorf("got %+v", got)
	}
}
