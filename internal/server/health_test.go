package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/playperu/snapbooth/internal/database"
)

func deadRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         "localhost:1",
		DialTimeout:  10 * time.Millisecond,
		ReadTimeout:  10 * time.Millisecond,
		WriteTimeout: 10 * time.Millisecond,
		MaxRetries:   0,
	})
}

func TestHandleHealth(t *testing.T) {
	db, err := database.Open(context.Background(), database.MemoryPath)
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	defer db.Close()

	rdb := deadRedis()
	defer rdb.Close()

	sqliteCheck := CheckFunc(db.PingContext)
	redisCheck := CheckFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	failing := CheckFunc(func(context.Context) error { return errors.New("boom") })

	tests := []struct {
		name       string
		checks     map[string]Checker
		wantStatus int
		want       map[string]string
	}{
		{
			name:       "all ok",
			checks:     map[string]Checker{"sqlite": sqliteCheck},
			wantStatus: http.StatusOK,
			want:       map[string]string{"sqlite": "ok"},
		},
		{
			name:       "redis down",
			checks:     map[string]Checker{"sqlite": sqliteCheck, "redis": redisCheck},
			wantStatus: http.StatusServiceUnavailable,
			want:       map[string]string{"sqlite": "ok", "redis": "error"},
		},
		{
			name:       "tenant failure",
			checks:     map[string]Checker{"sqlite": sqliteCheck, "tenants": failing},
			wantStatus: http.StatusServiceUnavailable,
			want:       map[string]string{"sqlite": "ok", "tenants": "error"},
		},
		{
			name:       "no checks",
			checks:     nil,
			wantStatus: http.StatusOK,
			want:       map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handleHealth(quietLogger(), tt.checks)

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			rec := httptest.NewRecorder()
			h(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			var body map[string]struct{ Status string }
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decoding: %v", err)
			}
			if len(body) != len(tt.want) {
				t.Errorf("got %d results, want %d", len(body), len(tt.want))
			}
			for name, want := range tt.want {
				if got := body[name].Status; got != want {
					t.Errorf("%s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestHealthzRoute(t *testing.T) {
	e := setupEnv(t)
	w := e.do(t, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
}
