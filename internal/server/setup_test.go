package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/playperu/snapbooth/internal/database"
	"github.com/playperu/snapbooth/internal/jobs"
	"github.com/playperu/snapbooth/internal/migrations"
)

type testEnv struct {
	adminDB *sql.DB
	admin   *AdminStore
	broker  *Broker
	clients *Registry
	queue   *jobs.SQLRepo
	hub     *Hub
	store   *DocStore
	expID   string
	handler http.Handler
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupEnv wires in-memory databases, the seeded demo client and the full
// router.
func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := quietLogger()

	adminDB, err := database.Open(ctx, database.MemoryPath)
	if err != nil {
		t.Fatalf("open admin db: %v", err)
	}
	t.Cleanup(func() { adminDB.Close() })
	if err := migrations.RunAdmin(ctx, adminDB); err != nil {
		t.Fatalf("migrate admin db: %v", err)
	}

	admin := NewAdminStore(adminDB)
	if err := admin.CreateAdmin(ctx, "admin", "changeme"); err != nil {
		t.Fatalf("create admin: %v", err)
	}

	broker := NewBroker()
	clients := NewRegistry(database.MemoryPath, admin, broker, logger)
	t.Cleanup(func() { clients.Close() })

	queue := jobs.NewSQLRepo(adminDB)
	hub := NewHub(queue, logger)
	t.Cleanup(hub.Close)

	if err := SeedDemo(ctx, logger, admin, clients); err != nil {
		t.Fatalf("seed demo: %v", err)
	}
	store, err := clients.Get(ctx, demoClient)
	if err != nil {
		t.Fatalf("demo store: %v", err)
	}
	list, err := store.ListExperiences(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one demo experience, got %v (%v)", list, err)
	}

	handler := NewHandler(logger, Deps{
		Admin:   admin,
		Clients: clients,
		Hub:     hub,
		Checks: map[string]Checker{
			"sqlite":  CheckFunc(adminDB.PingContext),
			"tenants": CheckFunc(clients.Check),
		},
	})

	return &testEnv{
		adminDB: adminDB,
		admin:   admin,
		broker:  broker,
		clients: clients,
		queue:   queue,
		hub:     hub,
		store:   store,
		expID:   list[0].ID,
		handler: handler,
	}
}

// viewBody is the subset of the runtime view the tests look at.
type viewBody struct {
	SessionID        string
	CurrentStepIndex int
	IsComplete       bool
	CompletionError  *string
	CanProceed       bool
	Phase            string
	Render           string
	Step             *struct {
		ID   string
		Type string
	}
	TopBar struct {
		BackAction string
		CloseMode  bool
	}
	Footer struct {
		Label   string
		Enabled bool
	}
	Job struct {
		ID     string
		Status string
		Result *struct{ URL string }
	}
}

func (v viewBody) stepID() string {
	if v.Step == nil {
		return ""
	}
	return v.Step.ID
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) viewBody {
	t.Helper()
	var v viewBody
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding view: %v", err)
	}
	return v
}

// startSession opens a guest session on the demo experience.
func (e *testEnv) startSession(t *testing.T) (string, viewBody) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/demo/sessions", "", StartSessionRequest{ExperienceID: e.expID})
	if w.Code != http.StatusCreated {
		t.Fatalf("start session: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		SessionID string
		Token     string
		View      viewBody
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if resp.Token == "" || resp.SessionID == "" {
		t.Fatalf("expected session id and token, got %+v", resp)
	}
	return resp.Token, resp.View
}

// waitView polls the session view until cond holds.
func (e *testEnv) waitView(t *testing.T, token string, cond func(viewBody) bool) viewBody {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		w := e.do(t, http.MethodGet, "/api/demo/session", token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("get session: expected 200, got %d: %s", w.Code, w.Body.String())
		}
		v := decodeView(t, w)
		if cond(v) {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for view, last %+v", v)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func adminCookies(t *testing.T, e *testEnv) []*http.Cookie {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/admin/login", "", AdminLoginRequest{Username: "admin", Password: "changeme"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	return w.Result().Cookies()
}

func (e *testEnv) adminDo(t *testing.T, cookies []*http.Cookie, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}
