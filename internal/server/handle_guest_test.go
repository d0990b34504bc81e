package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/playperu/snapbooth/internal/booth"
	"github.com/playperu/snapbooth/internal/jobs"
	"github.com/playperu/snapbooth/internal/transform"
)

type stubImages struct {
	prompts []string
}

func (s *stubImages) Generate(_ context.Context, req transform.ImageRequest) (booth.MediaRef, error) {
	s.prompts = append(s.prompts, req.Prompt)
	return booth.MediaRef{URL: "https://img.example.com/portrait.png", ContentType: "image/png"}, nil
}

const photoJSON = `{"url":"https://cdn.example.com/ada.jpg","contentType":"image/jpeg"}`

// answerAll walks a fresh demo session up to the capture step and answers it.
func answerAll(t *testing.T, e *testEnv, token string) {
	t.Helper()
	steps := []struct {
		method, path, body string
		wantStep           string
	}{
		{http.MethodPost, "/api/demo/session/next", "", "name"},
		{http.MethodPut, "/api/demo/session/responses/name", `"Ada"`, "name"},
		{http.MethodPost, "/api/demo/session/next", "", "style"},
		{http.MethodPut, "/api/demo/session/responses/style", `"comic"`, "photo"},
		{http.MethodPut, "/api/demo/session/responses/photo", photoJSON, "photo"},
	}
	for _, s := range steps {
		var body any
		if s.body != "" {
			body = s.body
		}
		w := e.do(t, s.method, s.path, token, body)
		if w.Code != http.StatusOK {
			t.Fatalf("%s %s: expected 200, got %d: %s", s.method, s.path, w.Code, w.Body.String())
		}
		if v := decodeView(t, w); v.stepID() != s.wantStep {
			t.Fatalf("%s %s: expected step %q, got %q", s.method, s.path, s.wantStep, v.stepID())
		}
	}
}

func TestGuestRunToReward(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	token, first := e.startSession(t)
	if first.stepID() != "welcome" || !first.TopBar.CloseMode {
		t.Fatalf("expected welcome step in close mode, got %+v", first)
	}

	answerAll(t, e, token)

	w := e.do(t, http.MethodPost, "/api/demo/session/next", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("finish: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	v := e.waitView(t, token, func(v viewBody) bool { return v.Job.Status == "queued" })
	if !v.IsComplete || v.stepID() != "wait" {
		t.Fatalf("expected completed run on the processing step, got %+v", v)
	}
	if v.CompletionError != nil {
		t.Errorf("expected no completion error, got %q", *v.CompletionError)
	}

	sess, err := e.store.GetSession(ctx, first.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Status != booth.SessionCompleted || sess.CompletedAt == nil {
		t.Errorf("expected completed session document, got %q", sess.Status)
	}
	if len(sess.Responses) != 3 {
		t.Errorf("expected 3 saved responses, got %d", len(sess.Responses))
	}

	job, err := e.queue.Get(ctx, sess.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Kind != transform.Kind {
		t.Errorf("expected %s job, got %q", transform.Kind, job.Kind)
	}

	images := &stubImages{}
	runner := jobs.NewRunner(e.queue, time.Second, quietLogger())
	runner.RegisterHandler(transform.Kind, transform.NewHandler(NewTenantSessions(e.clients), images, quietLogger()).Run)
	runner.Poll(ctx)

	if len(images.prompts) != 1 {
		t.Fatalf("expected one generation, got %d", len(images.prompts))
	}
	want := "A comic portrait of a person named Ada, based on the reference photo"
	if images.prompts[0] != want {
		t.Errorf("expected prompt %q, got %q", want, images.prompts[0])
	}

	v = e.waitView(t, token, func(v viewBody) bool { return v.stepID() == "result" })
	if v.Job.Status != "done" || v.Job.Result == nil {
		t.Errorf("expected finished job with result, got %+v", v.Job)
	}
	if !v.TopBar.CloseMode {
		t.Error("expected close mode after completion")
	}
}

func TestGuestSubmitValidation(t *testing.T) {
	e := setupEnv(t)
	token, _ := e.startSession(t)
	e.do(t, http.MethodPost, "/api/demo/session/next", token, nil)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"empty name", "/api/demo/session/responses/name", `"   "`, http.StatusUnprocessableEntity},
		{"name too long", "/api/demo/session/responses/name", `"abcdefghijklmnopqrstuvwxyz0123456789"`, http.StatusUnprocessableEntity},
		{"unknown choice", "/api/demo/session/responses/style", `"cubism"`, http.StatusUnprocessableEntity},
		{"bad media url", "/api/demo/session/responses/photo", `{"url":"ftp://x/y.jpg"}`, http.StatusUnprocessableEntity},
		{"unknown step", "/api/demo/session/responses/nope", `"x"`, http.StatusNotFound},
		{"not json", "/api/demo/session/responses/name", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPut, tt.path, token, tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			if tt.want == http.StatusUnprocessableEntity {
				var resp ValidationErrorResponse
				json.NewDecoder(w.Body).Decode(&resp)
				if resp.Error == "" || resp.StepID == "" {
					t.Errorf("expected step validation message, got %+v", resp)
				}
			}
		})
	}

	// A rejected answer never blocks completion or reaches the session.
	w := e.do(t, http.MethodGet, "/api/demo/session", token, nil)
	v := decodeView(t, w)
	if v.CompletionError != nil {
		t.Errorf("expected no completion error, got %q", *v.CompletionError)
	}
	if v.CanProceed {
		t.Error("expected required name step to block")
	}
}

func TestGuestNextRequiresAnswer(t *testing.T) {
	e := setupEnv(t)
	token, _ := e.startSession(t)
	e.do(t, http.MethodPost, "/api/demo/session/next", token, nil)

	w := e.do(t, http.MethodPost, "/api/demo/session/next", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if v := decodeView(t, w); v.stepID() != "name" || v.Footer.Enabled {
		t.Errorf("expected to stay on name with a disabled footer, got %q %+v", v.stepID(), v.Footer)
	}
}

func TestGuestGoToIsPreviewOnly(t *testing.T) {
	e := setupEnv(t)
	token, _ := e.startSession(t)

	w := e.do(t, http.MethodPost, "/api/demo/session/goto", token, GoToRequest{Index: 3})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGuestBackAndExit(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	token, first := e.startSession(t)

	e.do(t, http.MethodPost, "/api/demo/session/next", token, nil)
	w := e.do(t, http.MethodPost, "/api/demo/session/back", token, nil)
	var back struct {
		Action string
		View   viewBody
	}
	json.NewDecoder(w.Body).Decode(&back)
	if back.Action != "back" || back.View.stepID() != "welcome" {
		t.Fatalf("expected a step back to welcome, got %q %q", back.Action, back.View.stepID())
	}

	w = e.do(t, http.MethodPost, "/api/demo/session/back", token, nil)
	json.NewDecoder(w.Body).Decode(&back)
	if back.Action != "exit" {
		t.Fatalf("expected exit confirmation on the first step, got %q", back.Action)
	}

	w = e.do(t, http.MethodPost, "/api/demo/session/exit", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("exit: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	sess, err := e.store.GetSession(ctx, first.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Status != booth.SessionAbandoned {
		t.Errorf("expected abandoned, got %q", sess.Status)
	}
	if e.hub.Len() != 0 {
		t.Errorf("expected runtime to be evicted, %d live", e.hub.Len())
	}

	w = e.do(t, http.MethodGet, "/api/demo/session", token, nil)
	if w.Code != http.StatusGone {
		t.Errorf("expected 410 after exit, got %d", w.Code)
	}
}

func TestGuestResumesFromDocument(t *testing.T) {
	e := setupEnv(t)
	token, first := e.startSession(t)
	e.do(t, http.MethodPost, "/api/demo/session/next", token, nil)
	e.do(t, http.MethodPut, "/api/demo/session/responses/name", token, `"Grace"`)
	e.do(t, http.MethodPost, "/api/demo/session/next", token, nil)

	// Drop the live runtime; the next request rebuilds it from the document.
	e.hub.Evict(demoClient, first.SessionID)

	w := e.do(t, http.MethodGet, "/api/demo/session", token, nil)
	v := decodeView(t, w)
	if v.stepID() != "style" || v.CurrentStepIndex != 2 {
		t.Fatalf("expected to resume on style, got %q at %d", v.stepID(), v.CurrentStepIndex)
	}

	w = e.do(t, http.MethodPost, "/api/demo/session/previous", token, nil)
	if v := decodeView(t, w); v.stepID() != "name" {
		t.Errorf("expected previous to reach name, got %q", v.stepID())
	}
}

func TestGuestResumesAfterCompletion(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	token, first := e.startSession(t)
	answerAll(t, e, token)
	e.do(t, http.MethodPost, "/api/demo/session/next", token, nil)
	e.waitView(t, token, func(v viewBody) bool { return v.Phase == "done" })

	// Eviction waits for the background completion to land.
	e.hub.Evict(demoClient, first.SessionID)
	sess, err := e.store.GetSession(ctx, first.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.FinalizedAt == nil || sess.CurrentStepIndex != 4 {
		t.Fatalf("expected finalized document on the wait step, got index %d finalizedAt %v", sess.CurrentStepIndex, sess.FinalizedAt)
	}

	w := e.do(t, http.MethodGet, "/api/demo/session", token, nil)
	v := decodeView(t, w)
	if v.Render != "step" || v.Phase != "done" || v.stepID() != "wait" {
		t.Fatalf("expected the processing step after resume, got render %q phase %q step %q", v.Render, v.Phase, v.stepID())
	}
}

func TestGuestRetriesInterruptedCompletion(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	token, first := e.startSession(t)
	answerAll(t, e, token)

	// Marked complete by an earlier process that died before queueing.
	e.hub.Evict(demoClient, first.SessionID)
	now := time.Now().UTC()
	err := e.store.WriteSession(ctx, first.SessionID, booth.SessionUpdate{
		Status:      booth.Ptr(booth.SessionCompleted),
		CompletedAt: &now,
	})
	if err != nil {
		t.Fatalf("write session: %v", err)
	}

	w := e.do(t, http.MethodGet, "/api/demo/session", token, nil)
	v := decodeView(t, w)
	if v.Render != "completion_failed" || v.CompletionError == nil {
		t.Fatalf("expected a retryable failure, got render %q", v.Render)
	}

	w = e.do(t, http.MethodPost, "/api/demo/session/retry", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("retry: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	v = e.waitView(t, token, func(v viewBody) bool { return v.Job.Status == "queued" && v.Phase == "done" })
	if v.stepID() != "wait" || v.CompletionError != nil {
		t.Errorf("expected the processing step without error, got %q %v", v.stepID(), v.CompletionError)
	}
}

func TestGuestRetryWithoutFailure(t *testing.T) {
	e := setupEnv(t)
	token, _ := e.startSession(t)

	w := e.do(t, http.MethodPost, "/api/demo/session/retry", token, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestGuestAuth(t *testing.T) {
	e := setupEnv(t)

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"missing token", "/api/demo/session", "", http.StatusUnauthorized},
		{"bad token", "/api/demo/session", "nope", http.StatusUnauthorized},
		{"unknown client", "/api/acme/session", "nope", http.StatusNotFound},
		{"unknown experience", "/api/demo/experiences/missing", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodGet, tt.path, tt.token, nil)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestGetPublishedExperience(t *testing.T) {
	e := setupEnv(t)

	w := e.do(t, http.MethodGet, "/api/demo/experiences/"+e.expID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var exp booth.Experience
	json.NewDecoder(w.Body).Decode(&exp)
	if exp.Name != "Demo Photo Booth" || len(exp.Steps) != 6 {
		t.Errorf("unexpected experience %q with %d steps", exp.Name, len(exp.Steps))
	}
}
