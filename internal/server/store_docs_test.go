package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playperu/snapbooth/internal/booth"
	"github.com/playperu/snapbooth/internal/database"
	"github.com/playperu/snapbooth/internal/migrations"
)

func setupDocStore(t *testing.T) (*DocStore, *Broker) {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.MemoryPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.RunTenant(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	broker := NewBroker()
	return NewDocStore(db, "acme", broker, quietLogger()), broker
}

func quickExperience() *booth.Experience {
	return &booth.Experience{
		Name: "Quick",
		Steps: []booth.Step{
			{ID: "hi", Type: booth.StepInfo},
			{ID: "ok", Type: booth.StepYesNo, Required: true},
		},
	}
}

func TestExperienceCRUD(t *testing.T) {
	store, _ := setupDocStore(t)
	ctx := context.Background()

	saved, err := store.CreateExperience(ctx, quickExperience())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if saved.ID == "" || saved.Status != booth.ExperiencePublished || saved.CreatedAt.IsZero() {
		t.Errorf("expected id, published status and timestamp, got %+v", saved)
	}

	got, err := store.GetExperience(ctx, saved.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Quick" || len(got.Steps) != 2 || got.Steps[1].Type != booth.StepYesNo {
		t.Errorf("unexpected experience %+v", got)
	}

	list, err := store.ListExperiences(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].StepCount != 2 {
		t.Errorf("expected one summary with 2 steps, got %+v", list)
	}

	if err := store.DeleteExperience(ctx, saved.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetExperience(ctx, saved.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteExperience(ctx, saved.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDeleteExperienceWithActiveSession(t *testing.T) {
	store, _ := setupDocStore(t)
	ctx := context.Background()

	exp, _ := store.CreateExperience(ctx, quickExperience())
	if _, _, err := store.CreateSession(ctx, exp.ID, booth.ModeGuest); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := store.DeleteExperience(ctx, exp.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store, _ := setupDocStore(t)
	ctx := context.Background()

	if _, _, err := store.CreateSession(ctx, "missing", booth.ModeGuest); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown experience, got %v", err)
	}

	exp, _ := store.CreateExperience(ctx, quickExperience())
	sess, token, err := store.CreateSession(ctx, exp.ID, booth.ModePreview)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.Status != booth.SessionActive || sess.Mode != booth.ModePreview {
		t.Errorf("unexpected new session %+v", sess)
	}

	byToken, err := store.SessionByToken(ctx, token)
	if err != nil || byToken.ID != sess.ID {
		t.Fatalf("expected session by token, got %+v (%v)", byToken, err)
	}
	if _, err := store.SessionByToken(ctx, "wrong"); !errors.Is(err, errNoSession) {
		t.Errorf("expected errNoSession, got %v", err)
	}

	first := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	err = store.WriteSession(ctx, sess.ID, booth.SessionUpdate{
		Responses:        []booth.StepResponse{{StepID: "ok", Data: []byte(`"yes"`)}},
		CurrentStepIndex: booth.Ptr(1),
		Status:           booth.Ptr(booth.SessionCompleted),
		CompletedAt:      &first,
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	later := first.Add(time.Hour)
	err = store.WriteSession(ctx, sess.ID, booth.SessionUpdate{CompletedAt: &later, JobStatus: booth.Ptr(booth.JobQueued)})
	if err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentStepIndex != 1 || len(got.Responses) != 1 || got.Responses[0].Text() != "yes" {
		t.Errorf("expected saved position and answer, got %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(first) {
		t.Errorf("expected completedAt to keep the first value, got %v", got.CompletedAt)
	}
	if got.JobStatus != booth.JobQueued {
		t.Errorf("expected queued job, got %q", got.JobStatus)
	}

	if err := store.WriteSession(ctx, "missing", booth.SessionUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound writing unknown session, got %v", err)
	}
}

func TestWriteSessionPublishes(t *testing.T) {
	store, broker := setupDocStore(t)
	ctx := context.Background()
	exp, _ := store.CreateExperience(ctx, quickExperience())
	sess, _, _ := store.CreateSession(ctx, exp.ID, booth.ModeGuest)

	got := make(chan booth.Session, 4)
	unsubscribe := store.SubscribeSession(sess.ID, func(s booth.Session) { got <- s })

	if err := store.WriteSession(ctx, sess.ID, booth.SessionUpdate{JobStatus: booth.Ptr(booth.JobRunning)}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case s := <-got:
		if s.ID != sess.ID || s.JobStatus != booth.JobRunning {
			t.Errorf("unexpected pushed session %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session change")
	}

	unsubscribe()
	if n := broker.Subscribers(sessionTopic("acme", sess.ID)); n != 0 {
		t.Errorf("expected no subscribers after unsubscribe, got %d", n)
	}
}

func TestIdleSessions(t *testing.T) {
	store, _ := setupDocStore(t)
	ctx := context.Background()
	exp, _ := store.CreateExperience(ctx, quickExperience())

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	old, _, _ := store.CreateSession(ctx, exp.ID, booth.ModeGuest)
	done, _, _ := store.CreateSession(ctx, exp.ID, booth.ModeGuest)
	store.WriteSession(ctx, done.ID, booth.SessionUpdate{Status: booth.Ptr(booth.SessionCompleted)})

	store.now = func() time.Time { return base.Add(3 * time.Hour) }
	store.CreateSession(ctx, exp.ID, booth.ModeGuest)

	ids, err := store.IdleSessions(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("idle: %v", err)
	}
	if len(ids) != 1 || ids[0] != old.ID {
		t.Errorf("expected only %s to be idle, got %v", old.ID, ids)
	}
}
