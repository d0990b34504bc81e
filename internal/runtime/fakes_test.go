package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/playperu/snapbooth/internal/booth"
)

// memStore is an in-memory DocumentStore. Subscribers are only notified by
// push, never from inside WriteSession.
type memStore struct {
	mu             sync.Mutex
	session        booth.Session
	responseWrites int
	completeWrites int
	failResponses  error
	failComplete   error
	subs           map[int]func(booth.Session)
	nextSub        int
}

func newMemStore(s booth.Session) *memStore {
	return &memStore{session: s, subs: make(map[int]func(booth.Session))}
}

func (m *memStore) WriteSession(_ context.Context, id string, u booth.SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != m.session.ID {
		return errors.New("no such session")
	}
	if u.Responses != nil {
		m.responseWrites++
		if m.failResponses != nil {
			return m.failResponses
		}
	}
	if u.Status != nil && *u.Status == booth.SessionCompleted {
		m.completeWrites++
		if m.failComplete != nil {
			return m.failComplete
		}
	}
	u.Apply(&m.session)
	return nil
}

func (m *memStore) SubscribeSession(_ string, fn func(booth.Session)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// push applies u as an external writer would and notifies subscribers.
func (m *memStore) push(u booth.SessionUpdate) {
	m.mu.Lock()
	u.Apply(&m.session)
	s := m.session
	var fns []func(booth.Session)
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (m *memStore) snapshot() booth.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *memStore) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// photoExperience is info, short_text, capture, reward.
func photoExperience() *booth.Experience {
	return &booth.Experience{
		ID:   "exp-1",
		Name: "Selfie Booth",
		Steps: []booth.Step{
			{ID: "welcome", Type: booth.StepInfo, Title: "Welcome"},
			{ID: "name", Type: booth.StepShortText, Title: "Your name", Required: true},
			{ID: "photo", Type: booth.StepCapture, Title: "Smile", Required: true},
			{ID: "result", Type: booth.StepReward, Title: "Your portrait"},
		},
	}
}

func photo() json.RawMessage {
	return booth.MediaData([]booth.MediaRef{{URL: "https://cdn.example.com/p.jpg", ContentType: "image/jpeg"}})
}

func newTestRuntime(t *testing.T, store *memStore, onComplete CompletionFunc) *Runtime {
	t.Helper()
	rt := New(Options{
		Store:      store,
		SessionID:  store.snapshot().ID,
		OnComplete: onComplete,
		Logger:     discardLogger(),
	})
	t.Cleanup(rt.Close)
	return rt
}
