package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/playperu/snapbooth/internal/booth"
	"github.com/playperu/snapbooth/internal/jobs"
	"github.com/playperu/snapbooth/internal/runtime"
	"github.com/playperu/snapbooth/internal/transform"
)

var errNoQueue = errors.New("job queue is not configured")

// Hub owns the live runtime of every session a guest is currently driving.
type Hub struct {
	jobs      jobs.Repo
	renderers *runtime.Registry
	logger    *slog.Logger

	mu       sync.Mutex
	runtimes map[string]*runtime.Runtime
}

func NewHub(queue jobs.Repo, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		jobs:      queue,
		renderers: runtime.DefaultRegistry(),
		logger:    logger,
		runtimes:  make(map[string]*runtime.Runtime),
	}
}

// Runtime returns the runtime driving session, starting one from the stored
// document when none is live.
func (h *Hub) Runtime(ctx context.Context, client string, store Store, session booth.Session) (*runtime.Runtime, error) {
	key := sessionTopic(client, session.ID)

	h.mu.Lock()
	defer h.mu.Unlock()

	if rt, ok := h.runtimes[key]; ok {
		return rt, nil
	}

	exp, err := store.GetExperience(ctx, session.ExperienceID)
	if err != nil {
		return nil, fmt.Errorf("loading experience: %w", err)
	}

	rt := runtime.New(runtime.Options{
		Store:      store,
		SessionID:  session.ID,
		Registry:   h.renderers,
		OnComplete: h.completion(client, store, exp, session.ID),
		OnClose: func(context.Context) error {
			h.Evict(client, session.ID)
			return nil
		},
		Logger:     h.logger.With("client", client),
		Background: true,
	})
	if err := rt.Init(session, exp); err != nil {
		return nil, err
	}
	h.runtimes[key] = rt
	return rt, nil
}

// completion queues the outcome transform once a run is finalized.
// Experiences without an outcome complete without a callback.
func (h *Hub) completion(client string, store Store, exp *booth.Experience, sessionID string) runtime.CompletionFunc {
	if exp.Outcome == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if h.jobs == nil {
			return errNoQueue
		}
		jobID, err := transform.Enqueue(ctx, h.jobs, transform.Payload{
			Client:       client,
			SessionID:    sessionID,
			ExperienceID: exp.ID,
		})
		if err != nil {
			return fmt.Errorf("queueing transform: %w", err)
		}

		sess, err := store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.JobID == jobID {
			return nil
		}
		return store.WriteSession(ctx, sessionID, booth.SessionUpdate{
			JobID:     booth.Ptr(jobID),
			JobStatus: booth.Ptr(booth.JobQueued),
			JobError:  booth.Ptr(""),
		})
	}
}

// Evict stops the runtime of a session, if one is live.
func (h *Hub) Evict(client, sessionID string) {
	key := sessionTopic(client, sessionID)
	h.mu.Lock()
	rt, ok := h.runtimes[key]
	delete(h.runtimes, key)
	h.mu.Unlock()

	if ok {
		rt.Close()
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.runtimes)
}

// Close stops every runtime and waits for their background work.
func (h *Hub) Close() {
	h.mu.Lock()
	live := h.runtimes
	h.runtimes = make(map[string]*runtime.Runtime)
	h.mu.Unlock()

	for _, rt := range live {
		rt.Close()
	}
}

// TenantSessions gives the transform job access to session documents
// across clients.
type TenantSessions struct {
	clients *Registry
}

func NewTenantSessions(clients *Registry) *TenantSessions {
	return &TenantSessions{clients: clients}
}

func (t *TenantSessions) GetSession(ctx context.Context, client, sessionID string) (booth.Session, error) {
	store, err := t.clients.Get(ctx, client)
	if err != nil {
		return booth.Session{}, err
	}
	return store.GetSession(ctx, sessionID)
}

func (t *TenantSessions) GetExperience(ctx context.Context, client, experienceID string) (*booth.Experience, error) {
	store, err := t.clients.Get(ctx, client)
	if err != nil {
		return nil, err
	}
	return store.GetExperience(ctx, experienceID)
}

func (t *TenantSessions) WriteSession(ctx context.Context, client, sessionID string, u booth.SessionUpdate) error {
	store, err := t.clients.Get(ctx, client)
	if err != nil {
		return err
	}
	return store.WriteSession(ctx, sessionID, u)
}
