package runtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/playperu/snapbooth/internal/booth"
)

// DocumentStore is the persistence collaborator: partial writes to a
// session document and a push subscription to its changes.
type DocumentStore interface {
	WriteSession(ctx context.Context, sessionID string, u booth.SessionUpdate) error
	SubscribeSession(sessionID string, fn func(booth.Session)) (unsubscribe func())
}

const (
	opResponses = "responses"
	opComplete  = "completion"
	opFinalize  = "finalize"
)

// Synchronizer keeps the session document eventually consistent with the
// machine and feeds external session changes back into it.
type Synchronizer struct {
	m         *Machine
	store     DocumentStore
	sessionID string
	logger    *slog.Logger

	mu      sync.Mutex
	written uint64
}

func NewSynchronizer(m *Machine, store DocumentStore, sessionID string, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{m: m, store: store, sessionID: sessionID, logger: logger}
}

// Flush writes the current responses and step index. Writes are serialized
// and always carry the snapshot taken at write time, so the latest answer
// for a step wins regardless of flush timing.
func (s *Synchronizer) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *Synchronizer) flushLocked(ctx context.Context) error {
	snap := s.m.Snapshot()
	responses := snap.Responses
	if responses == nil {
		responses = []booth.StepResponse{}
	}
	err := s.store.WriteSession(ctx, s.sessionID, booth.SessionUpdate{
		Responses:        responses,
		CurrentStepIndex: booth.Ptr(snap.CurrentStepIndex),
	})
	if err != nil {
		return &SyncError{Op: opResponses, Err: err}
	}
	if snap.Revision > s.written {
		s.written = snap.Revision
	}
	return nil
}

// UpToDate reports whether the last successful write covers the current
// state.
func (s *Synchronizer) UpToDate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written != 0 && s.written >= s.m.Snapshot().Revision
}

// Commit writes pending changes mid-run. Failures are logged and returned,
// but local state stays authoritative until the next successful write.
func (s *Synchronizer) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.written != 0 && s.written >= s.m.Snapshot().Revision {
		return nil
	}
	if err := s.flushLocked(ctx); err != nil {
		s.logger.Warn("session sync failed", "session", s.sessionID, "error", err)
		return err
	}
	return nil
}

// MarkComplete writes the completion marker. Setting it twice is harmless.
func (s *Synchronizer) MarkComplete(ctx context.Context) error {
	now := s.m.now().UTC()
	err := s.store.WriteSession(ctx, s.sessionID, booth.SessionUpdate{
		Status:      booth.Ptr(booth.SessionCompleted),
		CompletedAt: &now,
	})
	if err != nil {
		return &SyncError{Op: opComplete, Err: err}
	}
	return nil
}

// Finalize records that the completion callback succeeded, together with the
// position the run moved to.
func (s *Synchronizer) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.m.Snapshot()
	now := s.m.now().UTC()
	err := s.store.WriteSession(ctx, s.sessionID, booth.SessionUpdate{
		CurrentStepIndex: booth.Ptr(snap.CurrentStepIndex),
		FinalizedAt:      &now,
	})
	if err != nil {
		s.logger.Warn("saving finalized session failed", "session", s.sessionID, "error", err)
		return &SyncError{Op: opFinalize, Err: err}
	}
	return nil
}

// MarkAbandoned records that the guest left the run.
func (s *Synchronizer) MarkAbandoned(ctx context.Context) error {
	return s.store.WriteSession(ctx, s.sessionID, booth.SessionUpdate{
		Status: booth.Ptr(booth.SessionAbandoned),
	})
}

// Watch subscribes to the session document and pushes job changes into the
// machine. onChange, if set, runs after each applied change. The
// subscription ends when stop is called or the machine is reset; updates
// for an older generation are dropped either way.
func (s *Synchronizer) Watch(onChange func(Snapshot)) (stop func()) {
	generation := s.m.Snapshot().Generation
	unsubscribe := s.store.SubscribeSession(s.sessionID, func(sess booth.Session) {
		snap, changed := s.m.applyRemote(sess, generation)
		if changed && onChange != nil {
			onChange(snap)
		}
	})

	var once sync.Once
	stop = func() { once.Do(unsubscribe) }
	s.m.onReset(stop)
	return stop
}
