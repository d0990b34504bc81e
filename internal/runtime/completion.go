package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// CompletionFunc is the host's completion callback. It may start backend
// work and may fail.
type CompletionFunc func(ctx context.Context) error

// Orchestrator runs the finalize sequence: sync, mark complete, host
// callback. Each sub-step runs only after the previous one succeeded, and a
// retry skips work that already landed.
type Orchestrator struct {
	m          *Machine
	sync       *Synchronizer
	onComplete CompletionFunc
	logger     *slog.Logger

	running sync.Mutex
}

func NewOrchestrator(m *Machine, s *Synchronizer, onComplete CompletionFunc, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{m: m, sync: s, onComplete: onComplete, logger: logger}
}

// outcome is the explicit result of one sub-step.
type outcome struct {
	step    string
	skipped bool
	err     error
}

func (o outcome) ok() bool { return o.err == nil }

type completionStep struct {
	name string
	run  func(ctx context.Context) outcome
}

func (o *Orchestrator) steps() []completionStep {
	return []completionStep{
		{name: "sync", run: o.syncResponses},
		{name: "mark_complete", run: o.markComplete},
		{name: "callback", run: o.callback},
	}
}

func (o *Orchestrator) syncResponses(ctx context.Context) outcome {
	if o.sync.UpToDate() {
		return outcome{step: "sync", skipped: true}
	}
	return outcome{step: "sync", err: o.sync.Flush(ctx)}
}

func (o *Orchestrator) markComplete(ctx context.Context) outcome {
	return outcome{step: "mark_complete", err: o.sync.MarkComplete(ctx)}
}

func (o *Orchestrator) callback(ctx context.Context) outcome {
	if o.onComplete == nil {
		return outcome{step: "callback", skipped: true}
	}
	return outcome{step: "callback", err: o.onComplete(ctx)}
}

// Run executes the sequence. It clears completionError first, stops at the
// first failing sub-step, records that step's message as completionError
// and returns a *CompletionError. A run that is already done returns nil;
// a concurrent call returns ErrCompletionInFlight. A Reset while the
// sequence runs abandons it without touching the new run.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.TryLock() {
		return ErrCompletionInFlight
	}
	defer o.running.Unlock()

	generation, err := o.m.beginCompletion()
	if err != nil {
		if errors.Is(err, errAlreadyDone) {
			return nil
		}
		return err
	}

	for _, step := range o.steps() {
		if o.m.Snapshot().Generation != generation {
			return errRunReset
		}
		res := step.run(ctx)
		if !res.ok() {
			o.m.failCompletion(generation, userMessage(res.err))
			o.logger.Error("completion step failed", "session", o.sync.sessionID, "step", res.step, "error", res.err)
			return &CompletionError{Step: res.step, Err: res.err}
		}
		if res.skipped {
			o.logger.Debug("completion step skipped", "session", o.sync.sessionID, "step", res.step)
		}
	}

	if !o.m.finishCompletion(generation) {
		return errRunReset
	}
	// The outcome position and the finalized marker are what a resumed
	// runtime relies on. A failed write is logged by the synchronizer.
	_ = o.sync.Finalize(ctx)
	o.logger.Info("run completed", "session", o.sync.sessionID)
	return nil
}
