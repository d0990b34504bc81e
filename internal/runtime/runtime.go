// Package runtime drives one guest through an experience: it records
// answers, moves between steps, keeps the session document in sync and runs
// the completion sequence.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/playperu/snapbooth/internal/booth"
)

type Options struct {
	Store     DocumentStore
	SessionID string
	// Registry defaults to DefaultRegistry().
	Registry   *Registry
	OnComplete CompletionFunc
	// OnClose runs after the guest confirms leaving the run.
	OnClose func(ctx context.Context) error
	Logger  *slog.Logger
	// Background runs the completion sequence on its own goroutine so the
	// caller sees the completing state immediately.
	Background bool
	Now        func() time.Time
}

// View is the full render model for a host.
type View struct {
	SessionID        string            `json:"sessionId"`
	ExperienceName   string            `json:"experienceName"`
	Mode             booth.SessionMode `json:"mode"`
	CurrentStepIndex int               `json:"currentStepIndex"`
	TotalSteps       int               `json:"totalSteps"`
	IsComplete       bool              `json:"isComplete"`
	CompletionError  *string           `json:"completionError"`
	CanGoBack        bool              `json:"canGoBack"`
	CanProceed       bool              `json:"canProceed"`
	Phase            Phase             `json:"phase"`
	Render           RenderTarget      `json:"render"`
	Step             *StepView         `json:"step,omitempty"`
	TopBar           TopBarView        `json:"topBar"`
	Footer           FooterView        `json:"footer"`
	Job              JobState          `json:"job"`
	Revision         uint64            `json:"revision"`
}

// Runtime is the accessor hosts use: state reads plus the named actions.
type Runtime struct {
	sessionID string
	registry  *Registry
	logger    *slog.Logger

	m     *Machine
	sync  *Synchronizer
	orch  *Orchestrator
	top   *TopBar
	foot  *NavFooter
	async bool

	onClose func(ctx context.Context) error

	mu        sync.Mutex
	stopWatch func()
	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

func New(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", opts.SessionID)
	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}

	m := NewMachine(logger, opts.Now)
	s := NewSynchronizer(m, opts.Store, opts.SessionID, logger)
	r := &Runtime{
		sessionID: opts.SessionID,
		registry:  registry,
		logger:    logger,
		m:         m,
		sync:      s,
		orch:      NewOrchestrator(m, s, opts.OnComplete, logger),
		async:     opts.Background,
		onClose:   opts.OnClose,
	}
	r.top = newTopBar(m.Snapshot, r.previous, r.close)
	r.foot = newNavFooter(m.Snapshot, r.Next)
	return r
}

// Init seeds the runtime from session and starts listening for external
// changes to it. Every step type must have a renderer.
func (r *Runtime) Init(session booth.Session, exp *booth.Experience) error {
	if exp == nil || len(exp.Steps) == 0 {
		return ErrNoSteps
	}
	for _, step := range exp.Steps {
		if _, err := r.registry.Renderer(step.Type); err != nil {
			return err
		}
	}
	if err := r.m.InitFromSession(session, exp.Steps, exp); err != nil {
		return err
	}
	stop := r.sync.Watch(r.onRemote)
	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	if r.cancelRun != nil {
		r.cancelRun()
	}
	r.stopWatch = stop
	r.runCtx, r.cancelRun = runCtx, cancel
	r.mu.Unlock()

	snap := r.m.Snapshot()
	r.logger.Info("runtime initialized", "experience", exp.ID, "step", snap.CurrentStepIndex)
	r.advanceIfReady(context.Background(), snap)
	return nil
}

func (r *Runtime) onRemote(snap Snapshot) {
	r.advanceIfReady(context.Background(), snap)
}

// advanceIfReady moves past an auto-advancing step whose renderer reports
// that the external work it waits on is finished.
func (r *Runtime) advanceIfReady(ctx context.Context, snap Snapshot) {
	if snap.Render != RenderStep || snap.Step == nil || !snap.Step.Auto() {
		return
	}
	renderer, err := r.registry.Renderer(snap.Step.Type)
	if err != nil {
		return
	}
	adv, ok := renderer.(AutoAdvancer)
	if !ok || !adv.ReadyToAdvance(*snap.Step, snap) {
		return
	}
	if err := r.Next(ctx); err != nil {
		r.logger.Warn("auto advance failed", "step", snap.Step.ID, "error", err)
	}
}

func (r *Runtime) Snapshot() Snapshot { return r.m.Snapshot() }

func (r *Runtime) ExperienceName() string { return r.m.Snapshot().ExperienceName() }
func (r *Runtime) CurrentStepIndex() int  { return r.m.Snapshot().CurrentStepIndex }
func (r *Runtime) TotalSteps() int        { return r.m.Snapshot().TotalSteps }
func (r *Runtime) IsComplete() bool       { return r.m.Snapshot().IsComplete }
func (r *Runtime) CanGoBack() bool        { return r.m.Snapshot().CanGoBack }
func (r *Runtime) CanProceed() bool       { return r.m.Snapshot().CanProceed }

// CompletionError returns the guest-facing completion failure, or "".
func (r *Runtime) CompletionError() string { return r.m.Snapshot().CompletionError }

func (r *Runtime) TopBar() *TopBar { return r.top }

// Footer returns a footer bound to this runtime.
func (r *Runtime) Footer(opts ...FooterOption) *NavFooter {
	if len(opts) == 0 {
		return r.foot
	}
	return newNavFooter(r.m.Snapshot, r.Next, opts...)
}

// Next advances the guest. From the last input step it starts the
// completion sequence; otherwise the new position is synced.
func (r *Runtime) Next(ctx context.Context) error {
	if !r.m.Next() {
		return nil
	}
	snap := r.m.Snapshot()
	if snap.Phase == PhaseCompleting {
		return r.complete(ctx)
	}
	r.commit(ctx)
	r.advanceIfReady(ctx, snap)
	return nil
}

func (r *Runtime) Previous(ctx context.Context) bool {
	return r.previous(ctx)
}

func (r *Runtime) previous(ctx context.Context) bool {
	if !r.m.Previous() {
		return false
	}
	r.commit(ctx)
	return true
}

// Back is the top bar's back button.
func (r *Runtime) Back(ctx context.Context) BackAction {
	return r.top.Back(ctx)
}

// Exit leaves the run after the guest confirmed it.
func (r *Runtime) Exit(ctx context.Context) error {
	return r.top.ConfirmExit(ctx)
}

func (r *Runtime) close(ctx context.Context) error {
	if !r.m.Snapshot().IsComplete {
		if err := r.sync.MarkAbandoned(ctx); err != nil {
			r.logger.Warn("marking session abandoned failed", "error", err)
		}
	}
	if r.onClose != nil {
		return r.onClose(ctx)
	}
	return nil
}

func (r *Runtime) GoToStep(ctx context.Context, index int) error {
	before := r.m.Snapshot().Revision
	if err := r.m.GoToStep(index); err != nil {
		return err
	}
	if r.m.Snapshot().Revision != before {
		r.commit(ctx)
	}
	return nil
}

// SetStepResponse records raw data for stepID without validation.
func (r *Runtime) SetStepResponse(ctx context.Context, stepID string, data json.RawMessage) error {
	if err := r.m.SetResponse(stepID, data); err != nil {
		return err
	}
	r.commit(ctx)
	return nil
}

// Submit validates input with the step's renderer, records it and, for
// auto-advancing steps, moves on.
func (r *Runtime) Submit(ctx context.Context, stepID string, input json.RawMessage) error {
	snap := r.m.Snapshot()
	if snap.Phase == PhaseIdle {
		return ErrNotInitialized
	}
	var step *booth.Step
	for i := range snap.Steps {
		if snap.Steps[i].ID == stepID {
			step = &snap.Steps[i]
			break
		}
	}
	if step == nil {
		return ErrUnknownStep
	}
	renderer, err := r.registry.Renderer(step.Type)
	if err != nil {
		return err
	}
	data, err := renderer.Collect(*step, input)
	if err != nil {
		return err
	}
	if data != nil {
		if err := r.m.SetResponse(step.ID, data); err != nil {
			return err
		}
	}
	current := snap.Step != nil && snap.Step.ID == step.ID
	if current && step.Auto() {
		return r.Next(ctx)
	}
	r.commit(ctx)
	return nil
}

func (r *Runtime) GetResponse(stepID string) (booth.StepResponse, bool) {
	return r.m.GetResponse(stepID)
}

func (r *Runtime) GetResponses() []booth.StepResponse {
	return r.m.GetResponses()
}

// Retry re-runs the completion sequence after a failure.
func (r *Runtime) Retry(ctx context.Context) error {
	return r.complete(ctx)
}

func (r *Runtime) complete(ctx context.Context) error {
	if !r.async {
		if err := r.orch.Run(ctx); err != nil {
			return err
		}
		r.advanceIfReady(ctx, r.m.Snapshot())
		return nil
	}

	r.mu.Lock()
	runCtx := r.runCtx
	r.mu.Unlock()
	if runCtx == nil {
		runCtx = context.Background()
	}
	// The request context ending must not stop completion; Reset does.
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(runCtx, cancel)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer stop()
		defer cancel()
		err := r.orch.Run(ctx)
		if err != nil && !errors.Is(err, ErrCompletionInFlight) {
			r.logger.Debug("background completion ended with error", "error", err)
			return
		}
		r.advanceIfReady(ctx, r.m.Snapshot())
	}()
	return nil
}

func (r *Runtime) commit(ctx context.Context) {
	// Failures are logged by the synchronizer and retried on the next write.
	_ = r.sync.Commit(ctx)
}

// Subscribe calls fn with a fresh view after every state change.
func (r *Runtime) Subscribe(fn func(View)) (cancel func()) {
	return r.m.Subscribe(func(snap Snapshot) {
		fn(r.view(snap))
	})
}

func (r *Runtime) View() View {
	return r.view(r.m.Snapshot())
}

func (r *Runtime) view(snap Snapshot) View {
	v := View{
		SessionID:        r.sessionID,
		ExperienceName:   snap.ExperienceName(),
		Mode:             snap.Mode,
		CurrentStepIndex: snap.CurrentStepIndex,
		TotalSteps:       snap.TotalSteps,
		IsComplete:       snap.IsComplete,
		CanGoBack:        snap.CanGoBack,
		CanProceed:       snap.CanProceed,
		Phase:            snap.Phase,
		Render:           snap.Render,
		TopBar:           r.top.view(snap),
		Footer:           r.foot.view(snap),
		Job:              snap.Job,
		Revision:         snap.Revision,
	}
	if snap.CompletionError != "" {
		msg := snap.CompletionError
		v.CompletionError = &msg
	}
	if snap.Render == RenderStep && snap.Step != nil {
		renderer, err := r.registry.Renderer(snap.Step.Type)
		if err != nil {
			panic(err)
		}
		sv := renderer.Render(*snap.Step, snap)
		v.Step = &sv
	}
	return v
}

// Reset drops the run and its subscription and cancels a background
// completion still in flight. The runtime can be re-initialized afterwards.
func (r *Runtime) Reset() {
	r.mu.Lock()
	r.stopWatch = nil
	cancel := r.cancelRun
	r.runCtx, r.cancelRun = nil, nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.top.CancelExit()
	r.m.Reset()
}

// Wait blocks until background completion work has finished.
func (r *Runtime) Wait() {
	r.wg.Wait()
}

// Close stops the subscription and waits for background work.
func (r *Runtime) Close() {
	r.mu.Lock()
	stop := r.stopWatch
	r.stopWatch = nil
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
	r.wg.Wait()

	r.mu.Lock()
	if r.cancelRun != nil {
		r.cancelRun()
	}
	r.mu.Unlock()
}
