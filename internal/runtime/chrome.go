package runtime

import (
	"context"
	"sync"
)

// BackAction is what the top bar's leading button does.
type BackAction string

const (
	BackNone BackAction = "none"
	BackStep BackAction = "back"
	BackExit BackAction = "exit"
)

type TopBarView struct {
	Title          string     `json:"title"`
	StepNumber     int        `json:"stepNumber"`
	TotalSteps     int        `json:"totalSteps"`
	Progress       float64    `json:"progress"`
	ShowProgress   bool       `json:"showProgress"`
	CloseMode      bool       `json:"closeMode"`
	BackAction     BackAction `json:"backAction"`
	ConfirmingExit bool       `json:"confirmingExit"`
}

// TopBar shows position and progress and owns the back/exit affordance.
// Its only outward callback is onClose, which runs after the guest confirms
// the exit.
type TopBar struct {
	src     func() Snapshot
	back    func(ctx context.Context) bool
	onClose func(ctx context.Context) error

	mu         sync.Mutex
	confirming bool
}

func newTopBar(src func() Snapshot, back func(ctx context.Context) bool, onClose func(ctx context.Context) error) *TopBar {
	return &TopBar{src: src, back: back, onClose: onClose}
}

// closeMode is true when the back button should leave the run instead of
// stepping back.
func closeMode(s Snapshot) bool {
	return s.IsComplete || s.TotalSteps == 1 || s.CurrentStepIndex == 0
}

func (t *TopBar) View() TopBarView {
	return t.view(t.src())
}

func (t *TopBar) view(s Snapshot) TopBarView {
	t.mu.Lock()
	confirming := t.confirming
	t.mu.Unlock()

	v := TopBarView{
		Title:          s.ExperienceName(),
		StepNumber:     s.CurrentStepIndex + 1,
		TotalSteps:     s.TotalSteps,
		CloseMode:      closeMode(s),
		ShowProgress:   !s.IsComplete && s.TotalSteps > 1,
		ConfirmingExit: confirming,
	}
	if v.ShowProgress {
		v.Progress = float64(s.CurrentStepIndex+1) / float64(s.TotalSteps)
	}
	switch {
	case v.CloseMode:
		v.BackAction = BackExit
	case s.CanGoBack:
		v.BackAction = BackStep
	default:
		v.BackAction = BackNone
	}
	return v
}

// Back handles a press on the leading button. In close mode it asks for
// exit confirmation and reports BackExit; otherwise it steps back.
func (t *TopBar) Back(ctx context.Context) BackAction {
	s := t.src()
	if closeMode(s) {
		t.mu.Lock()
		t.confirming = true
		t.mu.Unlock()
		return BackExit
	}
	if !s.CanGoBack || !t.back(ctx) {
		return BackNone
	}
	return BackStep
}

// ConfirmExit runs onClose.
func (t *TopBar) ConfirmExit(ctx context.Context) error {
	t.mu.Lock()
	t.confirming = false
	t.mu.Unlock()
	if t.onClose == nil {
		return nil
	}
	return t.onClose(ctx)
}

func (t *TopBar) CancelExit() {
	t.mu.Lock()
	t.confirming = false
	t.mu.Unlock()
}

type FooterView struct {
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
	Visible bool   `json:"visible"`
}

type FooterOption func(*NavFooter)

// WithLabel overrides the button label.
func WithLabel(label string) FooterOption {
	return func(f *NavFooter) { f.label = label }
}

// NavFooter is the primary "continue" button. It reads everything it needs
// from the runtime; the label override is cosmetic.
type NavFooter struct {
	src   func() Snapshot
	next  func(ctx context.Context) error
	label string
}

func newNavFooter(src func() Snapshot, next func(ctx context.Context) error, opts ...FooterOption) *NavFooter {
	f := &NavFooter{src: src, next: next}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *NavFooter) View() FooterView {
	return f.view(f.src())
}

// view shows the button on manual steps. In the done phase that means
// outcome steps with somewhere left to go.
func (f *NavFooter) view(s Snapshot) FooterView {
	var visible bool
	switch s.Phase {
	case PhaseActive:
		visible = s.Step != nil && !s.Step.Auto()
	case PhaseDone:
		visible = s.Render == RenderStep && s.Step != nil && !s.Step.Auto() && s.CurrentStepIndex < s.TotalSteps-1
	}
	v := FooterView{
		Label:   f.label,
		Enabled: s.CanProceed && (visible || s.Phase == PhaseActive),
		Visible: visible,
	}
	if v.Label == "" && s.Step != nil {
		v.Label = s.Step.Config.ButtonLabel
	}
	if v.Label == "" {
		v.Label = "Continue"
		if s.CurrentStepIndex == s.LastInputIndex {
			v.Label = "Finish"
		}
	}
	return v
}

// Press advances the run. Pressing a disabled footer does nothing.
func (f *NavFooter) Press(ctx context.Context) error {
	if !f.View().Enabled {
		return nil
	}
	return f.next(ctx)
}
