package runtime

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/playperu/snapbooth/internal/booth"
)

// StepView is the presentational model of one step, as sent to clients.
type StepView struct {
	ID          string            `json:"id"`
	Type        booth.StepType    `json:"type"`
	Component   string            `json:"component"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Required    bool              `json:"required"`
	AdvanceMode booth.AdvanceMode `json:"advanceMode"`
	Props       map[string]any    `json:"props,omitempty"`
	Value       json.RawMessage   `json:"value,omitempty"`
}

// Renderer presents one step type and turns raw client input into the
// response data for that step.
type Renderer interface {
	Render(step booth.Step, snap Snapshot) StepView
	// Collect validates input. A nil result with a nil error means the step
	// records nothing.
	Collect(step booth.Step, input json.RawMessage) (json.RawMessage, error)
}

// AutoAdvancer is implemented by renderers whose steps advance on an
// external event rather than on guest input.
type AutoAdvancer interface {
	ReadyToAdvance(step booth.Step, snap Snapshot) bool
}

// Registry maps step types to renderers.
type Registry struct {
	mu        sync.RWMutex
	renderers map[booth.StepType]Renderer
}

func NewRegistry() *Registry {
	return &Registry{renderers: make(map[booth.StepType]Renderer)}
}

func (r *Registry) Register(t booth.StepType, renderer Renderer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renderers[t] = renderer
}

// Renderer returns the renderer for t. A missing renderer means a step type
// was added without one; callers should treat it as a programming error.
func (r *Registry) Renderer(t booth.StepType) (Renderer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	renderer, ok := r.renderers[t]
	if !ok {
		return nil, fmt.Errorf("%w for type %q", ErrNoRenderer, t)
	}
	return renderer, nil
}

// DefaultRegistry has a renderer for every booth.StepType.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(booth.StepInfo, infoRenderer{})
	r.Register(booth.StepShortText, textRenderer{component: "short_text", maxLength: 200})
	r.Register(booth.StepLongText, textRenderer{component: "long_text", maxLength: 2000})
	r.Register(booth.StepEmail, textRenderer{component: "email", maxLength: 254, email: true})
	r.Register(booth.StepMultipleChoice, choiceRenderer{})
	r.Register(booth.StepYesNo, choiceRenderer{fixed: yesNoChoices})
	r.Register(booth.StepOpinionScale, scaleRenderer{})
	r.Register(booth.StepCapture, captureRenderer{})
	r.Register(booth.StepAITransform, triggerRenderer{})
	r.Register(booth.StepProcessing, processingRenderer{})
	r.Register(booth.StepReward, rewardRenderer{})
	r.Register(booth.StepExperiencePicker, pickerRenderer{})
	return r
}

func baseView(step booth.Step, component string, snap Snapshot) StepView {
	mode := step.AdvanceMode
	if mode == "" {
		mode = booth.AdvanceManual
	}
	v := StepView{
		ID:          step.ID,
		Type:        step.Type,
		Component:   component,
		Title:       step.Title,
		Description: step.Description,
		Required:    step.Required,
		AdvanceMode: mode,
		Props:       map[string]any{},
	}
	if r, ok := snap.Response(step.ID); ok {
		v.Value = r.Data
	}
	if step.Config.Prompt != "" {
		v.Props["prompt"] = step.Config.Prompt
	}
	if step.Config.ButtonLabel != "" {
		v.Props["buttonLabel"] = step.Config.ButtonLabel
	}
	return v
}
