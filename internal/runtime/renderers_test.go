package runtime

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/playperu/snapbooth/internal/booth"
)

func TestDefaultRegistryCoversAllTypes(t *testing.T) {
	r := DefaultRegistry()
	for _, st := range booth.StepTypes {
		if _, err := r.Renderer(st); err != nil {
			t.Errorf("type %q: %v", st, err)
		}
	}
}

func TestRegistryUnknownType(t *testing.T) {
	_, err := DefaultRegistry().Renderer("hologram")
	if !errors.Is(err, ErrNoRenderer) {
		t.Fatalf("expected ErrNoRenderer, got %v", err)
	}
	if err.Error() != `no renderer registered for type "hologram"` {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestCollect(t *testing.T) {
	choices := []booth.Choice{{ID: "cat", Label: "Cat"}, {ID: "dog", Label: "Dog"}}
	tests := []struct {
		name    string
		step    booth.Step
		input   string
		want    string
		wantErr bool
	}{
		{"text trimmed", booth.Step{ID: "s", Type: booth.StepShortText}, `"  Ada  "`, `"Ada"`, false},
		{"text required", booth.Step{ID: "s", Type: booth.StepShortText, Required: true}, `null`, "", true},
		{"text too long", booth.Step{ID: "s", Type: booth.StepShortText, Config: booth.StepConfig{MaxLength: 3}}, `"abcd"`, "", true},
		{"text wrong type", booth.Step{ID: "s", Type: booth.StepLongText}, `42`, "", true},
		{"email ok", booth.Step{ID: "s", Type: booth.StepEmail}, `"ada@example.com"`, `"ada@example.com"`, false},
		{"email bad", booth.Step{ID: "s", Type: booth.StepEmail}, `"Ada <ada@example.com>"`, "", true},
		{"single choice", booth.Step{ID: "s", Type: booth.StepMultipleChoice, Config: booth.StepConfig{Choices: choices}}, `"dog"`, `"dog"`, false},
		{"single choice two picks", booth.Step{ID: "s", Type: booth.StepMultipleChoice, Config: booth.StepConfig{Choices: choices}}, `["dog","cat"]`, "", true},
		{"unknown choice", booth.Step{ID: "s", Type: booth.StepMultipleChoice, Config: booth.StepConfig{Choices: choices}}, `"cow"`, "", true},
		{"multi select", booth.Step{ID: "s", Type: booth.StepMultipleChoice, Config: booth.StepConfig{Choices: choices, MultiSelect: true}}, `["dog","cat","dog"]`, `[{"id":"dog","label":"Dog"},{"id":"cat","label":"Cat"}]`, false},
		{"yes no bool", booth.Step{ID: "s", Type: booth.StepYesNo}, `false`, `"no"`, false},
		{"yes no id", booth.Step{ID: "s", Type: booth.StepYesNo}, `"yes"`, `"yes"`, false},
		{"scale number", booth.Step{ID: "s", Type: booth.StepOpinionScale, Config: booth.StepConfig{Min: 0, Max: 10}}, `7`, `"7"`, false},
		{"scale string", booth.Step{ID: "s", Type: booth.StepOpinionScale}, `"4"`, `"4"`, false},
		{"scale out of range", booth.Step{ID: "s", Type: booth.StepOpinionScale}, `6`, "", true},
		{"capture single", booth.Step{ID: "s", Type: booth.StepCapture}, `{"url":"https://x.test/a.jpg","contentType":"image/jpeg"}`, `[{"url":"https://x.test/a.jpg","contentType":"image/jpeg"}]`, false},
		{"capture bad scheme", booth.Step{ID: "s", Type: booth.StepCapture}, `{"url":"file:///etc/passwd"}`, "", true},
		{"capture wrong type", booth.Step{ID: "s", Type: booth.StepCapture}, `{"url":"https://x.test/a.mp4","contentType":"video/mp4"}`, "", true},
		{"capture too many", booth.Step{ID: "s", Type: booth.StepCapture}, `[{"url":"https://x.test/a.jpg"},{"url":"https://x.test/b.jpg"}]`, "", true},
		{"capture video allowed", booth.Step{ID: "s", Type: booth.StepCapture, Config: booth.StepConfig{Accept: []string{"video/*"}}}, `{"url":"https://x.test/a.mp4","contentType":"video/mp4"}`, `[{"url":"https://x.test/a.mp4","contentType":"video/mp4"}]`, false},
		{"picker", booth.Step{ID: "s", Type: booth.StepExperiencePicker, Config: booth.StepConfig{Experiences: []booth.Choice{{ID: "e1", Label: "One"}}}}, `"e1"`, `"e1"`, false},
		{"picker unknown", booth.Step{ID: "s", Type: booth.StepExperiencePicker}, `"e9"`, "", true},
		{"info records nothing", booth.Step{ID: "s", Type: booth.StepInfo}, `"ignored"`, "", false},
	}

	reg := DefaultRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			renderer, err := reg.Renderer(tt.step.Type)
			if err != nil {
				t.Fatalf("renderer: %v", err)
			}
			got, err := renderer.Collect(tt.step, json.RawMessage(tt.input))
			if tt.wantErr {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("collect: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRenderProps(t *testing.T) {
	step := booth.Step{
		ID:    "mood",
		Type:  booth.StepOpinionScale,
		Title: "How do you feel?",
		Config: booth.StepConfig{
			Min: 0, Max: 10, MinLabel: "meh", MaxLabel: "great", ButtonLabel: "Next",
		},
	}
	snap := Snapshot{Responses: []booth.StepResponse{{StepID: "mood", Data: booth.TextData("8")}}}

	v := scaleRenderer{}.Render(step, snap)
	if v.Component != "opinion_scale" {
		t.Errorf("expected opinion_scale, got %q", v.Component)
	}
	if v.AdvanceMode != booth.AdvanceManual {
		t.Errorf("expected manual default, got %q", v.AdvanceMode)
	}
	if v.Props["min"] != 0 || v.Props["max"] != 10 {
		t.Errorf("unexpected bounds %v..%v", v.Props["min"], v.Props["max"])
	}
	if v.Props["buttonLabel"] != "Next" {
		t.Errorf("expected button label, got %v", v.Props["buttonLabel"])
	}
	if string(v.Value) != `"8"` {
		t.Errorf("expected current value, got %s", v.Value)
	}
}

func TestProcessingReadiness(t *testing.T) {
	step := booth.Step{ID: "wait", Type: booth.StepProcessing}
	tests := []struct {
		status booth.JobStatus
		want   bool
	}{
		{booth.JobNone, false},
		{booth.JobQueued, false},
		{booth.JobRunning, false},
		{booth.JobFailed, false},
		{booth.JobDone, true},
	}
	for _, tt := range tests {
		snap := Snapshot{Job: JobState{Status: tt.status}}
		if got := (processingRenderer{}).ReadyToAdvance(step, snap); got != tt.want {
			t.Errorf("status %q: expected %v, got %v", tt.status, tt.want, got)
		}
	}
}
