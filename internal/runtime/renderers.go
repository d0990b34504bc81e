package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/playperu/snapbooth/internal/booth"
)

func invalid(step booth.Step, format string, args ...any) error {
	return &ValidationError{StepID: step.ID, Message: fmt.Sprintf(format, args...)}
}

func isNull(input json.RawMessage) bool {
	trimmed := bytes.TrimSpace(input)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

type infoRenderer struct{}

func (infoRenderer) Render(step booth.Step, snap Snapshot) StepView {
	return baseView(step, "info", snap)
}

func (infoRenderer) Collect(booth.Step, json.RawMessage) (json.RawMessage, error) {
	return nil, nil
}

type textRenderer struct {
	component string
	maxLength int
	email     bool
}

func (r textRenderer) limit(step booth.Step) int {
	if step.Config.MaxLength > 0 {
		return step.Config.MaxLength
	}
	return r.maxLength
}

func (r textRenderer) Render(step booth.Step, snap Snapshot) StepView {
	v := baseView(step, r.component, snap)
	v.Props["maxLength"] = r.limit(step)
	if step.Config.Placeholder != "" {
		v.Props["placeholder"] = step.Config.Placeholder
	}
	return v
}

func (r textRenderer) Collect(step booth.Step, input json.RawMessage) (json.RawMessage, error) {
	var s string
	if !isNull(input) {
		if err := json.Unmarshal(input, &s); err != nil {
			return nil, invalid(step, "expected text")
		}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		if step.Required {
			return nil, invalid(step, "this field is required")
		}
		return booth.TextData(""), nil
	}
	if n := utf8.RuneCountInString(s); n > r.limit(step) {
		return nil, invalid(step, "must be at most %d characters", r.limit(step))
	}
	if r.email {
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Address != s {
			return nil, invalid(step, "enter a valid email address")
		}
	}
	return booth.TextData(s), nil
}

var yesNoChoices = []booth.Choice{{ID: "yes", Label: "Yes"}, {ID: "no", Label: "No"}}

type choiceRenderer struct {
	fixed []booth.Choice
}

func (r choiceRenderer) choices(step booth.Step) []booth.Choice {
	if r.fixed != nil {
		return r.fixed
	}
	return step.Config.Choices
}

func (r choiceRenderer) Render(step booth.Step, snap Snapshot) StepView {
	component := "multiple_choice"
	if r.fixed != nil {
		component = "yes_no"
	}
	v := baseView(step, component, snap)
	v.Props["choices"] = r.choices(step)
	v.Props["multiSelect"] = r.fixed == nil && step.Config.MultiSelect
	return v
}

// Collect accepts a choice id, a list of ids, or (for yes/no) a boolean.
// Single answers are stored as the choice id; multi-select answers as an
// ordered list of selections.
func (r choiceRenderer) Collect(step booth.Step, input json.RawMessage) (json.RawMessage, error) {
	var ids []string
	if !isNull(input) {
		var one string
		var yes bool
		switch {
		case json.Unmarshal(input, &one) == nil:
			ids = []string{one}
		case json.Unmarshal(input, &ids) == nil:
		case r.fixed != nil && json.Unmarshal(input, &yes) == nil:
			ids = []string{"no"}
			if yes {
				ids = []string{"yes"}
			}
		default:
			return nil, invalid(step, "expected a choice id or a list of choice ids")
		}
	}

	labels := make(map[string]string)
	for _, c := range r.choices(step) {
		labels[c.ID] = c.Label
	}
	var selected []booth.Selection
	seen := make(map[string]bool)
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		label, ok := labels[id]
		if !ok {
			return nil, invalid(step, "unknown choice %q", id)
		}
		seen[id] = true
		selected = append(selected, booth.Selection{ID: id, Label: label})
	}

	if len(selected) == 0 {
		if step.Required {
			return nil, invalid(step, "select an option")
		}
		if r.fixed == nil && step.Config.MultiSelect {
			return booth.SelectionData(nil), nil
		}
		return booth.TextData(""), nil
	}
	if r.fixed == nil && step.Config.MultiSelect {
		return booth.SelectionData(selected), nil
	}
	if len(selected) > 1 {
		return nil, invalid(step, "select only one option")
	}
	return booth.TextData(selected[0].ID), nil
}

type scaleRenderer struct{}

func scaleBounds(step booth.Step) (int, int) {
	lo, hi := step.Config.Min, step.Config.Max
	if hi <= lo {
		return 1, 5
	}
	return lo, hi
}

func (scaleRenderer) Render(step booth.Step, snap Snapshot) StepView {
	v := baseView(step, "opinion_scale", snap)
	lo, hi := scaleBounds(step)
	v.Props["min"] = lo
	v.Props["max"] = hi
	if step.Config.MinLabel != "" {
		v.Props["minLabel"] = step.Config.MinLabel
	}
	if step.Config.MaxLabel != "" {
		v.Props["maxLabel"] = step.Config.MaxLabel
	}
	return v
}

// Collect accepts a number or a numeric string; the answer is stored as a
// plain string.
func (scaleRenderer) Collect(step booth.Step, input json.RawMessage) (json.RawMessage, error) {
	if isNull(input) {
		if step.Required {
			return nil, invalid(step, "pick a value")
		}
		return booth.TextData(""), nil
	}
	var n int
	if err := json.Unmarshal(input, &n); err != nil {
		var s string
		if err := json.Unmarshal(input, &s); err != nil {
			return nil, invalid(step, "expected a number")
		}
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, invalid(step, "expected a number")
		}
		n = v
	}
	lo, hi := scaleBounds(step)
	if n < lo || n > hi {
		return nil, invalid(step, "must be between %d and %d", lo, hi)
	}
	return booth.TextData(strconv.Itoa(n)), nil
}

type captureRenderer struct{}

func maxMedia(step booth.Step) int {
	if step.Config.MaxMedia > 0 {
		return step.Config.MaxMedia
	}
	return 1
}

func (captureRenderer) Render(step booth.Step, snap Snapshot) StepView {
	v := baseView(step, "capture", snap)
	accept := step.Config.Accept
	if len(accept) == 0 {
		accept = []string{"image/*"}
	}
	v.Props["accept"] = accept
	v.Props["maxMedia"] = maxMedia(step)
	return v
}

// Collect accepts one media ref or a list of them.
func (captureRenderer) Collect(step booth.Step, input json.RawMessage) (json.RawMessage, error) {
	var media []booth.MediaRef
	if !isNull(input) {
		if err := json.Unmarshal(input, &media); err != nil {
			var one booth.MediaRef
			if err := json.Unmarshal(input, &one); err != nil {
				return nil, invalid(step, "expected media references")
			}
			media = []booth.MediaRef{one}
		}
	}
	if len(media) == 0 {
		if step.Required {
			return nil, invalid(step, "take a photo to continue")
		}
		return booth.MediaData(nil), nil
	}
	if len(media) > maxMedia(step) {
		return nil, invalid(step, "at most %d media items", maxMedia(step))
	}
	for _, m := range media {
		u, err := url.Parse(m.URL)
		if err != nil || m.URL == "" || (u.Scheme != "https" && u.Scheme != "http") {
			return nil, invalid(step, "invalid media url %q", m.URL)
		}
		if !acceptsType(step.Config.Accept, m.ContentType) {
			return nil, invalid(step, "media type %q not accepted", m.ContentType)
		}
	}
	return booth.MediaData(media), nil
}

// acceptsType matches contentType against accept patterns such as
// "image/*". An empty accept list takes images only.
func acceptsType(accept []string, contentType string) bool {
	if len(accept) == 0 {
		accept = []string{"image/*"}
	}
	if contentType == "" {
		return true
	}
	for _, a := range accept {
		if a == contentType || a == "*/*" {
			return true
		}
		if prefix, ok := strings.CutSuffix(a, "/*"); ok && strings.HasPrefix(contentType, prefix+"/") {
			return true
		}
	}
	return false
}

// triggerRenderer presents an ai-transform step: it collects nothing and
// exists to kick off the transformation.
type triggerRenderer struct{}

func (triggerRenderer) Render(step booth.Step, snap Snapshot) StepView {
	return baseView(step, "ai_transform", snap)
}

func (triggerRenderer) Collect(booth.Step, json.RawMessage) (json.RawMessage, error) {
	return nil, nil
}

type processingRenderer struct{}

func (processingRenderer) Render(step booth.Step, snap Snapshot) StepView {
	v := baseView(step, "processing", snap)
	status := snap.Job.Status
	if status == booth.JobNone {
		status = booth.JobQueued
	}
	v.Props["jobStatus"] = status
	if snap.Job.Error != "" {
		v.Props["error"] = snap.Job.Error
	}
	return v
}

func (processingRenderer) Collect(booth.Step, json.RawMessage) (json.RawMessage, error) {
	return nil, nil
}

func (processingRenderer) ReadyToAdvance(_ booth.Step, snap Snapshot) bool {
	return snap.Job.Status == booth.JobDone
}

type rewardRenderer struct{}

func (rewardRenderer) Render(step booth.Step, snap Snapshot) StepView {
	v := baseView(step, "reward", snap)
	if snap.Job.Result != nil {
		v.Props["result"] = snap.Job.Result
	}
	v.Props["jobStatus"] = snap.Job.Status
	return v
}

func (rewardRenderer) Collect(booth.Step, json.RawMessage) (json.RawMessage, error) {
	return nil, nil
}

type pickerRenderer struct{}

func (pickerRenderer) Render(step booth.Step, snap Snapshot) StepView {
	v := baseView(step, "experience_picker", snap)
	v.Props["experiences"] = step.Config.Experiences
	return v
}

func (pickerRenderer) Collect(step booth.Step, input json.RawMessage) (json.RawMessage, error) {
	var id string
	if !isNull(input) {
		if err := json.Unmarshal(input, &id); err != nil {
			return nil, invalid(step, "expected an experience id")
		}
	}
	id = strings.TrimSpace(id)
	if id == "" {
		if step.Required {
			return nil, invalid(step, "pick an experience")
		}
		return booth.TextData(""), nil
	}
	for _, e := range step.Config.Experiences {
		if e.ID == id {
			return booth.TextData(id), nil
		}
	}
	return nil, invalid(step, "unknown experience %q", id)
}
