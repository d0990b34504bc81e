package runtime

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/playperu/snapbooth/internal/booth"
)

// ResponseStore holds the guest's answers for the current run, keyed by
// step id. Writing a step twice overwrites the earlier answer.
type ResponseStore struct {
	byID     map[string]booth.StepResponse
	position map[string]int
	now      func() time.Time
}

func NewResponseStore(steps []booth.Step, now func() time.Time) *ResponseStore {
	if now == nil {
		now = time.Now
	}
	pos := make(map[string]int, len(steps))
	for i, s := range steps {
		pos[s.ID] = i
	}
	return &ResponseStore{
		byID:     make(map[string]booth.StepResponse),
		position: pos,
		now:      now,
	}
}

// Set creates or overwrites the response for step.
func (s *ResponseStore) Set(step booth.Step, data json.RawMessage) {
	now := s.now().UTC()
	r, ok := s.byID[step.ID]
	if !ok {
		r = booth.StepResponse{
			StepID:    step.ID,
			CreatedAt: now,
		}
	}
	r.StepName = step.DisplayName()
	r.StepType = step.Type
	r.Data = append(json.RawMessage(nil), data...)
	r.UpdatedAt = now
	s.byID[step.ID] = r
}

// Get returns the response for stepID, if one was recorded.
func (s *ResponseStore) Get(stepID string) (booth.StepResponse, bool) {
	r, ok := s.byID[stepID]
	if !ok {
		return booth.StepResponse{}, false
	}
	r.Data = append(json.RawMessage(nil), r.Data...)
	return r, true
}

// All returns every response ordered by step position. Responses for steps
// no longer in the experience sort last, by step id.
func (s *ResponseStore) All() []booth.StepResponse {
	out := make([]booth.StepResponse, 0, len(s.byID))
	for _, r := range s.byID {
		r.Data = append(json.RawMessage(nil), r.Data...)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, iok := s.position[out[i].StepID]
		pj, jok := s.position[out[j].StepID]
		switch {
		case iok && jok:
			return pi < pj
		case iok != jok:
			return iok
		}
		return out[i].StepID < out[j].StepID
	})
	return out
}

func (s *ResponseStore) Len() int { return len(s.byID) }

// load replaces the contents with persisted responses. Later entries for the
// same step win.
func (s *ResponseStore) load(responses []booth.StepResponse) {
	clear(s.byID)
	for _, r := range responses {
		if r.StepID == "" {
			continue
		}
		r.Data = append(json.RawMessage(nil), r.Data...)
		s.byID[r.StepID] = r
	}
}

// answers decodes every response for expression evaluation.
func (s *ResponseStore) answers() map[string]any {
	out := make(map[string]any, len(s.byID))
	for id, r := range s.byID {
		out[id] = r.Value()
	}
	return out
}
