package runtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/playperu/snapbooth/internal/booth"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseActive
	PhaseCompleting
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseCompleting:
		return "completing"
	case PhaseDone:
		return "done"
	}
	return "idle"
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// RenderTarget is the view a host should show for a state.
type RenderTarget string

const (
	RenderStep             RenderTarget = "step"
	RenderCompleting       RenderTarget = "completing"
	RenderCompletionFailed RenderTarget = "completion_failed"
	// RenderDone is a finished run that has no outcome step to show.
	RenderDone             RenderTarget = "done"
)

// JobState mirrors the externally driven job fields of the session.
type JobState struct {
	ID     string          `json:"id,omitempty"`
	Status booth.JobStatus `json:"status,omitempty"`
	Error  string          `json:"error,omitempty"`
	Result *booth.MediaRef `json:"result,omitempty"`
}

func (j JobState) equal(o JobState) bool {
	if j.ID != o.ID || j.Status != o.Status || j.Error != o.Error {
		return false
	}
	if j.Result == nil || o.Result == nil {
		return j.Result == o.Result
	}
	return *j.Result == *o.Result
}

// Snapshot is a read-only copy of the runtime state plus derived values.
type Snapshot struct {
	Experience       *booth.Experience
	Steps            []booth.Step
	Step             *booth.Step
	Responses        []booth.StepResponse
	Mode             booth.SessionMode
	CurrentStepIndex int
	TotalSteps       int
	IsComplete       bool
	CompletionError  string
	Phase            Phase
	CanGoBack        bool
	CanProceed       bool
	LastInputIndex   int
	Job              JobState
	Render           RenderTarget
	Revision         uint64
	Generation       uint64
}

func (s Snapshot) ExperienceName() string {
	if s.Experience == nil {
		return ""
	}
	return s.Experience.Name
}

// Response returns the answer recorded for stepID in this snapshot.
func (s Snapshot) Response(stepID string) (booth.StepResponse, bool) {
	for _, r := range s.Responses {
		if r.StepID == stepID {
			return r, true
		}
	}
	return booth.StepResponse{}, false
}

type state struct {
	experience      *booth.Experience
	steps           []booth.Step
	responses       *ResponseStore
	conds           *conditions
	mode            booth.SessionMode
	index           int
	lastInput       int
	complete        bool
	completionError string
	phase           Phase
	job             JobState
	revision        uint64
	generation      uint64
}

// Machine owns the runtime state. Every mutation goes through dispatch;
// everything else reads Snapshots.
type Machine struct {
	mu         sync.Mutex
	st         state
	listeners  map[int]func(Snapshot)
	nextListen int
	resetHooks []func()
	logger     *slog.Logger
	now        func() time.Time
}

func NewMachine(logger *slog.Logger, now func() time.Time) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	m := &Machine{
		listeners: make(map[int]func(Snapshot)),
		logger:    logger,
		now:       now,
	}
	m.st = m.blank(0, 0)
	return m
}

func (m *Machine) blank(revision, generation uint64) state {
	return state{
		responses:  NewResponseStore(nil, m.now),
		conds:      &conditions{logger: m.logger},
		lastInput:  -1,
		revision:   revision,
		generation: generation,
	}
}

// action is one named transition. reduce reports whether it changed state.
type action interface {
	reduce(m *Machine, st *state) (bool, error)
}

func (m *Machine) dispatch(a action) (Snapshot, bool, error) {
	m.mu.Lock()
	changed, err := a.reduce(m, &m.st)
	snap := m.snapshotLocked()
	var listeners []func(Snapshot)
	if changed {
		for _, fn := range m.listeners {
			listeners = append(listeners, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	return snap, changed, err
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every state change.
func (m *Machine) Subscribe(fn func(Snapshot)) (cancel func()) {
	m.mu.Lock()
	id := m.nextListen
	m.nextListen++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// onReset registers fn to run at the next Reset.
func (m *Machine) onReset(fn func()) {
	m.mu.Lock()
	m.resetHooks = append(m.resetHooks, fn)
	m.mu.Unlock()
}

func (m *Machine) snapshotLocked() Snapshot {
	st := &m.st
	snap := Snapshot{
		Experience:       st.experience,
		Steps:            st.steps,
		Responses:        st.responses.All(),
		Mode:             st.mode,
		CurrentStepIndex: st.index,
		TotalSteps:       len(st.steps),
		IsComplete:       st.complete,
		CompletionError:  st.completionError,
		Phase:            st.phase,
		LastInputIndex:   st.lastInput,
		Job:              st.job,
		Revision:         st.revision,
		Generation:       st.generation,
	}
	if st.index >= 0 && st.index < len(st.steps) {
		step := st.steps[st.index]
		snap.Step = &step
	}
	snap.CanGoBack = st.canGoBack()
	snap.CanProceed = st.canProceed()
	snap.Render = renderTarget(st.complete, st.completionError, st.phase == PhaseDone, snap.Step != nil && snap.Step.Type.IsOutcome())
	return snap
}

// renderTarget maps a state to exactly one view.
func renderTarget(complete bool, completionError string, done, onOutcome bool) RenderTarget {
	switch {
	case !complete:
		return RenderStep
	case completionError != "":
		return RenderCompletionFailed
	case done && onOutcome:
		return RenderStep
	case done:
		return RenderDone
	default:
		return RenderCompleting
	}
}

// lastInputIndex returns the index of the last step before the trailing run
// of outcome steps. When every step is an outcome step, the whole list is
// treated as input.
func lastInputIndex(steps []booth.Step) int {
	boundary := len(steps)
	for boundary > 0 && steps[boundary-1].Type.IsOutcome() {
		boundary--
	}
	if boundary == 0 {
		return len(steps) - 1
	}
	return boundary - 1
}

func (st *state) visible(i int, answers map[string]any) bool {
	return !st.conds.skipped(st.steps[i], answers)
}

// nextVisible finds the first visible index in (from, limit].
func (st *state) nextVisible(from, limit int) (int, bool) {
	answers := st.responses.answers()
	for i := from + 1; i <= limit && i < len(st.steps); i++ {
		if st.visible(i, answers) {
			return i, true
		}
	}
	return 0, false
}

func (st *state) prevVisible(from int) (int, bool) {
	answers := st.responses.answers()
	for i := from - 1; i >= 0; i-- {
		if st.visible(i, answers) {
			return i, true
		}
	}
	return 0, false
}

func (st *state) canGoBack() bool {
	if st.phase != PhaseActive || st.index <= 0 {
		return false
	}
	if st.experience != nil && st.experience.DisableBack {
		return false
	}
	_, ok := st.prevVisible(st.index)
	return ok
}

func (st *state) canProceed() bool {
	if st.index < 0 || st.index >= len(st.steps) {
		return false
	}
	switch st.phase {
	case PhaseCompleting:
		return false
	case PhaseDone:
		if _, ok := st.nextVisible(st.index, len(st.steps)-1); !ok {
			return false
		}
	}
	step := st.steps[st.index]
	if step.Type == booth.StepProcessing {
		return st.job.Status == booth.JobDone
	}
	if !step.Required {
		return true
	}
	r, ok := st.responses.Get(step.ID)
	return ok && hasValue(r.Data)
}

// hasValue reports whether data carries an answer: a non-blank string, a
// non-empty array, or any other non-null value.
func hasValue(data json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case nil:
		return false
	case string:
		for _, r := range t {
			if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
				return true
			}
		}
		return false
	case []any:
		return len(t) > 0
	}
	return true
}

// Actions.

type actInit struct {
	session    booth.Session
	steps      []booth.Step
	experience *booth.Experience
}

func (a actInit) reduce(m *Machine, st *state) (bool, error) {
	if len(a.steps) == 0 {
		return false, ErrNoSteps
	}
	fresh := m.blank(st.revision+1, st.generation+1)
	fresh.experience = a.experience
	fresh.steps = append([]booth.Step(nil), a.steps...)
	fresh.responses = NewResponseStore(fresh.steps, m.now)
	// Only session.Responses seeds answers. An empty list is a fresh run.
	fresh.responses.load(a.session.Responses)
	fresh.conds = newConditions(fresh.steps, m.logger)
	fresh.mode = a.session.Mode
	if fresh.mode == "" {
		fresh.mode = booth.ModeGuest
	}
	fresh.lastInput = lastInputIndex(fresh.steps)
	fresh.index = clamp(a.session.CurrentStepIndex, 0, len(fresh.steps)-1)
	fresh.phase = PhaseActive
	fresh.job = JobState{
		ID:     a.session.JobID,
		Status: a.session.JobStatus,
		Error:  a.session.JobError,
		Result: a.session.ResultMedia,
	}
	switch {
	case a.session.CompletedAt == nil && a.session.Status != booth.SessionCompleted:
		if fresh.index > fresh.lastInput {
			fresh.index = fresh.lastInput
		}
	case a.session.FinalizedAt != nil:
		fresh.complete = true
		fresh.phase = PhaseDone
		if fresh.index <= fresh.lastInput {
			if j, ok := fresh.nextVisible(fresh.lastInput, len(fresh.steps)-1); ok {
				fresh.index = j
			}
		}
	default:
		// Marked complete, but the callback never landed. Offer a retry.
		fresh.complete = true
		fresh.phase = PhaseCompleting
		fresh.completionError = msgCompletionInterrupted
		if fresh.index > fresh.lastInput {
			fresh.index = fresh.lastInput
		}
	}
	*st = fresh
	return true, nil
}

type actSetResponse struct {
	stepID string
	data   json.RawMessage
}

func (a actSetResponse) reduce(_ *Machine, st *state) (bool, error) {
	if st.phase == PhaseIdle {
		return false, ErrNotInitialized
	}
	for _, s := range st.steps {
		if s.ID == a.stepID {
			st.responses.Set(s, a.data)
			st.revision++
			return true, nil
		}
	}
	return false, ErrUnknownStep
}

type actNext struct{}

func (actNext) reduce(_ *Machine, st *state) (bool, error) {
	switch st.phase {
	case PhaseActive:
		if !st.canProceed() {
			return false, nil
		}
		if j, ok := st.nextVisible(st.index, st.lastInput); ok {
			st.index = j
			st.revision++
			return true, nil
		}
		st.complete = true
		st.phase = PhaseCompleting
		return true, nil
	case PhaseDone:
		if !st.canProceed() {
			return false, nil
		}
		if j, ok := st.nextVisible(st.index, len(st.steps)-1); ok {
			st.index = j
			st.revision++
			return true, nil
		}
	}
	return false, nil
}

type actPrevious struct{}

func (actPrevious) reduce(_ *Machine, st *state) (bool, error) {
	if !st.canGoBack() {
		return false, nil
	}
	j, _ := st.prevVisible(st.index)
	st.index = j
	st.revision++
	return true, nil
}

type actGoTo struct{ index int }

func (a actGoTo) reduce(_ *Machine, st *state) (bool, error) {
	if st.phase == PhaseIdle {
		return false, ErrNotInitialized
	}
	if st.mode != booth.ModePreview {
		return false, ErrPreviewOnly
	}
	if a.index < 0 || a.index >= len(st.steps) {
		return false, ErrStepOutOfRange
	}
	if a.index == st.index {
		return false, nil
	}
	st.index = a.index
	st.revision++
	return true, nil
}

type actReset struct{}

func (actReset) reduce(m *Machine, st *state) (bool, error) {
	*st = m.blank(st.revision+1, st.generation+1)
	return true, nil
}

type actBeginCompletion struct{}

func (actBeginCompletion) reduce(_ *Machine, st *state) (bool, error) {
	if !st.complete {
		return false, ErrNotComplete
	}
	if st.phase == PhaseDone {
		return false, errAlreadyDone
	}
	changed := st.completionError != "" || st.phase != PhaseCompleting
	st.completionError = ""
	st.phase = PhaseCompleting
	return changed, nil
}

type actFailCompletion struct {
	message    string
	generation uint64
}

func (a actFailCompletion) reduce(_ *Machine, st *state) (bool, error) {
	if a.generation != st.generation || st.phase != PhaseCompleting {
		return false, nil
	}
	st.completionError = a.message
	return true, nil
}

type actFinishCompletion struct{ generation uint64 }

func (a actFinishCompletion) reduce(_ *Machine, st *state) (bool, error) {
	if a.generation != st.generation || st.phase != PhaseCompleting {
		return false, nil
	}
	st.phase = PhaseDone
	st.completionError = ""
	if st.index <= st.lastInput {
		if j, ok := st.nextVisible(st.lastInput, len(st.steps)-1); ok {
			st.index = j
			st.revision++
		}
	}
	return true, nil
}

type actRemote struct {
	session    booth.Session
	generation uint64
}

func (a actRemote) reduce(_ *Machine, st *state) (bool, error) {
	if a.generation != st.generation || st.phase == PhaseIdle {
		return false, nil
	}
	job := JobState{
		ID:     a.session.JobID,
		Status: a.session.JobStatus,
		Error:  a.session.JobError,
		Result: a.session.ResultMedia,
	}
	if job.equal(st.job) {
		return false, nil
	}
	st.job = job
	return true, nil
}

// Named transitions.

// InitFromSession seeds the machine from a persisted session. It is the only
// path from stored data into runtime state.
func (m *Machine) InitFromSession(session booth.Session, steps []booth.Step, experience *booth.Experience) error {
	_, _, err := m.dispatch(actInit{session: session, steps: steps, experience: experience})
	return err
}

// SetResponse records data as the answer for stepID.
func (m *Machine) SetResponse(stepID string, data json.RawMessage) error {
	_, _, err := m.dispatch(actSetResponse{stepID: stepID, data: data})
	return err
}

// GetResponse returns the answer for stepID, if any.
func (m *Machine) GetResponse(stepID string) (booth.StepResponse, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.responses.Get(stepID)
}

func (m *Machine) GetResponses() []booth.StepResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.responses.All()
}

// Next advances to the next visible step, or enters the completing phase
// from the last input step. It reports whether anything changed.
func (m *Machine) Next() bool {
	_, changed, _ := m.dispatch(actNext{})
	return changed
}

func (m *Machine) Previous() bool {
	_, changed, _ := m.dispatch(actPrevious{})
	return changed
}

// GoToStep jumps to index in preview sessions, bypassing flow guards.
func (m *Machine) GoToStep(index int) error {
	_, _, err := m.dispatch(actGoTo{index: index})
	return err
}

// Reset returns the machine to its uninitialized baseline and cancels
// everything registered with onReset.
func (m *Machine) Reset() {
	m.mu.Lock()
	hooks := m.resetHooks
	m.resetHooks = nil
	m.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	m.dispatch(actReset{})
}

// beginCompletion enters the completing phase and returns the generation the
// sequence belongs to. fail and finish for any other generation are dropped.
func (m *Machine) beginCompletion() (uint64, error) {
	snap, _, err := m.dispatch(actBeginCompletion{})
	return snap.Generation, err
}

func (m *Machine) failCompletion(generation uint64, message string) {
	m.dispatch(actFailCompletion{message: message, generation: generation})
}

// finishCompletion reports whether the run moved to done.
func (m *Machine) finishCompletion(generation uint64) bool {
	_, changed, _ := m.dispatch(actFinishCompletion{generation: generation})
	return changed
}

func (m *Machine) applyRemote(session booth.Session, generation uint64) (Snapshot, bool) {
	snap, changed, _ := m.dispatch(actRemote{session: session, generation: generation})
	return snap, changed
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
