// Package booth defines the core domain types shared by the guest runtime,
// the session store and the job pipeline. It has no external dependencies.
package booth

import (
	"encoding/json"
	"time"
)

type StepType string

const (
	StepInfo             StepType = "info"
	StepShortText        StepType = "short_text"
	StepLongText         StepType = "long_text"
	StepMultipleChoice   StepType = "multiple_choice"
	StepYesNo            StepType = "yes_no"
	StepOpinionScale     StepType = "opinion_scale"
	StepEmail            StepType = "email"
	StepCapture          StepType = "capture"
	StepAITransform      StepType = "ai-transform"
	StepProcessing       StepType = "processing"
	StepReward           StepType = "reward"
	StepExperiencePicker StepType = "experience-picker"
)

// StepTypes lists every known step type in declaration order.
var StepTypes = []StepType{
	StepInfo, StepShortText, StepLongText, StepMultipleChoice, StepYesNo,
	StepOpinionScale, StepEmail, StepCapture, StepAITransform, StepProcessing,
	StepReward, StepExperiencePicker,
}

// IsOutcome reports whether steps of this type display the result of a
// finished run rather than collect input.
func (t StepType) IsOutcome() bool {
	return t == StepProcessing || t == StepReward
}

type AdvanceMode string

const (
	AdvanceManual AdvanceMode = "manual"
	AdvanceAuto   AdvanceMode = "auto"
)

type Step struct {
	ID          string      `json:"id" yaml:"id" jsonschema:"minLength=1"`
	Type        StepType    `json:"type" yaml:"type" jsonschema:"enum=info,enum=short_text,enum=long_text,enum=multiple_choice,enum=yes_no,enum=opinion_scale,enum=email,enum=capture,enum=ai-transform,enum=processing,enum=reward,enum=experience-picker"`
	Name        string      `json:"name,omitempty" yaml:"name,omitempty"`
	Title       string      `json:"title,omitempty" yaml:"title,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool        `json:"required,omitempty" yaml:"required,omitempty"`
	AdvanceMode AdvanceMode `json:"advanceMode,omitempty" yaml:"advanceMode,omitempty" jsonschema:"enum=manual,enum=auto"`
	SkipIf      string      `json:"skipIf,omitempty" yaml:"skipIf,omitempty"`
	Config      StepConfig  `json:"config" yaml:"config,omitempty"`
}

// DisplayName is the name recorded alongside responses.
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Title != "" {
		return s.Title
	}
	return s.ID
}

// Auto reports whether the step advances on its own once satisfied.
func (s Step) Auto() bool {
	return s.AdvanceMode == AdvanceAuto
}

type StepConfig struct {
	Prompt      string   `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Placeholder string   `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	MaxLength   int      `json:"maxLength,omitempty" yaml:"maxLength,omitempty" jsonschema:"minimum=0"`
	Choices     []Choice `json:"choices,omitempty" yaml:"choices,omitempty"`
	MultiSelect bool     `json:"multiSelect,omitempty" yaml:"multiSelect,omitempty"`
	Min         int      `json:"min,omitempty" yaml:"min,omitempty"`
	Max         int      `json:"max,omitempty" yaml:"max,omitempty"`
	MinLabel    string   `json:"minLabel,omitempty" yaml:"minLabel,omitempty"`
	MaxLabel    string   `json:"maxLabel,omitempty" yaml:"maxLabel,omitempty"`
	Accept      []string `json:"accept,omitempty" yaml:"accept,omitempty"`
	MaxMedia    int      `json:"maxMedia,omitempty" yaml:"maxMedia,omitempty" jsonschema:"minimum=0"`
	ButtonLabel string   `json:"buttonLabel,omitempty" yaml:"buttonLabel,omitempty"`
	// Experiences lists the experience ids an experience-picker offers.
	Experiences []Choice `json:"experiences,omitempty" yaml:"experiences,omitempty"`
}

type Choice struct {
	ID    string `json:"id" yaml:"id" jsonschema:"minLength=1"`
	Label string `json:"label" yaml:"label"`
}

// Selection is one picked option of a multiple-choice answer.
type Selection struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// MediaRef points at an uploaded or generated media object.
type MediaRef struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// StepResponse is one guest's answer to one step. Data is kept in its wire
// shape: a JSON string for text, scale and single choice; an array of
// selections for multi-select; an array of media refs for capture.
type StepResponse struct {
	StepID    string          `json:"stepId"`
	StepName  string          `json:"stepName"`
	StepType  StepType        `json:"stepType"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Text returns the response as a plain string, or "" if it is not one.
func (r StepResponse) Text() string {
	var s string
	if err := json.Unmarshal(r.Data, &s); err != nil {
		return ""
	}
	return s
}

func (r StepResponse) Selections() []Selection {
	var sel []Selection
	if err := json.Unmarshal(r.Data, &sel); err != nil {
		return nil
	}
	return sel
}

func (r StepResponse) Media() []MediaRef {
	var media []MediaRef
	if err := json.Unmarshal(r.Data, &media); err != nil {
		return nil
	}
	return media
}

// Value decodes Data into a generic value for expression environments.
func (r StepResponse) Value() any {
	var v any
	if err := json.Unmarshal(r.Data, &v); err != nil {
		return nil
	}
	return v
}

func TextData(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

func SelectionData(sel []Selection) json.RawMessage {
	if sel == nil {
		sel = []Selection{}
	}
	data, _ := json.Marshal(sel)
	return data
}

func MediaData(media []MediaRef) json.RawMessage {
	if media == nil {
		media = []MediaRef{}
	}
	data, _ := json.Marshal(media)
	return data
}

type ExperienceStatus string

const (
	ExperienceDraft     ExperienceStatus = "draft"
	ExperiencePublished ExperienceStatus = "published"
	ExperienceArchived  ExperienceStatus = "archived"
)

type Experience struct {
	ID          string           `json:"id" yaml:"id,omitempty"`
	Name        string           `json:"name" yaml:"name" jsonschema:"minLength=1"`
	Status      ExperienceStatus `json:"status,omitempty" yaml:"status,omitempty" jsonschema:"enum=draft,enum=published,enum=archived"`
	DisableBack bool             `json:"disableBack,omitempty" yaml:"disableBack,omitempty"`
	Steps       []Step           `json:"steps" yaml:"steps" jsonschema:"minItems=1"`
	Outcome     *Outcome         `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	CreatedAt   time.Time        `json:"createdAt,omitempty" yaml:"-"`
}

// Outcome configures the asynchronous transformation started once a run
// completes.
type Outcome struct {
	// Prompt is a Go template rendered against {{ .answers }}.
	Prompt string `json:"prompt" yaml:"prompt" jsonschema:"minLength=1"`
	// SourceStepID names the capture step whose media feeds the job.
	SourceStepID string `json:"sourceStepId,omitempty" yaml:"sourceStepId,omitempty"`
	Model        string `json:"model,omitempty" yaml:"model,omitempty"`
	Size         string `json:"size,omitempty" yaml:"size,omitempty"`
}

type SessionMode string

const (
	ModeGuest   SessionMode = "guest"
	ModePreview SessionMode = "preview"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
)

type JobStatus string

const (
	JobNone    JobStatus = ""
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

type Session struct {
	ID               string         `json:"id"`
	ExperienceID     string         `json:"experienceId"`
	Mode             SessionMode    `json:"mode"`
	Status           SessionStatus  `json:"status"`
	Responses        []StepResponse `json:"responses"`
	CurrentStepIndex int            `json:"currentStepIndex"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	// FinalizedAt is set once the completion callback has succeeded.
	FinalizedAt      *time.Time     `json:"finalizedAt,omitempty"`
	JobID            string         `json:"jobId,omitempty"`
	JobStatus        JobStatus      `json:"jobStatus,omitempty"`
	JobError         string         `json:"jobError,omitempty"`
	ResultMedia      *MediaRef      `json:"resultMedia,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// SessionUpdate is a partial write to a session document. Nil fields are
// left untouched.
type SessionUpdate struct {
	Responses        []StepResponse
	CurrentStepIndex *int
	Status           *SessionStatus
	CompletedAt      *time.Time
	FinalizedAt      *time.Time
	JobID            *string
	JobStatus        *JobStatus
	JobError         *string
	ResultMedia      *MediaRef
}

// Apply merges u into s.
func (u SessionUpdate) Apply(s *Session) {
	if u.Responses != nil {
		s.Responses = append([]StepResponse(nil), u.Responses...)
	}
	if u.CurrentStepIndex != nil {
		s.CurrentStepIndex = *u.CurrentStepIndex
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.CompletedAt != nil && s.CompletedAt == nil {
		t := *u.CompletedAt
		s.CompletedAt = &t
	}
	if u.FinalizedAt != nil && s.FinalizedAt == nil {
		t := *u.FinalizedAt
		s.FinalizedAt = &t
	}
	if u.JobID != nil {
		s.JobID = *u.JobID
	}
	if u.JobStatus != nil {
		s.JobStatus = *u.JobStatus
	}
	if u.JobError != nil {
		s.JobError = *u.JobError
	}
	if u.ResultMedia != nil {
		m := *u.ResultMedia
		s.ResultMedia = &m
	}
}

// Ptr returns a pointer to v. Handy for building SessionUpdates.
func Ptr[T any](v T) *T { return &v }
