// Package transform runs the AI transformation that follows a finished
// run: it renders the outcome prompt from the guest's answers, generates an
// image and writes the result back to the session document.
package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playperu/snapbooth/internal/booth"
	"github.com/playperu/snapbooth/internal/jobs"
)

// Kind is the job kind handled here.
const Kind = "ai-transform"

// Payload identifies the session a job works on.
type Payload struct {
	Client       string `json:"client"`
	SessionID    string `json:"sessionId"`
	ExperienceID string `json:"experienceId"`
}

// Sessions is the slice of the tenant stores the handler needs.
type Sessions interface {
	GetSession(ctx context.Context, client, sessionID string) (booth.Session, error)
	GetExperience(ctx context.Context, client, experienceID string) (*booth.Experience, error)
	WriteSession(ctx context.Context, client, sessionID string, u booth.SessionUpdate) error
}

// Enqueue schedules a transform for p. Repeated calls for the same session
// return the same job.
func Enqueue(ctx context.Context, repo jobs.Repo, p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return repo.Enqueue(ctx, Kind, time.Now(), data, p.Client+"/"+p.SessionID)
}

type Handler struct {
	sessions Sessions
	images   ImageGenerator
	logger   *slog.Logger
}

func NewHandler(sessions Sessions, images ImageGenerator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sessions: sessions, images: images, logger: logger}
}

var errNoGenerator = errors.New("image generation is not configured")

// Run is a jobs.Handler.
func (h *Handler) Run(ctx context.Context, job jobs.Job) error {
	var p Payload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	log := h.logger.With("job", job.ID, "client", p.Client, "session", p.SessionID)

	err := h.run(ctx, job, p)
	if err == nil {
		log.Info("transform done")
		return nil
	}

	status := booth.JobQueued
	if job.LastAttempt() {
		status = booth.JobFailed
	}
	msg := "We couldn't create your picture. Retrying..."
	if status == booth.JobFailed {
		msg = "We couldn't create your picture."
	}
	werr := h.sessions.WriteSession(ctx, p.Client, p.SessionID, booth.SessionUpdate{
		JobID:     booth.Ptr(job.ID),
		JobStatus: booth.Ptr(status),
		JobError:  booth.Ptr(msg),
	})
	if werr != nil {
		log.Error("recording job failure", "error", werr)
	}
	return err
}

func (h *Handler) run(ctx context.Context, job jobs.Job, p Payload) error {
	session, err := h.sessions.GetSession(ctx, p.Client, p.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	expID := p.ExperienceID
	if expID == "" {
		expID = session.ExperienceID
	}
	exp, err := h.sessions.GetExperience(ctx, p.Client, expID)
	if err != nil {
		return fmt.Errorf("load experience: %w", err)
	}

	if exp.Outcome == nil {
		return h.sessions.WriteSession(ctx, p.Client, p.SessionID, booth.SessionUpdate{
			JobID:     booth.Ptr(job.ID),
			JobStatus: booth.Ptr(booth.JobDone),
			JobError:  booth.Ptr(""),
		})
	}
	if h.images == nil {
		return errNoGenerator
	}

	err = h.sessions.WriteSession(ctx, p.Client, p.SessionID, booth.SessionUpdate{
		JobID:     booth.Ptr(job.ID),
		JobStatus: booth.Ptr(booth.JobRunning),
	})
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	tmpl, err := ParsePrompt(exp.Outcome.Prompt)
	if err != nil {
		return err
	}
	data := BuildPromptData(exp, session)
	prompt, err := RenderPrompt(tmpl, data)
	if err != nil {
		return err
	}

	media, err := h.images.Generate(ctx, ImageRequest{
		Prompt:    prompt,
		Model:     exp.Outcome.Model,
		Size:      exp.Outcome.Size,
		SourceURL: data.Source,
	})
	if err != nil {
		return err
	}

	return h.sessions.WriteSession(ctx, p.Client, p.SessionID, booth.SessionUpdate{
		JobID:       booth.Ptr(job.ID),
		JobStatus:   booth.Ptr(booth.JobDone),
		JobError:    booth.Ptr(""),
		ResultMedia: &media,
	})
}
