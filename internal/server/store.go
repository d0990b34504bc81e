package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/playperu/snapbooth/internal/booth"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Store is one client's experiences and guest sessions.
type Store interface {
	ListExperiences(ctx context.Context) ([]ExperienceSummary, error)
	CreateExperience(ctx context.Context, exp *booth.Experience) (*booth.Experience, error)
	GetExperience(ctx context.Context, id string) (*booth.Experience, error)
	DeleteExperience(ctx context.Context, id string) error

	CreateSession(ctx context.Context, experienceID string, mode booth.SessionMode) (booth.Session, string, error)
	GetSession(ctx context.Context, id string) (booth.Session, error)
	SessionByToken(ctx context.Context, token string) (booth.Session, error)
	WriteSession(ctx context.Context, id string, u booth.SessionUpdate) error
	SubscribeSession(id string, fn func(booth.Session)) (unsubscribe func())
	IdleSessions(ctx context.Context, before time.Time) ([]string, error)
}

// ExperienceSummary is the list view of an experience.
type ExperienceSummary struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Status    booth.ExperienceStatus `json:"status"`
	StepCount int                    `json:"stepCount"`
}

func newID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

const timeFormat = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}
