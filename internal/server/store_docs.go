package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playperu/snapbooth/internal/booth"
)

// DocStore keeps experiences and sessions as JSONB documents in one
// client's database. Every session write is published to the notifier.
type DocStore struct {
	db       *sql.DB
	client   string
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewDocStore(db *sql.DB, client string, notifier Notifier, logger *slog.Logger) *DocStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocStore{
		db:       db,
		client:   client,
		notifier: notifier,
		logger:   logger.With("client", client),
		now:      time.Now,
	}
}

func (s *DocStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *DocStore) ListExperiences(ctx context.Context) ([]ExperienceSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, status, json_array_length(json(data), '$.steps') FROM experiences ORDER BY name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []ExperienceSummary{}
	for rows.Next() {
		var e ExperienceSummary
		if err := rows.Scan(&e.ID, &e.Name, &e.Status, &e.StepCount); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// CreateExperience stores exp under a new id. Experiences without a status
// are published right away.
func (s *DocStore) CreateExperience(ctx context.Context, exp *booth.Experience) (*booth.Experience, error) {
	doc := *exp
	doc.ID = newID()
	doc.CreatedAt = s.now().UTC()
	if doc.Status == "" {
		doc.Status = booth.ExperiencePublished
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO experiences (id, name, status, data) VALUES (?, ?, ?, jsonb(?))`,
		doc.ID, doc.Name, string(doc.Status), string(data),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting experience: %w", err)
	}
	return &doc, nil
}

func (s *DocStore) GetExperience(ctx context.Context, id string) (*booth.Experience, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT json(data) FROM experiences WHERE id = ?`, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var exp booth.Experience
	if err := json.Unmarshal([]byte(data), &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

// DeleteExperience refuses while active sessions still run it.
func (s *DocStore) DeleteExperience(ctx context.Context, id string) error {
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE experience_id = ? AND status = ?`,
		id, string(booth.SessionActive),
	).Scan(&active)
	if err != nil {
		return err
	}
	if active > 0 {
		return ErrConflict
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM experiences WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSession starts a session on experienceID and returns it with its
// bearer token.
func (s *DocStore) CreateSession(ctx context.Context, experienceID string, mode booth.SessionMode) (booth.Session, string, error) {
	if _, err := s.GetExperience(ctx, experienceID); err != nil {
		return booth.Session{}, "", err
	}

	now := s.now().UTC()
	sess := booth.Session{
		ID:           newID(),
		ExperienceID: experienceID,
		Mode:         mode,
		Status:       booth.SessionActive,
		Responses:    []booth.StepResponse{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	token := newID()

	data, err := json.Marshal(sess)
	if err != nil {
		return booth.Session{}, "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, experience_id, token, status, updated_at, data) VALUES (?, ?, ?, ?, ?, jsonb(?))`,
		sess.ID, experienceID, token, string(sess.Status), formatTime(now), string(data),
	)
	if err != nil {
		return booth.Session{}, "", fmt.Errorf("inserting session: %w", err)
	}
	return sess, token, nil
}

func (s *DocStore) GetSession(ctx context.Context, id string) (booth.Session, error) {
	return s.scanSession(s.db.QueryRowContext(ctx,
		`SELECT json(data) FROM sessions WHERE id = ?`, id,
	))
}

func (s *DocStore) SessionByToken(ctx context.Context, token string) (booth.Session, error) {
	if token == "" {
		return booth.Session{}, errNoSession
	}
	sess, err := s.scanSession(s.db.QueryRowContext(ctx,
		`SELECT json(data) FROM sessions WHERE token = ?`, token,
	))
	if errors.Is(err, ErrNotFound) {
		return booth.Session{}, errNoSession
	}
	return sess, err
}

func (s *DocStore) scanSession(row *sql.Row) (booth.Session, error) {
	var data string
	err := row.Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return booth.Session{}, ErrNotFound
	}
	if err != nil {
		return booth.Session{}, err
	}
	var sess booth.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return booth.Session{}, err
	}
	return sess, nil
}

// WriteSession applies u to the stored document and publishes the result.
// Subscribers are always notified asynchronously.
func (s *DocStore) WriteSession(ctx context.Context, id string, u booth.SessionUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sess, err := s.scanSession(tx.QueryRowContext(ctx,
		`SELECT json(data) FROM sessions WHERE id = ?`, id,
	))
	if err != nil {
		return err
	}
	u.Apply(&sess)
	sess.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ?, data = jsonb(?) WHERE id = ?`,
		string(sess.Status), formatTime(sess.UpdatedAt), string(data), id,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if s.notifier != nil {
		if err := s.notifier.Publish(ctx, sessionTopic(s.client, id), data); err != nil {
			s.logger.Warn("publishing session change failed", "session", id, "error", err)
		}
	}
	return nil
}

// SubscribeSession calls fn with every published version of the session
// until unsubscribe is called. fn runs on its own goroutine.
func (s *DocStore) SubscribeSession(id string, fn func(booth.Session)) func() {
	if s.notifier == nil {
		return func() {}
	}
	ch, unsubscribe := s.notifier.Subscribe(sessionTopic(s.client, id))
	go func() {
		for data := range ch {
			var sess booth.Session
			if err := json.Unmarshal(data, &sess); err != nil {
				s.logger.Warn("decoding session change failed", "session", id, "error", err)
				continue
			}
			fn(sess)
		}
	}()
	return unsubscribe
}

// IdleSessions lists active sessions untouched since before.
func (s *DocStore) IdleSessions(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE status = ? AND updated_at < ? ORDER BY updated_at`,
		string(booth.SessionActive), formatTime(before),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
