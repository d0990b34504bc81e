package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const adminSessionTTL = 7 * 24 * time.Hour

type ClientInfo struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,39}$`)

var errInvalidSlug = errors.New("slug must be 2-40 lowercase letters, digits or dashes")

// reservedSlugs collide with the admin routes and the admin database file.
var reservedSlugs = map[string]bool{"admin": true}

// AdminStore holds admins, their sessions and the client list in the shared
// admin database. The schema is owned by migrations.RunAdmin.
type AdminStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewAdminStore(db *sql.DB) *AdminStore {
	return &AdminStore{db: db, now: time.Now}
}

// EnsureAdmin creates the first admin account when none exists.
func (s *AdminStore) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&count); err != nil {
		return false, err
	}
	if count > 0 || password == "" {
		return false, nil
	}
	if err := s.CreateAdmin(ctx, username, password); err != nil {
		return false, err
	}
	return true, nil
}

func (s *AdminStore) CreateAdmin(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO admins (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		newID(), strings.ToLower(username), string(hash), formatTime(s.now()),
	)
	return err
}

// Authenticate checks credentials and returns the admin id.
func (s *AdminStore) Authenticate(ctx context.Context, username, password string) (string, error) {
	var id, hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, password_hash FROM admins WHERE username = ?`, strings.ToLower(username),
	).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrNotFound
	}
	return id, nil
}

func (s *AdminStore) CreateAdminSession(ctx context.Context, adminID string) (string, error) {
	id := newID()
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_sessions (id, admin_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		id, adminID, formatTime(now.Add(adminSessionTTL)), formatTime(now),
	)
	return id, err
}

func (s *AdminStore) DeleteAdminSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM admin_sessions WHERE id = ?`, sessionID)
	return err
}

func (s *AdminStore) AdminFromSession(ctx context.Context, sessionID string) (adminSession, error) {
	var sess adminSession
	err := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.username
		FROM admin_sessions s
		JOIN admins a ON a.id = s.admin_id
		WHERE s.id = ? AND s.expires_at > ?
	`, sessionID, formatTime(s.now())).Scan(&sess.AdminID, &sess.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return adminSession{}, errNoAdminSession
	}
	return sess, err
}

func (s *AdminStore) ListClients(ctx context.Context) ([]ClientInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, slug, name FROM clients ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := []ClientInfo{}
	for rows.Next() {
		var c ClientInfo
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (s *AdminStore) ClientExists(ctx context.Context, slug string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients WHERE slug = ?`, slug).Scan(&n)
	return n > 0, err
}

func (s *AdminStore) CreateClient(ctx context.Context, slug, name string) (ClientInfo, error) {
	if !slugPattern.MatchString(slug) || reservedSlugs[slug] {
		return ClientInfo{}, errInvalidSlug
	}
	exists, err := s.ClientExists(ctx, slug)
	if err != nil {
		return ClientInfo{}, err
	}
	if exists {
		return ClientInfo{}, ErrConflict
	}

	c := ClientInfo{ID: newID(), Slug: slug, Name: name}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clients (id, slug, name, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Slug, c.Name, formatTime(s.now()),
	)
	if err != nil {
		return ClientInfo{}, fmt.Errorf("inserting client: %w", err)
	}
	return c, nil
}
