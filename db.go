package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/example/staykeeper/internal/security"
)

// ErrUserExists is returned by CreateUser for a duplicate email.
var ErrUserExists = errors.New("user already exists")

// DB interface for database operations
type DB interface {
	Init() error
	// User operations
	CreateUser(email, password, name, role string) (*User, error)
	GetUserByEmail(email string) (*User, error)
	GetUserByID(id int64) (*User, error)
	// Audit trail
	InsertSecurityEvent(ctx context.Context, e *security.LogEntry) error
}

// Memory DB
type MemDB struct {
	mu     sync.RWMutex
	users  map[string]*User
	events []security.LogEntry
	seq    int64
}

func NewMemoryDB() *MemDB {
	return &MemDB{users: map[string]*User{}, seq: 1}
}

func (m *MemDB) Init() error { return nil }

func (m *MemDB) CreateUser(email, password, name, role string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(email)
	if _, ok := m.users[key]; ok {
		return nil, ErrUserExists
	}
	u := &User{ID: m.seq, Email: email, Name: name, Password: password, Role: role, CreatedAt: time.Now().UTC()}
	m.seq++
	m.users[key] = u
	return u, nil
}

func (m *MemDB) GetUserByEmail(email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[strings.ToLower(email)]; ok {
		return u, nil
	}
	return nil, nil
}

func (m *MemDB) GetUserByID(id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (m *MemDB) InsertSecurityEvent(ctx context.Context, e *security.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

// Events returns a copy of the recorded security events.
func (m *MemDB) Events() []security.LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]security.LogEntry, len(m.events))
	copy(out, m.events)
	return out
}

// SQLite DB
type SQLiteDB struct {
	db   *sql.DB
	path string
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteDB{db: d, path: path}
	if err := s.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY AUTOINCREMENT, email TEXT UNIQUE COLLATE NOCASE, password TEXT NOT NULL, name TEXT NOT NULL DEFAULT '', role TEXT NOT NULL DEFAULT 'guest', created_at TEXT);`,
		`CREATE TABLE IF NOT EXISTS security_events (id TEXT PRIMARY KEY, occurred_at TEXT NOT NULL, severity TEXT NOT NULL, action TEXT NOT NULL, resource TEXT, ip TEXT, user_agent TEXT, success INTEGER NOT NULL, details TEXT, user_id TEXT);`,
		`CREATE INDEX IF NOT EXISTS security_events_occurred_at ON security_events(occurred_at);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDB) CreateUser(email, password, name, role string) (*User, error) {
	res, err := s.db.Exec(`INSERT INTO users(email,password,name,role,created_at) VALUES(?,?,?,?,datetime('now'))`, email, password, name, role)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrUserExists
		}
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &User{ID: id, Email: email, Name: name, Password: password, Role: role}, nil
}

func (s *SQLiteDB) GetUserByEmail(email string) (*User, error) {
	return s.scanUser(s.db.QueryRow(`SELECT id,email,name,password,role FROM users WHERE email = ?`, email))
}

func (s *SQLiteDB) GetUserByID(id int64) (*User, error) {
	return s.scanUser(s.db.QueryRow(`SELECT id,email,name,password,role FROM users WHERE id = ?`, id))
}

func (s *SQLiteDB) scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Password, &u.Role); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteDB) InsertSecurityEvent(ctx context.Context, e *security.LogEntry) error {
	details, err := encodeDetails(e.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO security_events(id,occurred_at,severity,action,resource,ip,user_agent,success,details,user_id) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Timestamp.Format(time.RFC3339Nano), string(e.Severity), e.Action, e.Resource, e.IP, e.UserAgent, e.Success, details, nullString(e.UserID))
	return err
}

func encodeDetails(d map[string]interface{}) (sql.NullString, error) {
	if len(d) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// lifecycle helpers
func (m *MemDB) close() error { return nil }
func (m *MemDB) ping() bool   { return true }

func (s *SQLiteDB) close() error { return s.db.Close() }
func (s *SQLiteDB) ping() bool   { return s.db.Ping() == nil }
