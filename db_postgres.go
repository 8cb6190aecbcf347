package main

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/example/staykeeper/internal/security"
)

type PostgresDB struct {
	db  *sql.DB
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{db: d, dsn: dsn}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init() error {
	// rely on migrations to create tables; just verify connectivity
	return p.db.Ping()
}

func (p *PostgresDB) CreateUser(email, password, name, role string) (*User, error) {
	var u User
	err := p.db.QueryRow(`INSERT INTO users(email,password,name,role,created_at) VALUES($1,$2,$3,$4,now()) RETURNING id, created_at`,
		email, password, name, role).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrUserExists
		}
		return nil, err
	}
	u.Email, u.Password, u.Name, u.Role = email, password, name, role
	return &u, nil
}

func (p *PostgresDB) GetUserByEmail(email string) (*User, error) {
	return p.scanUser(p.db.QueryRow(`SELECT id,email,name,password,role,created_at FROM users WHERE lower(email) = lower($1)`, email))
}

func (p *PostgresDB) GetUserByID(id int64) (*User, error) {
	return p.scanUser(p.db.QueryRow(`SELECT id,email,name,password,role,created_at FROM users WHERE id = $1`, id))
}

func (p *PostgresDB) scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Password, &u.Role, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (p *PostgresDB) InsertSecurityEvent(ctx context.Context, e *security.LogEntry) error {
	details, err := encodeDetails(e.Details)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO security_events(id,occurred_at,severity,action,resource,ip,user_agent,success,details,user_id) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.Timestamp, string(e.Severity), e.Action, e.Resource, e.IP, e.UserAgent, e.Success, details, nullString(e.UserID))
	return err
}

// CountSecurityEvents returns how many events were recorded for action.
func (p *PostgresDB) CountSecurityEvents(ctx context.Context, action string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM security_events WHERE action = $1`, action).Scan(&n)
	return n, err
}

func (p *PostgresDB) close() error { return p.db.Close() }
func (p *PostgresDB) ping() bool   { return p.db.Ping() == nil }
