package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
)

// Outcome of one photo request.
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeDownloadFailed Outcome = "download_failed"
	OutcomeRemoteError    Outcome = "remote_error"
	OutcomeUnreachable    Outcome = "unreachable"
	OutcomeFailed         Outcome = "failed"
)

// Entry is one journal row. Images are never stored, only what happened.
type Entry struct {
	RequestID  string
	ChatID     int64
	Outcome    Outcome
	StatusCode int // remote status, 0 when no response was received
	Duration   time.Duration
}

type Journal struct{ DB *sql.DB }

func NewJournal(db *sql.DB) *Journal { return &Journal{DB: db} }

// Open connects to Postgres through the pgx driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	return db, nil
}

var schema = []string{`
create table if not exists rmbg_requests (
  id          bigserial primary key,
  request_id  text        not null,
  chat_id     bigint      not null,
  outcome     text        not null,
  status_code integer     not null default 0,
  duration_ms bigint      not null default 0,
  created_at  timestamptz not null default now()
)`,
	`create index if not exists rmbg_requests_created_at_idx on rmbg_requests (created_at)`,
}

func (j *Journal) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := j.DB.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.RequestID == "" {
		return errors.New("journal: empty request id")
	}
	const q = `
insert into rmbg_requests (request_id, chat_id, outcome, status_code, duration_ms)
values ($1,$2,$3,$4,$5)`
	_, err := j.DB.ExecContext(ctx, q, e.RequestID, e.ChatID, string(e.Outcome), e.StatusCode, e.Duration.Milliseconds())
	return err
}

// PurgeOlderThan deletes rows older than the given age.
func (j *Journal) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	res, err := j.DB.ExecContext(ctx, `delete from rmbg_requests where created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}

func (j *Journal) Ping(ctx context.Context) error {
	return j.DB.PingContext(ctx)
}

// SafeDSNSummary renders host, port, db and user of a DSN without the password.
func SafeDSNSummary(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "dsn: parse error"
	}
	user := u.User.Username()
	host := u.Host
	port := ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	if port == "" {
		return fmt.Sprintf("host=%s db=%s user=%s", host, db, user)
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, db, user)
}
