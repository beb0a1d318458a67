// Package audit provides PostgreSQL-backed storage for moderation
// incidents. Each incident captures the author, the matched pattern, the
// offending message and the punishment stage it triggered, for later review.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/whisper/chat-filter/internal/violation"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies any pending schema migrations to db.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("audit: open migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("audit: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("audit: init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("audit: migrate up: %w", err)
	}
	return nil
}

// Store manages moderation incidents in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new incident store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func marshalCommands(cmds []string) ([]byte, error) {
	if len(cmds) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(cmds)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal commands: %w", err)
	}
	return data, nil
}

func validate(inc *violation.Incident) error {
	if inc.Author == "" {
		return fmt.Errorf("audit: incident %s has no author", inc.ID)
	}
	if inc.Count < 1 {
		return fmt.Errorf("audit: incident %s has count %d", inc.ID, inc.Count)
	}
	return nil
}

// Create inserts a single incident. Commands are marshalled to JSONB.
func (s *Store) Create(ctx context.Context, inc *violation.Incident) error {
	if err := validate(inc); err != nil {
		return err
	}
	commandsJSON, err := marshalCommands(inc.Commands)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO moderation_incidents (id, author, pattern, message, violation_count, stage, commands, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = s.db.ExecContext(ctx, query,
		inc.ID,
		inc.Author,
		inc.Pattern,
		inc.Message,
		inc.Count,
		inc.Stage,
		commandsJSON,
		inc.At,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// CreateBatch inserts incidents in one transaction using COPY.
func (s *Store) CreateBatch(ctx context.Context, incs []violation.Incident) (err error) {
	if len(incs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("moderation_incidents",
		"id", "author", "pattern", "message", "violation_count", "stage", "commands", "created_at"))
	if err != nil {
		return fmt.Errorf("audit: prepare copy: %w", err)
	}

	for i := range incs {
		inc := &incs[i]
		if err = validate(inc); err != nil {
			_ = stmt.Close()
			return err
		}
		var commands interface{}
		if data, merr := marshalCommands(inc.Commands); merr != nil {
			_ = stmt.Close()
			return merr
		} else if data != nil {
			commands = string(data)
		}
		if _, err = stmt.ExecContext(ctx,
			inc.ID.String(), inc.Author, inc.Pattern, inc.Message, inc.Count, inc.Stage, commands, inc.At,
		); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("audit: copy row: %w", err)
		}
	}

	if _, err = stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("audit: flush copy: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return fmt.Errorf("audit: close copy: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit: %w", err)
	}
	return nil
}

// CountRecent returns the number of incidents recorded for author within
// the given time window.
func (s *Store) CountRecent(ctx context.Context, author string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM moderation_incidents
		WHERE author = $1
		  AND created_at >= $2`

	var count int
	err := s.db.QueryRowContext(ctx, query, author, time.Now().Add(-window)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count recent: %w", err)
	}
	return count, nil
}

// Recent returns up to limit incidents for author, newest first.
func (s *Store) Recent(ctx context.Context, author string, limit int) ([]violation.Incident, error) {
	const query = `
		SELECT id, author, pattern, message, violation_count, stage, commands, created_at
		FROM moderation_incidents
		WHERE author = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, author, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var out []violation.Incident
	for rows.Next() {
		var (
			inc      violation.Incident
			commands []byte
		)
		if err := rows.Scan(&inc.ID, &inc.Author, &inc.Pattern, &inc.Message,
			&inc.Count, &inc.Stage, &commands, &inc.At); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if len(commands) > 0 {
			if err := json.Unmarshal(commands, &inc.Commands); err != nil {
				return nil, fmt.Errorf("audit: unmarshal commands: %w", err)
			}
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return out, nil
}
