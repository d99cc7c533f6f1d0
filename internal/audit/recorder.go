// Package audit records sandbox command runs in PostgreSQL.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const writeTimeout = 2 * time.Second

// Entry is one finished (or rejected) command.
type Entry struct {
	RequestID   string
	Client      string
	Command     string
	Argv        []string
	Outcome     string
	ExitCode    int
	OutputBytes int64
	Duration    time.Duration
	StartedAt   time.Time
}

type Recorder interface {
	Record(e Entry)
	Close()
}

// Nop discards entries. It is used when no database is configured.
type Nop struct{}

func (Nop) Record(Entry) {}
func (Nop) Close()       {}

// execer is the subset of *pgxpool.Pool the recorder needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGRecorder writes entries asynchronously so a slow database never holds up
// a command's response.
type PGRecorder struct {
	db     execer
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewPGRecorder(db execer, logger *slog.Logger) *PGRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGRecorder{db: db, logger: logger}
}

const insertEntry = `
	INSERT INTO command_audit
		(request_id, client, command, argv, outcome, exit_code, output_bytes, duration_ms, started_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func (r *PGRecorder) Record(e Entry) {
	argv := e.Argv
	if argv == nil {
		argv = []string{}
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		_, err := r.db.Exec(ctx, insertEntry,
			e.RequestID, e.Client, e.Command, argv, e.Outcome,
			e.ExitCode, e.OutputBytes, e.Duration.Milliseconds(), e.StartedAt.UTC(),
		)
		if err != nil {
			r.logger.Warn("failed to write command audit entry", "request_id", e.RequestID, "error", err)
		}
	}()
}

// Close waits for pending writes.
func (r *PGRecorder) Close() {
	r.wg.Wait()
}
