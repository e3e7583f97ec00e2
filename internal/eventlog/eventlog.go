// Package eventlog implements the ambient structured event log and
// backup-history sinks (spec §6: "out of scope except for its write
// contract" for the backing store). Grounded on the teacher's
// internal/sync SQLite + goose pattern (state.go's WAL pragmas,
// migrations.go's goose.Provider), repurposed from sync-state
// persistence (which the spec mandates as JSON instead — see
// internal/state) onto a log/history sink whose storage engine the
// spec leaves unspecified, and on the teacher's worker.go
// channel-plus-goroutine shape for the asynchronous flush.
package eventlog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Level mirrors the severity of a logged event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// BackupRecord is one completed (or failed) full-sync/backup run,
// persisted for later review (spec §6 "LogBackup").
type BackupRecord struct {
	TaskID       string
	StartedAt    time.Time
	FinishedAt   time.Time
	FilesCopied  int64
	FilesDeleted int64
	BytesCopied  int64
	Success      bool
	ErrorMessage string
}

const flushQueueSize = 256

type logEntry struct {
	level    Level
	category string
	taskID   string
	message  string
	at       time.Time
}

// Log is the crash-safe event log and backup-history sink. Event
// writes (Log) enqueue and return immediately; a single background
// goroutine drains the queue into the database (spec §9 "callbacks
// must not block the caller", generalized to the log surface).
// Backup-history writes (LogBackup) do not use that queue: each one
// inserts directly and blocks until the insert completes.
type Log struct {
	db     *sql.DB
	logger *slog.Logger

	queue chan logEntry
	done  chan struct{}
}

// Open opens (creating if needed) the SQLite database at path, applies
// migrations, and starts the background flush worker.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	l := &Log{
		db:     db,
		logger: logger,
		queue:  make(chan logEntry, flushQueueSize),
		done:   make(chan struct{}),
	}

	go l.flushLoop()

	return l, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("eventlog: set pragma %q: %w", stmt, err)
		}
	}

	return nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("eventlog: migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("eventlog: migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("eventlog: run migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("eventlog: applied migration", "source", r.Source.Path)
	}

	return nil
}

// Log enqueues one structured event. Never blocks on the database; if
// the flush queue is full the entry is dropped and one warning log
// line is written for it, matching the spec's "best-effort, never slows
// down the sync path" requirement for ambient logging.
func (l *Log) Log(level Level, message, category, taskID string) {
	entry := logEntry{level: level, category: category, taskID: taskID, message: message, at: time.Now()}

	select {
	case l.queue <- entry:
	default:
		l.logger.Warn("eventlog: flush queue full, dropping entry", "category", category, "task_id", taskID)
	}
}

func (l *Log) flushLoop() {
	defer close(l.done)

	stmt, err := l.db.Prepare(`INSERT INTO event_log (timestamp, level, category, task_id, message) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		l.logger.Error("eventlog: prepare insert failed, flush loop exiting", "error", err)
		return
	}
	defer stmt.Close()

	for entry := range l.queue {
		if _, err := stmt.Exec(entry.at.UnixNano(), string(entry.level), entry.category, entry.taskID, entry.message); err != nil {
			l.logger.Error("eventlog: insert failed", "error", err)
		}
	}
}

// LogBackup records one completed backup/full-sync run (spec §6
// "LogBackup"). It inserts synchronously on the caller's goroutine and
// returns the insert's error; it does not go through the background
// flush queue.
func (l *Log) LogBackup(rec BackupRecord) error {
	_, err := l.db.Exec(
		`INSERT INTO backup_history (task_id, started_at, finished_at, files_copied, files_deleted, bytes_copied, success, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.StartedAt.UnixNano(), rec.FinishedAt.UnixNano(),
		rec.FilesCopied, rec.FilesDeleted, rec.BytesCopied, rec.Success, rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("eventlog: log backup: %w", err)
	}

	return nil
}

// RecentEvents returns up to limit most recent events, optionally
// filtered to one task.
func (l *Log) RecentEvents(taskID string, limit int) ([]string, error) {
	var rows *sql.Rows
	var err error

	if taskID == "" {
		rows, err = l.db.Query(`SELECT message FROM event_log ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = l.db.Query(`SELECT message FROM event_log WHERE task_id = ? ORDER BY id DESC LIMIT ?`, taskID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("eventlog: query recent events: %w", err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, err
		}

		out = append(out, msg)
	}

	return out, rows.Err()
}

// Close drains the flush queue and closes the database. Blocks up to
// 5 seconds for the drain, mirroring the Queue's bounded Shutdown.
func (l *Log) Close() error {
	close(l.queue)

	select {
	case <-l.done:
	case <-time.After(5 * time.Second):
		l.logger.Warn("eventlog: close timed out waiting for flush loop")
	}

	return l.db.Close()
}
