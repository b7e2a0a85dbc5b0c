package pipeline

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const ledgerDirPermissions = 0o700

// Run statuses stored in runs.status.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

const (
	sqlInsertRun = `INSERT INTO runs (id, mount_path, archive_root, status, started_at)
		VALUES (?, ?, ?, '` + RunRunning + `', ?)`

	sqlFinishRun = `UPDATE runs SET status = ?, finished_at = ?,
		archived = ?, uploaded = ?, downloaded = ?, error_msg = ?
		WHERE id = ?`

	sqlRecentRuns = `SELECT id, mount_path, archive_root, status, started_at,
		finished_at, archived, uploaded, downloaded, error_msg
		FROM runs ORDER BY started_at DESC, id LIMIT ?`
)

// Run is one pipeline run triggered by a device becoming available.
type Run struct {
	ID          string    `json:"id"`
	MountPath   string    `json:"mount_path"`
	ArchiveRoot string    `json:"archive_root"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Archived    int       `json:"archived"`
	Uploaded    int       `json:"uploaded"`
	Downloaded  int       `json:"downloaded"`
	Error       string    `json:"error,omitempty"`
}

// Ledger records pipeline runs in a SQLite database.
type Ledger struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenLedger opens or creates the run database at dbPath and applies
// pending migrations.
func OpenLedger(ctx context.Context, dbPath string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), ledgerDirPermissions); err != nil {
		return nil, fmt.Errorf("pipeline: creating ledger directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("pipeline: opening ledger %s: %w", dbPath, err)
	}

	// Sole-writer pattern: background runs share one connection.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("run ledger opened", slog.String("db_path", dbPath))

	return &Ledger{db: db, logger: logger, nowFunc: time.Now}, nil
}

// runMigrations applies the embedded schema migrations with the goose
// Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("pipeline: migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("pipeline: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// StartRun inserts a new running row and returns it.
func (l *Ledger) StartRun(ctx context.Context, mountPath, archiveRoot string) (*Run, error) {
	run := &Run{
		ID:          uuid.New().String(),
		MountPath:   mountPath,
		ArchiveRoot: archiveRoot,
		Status:      RunRunning,
		StartedAt:   l.nowFunc(),
	}

	if _, err := l.db.ExecContext(ctx, sqlInsertRun,
		run.ID, mountPath, archiveRoot, run.StartedAt.UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("pipeline: recording run start: %w", err)
	}

	return run, nil
}

// FinishRun marks run succeeded, or failed with runErr's message, and
// stores its counters.
func (l *Ledger) FinishRun(ctx context.Context, run *Run, runErr error) error {
	run.FinishedAt = l.nowFunc()
	run.Status = RunSucceeded
	run.Error = ""

	var errMsg sql.NullString
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
		errMsg = sql.NullString{String: run.Error, Valid: true}
	}

	res, err := l.db.ExecContext(ctx, sqlFinishRun,
		run.Status, run.FinishedAt.UnixNano(),
		run.Archived, run.Uploaded, run.Downloaded, errMsg,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("pipeline: recording run %s finish: %w", run.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pipeline: run %s rows affected: %w", run.ID, err)
	}

	if n == 0 {
		return fmt.Errorf("pipeline: run %s not found", run.ID)
	}

	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, sqlRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("pipeline: querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run

	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
			errMsg   sql.NullString
		)

		if err := rows.Scan(&r.ID, &r.MountPath, &r.ArchiveRoot, &r.Status, &started,
			&finished, &r.Archived, &r.Uploaded, &r.Downloaded, &errMsg); err != nil {
			return nil, fmt.Errorf("pipeline: scanning run: %w", err)
		}

		r.StartedAt = time.Unix(0, started)
		if finished.Valid {
			r.FinishedAt = time.Unix(0, finished.Int64)
		}

		r.Error = errMsg.String
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pipeline: iterating runs: %w", err)
	}

	return runs, nil
}
