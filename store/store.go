// Package store persists episode results and batch summaries in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"navsim-go/geom"
	"navsim-go/monitoring"
	"navsim-go/sim"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a batch or episode does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	*sql.DB
}

// Open opens (creating if needed) the database at path and applies every
// pending migration.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	s := &Store{db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateUp runs all pending migrations. Being at the latest version is not
// an error.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (s *Store) MigrateDown() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// Version reports the applied schema version; 0 means none.
func (s *Store) Version() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// The migrate instance is never closed: closing it would close s.DB.
func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Batch is one stored evaluation run.
type Batch struct {
	ID        string
	Name      string
	Summary   sim.Summary
	CreatedAt time.Time
}

const resultColumns = `episode_id, seed, ticks, score, collisions, collected, total_markers,
	distance, position_rmse, final_pos_error, applied, skipped,
	final_x, final_y, final_theta, est_x, est_y, est_theta, mean_nis, nis_outside`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertResult(ctx context.Context, db execer, batchID *string, r sim.Result) error {
	_, err := db.ExecContext(ctx, `INSERT INTO results (batch_id, `+resultColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batchID, r.EpisodeID, int64(r.Seed), r.Ticks, r.Score, r.Collisions, r.Collected, r.TotalMarkers,
		r.Distance, r.PositionRMSE, r.FinalPosError, r.Applied, r.Skipped,
		r.FinalTruth.X, r.FinalTruth.Y, r.FinalTruth.Theta,
		r.FinalEstimate.X, r.FinalEstimate.Y, r.FinalEstimate.Theta, r.MeanNIS, r.NISOutside)
	if err != nil {
		return fmt.Errorf("insert result %s: %w", r.EpisodeID, err)
	}
	return nil
}

// SaveResult stores a single episode outside any batch.
func (s *Store) SaveResult(ctx context.Context, r sim.Result) error {
	return insertResult(ctx, s.DB, nil, r)
}

// SaveBatch stores the summary and every result in one transaction and
// returns the new batch ID.
func (s *Store) SaveBatch(ctx context.Context, name string, results []sim.Result, sum sim.Summary) (string, error) {
	id := uuid.NewString()
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO batches
		(batch_id, name, episodes, mean_score, std_score, min_score, max_score, mean_collisions, mean_rmse)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, name, sum.Episodes, sum.MeanScore, sum.StdScore, sum.MinScore, sum.MaxScore,
		sum.MeanCollisions, sum.MeanRMSE)
	if err != nil {
		return "", fmt.Errorf("insert batch: %w", err)
	}
	for _, r := range results {
		if err := insertResult(ctx, tx, &id, r); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// Batches lists stored batches, newest first.
func (s *Store) Batches(ctx context.Context) ([]Batch, error) {
	rows, err := s.QueryContext(ctx, `SELECT batch_id, name, episodes, mean_score, std_score,
		min_score, max_score, mean_collisions, mean_rmse, created_at
		FROM batches ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.Name, &b.Summary.Episodes, &b.Summary.MeanScore,
			&b.Summary.StdScore, &b.Summary.MinScore, &b.Summary.MaxScore,
			&b.Summary.MeanCollisions, &b.Summary.MeanRMSE, &b.CreatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// Results returns the episodes of a batch in insertion order.
func (s *Store) Results(ctx context.Context, batchID string) ([]sim.Result, error) {
	var n int
	if err := s.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches WHERE batch_id = ?`, batchID).Scan(&n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	return s.queryResults(ctx, `SELECT `+resultColumns+` FROM results WHERE batch_id = ? ORDER BY rowid`, batchID)
}

// Best returns the highest scoring episodes across all batches.
func (s *Store) Best(ctx context.Context, limit int) ([]sim.Result, error) {
	if limit < 1 {
		limit = 10
	}
	return s.queryResults(ctx, `SELECT `+resultColumns+` FROM results ORDER BY score DESC, rowid LIMIT ?`, limit)
}

// Result looks up one episode.
func (s *Store) Result(ctx context.Context, episodeID string) (sim.Result, error) {
	rs, err := s.queryResults(ctx, `SELECT `+resultColumns+` FROM results WHERE episode_id = ?`, episodeID)
	if err != nil {
		return sim.Result{}, err
	}
	if len(rs) == 0 {
		return sim.Result{}, fmt.Errorf("episode %s: %w", episodeID, ErrNotFound)
	}
	return rs[0], nil
}

// DeleteBatch removes a batch and its results.
func (s *Store) DeleteBatch(ctx context.Context, batchID string) error {
	res, err := s.ExecContext(ctx, `DELETE FROM batches WHERE batch_id = ?`, batchID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	return nil
}

func (s *Store) queryResults(ctx context.Context, query string, args ...any) ([]sim.Result, error) {
	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sim.Result
	for rows.Next() {
		var (
			r    sim.Result
			seed int64
			ft   geom.Pose
			fe   geom.Pose
		)
		if err := rows.Scan(&r.EpisodeID, &seed, &r.Ticks, &r.Score, &r.Collisions, &r.Collected,
			&r.TotalMarkers, &r.Distance, &r.PositionRMSE, &r.FinalPosError, &r.Applied, &r.Skipped,
			&ft.X, &ft.Y, &ft.Theta, &fe.X, &fe.Y, &fe.Theta, &r.MeanNIS, &r.NISOutside); err != nil {
			return nil, err
		}
		r.Seed = uint64(seed)
		r.FinalTruth, r.FinalEstimate = ft, fe
		out = append(out, r)
	}
	return out, rows.Err()
}
