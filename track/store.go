package track

import (
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/fieldpulse/errors"
)

// Store persists the tracker snapshot in SQLite. The snapshot is a single
// row (id = 1), upserted on every write.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewStore creates a snapshot store backed by db. The tracker_snapshot
// table must exist (see db/sqlite/migrations).
func NewStore(db *sql.DB, logger *zap.SugaredLogger) *Store {
	return &Store{db: db, logger: logger.Named("store")}
}

// Save writes the snapshot through.
func (s *Store) Save(snap Snapshot) error {
	var summaries sql.NullString
	if len(snap.Summaries) > 0 {
		data, err := json.Marshal(snap.Summaries)
		if err != nil {
			return errors.Wrap(err, "marshal job summaries")
		}
		summaries = sql.NullString{String: string(data), Valid: true}
	}

	activeID := sql.NullString{String: snap.ActiveJobID, Valid: snap.ActiveJobID != ""}

	query := `
		INSERT INTO tracker_snapshot (id, active_job_id, polling_enabled, summaries, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			active_job_id = excluded.active_job_id,
			polling_enabled = excluded.polling_enabled,
			summaries = excluded.summaries,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.Exec(query, activeID, snap.PollingEnabled, summaries, time.Now()); err != nil {
		return errors.Wrap(err, "save tracker snapshot")
	}
	return nil
}

// Load reads the snapshot. A missing row or a corrupt value yields the zero
// Snapshot (no active job) rather than an error, so a damaged store can
// never wedge process start.
func (s *Store) Load() (Snapshot, error) {
	var (
		activeID  sql.NullString
		enabled   bool
		summaries sql.NullString
	)
	err := s.db.QueryRow(
		"SELECT active_job_id, polling_enabled, summaries FROM tracker_snapshot WHERE id = 1",
	).Scan(&activeID, &enabled, &summaries)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "load tracker snapshot")
	}

	snap := Snapshot{
		ActiveJobID:    activeID.String,
		PollingEnabled: enabled,
	}
	if summaries.Valid && summaries.String != "" {
		if err := json.Unmarshal([]byte(summaries.String), &snap.Summaries); err != nil {
			// Corrupt summaries are display-only data; drop them and
			// keep the job id so the reconciler can still reattach
			s.logger.Warnw("Discarding corrupt job summaries", "error", err)
			snap.Summaries = nil
		}
	}
	return snap, nil
}

// Clear drops the active job id and polling flag, retaining summaries.
func (s *Store) Clear() error {
	query := `
		UPDATE tracker_snapshot
		SET active_job_id = NULL, polling_enabled = 0, updated_at = ?
		WHERE id = 1
	`
	if _, err := s.db.Exec(query, time.Now()); err != nil {
		return errors.Wrap(err, "clear tracker snapshot")
	}
	return nil
}
