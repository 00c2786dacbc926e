package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/sriyan983/slack-triage/internal/config"
	"github.com/sriyan983/slack-triage/internal/core"
	"github.com/sriyan983/slack-triage/internal/logging"
)

const sweepBatchSize = 200

// SweepStats summarizes one retention pass.
type SweepStats struct {
	Examined int `json:"examined"`
	Archived int `json:"archived"`
	Skipped  int `json:"skipped"`
	Deleted  int `json:"deleted"`
}

// Sweeper archives and deletes ledger records past the retention window.
// Records whose executions are still suspended are never swept; a human
// may yet resume them.
type Sweeper struct {
	ledger core.Ledger
	store  core.ExecutionStore
	maxAge time.Duration
	dir    string
	logger *logging.Logger
}

// NewSweeper creates a retention sweeper. A zero max age disables it.
func NewSweeper(cfg config.RetentionConfig, ledger core.Ledger, store core.ExecutionStore, logger *logging.Logger) *Sweeper {
	return &Sweeper{
		ledger: ledger,
		store:  store,
		maxAge: cfg.MaxAge,
		dir:    cfg.ArchiveDir,
		logger: logger,
	}
}

// Enabled reports whether retention is configured.
func (s *Sweeper) Enabled() bool {
	return s.maxAge > 0
}

// archiveEntry is the JSON shape written for each swept record.
type archiveEntry struct {
	Record    *core.MessageRecord  `json:"record"`
	Execution *core.ExecutionState `json:"execution,omitempty"`
	SweptAt   time.Time            `json:"swept_at"`
}

// Sweep archives records older than the retention window to the archive
// directory, then deletes them from the ledger. Archive failures keep
// the record in place; nothing is deleted that was not written first.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	stats := SweepStats{}
	if !s.Enabled() {
		return stats, nil
	}

	cutoff := time.Now().UTC().Add(-s.maxAge)
	records, err := s.ledger.ListOlderThan(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return stats, err
	}
	stats.Examined = len(records)
	if len(records) == 0 {
		return stats, nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return stats, core.ErrPersistence("cannot create archive directory", err)
	}

	var deletable []core.RecordID
	for _, rec := range records {
		state, skip, err := s.loadForArchive(ctx, rec)
		if err != nil {
			s.logger.WithRecord(int64(rec.ID)).Warn("skipping record with unreadable execution", "error", err)
			stats.Skipped++
			continue
		}
		if skip {
			stats.Skipped++
			continue
		}

		if err := s.archive(rec, state); err != nil {
			s.logger.WithRecord(int64(rec.ID)).Error("archive write failed", "error", err)
			stats.Skipped++
			continue
		}
		stats.Archived++
		deletable = append(deletable, rec.ID)
	}

	if len(deletable) > 0 {
		deleted, err := s.ledger.Delete(ctx, deletable)
		if err != nil {
			return stats, err
		}
		stats.Deleted = deleted
	}

	s.logger.Info("retention sweep finished",
		"examined", stats.Examined, "archived", stats.Archived,
		"skipped", stats.Skipped, "deleted", stats.Deleted)
	return stats, nil
}

// loadForArchive fetches the record's execution snapshot, reporting
// skip=true when the execution is still suspended.
func (s *Sweeper) loadForArchive(ctx context.Context, rec *core.MessageRecord) (*core.ExecutionState, bool, error) {
	if rec.ExecutionID == "" {
		return nil, false, nil
	}
	state, err := s.store.Load(ctx, rec.ExecutionID)
	if err != nil {
		if core.IsCategory(err, core.ErrCatNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if state.IsSuspended() {
		return nil, true, nil
	}
	return state, false, nil
}

// archive writes one record plus its snapshot atomically. A crash mid
// write leaves no partial file behind.
func (s *Sweeper) archive(rec *core.MessageRecord, state *core.ExecutionState) error {
	entry := archiveEntry{
		Record:    rec,
		Execution: state,
		SweptAt:   time.Now().UTC(),
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("record-%d-%s.json", rec.ID, rec.CreatedAt.UTC().Format("20060102T150405"))
	return renameio.WriteFile(filepath.Join(s.dir, name), data, 0o644)
}
