package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"

	"github.com/jfoltran/pgsink/internal/model"
)

// EnsureSlot creates the replication slot if it doesn't exist, or reuses it
// if it does (§4.B "Replication slot management"). It returns the exported
// snapshot name for the copy phase, which is non-empty only when a new slot
// was created; reusing an existing slot has no snapshot to export, so the
// copy phase (if any) runs without one — the caller should skip the copy
// phase on resume, which the pipeline engine already does via the sink's
// copied-table set.
func (s *PostgresSource) EnsureSlot(ctx context.Context) (snapshotName string, err error) {
	if err := s.setState(Snapshotting); err != nil {
		return "", err
	}

	exists, restartLSN, err := s.slotExists(ctx)
	if err != nil {
		return "", &model.ConnectionError{Reason: "check replication slot", Err: err}
	}
	if exists {
		s.mu.Lock()
		s.startLSN = restartLSN
		s.snapshotName = ""
		s.mu.Unlock()
		s.logger.Info().Str("slot", s.slotName).Stringer("restart_lsn", restartLSN).Msg("reusing replication slot")
		return "", nil
	}

	kind := "TEMPORARY"
	if s.cfg.SlotPersistent {
		kind = ""
	}
	sql := fmt.Sprintf(`CREATE_REPLICATION_SLOT %s %s LOGICAL pgoutput (SNAPSHOT 'export')`, s.slotName, kind)
	result, err := pglogrepl.ParseCreateReplicationSlot(s.replConn.Exec(ctx, sql))
	if err != nil {
		return "", &model.ConnectionError{Reason: "create replication slot", Err: err}
	}
	consistentPoint, err := pglogrepl.ParseLSN(result.ConsistentPoint)
	if err != nil {
		return "", &model.ConnectionError{Reason: "parse consistent point", Err: err}
	}

	s.mu.Lock()
	s.startLSN = consistentPoint
	s.snapshotName = result.SnapshotName
	s.mu.Unlock()

	s.logger.Info().
		Str("slot", s.slotName).
		Str("snapshot", result.SnapshotName).
		Stringer("lsn", consistentPoint).
		Msg("created replication slot")

	return result.SnapshotName, nil
}

func (s *PostgresSource) slotExists(ctx context.Context) (bool, model.LSN, error) {
	var restartLSNStr *string
	err := s.pool.QueryRow(ctx,
		`SELECT restart_lsn FROM pg_replication_slots WHERE slot_name = $1`, s.slotName,
	).Scan(&restartLSNStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, 0, nil
		}
		return false, 0, err
	}
	if restartLSNStr == nil {
		return true, 0, nil
	}
	lsn, err := pglogrepl.ParseLSN(*restartLSNStr)
	if err != nil {
		return false, 0, err
	}
	return true, lsn, nil
}

// StartLSN returns the LSN the CDC stream will resume from: the larger of
// the caller-supplied resume point and the slot's own restart_lsn (§4.B).
func (s *PostgresSource) StartLSN(resumeFrom model.LSN) model.LSN {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startLSN > resumeFrom {
		return s.startLSN
	}
	return resumeFrom
}

// DropSlot removes the replication slot, used by tests and by operators
// decommissioning a pipeline.
func (s *PostgresSource) DropSlot(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `SELECT pg_drop_replication_slot($1)`, s.slotName)
	return err
}
