package store

import (
	"context"
	"fmt"
	"time"
)

// Report run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunAbandoned = "abandoned"
)

// ReportRun is one invocation of the report program.
type ReportRun struct {
	ID         string
	Address    string
	Kind       string
	Zone       string
	Status     string
	Failure    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// StartRun records a run as running.
func (s *Store) StartRun(ctx context.Context, r *ReportRun) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	r.Status = RunRunning
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO report_runs (id, address, kind, zone, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Address, r.Kind, r.Zone, r.Status, r.StartedAt.Unix())
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun marks a run succeeded or failed.
func (s *Store) FinishRun(ctx context.Context, id, status, failure string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE report_runs SET status = ?, failure = ?, finished_at = ? WHERE id = ?`,
		status, failure, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// CountRunning returns how many runs are in flight.
func (s *Store) CountRunning(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM report_runs WHERE status = ?`, RunRunning).Scan(&n); err != nil {
		return 0, fmt.Errorf("count running: %w", err)
	}
	return n, nil
}

// abandonRunningReports closes runs left running by a previous process.
func (s *Store) abandonRunningReports(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE report_runs SET status = ?, finished_at = ? WHERE status = ?`,
		RunAbandoned, time.Now().Unix(), RunRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
