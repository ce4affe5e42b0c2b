// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/smartvenue/venued/internal/model"
)

const scheduleCols = `id, name, cron_expression, target_type, target_data, actions, is_active, last_run, next_run, created_at`

func scanSchedule(row interface{ Scan(...any) error }) (model.Schedule, error) {
	var sc model.Schedule
	var targetData, actions sql.NullString
	var lastRun, nextRun sql.NullString
	var createdAt string
	err := row.Scan(&sc.ID, &sc.Name, &sc.CronExpression, &sc.TargetType, &targetData, &actions,
		&sc.IsActive, &lastRun, &nextRun, &createdAt)
	if err != nil {
		return sc, err
	}
	sc.TargetData = unmarshalJSON[model.TargetData](targetData)
	sc.Actions = unmarshalJSON[[]model.Action](actions)
	sc.LastRun = parseTimePtr(lastRun)
	sc.NextRun = parseTimePtr(nextRun)
	sc.CreatedAt = parseTime(createdAt)
	return sc, nil
}

// CreateSchedule persists a schedule and returns its id. Cron validation is
// the scheduler's responsibility and happens before this call.
func (s *Store) CreateSchedule(ctx context.Context, sc model.Schedule) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO schedules (name, cron_expression, target_type, target_data, actions, is_active, next_run, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.Name, sc.CronExpression, string(sc.TargetType), marshalJSON(sc.TargetData), marshalJSON(sc.Actions),
		sc.IsActive, fmtTimePtr(sc.NextRun), fmtTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("insert schedule: %w", err)
	}
	return res.LastInsertId()
}

// UpdateSchedule replaces a schedule's mutable fields.
func (s *Store) UpdateSchedule(ctx context.Context, sc model.Schedule) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE schedules
	SET name = ?, cron_expression = ?, target_type = ?, target_data = ?, actions = ?, is_active = ?, next_run = ?
	WHERE id = ?`,
		sc.Name, sc.CronExpression, string(sc.TargetType), marshalJSON(sc.TargetData), marshalJSON(sc.Actions),
		sc.IsActive, fmtTimePtr(sc.NextRun), sc.ID)
	if err != nil {
		return err
	}
	return requireRow(res, fmt.Sprintf("schedule %d", sc.ID))
}

// DeleteSchedule removes a schedule. Executions remain as history.
func (s *Store) DeleteSchedule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, fmt.Sprintf("schedule %d", id))
}

// GetSchedule loads one schedule by id.
func (s *Store) GetSchedule(ctx context.Context, id int64) (model.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sc, fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return sc, err
}

// ListSchedules returns all schedules; activeOnly filters to enabled ones.
func (s *Store) ListSchedules(ctx context.Context, activeOnly bool) ([]model.Schedule, error) {
	q := `SELECT ` + scheduleCols + ` FROM schedules`
	if activeOnly {
		q += ` WHERE is_active = 1`
	}
	q += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// RecordScheduleRun updates run bookkeeping and appends the execution row in
// one transaction.
func (s *Store) RecordScheduleRun(ctx context.Context, scheduleID int64, batchID string, totalCommands int, lastRun, nextRun time.Time) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
		UPDATE schedules SET last_run = ?, next_run = ? WHERE id = ?`,
			fmtTime(lastRun), fmtTime(nextRun), scheduleID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
		INSERT INTO schedule_executions (schedule_id, batch_id, total_commands, created_at)
		VALUES (?, ?, ?, ?)`, scheduleID, batchID, totalCommands, fmtTime(time.Now()))
		return err
	})
}

// ListScheduleExecutions returns recent executions of a schedule, newest
// first.
func (s *Store) ListScheduleExecutions(ctx context.Context, scheduleID int64, limit int) ([]model.ScheduleExecution, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, schedule_id, batch_id, total_commands, created_at
	FROM schedule_executions WHERE schedule_id = ?
	ORDER BY id DESC LIMIT ?`, scheduleID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.ScheduleExecution
	for rows.Next() {
		var ex model.ScheduleExecution
		var createdAt string
		if err := rows.Scan(&ex.ID, &ex.ScheduleID, &ex.BatchID, &ex.TotalCommands, &createdAt); err != nil {
			return nil, err
		}
		ex.CreatedAt = parseTime(createdAt)
		out = append(out, ex)
	}
	return out, rows.Err()
}

// AdvanceScheduleNextRun moves next_run forward without recording an
// execution, used when trigger expansion fails.
func (s *Store) AdvanceScheduleNextRun(ctx context.Context, scheduleID int64, nextRun time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE schedules SET next_run = ? WHERE id = ?`, fmtTime(nextRun), scheduleID)
	return err
}
