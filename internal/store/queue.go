// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/smartvenue/venued/internal/model"
)

const commandCols = `id, batch_id, controller_id, port_number, command_kind, channel, digit, class,
	priority, status, attempts, max_attempts, scheduled_at, created_at, last_attempt_at,
	completed_at, success, error_message, execution_time_ms, routing_method, user_ip`

func scanCommand(row interface{ Scan(...any) error }) (model.Command, error) {
	var c model.Command
	var scheduledAt, lastAttemptAt, completedAt sql.NullString
	var success sql.NullBool
	var createdAt string
	err := row.Scan(&c.ID, &c.BatchID, &c.ControllerID, &c.PortNumber, &c.Kind, &c.Channel, &c.Digit, &c.Class,
		&c.Priority, &c.Status, &c.Attempts, &c.MaxAttempts, &scheduledAt, &createdAt, &lastAttemptAt,
		&completedAt, &success, &c.ErrorMessage, &c.ExecutionTimeMS, &c.RoutingMethod, &c.UserIP)
	if err != nil {
		return c, err
	}
	c.ScheduledAt = parseTimePtr(scheduledAt)
	c.CreatedAt = parseTime(createdAt)
	c.LastAttemptAt = parseTimePtr(lastAttemptAt)
	c.CompletedAt = parseTimePtr(completedAt)
	if success.Valid {
		c.Success = &success.Bool
	}
	return c, nil
}

// InsertCommand appends a pending command and returns its id.
func (s *Store) InsertCommand(ctx context.Context, c model.Command) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO command_queue
		(batch_id, controller_id, port_number, command_kind, channel, digit, class, priority,
		 status, attempts, max_attempts, scheduled_at, created_at, routing_method, user_ip)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?, ?, ?, ?)`,
		c.BatchID, c.ControllerID, c.PortNumber, string(c.Kind), c.Channel, c.Digit, string(c.Class), c.Priority,
		c.MaxAttempts, fmtTimePtr(c.ScheduledAt), fmtTime(time.Now()), c.RoutingMethod, c.UserIP)
	if err != nil {
		return 0, fmt.Errorf("insert command: %w", err)
	}
	return res.LastInsertId()
}

// GetCommand loads one command by id.
func (s *Store) GetCommand(ctx context.Context, id int64) (model.Command, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commandCols+` FROM command_queue WHERE id = ?`, id)
	c, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("command %d: %w", id, ErrNotFound)
	}
	return c, err
}

// ListByBatch returns every live queue row of a batch in creation order.
func (s *Store) ListByBatch(ctx context.Context, batchID string) ([]model.Command, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+commandCols+` FROM command_queue WHERE batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClaimNext atomically claims the highest-priority dispatchable command:
// status flips to processing and attempts increments inside one write
// transaction, so two workers can never claim the same row. Returns
// (0, false, nil) when nothing is dispatchable.
func (s *Store) ClaimNext(ctx context.Context) (int64, bool, error) {
	var id int64
	found := false
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		now := fmtTime(time.Now())
		row := tx.QueryRowContext(ctx, `
		UPDATE command_queue
		SET status = 'processing', attempts = attempts + 1, last_attempt_at = ?
		WHERE id = (
			SELECT id FROM command_queue
			WHERE status = 'pending'
			  AND attempts < max_attempts
			  AND (scheduled_at IS NULL OR scheduled_at <= ?)
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT 1
		)
		RETURNING id`, now, now)
		switch err := row.Scan(&id); {
		case errors.Is(err, sql.ErrNoRows):
			return nil
		case err != nil:
			return err
		default:
			found = true
			return nil
		}
	})
	if err != nil {
		return 0, false, fmt.Errorf("claim next: %w", err)
	}
	return id, found, nil
}

// MarkCompleted finalises a command as successful and applies the completion
// side-effects (port status upsert, history row) in the same transaction.
func (s *Store) MarkCompleted(ctx context.Context, id int64, elapsedMS int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		cmd, err := s.finalizeTx(ctx, tx, id, model.StatusCompleted, "", elapsedMS)
		if err != nil {
			return err
		}
		return applyPortStatusTx(ctx, tx, cmd)
	})
}

// MarkFailed finalises a failed attempt. With retry budget remaining and
// retry=true the command returns to pending with exponential backoff
// (2^attempts seconds); otherwise it terminates as failed.
func (s *Store) MarkFailed(ctx context.Context, id int64, message string, retry bool) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT attempts, max_attempts FROM command_queue WHERE id = ? AND status = 'processing'`, id)
		var attempts, maxAttempts int
		if err := row.Scan(&attempts, &maxAttempts); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("command %d not processing: %w", id, ErrNotFound)
			}
			return err
		}

		if retry && attempts < maxAttempts {
			backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
			next := time.Now().Add(backoff)
			_, err := tx.ExecContext(ctx, `
			UPDATE command_queue
			SET status = 'pending', scheduled_at = ?, error_message = ?
			WHERE id = ?`, fmtTime(next), message, id)
			return err
		}

		_, err := s.finalizeTx(ctx, tx, id, model.StatusFailed, message, 0)
		return err
	})
}

// finalizeTx moves a command to a terminal state and mirrors it into history.
func (s *Store) finalizeTx(ctx context.Context, tx *sql.Tx, id int64, status model.CommandStatus, message string, elapsedMS int64) (model.Command, error) {
	success := status == model.StatusCompleted
	now := fmtTime(time.Now())
	_, err := tx.ExecContext(ctx, `
	UPDATE command_queue
	SET status = ?, completed_at = ?, success = ?, error_message = ?, execution_time_ms = ?
	WHERE id = ?`, string(status), now, success, message, elapsedMS, id)
	if err != nil {
		return model.Command{}, err
	}

	row := tx.QueryRowContext(ctx, `SELECT `+commandCols+` FROM command_queue WHERE id = ?`, id)
	cmd, err := scanCommand(row)
	if err != nil {
		return cmd, err
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO command_history
		(command_id, batch_id, controller_id, port_number, command_kind, channel, status,
		 success, error_message, execution_time_ms, routing_method, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cmd.ID, cmd.BatchID, cmd.ControllerID, cmd.PortNumber, string(cmd.Kind), cmd.Channel, string(status),
		success, message, elapsedMS, cmd.RoutingMethod, now)
	return cmd, err
}

// applyPortStatusTx records the UI-visible outcome of a successful command.
// Port 0 is the device-level diagnostic convention and never touches status.
func applyPortStatusTx(ctx context.Context, tx *sql.Tx, cmd model.Command) error {
	if cmd.PortNumber == 0 {
		return nil
	}
	now := fmtTime(time.Now())

	ensure := `
	INSERT INTO port_status (controller_id, port_number, last_command, last_command_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(controller_id, port_number) DO UPDATE SET
		last_command = excluded.last_command,
		last_command_at = excluded.last_command_at`
	if _, err := tx.ExecContext(ctx, ensure, cmd.ControllerID, cmd.PortNumber, string(cmd.Kind), now); err != nil {
		return err
	}

	switch cmd.Kind {
	case model.KindChannel:
		_, err := tx.ExecContext(ctx, `
		UPDATE port_status SET last_channel = ? WHERE controller_id = ? AND port_number = ?`,
			cmd.Channel, cmd.ControllerID, cmd.PortNumber)
		return err
	case model.KindPowerOn:
		return setPortPowerTx(ctx, tx, cmd, string(model.PowerOn), now)
	case model.KindPowerOff:
		return setPortPowerTx(ctx, tx, cmd, string(model.PowerOff), now)
	case model.KindPower:
		// Toggle inverts the cached state; unknown state toggles to on.
		_, err := tx.ExecContext(ctx, `
		UPDATE port_status
		SET last_power_state = CASE WHEN last_power_state = 'on' THEN 'off' ELSE 'on' END,
		    last_power_command_at = ?
		WHERE controller_id = ? AND port_number = ?`,
			now, cmd.ControllerID, cmd.PortNumber)
		return err
	}
	return nil
}

func setPortPowerTx(ctx context.Context, tx *sql.Tx, cmd model.Command, state, now string) error {
	_, err := tx.ExecContext(ctx, `
	UPDATE port_status SET last_power_state = ?, last_power_command_at = ?
	WHERE controller_id = ? AND port_number = ?`,
		state, now, cmd.ControllerID, cmd.PortNumber)
	return err
}

// GetPortStatus loads the cached UI state for a port.
func (s *Store) GetPortStatus(ctx context.Context, controllerID string, portNumber int) (model.PortStatus, error) {
	var ps model.PortStatus
	var lastCmdAt, lastPowerState, lastPowerAt sql.NullString
	row := s.db.QueryRowContext(ctx, `
	SELECT controller_id, port_number, last_channel, last_command, last_command_at, last_power_state, last_power_command_at
	FROM port_status WHERE controller_id = ? AND port_number = ?`, controllerID, portNumber)
	err := row.Scan(&ps.ControllerID, &ps.PortNumber, &ps.LastChannel, &ps.LastCommand, &lastCmdAt, &lastPowerState, &lastPowerAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ps, fmt.Errorf("port status %s/%d: %w", controllerID, portNumber, ErrNotFound)
	}
	if err != nil {
		return ps, err
	}
	ps.LastCommandAt = parseTimePtr(lastCmdAt)
	if lastPowerState.Valid {
		ps.LastPowerState = model.PowerState(lastPowerState.String)
	}
	ps.LastPowerCommandAt = parseTimePtr(lastPowerAt)
	return ps, nil
}

// BatchStatus projects batch progress from its member commands.
func (s *Store) BatchStatus(ctx context.Context, batchID string) (model.BatchStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT status, COUNT(1) FROM command_queue WHERE batch_id = ? GROUP BY status`, batchID)
	if err != nil {
		return model.BatchStatus{}, err
	}
	defer func() { _ = rows.Close() }()

	bs := model.BatchStatus{BatchID: batchID}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return bs, err
		}
		bs.Total += n
		switch model.CommandStatus(status) {
		case model.StatusPending:
			bs.Pending = n
		case model.StatusProcessing:
			bs.Processing = n
		case model.StatusCompleted:
			bs.Completed = n
		case model.StatusFailed:
			bs.Failed = n
		}
	}
	return bs, rows.Err()
}

// PurgeBefore deletes terminal queue rows and history older than cutoff.
// Returns the number of queue rows removed.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	DELETE FROM command_queue
	WHERE status IN ('completed', 'failed') AND completed_at < ?`, fmtTime(cutoff))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM command_history WHERE created_at < ?`, fmtTime(cutoff)); err != nil {
		return n, err
	}
	return n, nil
}

// CountStuckProcessing counts rows claimed longer ago than maxAge that never
// reached a terminal state, typically the residue of a crashed worker.
func (s *Store) CountStuckProcessing(ctx context.Context, maxAge time.Duration) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
	SELECT COUNT(1) FROM command_queue
	WHERE status = 'processing' AND last_attempt_at < ?`,
		fmtTime(time.Now().Add(-maxAge))).Scan(&n)
	return n, err
}

// RequeueStuck is the operator tool for crashed-worker residue: processing
// rows older than maxAge return to pending without consuming an attempt.
func (s *Store) RequeueStuck(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	UPDATE command_queue
	SET status = 'pending', attempts = attempts - 1
	WHERE status = 'processing' AND last_attempt_at < ?`,
		fmtTime(time.Now().Add(-maxAge)))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountByStatus reports the number of queue rows in the given state.
func (s *Store) CountByStatus(ctx context.Context, status model.CommandStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
	SELECT COUNT(1) FROM command_queue WHERE status = ?`, string(status)).Scan(&n)
	return n, err
}

// ListHistory returns recent history rows for a controller, newest first.
func (s *Store) ListHistory(ctx context.Context, controllerID string, limit int) ([]model.Command, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT command_id, batch_id, controller_id, port_number, command_kind, channel, status,
	       success, error_message, execution_time_ms, routing_method, created_at
	FROM command_history WHERE controller_id = ?
	ORDER BY created_at DESC LIMIT ?`, controllerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Command
	for rows.Next() {
		var c model.Command
		var success sql.NullBool
		var createdAt string
		if err := rows.Scan(&c.ID, &c.BatchID, &c.ControllerID, &c.PortNumber, &c.Kind, &c.Channel, &c.Status,
			&success, &c.ErrorMessage, &c.ExecutionTimeMS, &c.RoutingMethod, &createdAt); err != nil {
			return nil, err
		}
		if success.Valid {
			c.Success = &success.Bool
		}
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}
