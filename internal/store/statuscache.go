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

// GetStatusCache loads the cached real-time state for a controller.
func (s *Store) GetStatusCache(ctx context.Context, controllerID string) (model.StatusCache, error) {
	var sc model.StatusCache
	var lastChecked, lastChanged sql.NullString
	row := s.db.QueryRowContext(ctx, `
	SELECT controller_id, is_online, power_state, current_channel, current_input, volume_level,
	       is_muted, last_checked_at, last_changed_at, check_method, poll_failures
	FROM status_cache WHERE controller_id = ?`, controllerID)
	err := row.Scan(&sc.ControllerID, &sc.IsOnline, &sc.PowerState, &sc.CurrentChannel, &sc.CurrentInput,
		&sc.VolumeLevel, &sc.IsMuted, &lastChecked, &lastChanged, &sc.CheckMethod, &sc.PollFailures)
	if errors.Is(err, sql.ErrNoRows) {
		return sc, fmt.Errorf("status cache %s: %w", controllerID, ErrNotFound)
	}
	if err != nil {
		return sc, err
	}
	if t := parseTimePtr(lastChecked); t != nil {
		sc.LastCheckedAt = *t
	}
	if t := parseTimePtr(lastChanged); t != nil {
		sc.LastChangedAt = *t
	}
	return sc, nil
}

// UpdateStatusCache records a successful poll. last_changed_at advances only
// when an observed field actually changed; poll_failures resets.
func (s *Store) UpdateStatusCache(ctx context.Context, controllerID string, ds model.DeviceStatus) error {
	if ds.PowerState == "" {
		ds.PowerState = model.PowerUnknown
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		now := fmtTime(time.Now())
		_, err := tx.ExecContext(ctx, `
		INSERT INTO status_cache
			(controller_id, is_online, power_state, current_channel, current_input, volume_level,
			 is_muted, last_checked_at, last_changed_at, check_method, poll_failures)
		VALUES (?, 1, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(controller_id) DO UPDATE SET
			is_online = 1,
			last_changed_at = CASE
				WHEN status_cache.power_state != excluded.power_state
				  OR status_cache.current_channel != excluded.current_channel
				  OR status_cache.current_input != excluded.current_input
				  OR status_cache.volume_level != excluded.volume_level
				  OR status_cache.is_muted != excluded.is_muted
				  OR status_cache.is_online = 0
				THEN excluded.last_checked_at
				ELSE status_cache.last_changed_at
			END,
			power_state = excluded.power_state,
			current_channel = excluded.current_channel,
			current_input = excluded.current_input,
			volume_level = excluded.volume_level,
			is_muted = excluded.is_muted,
			last_checked_at = excluded.last_checked_at,
			check_method = excluded.check_method,
			poll_failures = 0`,
			controllerID, string(ds.PowerState), ds.CurrentChannel, ds.CurrentInput, ds.VolumeLevel,
			ds.IsMuted, now, now, ds.CheckMethod)
		return err
	})
}

// RecordPollFailure increments the consecutive failure counter and returns
// the new count. The caller marks the controller offline at the threshold.
func (s *Store) RecordPollFailure(ctx context.Context, controllerID string) (int, error) {
	var failures int
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		now := fmtTime(time.Now())
		row := tx.QueryRowContext(ctx, `
		INSERT INTO status_cache (controller_id, last_checked_at, poll_failures)
		VALUES (?, ?, 1)
		ON CONFLICT(controller_id) DO UPDATE SET
			poll_failures = status_cache.poll_failures + 1,
			last_checked_at = excluded.last_checked_at
		RETURNING poll_failures`, controllerID, now)
		return row.Scan(&failures)
	})
	return failures, err
}

// MarkStatusOffline flips the cached online flag after repeated poll failures.
func (s *Store) MarkStatusOffline(ctx context.Context, controllerID string) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE status_cache SET is_online = 0, power_state = 'unknown' WHERE controller_id = ?`, controllerID)
	return err
}
