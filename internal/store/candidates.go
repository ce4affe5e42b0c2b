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

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// CandidateFilter narrows candidate listings.
type CandidateFilter struct {
	IncludeHidden  bool
	IncludeAdopted bool
	MinConfidence  int
}

const candidateCols = `id, mac_address, ip_address, hostname, vendor, device_type_guess,
	open_ports, confidence_score, adoptable, reasons, is_adopted, is_hidden, first_seen, last_seen`

func scanCandidate(row interface{ Scan(...any) error }) (model.CandidateDevice, error) {
	var c model.CandidateDevice
	var openPorts, reasons sql.NullString
	var firstSeen, lastSeen string
	err := row.Scan(&c.ID, &c.MACAddress, &c.IPAddress, &c.Hostname, &c.Vendor, &c.DeviceTypeGuess,
		&openPorts, &c.Confidence, &c.Adoptable, &reasons, &c.IsAdopted, &c.IsHidden, &firstSeen, &lastSeen)
	if err != nil {
		return c, err
	}
	c.OpenPorts = unmarshalJSON[[]int](openPorts)
	c.Reasons = unmarshalJSON[[]string](reasons)
	c.FirstSeen = parseTime(firstSeen)
	c.LastSeen = parseTime(lastSeen)
	return c, nil
}

// UpsertCandidate creates or refreshes a candidate keyed by canonical MAC.
// Adoption and hidden flags are never touched by re-observation.
func (s *Store) UpsertCandidate(ctx context.Context, c model.CandidateDevice) error {
	now := fmtTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO device_candidates
		(mac_address, ip_address, hostname, vendor, device_type_guess, open_ports,
		 confidence_score, adoptable, reasons, first_seen, last_seen)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(mac_address) DO UPDATE SET
		ip_address = excluded.ip_address,
		hostname = CASE WHEN excluded.hostname != '' THEN excluded.hostname ELSE device_candidates.hostname END,
		vendor = CASE WHEN excluded.vendor != '' THEN excluded.vendor ELSE device_candidates.vendor END,
		device_type_guess = CASE WHEN excluded.device_type_guess != '' THEN excluded.device_type_guess ELSE device_candidates.device_type_guess END,
		open_ports = excluded.open_ports,
		confidence_score = excluded.confidence_score,
		adoptable = excluded.adoptable,
		reasons = excluded.reasons,
		last_seen = excluded.last_seen
	`,
		c.MACAddress, c.IPAddress, c.Hostname, c.Vendor, c.DeviceTypeGuess, marshalJSON(c.OpenPorts),
		c.Confidence, string(c.Adoptable), marshalJSON(c.Reasons), now, now)
	if err != nil {
		return fmt.Errorf("upsert candidate %s: %w", c.MACAddress, err)
	}
	return nil
}

// GetCandidate loads a candidate by canonical MAC.
func (s *Store) GetCandidate(ctx context.Context, mac string) (model.CandidateDevice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+candidateCols+` FROM device_candidates WHERE mac_address = ?`, mac)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("candidate %s: %w", mac, ErrNotFound)
	}
	return c, err
}

// ListCandidates returns candidates matching the filter, most recently seen first.
func (s *Store) ListCandidates(ctx context.Context, f CandidateFilter) ([]model.CandidateDevice, error) {
	q := `SELECT ` + candidateCols + ` FROM device_candidates WHERE confidence_score >= ?`
	args := []any{f.MinConfidence}
	if !f.IncludeHidden {
		q += ` AND is_hidden = 0`
	}
	if !f.IncludeAdopted {
		q += ` AND is_adopted = 0`
	}
	q += ` ORDER BY last_seen DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.CandidateDevice
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetCandidateHidden flips the hidden flag for a candidate.
func (s *Store) SetCandidateHidden(ctx context.Context, mac string, hidden bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE device_candidates SET is_hidden = ? WHERE mac_address = ?`, hidden, mac)
	if err != nil {
		return err
	}
	return requireRow(res, mac)
}

// setCandidateAdoptedTx flips the adopted flag inside an adoption transaction.
func setCandidateAdoptedTx(ctx context.Context, tx *sql.Tx, mac string, adopted bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE device_candidates SET is_adopted = ? WHERE mac_address = ?`, adopted, mac)
	if err != nil {
		return err
	}
	return requireRow(res, mac)
}

func requireRow(res sql.Result, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return nil
}
