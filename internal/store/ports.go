// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/smartvenue/venued/internal/model"
)

const portCols = `id, controller_id, port_number, connected_device_name, is_active, tag_ids, default_channel, connection_config`

func scanPort(row interface{ Scan(...any) error }) (model.Port, error) {
	var p model.Port
	var tagIDs, connCfg sql.NullString
	err := row.Scan(&p.ID, &p.ControllerID, &p.PortNumber, &p.ConnectedDeviceName, &p.IsActive,
		&tagIDs, &p.DefaultChannel, &connCfg)
	if err != nil {
		return p, err
	}
	p.TagIDs = unmarshalJSON[[]int](tagIDs)
	p.ConnectionConfig = unmarshalJSON[map[string]any](connCfg)
	return p, nil
}

// GetPort loads one port by (controller, port number).
func (s *Store) GetPort(ctx context.Context, controllerID string, portNumber int) (model.Port, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+portCols+` FROM ports WHERE controller_id = ? AND port_number = ?`, controllerID, portNumber)
	p, err := scanPort(row)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("port %s/%d: %w", controllerID, portNumber, ErrNotFound)
	}
	return p, err
}

// ListPorts returns the ordered ports of one controller.
func (s *Store) ListPorts(ctx context.Context, controllerID string) ([]model.Port, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+portCols+` FROM ports WHERE controller_id = ? ORDER BY port_number`, controllerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectPorts(rows)
}

// ListActivePorts returns every active port across all controllers, the base
// set for schedule target resolution.
func (s *Store) ListActivePorts(ctx context.Context) ([]model.Port, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+portCols+` FROM ports WHERE is_active = 1 ORDER BY controller_id, port_number`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectPorts(rows)
}

// ListPortsByLocation returns active ports whose controller is in one of the
// given locations.
func (s *Store) ListPortsByLocation(ctx context.Context, locations []string) ([]model.Port, error) {
	if len(locations) == 0 {
		return nil, nil
	}
	q := `SELECT p.id, p.controller_id, p.port_number, p.connected_device_name, p.is_active,
		p.tag_ids, p.default_channel, p.connection_config
	FROM ports p
	JOIN managed_controllers c ON c.controller_id = p.controller_id
	WHERE p.is_active = 1 AND c.location IN (?` + repeatPlaceholder(len(locations)-1) + `)
	ORDER BY p.controller_id, p.port_number`
	args := make([]any, len(locations))
	for i, l := range locations {
		args[i] = l
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectPorts(rows)
}

// ListPortsByTags returns active ports whose tag set intersects tagIDs.
// Tag membership lives in a JSON column, so intersection happens here rather
// than in SQL; venue port counts are small.
func (s *Store) ListPortsByTags(ctx context.Context, tagIDs []int) ([]model.Port, error) {
	all, err := s.ListActivePorts(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Port
	for _, p := range all {
		for _, want := range tagIDs {
			if slices.Contains(p.TagIDs, want) {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

// ListPortsByIDs returns active ports whose row id is in ids.
func (s *Store) ListPortsByIDs(ctx context.Context, ids []int64) ([]model.Port, error) {
	all, err := s.ListActivePorts(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Port
	for _, p := range all {
		if slices.Contains(ids, p.ID) {
			out = append(out, p)
		}
	}
	return out, nil
}

// UpdatePort replaces the mutable port fields.
func (s *Store) UpdatePort(ctx context.Context, p model.Port) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE ports SET connected_device_name = ?, is_active = ?, tag_ids = ?, default_channel = ?, connection_config = ?
	WHERE controller_id = ? AND port_number = ?`,
		p.ConnectedDeviceName, p.IsActive, marshalJSON(p.TagIDs), p.DefaultChannel, marshalJSON(p.ConnectionConfig),
		p.ControllerID, p.PortNumber)
	if err != nil {
		return err
	}
	return requireRow(res, fmt.Sprintf("%s/%d", p.ControllerID, p.PortNumber))
}

func collectPorts(rows *sql.Rows) ([]model.Port, error) {
	var out []model.Port
	for rows.Next() {
		p, err := scanPort(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
