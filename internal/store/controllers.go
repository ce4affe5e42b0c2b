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

// ControllerFilter narrows managed controller listings.
type ControllerFilter struct {
	Type     model.ControllerType
	Protocol model.Protocol
	Online   *bool
}

const controllerCols = `id, controller_id, controller_type, protocol, ip_address, last_ip_address,
	mac_address, location, total_ports, is_online, last_seen, capabilities, created_at`

func scanController(row interface{ Scan(...any) error }) (model.ManagedController, error) {
	var c model.ManagedController
	var protocol, lastSeen sql.NullString
	var caps sql.NullString
	var createdAt string
	err := row.Scan(&c.ID, &c.ControllerID, &c.ControllerType, &protocol, &c.IPAddress, &c.LastIPAddress,
		&c.MACAddress, &c.Location, &c.TotalPorts, &c.IsOnline, &lastSeen, &caps, &createdAt)
	if err != nil {
		return c, err
	}
	if protocol.Valid {
		c.Protocol = model.Protocol(protocol.String)
	}
	if ls := parseTimePtr(lastSeen); ls != nil {
		c.LastSeen = *ls
	}
	c.Capabilities = unmarshalJSON[map[string]any](caps)
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

// CreateAdoption atomically creates a managed controller with its ports and
// marks the originating candidate adopted. This is the single adoption
// transaction; any failure rolls the whole promotion back.
func (s *Store) CreateAdoption(ctx context.Context, c model.ManagedController, ports []model.Port) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var protocol any
		if c.Protocol != "" {
			protocol = string(c.Protocol)
		}
		_, err := tx.ExecContext(ctx, `
		INSERT INTO managed_controllers
			(controller_id, controller_type, protocol, ip_address, last_ip_address, mac_address,
			 location, total_ports, is_online, last_seen, capabilities, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
			c.ControllerID, string(c.ControllerType), protocol, c.IPAddress, c.IPAddress, c.MACAddress,
			c.Location, c.TotalPorts, fmtTime(time.Now()), marshalJSON(c.Capabilities), fmtTime(time.Now()))
		if err != nil {
			return fmt.Errorf("insert controller %s: %w", c.ControllerID, err)
		}
		for _, p := range ports {
			if _, err := tx.ExecContext(ctx, `
			INSERT INTO ports (controller_id, port_number, connected_device_name, is_active, tag_ids, default_channel, connection_config)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
				c.ControllerID, p.PortNumber, p.ConnectedDeviceName, p.IsActive,
				marshalJSON(p.TagIDs), p.DefaultChannel, marshalJSON(p.ConnectionConfig)); err != nil {
				return fmt.Errorf("insert port %d for %s: %w", p.PortNumber, c.ControllerID, err)
			}
		}
		if c.MACAddress != "" {
			if err := setCandidateAdoptedTx(ctx, tx, c.MACAddress, true); err != nil && !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("mark candidate adopted: %w", err)
			}
		}
		return nil
	})
}

// DeleteController removes a controller (ports cascade) and resets the
// candidate's adopted flag. Historical commands are left in place.
func (s *Store) DeleteController(ctx context.Context, controllerID string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var mac string
		err := tx.QueryRowContext(ctx, `SELECT mac_address FROM managed_controllers WHERE controller_id = ?`, controllerID).Scan(&mac)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("controller %s: %w", controllerID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM managed_controllers WHERE controller_id = ?`, controllerID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM status_cache WHERE controller_id = ?`, controllerID); err != nil {
			return err
		}
		if mac != "" {
			if err := setCandidateAdoptedTx(ctx, tx, mac, false); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		return nil
	})
}

// GetController loads a managed controller by its public identifier.
func (s *Store) GetController(ctx context.Context, controllerID string) (model.ManagedController, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+controllerCols+` FROM managed_controllers WHERE controller_id = ?`, controllerID)
	c, err := scanController(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("controller %s: %w", controllerID, ErrNotFound)
	}
	return c, err
}

// ControllerExists reports whether a controller id is already taken.
func (s *Store) ControllerExists(ctx context.Context, controllerID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM managed_controllers WHERE controller_id = ?`, controllerID).Scan(&n)
	return n > 0, err
}

// ControllerByMAC returns the controller adopted from the given MAC, if any.
func (s *Store) ControllerByMAC(ctx context.Context, mac string) (model.ManagedController, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+controllerCols+` FROM managed_controllers WHERE mac_address = ?`, mac)
	c, err := scanController(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("controller for mac %s: %w", mac, ErrNotFound)
	}
	return c, err
}

// ListControllers returns managed controllers matching the filter.
func (s *Store) ListControllers(ctx context.Context, f ControllerFilter) ([]model.ManagedController, error) {
	q := `SELECT ` + controllerCols + ` FROM managed_controllers WHERE 1=1`
	var args []any
	if f.Type != "" {
		q += ` AND controller_type = ?`
		args = append(args, string(f.Type))
	}
	if f.Protocol != "" {
		q += ` AND protocol = ?`
		args = append(args, string(f.Protocol))
	}
	if f.Online != nil {
		q += ` AND is_online = ?`
		args = append(args, *f.Online)
	}
	q += ` ORDER BY controller_id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.ManagedController
	for rows.Next() {
		c, err := scanController(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetControllerOnline updates the liveness flag and last_seen timestamp.
func (s *Store) SetControllerOnline(ctx context.Context, controllerID string, online bool) error {
	var err error
	if online {
		_, err = s.db.ExecContext(ctx, `UPDATE managed_controllers SET is_online = 1, last_seen = ? WHERE controller_id = ?`,
			fmtTime(time.Now()), controllerID)
	} else {
		_, err = s.db.ExecContext(ctx, `UPDATE managed_controllers SET is_online = 0 WHERE controller_id = ?`, controllerID)
	}
	return err
}

// ReconcileControllerNetwork records an address move discovered by the health
// monitor: current IP becomes last IP, and MAC/capability fields refresh.
func (s *Store) ReconcileControllerNetwork(ctx context.Context, controllerID, newIP, mac string) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE managed_controllers
	SET last_ip_address = ip_address,
	    ip_address = ?,
	    mac_address = CASE WHEN ? != '' THEN ? ELSE mac_address END,
	    is_online = 1,
	    last_seen = ?
	WHERE controller_id = ?`,
		newIP, mac, mac, fmtTime(time.Now()), controllerID)
	return err
}

// UpdateControllerCapabilities replaces the capabilities snapshot. Runs in its
// own commit so a slow capability fetch never holds the adoption transaction.
func (s *Store) UpdateControllerCapabilities(ctx context.Context, controllerID string, caps map[string]any) error {
	res, err := s.db.ExecContext(ctx, `UPDATE managed_controllers SET capabilities = ? WHERE controller_id = ?`,
		marshalJSON(caps), controllerID)
	if err != nil {
		return err
	}
	return requireRow(res, controllerID)
}
