// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/smartvenue/venued/internal/model"
)

// CreateTag inserts a tag and returns its id.
func (s *Store) CreateTag(ctx context.Context, name, color string) (int, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO tags (name, color) VALUES (?, ?)`, name, color)
	if err != nil {
		return 0, fmt.Errorf("insert tag %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	return int(id), err
}

// DeleteTag removes a tag. Port tag sets keep dangling ids; listings simply
// no longer resolve them.
func (s *Store) DeleteTag(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, fmt.Sprintf("tag %d", id))
}

// ListTags returns all tags with their derived usage counts: the number of
// ports whose tag set contains the tag.
func (s *Store) ListTags(ctx context.Context) ([]model.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, color FROM tags ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tags []model.Tag
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Color); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	usage, err := s.tagUsage(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tags {
		tags[i].UsageCount = usage[tags[i].ID]
	}
	return tags, nil
}

func (s *Store) tagUsage(ctx context.Context) (map[int]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag_ids FROM ports`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	usage := make(map[int]int)
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		ids := unmarshalJSON[[]int](raw)
		seen := make(map[int]bool, len(ids))
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				usage[id]++
			}
		}
	}
	return usage, rows.Err()
}

// GetTag loads one tag with its usage count.
func (s *Store) GetTag(ctx context.Context, id int) (model.Tag, error) {
	var t model.Tag
	err := s.db.QueryRowContext(ctx, `SELECT id, name, color FROM tags WHERE id = ?`, id).Scan(&t.ID, &t.Name, &t.Color)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("tag %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return t, err
	}
	usage, err := s.tagUsage(ctx)
	if err != nil {
		return t, err
	}
	t.UsageCount = usage[id]
	return t, nil
}
