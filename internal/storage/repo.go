package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"geminimock/internal/apierr"
	"geminimock/internal/preset"
)

var (
	ErrNotFound      = apierr.ErrNotFound
	ErrAlreadyExists = apierr.ErrAlreadyExists
)

// ListPresets returns the table in match order.
func (s *Store) ListPresets(ctx context.Context) ([]PresetRecord, error) {
	q := s.sql.Select(presetColumns...).From("presets").OrderBy("position ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list presets query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	defer rows.Close()

	var raw []presetRow
	for rows.Next() {
		var r presetRow
		if err := rows.Scan(r.scanTargets()...); err != nil {
			return nil, fmt.Errorf("scan preset: %w", err)
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate presets: %w", err)
	}

	out := make([]PresetRecord, 0, len(raw))
	for _, r := range raw {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Presets satisfies the assembler's preset source.
func (s *Store) Presets(ctx context.Context) ([]preset.Preset, error) {
	recs, err := s.ListPresets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]preset.Preset, len(recs))
	for i, r := range recs {
		out[i] = r.Preset
	}
	return out, nil
}

func (s *Store) GetPreset(ctx context.Context, id string) (PresetRecord, error) {
	q := s.sql.Select(presetColumns...).From("presets").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return PresetRecord{}, fmt.Errorf("build get preset query: %w", err)
	}
	var r presetRow
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(r.scanTargets()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PresetRecord{}, fmt.Errorf("preset %q: %w", id, ErrNotFound)
		}
		return PresetRecord{}, fmt.Errorf("get preset: %w", err)
	}
	return r.record()
}

// CreatePreset appends p to the end of the table.
func (s *Store) CreatePreset(ctx context.Context, p preset.Preset) (PresetRecord, error) {
	if err := p.Validate(); err != nil {
		return PresetRecord{}, err
	}
	body, err := encodeResponse(p)
	if err != nil {
		return PresetRecord{}, err
	}
	now := s.now().UnixMilli()
	q := s.sql.Insert("presets").
		Columns(presetColumns...).
		Values(
			p.ID,
			sq.Expr("(SELECT COALESCE(MAX(position), 0) + 1 FROM presets)"),
			p.Name, p.Description, string(p.Trigger.Type), p.Trigger.Value,
			body, p.DelayMS, now, now,
		).
		Suffix("ON CONFLICT(id) DO NOTHING")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return PresetRecord{}, fmt.Errorf("build create preset query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return PresetRecord{}, fmt.Errorf("create preset: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return PresetRecord{}, fmt.Errorf("preset %q: %w", p.ID, ErrAlreadyExists)
	}
	return s.GetPreset(ctx, p.ID)
}

// UpdatePreset replaces everything but the id and table position.
func (s *Store) UpdatePreset(ctx context.Context, id string, p preset.Preset) (PresetRecord, error) {
	p.ID = id
	if err := p.Validate(); err != nil {
		return PresetRecord{}, err
	}
	body, err := encodeResponse(p)
	if err != nil {
		return PresetRecord{}, err
	}
	q := s.sql.Update("presets").
		Set("name", p.Name).
		Set("description", p.Description).
		Set("trigger_type", string(p.Trigger.Type)).
		Set("trigger_value", p.Trigger.Value).
		Set("response_json", body).
		Set("delay_ms", p.DelayMS).
		Set("updated_at", s.now().UnixMilli()).
		Where(sq.Eq{"id": id})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return PresetRecord{}, fmt.Errorf("build update preset query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return PresetRecord{}, fmt.Errorf("update preset: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return PresetRecord{}, fmt.Errorf("preset %q: %w", id, ErrNotFound)
	}
	return s.GetPreset(ctx, id)
}

func (s *Store) DeletePreset(ctx context.Context, id string) error {
	q := s.sql.Delete("presets").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete preset query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete preset: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("preset %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) CountPresets(ctx context.Context) (int, error) {
	q := s.sql.Select("COUNT(*)").From("presets")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count presets query: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count presets: %w", err)
	}
	return n, nil
}

// SeedPresets inserts presets in order when the table is empty and
// reports how many rows were written.
func (s *Store) SeedPresets(ctx context.Context, presets []preset.Preset) (int, error) {
	n, err := s.CountPresets(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	for i, p := range presets {
		if _, err := s.CreatePreset(ctx, p); err != nil {
			return i, fmt.Errorf("seed preset %q: %w", p.ID, err)
		}
	}
	return len(presets), nil
}
