package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"geminimock/internal/gemini"
	"geminimock/internal/preset"
)

// PresetRecord is a stored preset with its table bookkeeping.
type PresetRecord struct {
	preset.Preset
	Position  int64     `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type presetRow struct {
	ID           string
	Position     int64
	Name         string
	Description  string
	TriggerType  string
	TriggerValue string
	ResponseJSON string
	DelayMS      int
	CreatedAt    int64
	UpdatedAt    int64
}

var presetColumns = []string{
	"id", "position", "name", "description", "trigger_type", "trigger_value",
	"response_json", "delay_ms", "created_at", "updated_at",
}

func (r *presetRow) scanTargets() []any {
	return []any{
		&r.ID, &r.Position, &r.Name, &r.Description, &r.TriggerType, &r.TriggerValue,
		&r.ResponseJSON, &r.DelayMS, &r.CreatedAt, &r.UpdatedAt,
	}
}

func (r presetRow) record() (PresetRecord, error) {
	var resp gemini.GenerateContentResponse
	if err := json.Unmarshal([]byte(r.ResponseJSON), &resp); err != nil {
		return PresetRecord{}, fmt.Errorf("decode preset %q response: %w", r.ID, err)
	}
	return PresetRecord{
		Preset: preset.Preset{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Trigger:     preset.Trigger{Type: preset.TriggerType(r.TriggerType), Value: r.TriggerValue},
			Response:    &resp,
			DelayMS:     r.DelayMS,
		},
		Position:  r.Position,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
	}, nil
}

func encodeResponse(p preset.Preset) (string, error) {
	b, err := json.Marshal(p.Response)
	if err != nil {
		return "", fmt.Errorf("encode preset %q response: %w", p.ID, err)
	}
	return string(b), nil
}
