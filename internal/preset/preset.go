package preset

import (
	"errors"
	"strings"

	"geminimock/internal/gemini"
)

type TriggerType string

const (
	TriggerText     TriggerType = "text"
	TriggerContains TriggerType = "contains"
	TriggerRegex    TriggerType = "regex"
)

type Trigger struct {
	Type  TriggerType `json:"type"`
	Value string      `json:"value"`
}

type Preset struct {
	ID          string                          `json:"id"`
	Name        string                          `json:"name"`
	Description string                          `json:"description,omitempty"`
	Trigger     Trigger                         `json:"trigger"`
	Response    *gemini.GenerateContentResponse `json:"response"`
	DelayMS     int                             `json:"delay,omitempty"`
}

var (
	ErrMissingID       = errors.New("preset id is required")
	ErrMissingName     = errors.New("preset name is required")
	ErrInvalidTrigger  = errors.New("preset trigger must have type text, contains or regex and a value")
	ErrMissingResponse = errors.New("preset response is required")
)

func (p Preset) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(p.Name) == "" {
		return ErrMissingName
	}
	switch p.Trigger.Type {
	case TriggerText, TriggerContains, TriggerRegex:
	default:
		return ErrInvalidTrigger
	}
	if p.Trigger.Value == "" {
		return ErrInvalidTrigger
	}
	if p.Response == nil || len(p.Response.Candidates) == 0 {
		return ErrMissingResponse
	}
	return nil
}
