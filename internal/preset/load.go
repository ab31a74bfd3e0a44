package preset

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a preset table from a YAML or JSON file. The file holds a
// list of presets, or a mapping with a "presets" list.
func Load(path string) ([]Preset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open preset file: %w", err)
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		return decodeJSON(f)
	}
	return Decode(f)
}

// Decode parses YAML (a superset of JSON) into presets. Response payloads
// are re-encoded as JSON so they land in the wire types.
func Decode(r io.Reader) ([]Preset, error) {
	var doc any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode preset yaml: %w", err)
	}
	if m, ok := doc.(map[string]any); ok {
		doc = m["presets"]
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("re-encode presets: %w", err)
	}
	return decodeJSON(strings.NewReader(string(b)))
}

func decodeJSON(r io.Reader) ([]Preset, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode preset json: %w", err)
	}
	var wrapped struct {
		Presets []Preset `json:"presets"`
	}
	var out []Preset
	if err := json.Unmarshal(raw, &out); err != nil {
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("decode presets: %w", err)
		}
		out = wrapped.Presets
	}
	for i, p := range out {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("preset %d (%q): %w", i, p.ID, err)
		}
	}
	return out, nil
}
