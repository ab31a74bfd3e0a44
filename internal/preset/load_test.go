package preset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const presetYAML = `
presets:
  - id: capital
    name: Capital of France
    trigger:
      type: contains
      value: capital of france
    delay: 25
    response:
      candidates:
        - content:
            role: model
            parts:
              - text: Paris is the capital of France.
          finishReason: STOP
`

func TestDecodeYAML(t *testing.T) {
	presets, err := Decode(strings.NewReader(presetYAML))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(presets) != 1 {
		t.Fatalf("expected 1 preset, got %d", len(presets))
	}
	p := presets[0]
	if p.ID != "capital" || p.DelayMS != 25 || p.Trigger.Type != TriggerContains {
		t.Fatalf("unexpected preset %+v", p)
	}
	if got := p.Response.Text(); got != "Paris is the capital of France." {
		t.Fatalf("unexpected response text %q", got)
	}
}

func TestLoadJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.json")
	body := `[{"id":"x","name":"X","trigger":{"type":"text","value":"x"},"response":{"candidates":[{"content":{"parts":[{"text":"y"}]}}]}}]`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	presets, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(presets) != 1 || presets[0].Response.Text() != "y" {
		t.Fatalf("unexpected presets %+v", presets)
	}
}

func TestDecodeRejectsInvalidPreset(t *testing.T) {
	_, err := Decode(strings.NewReader(`[{"id":"x","name":"X","trigger":{"type":"glob","value":"*"},"response":{"candidates":[{}]}}]`))
	if !errors.Is(err, ErrInvalidTrigger) {
		t.Fatalf("expected ErrInvalidTrigger, got %v", err)
	}
}
