package preset

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Match returns the first preset, in table order, whose trigger accepts
// input. Presets with an invalid regex are logged and skipped.
func Match(input string, presets []Preset, logger zerolog.Logger) (Preset, bool) {
	lower := strings.ToLower(input)
	for _, p := range presets {
		value := p.Trigger.Value
		switch p.Trigger.Type {
		case TriggerText:
			if lower == strings.ToLower(value) {
				return p, true
			}
		case TriggerContains:
			if strings.Contains(lower, strings.ToLower(value)) {
				return p, true
			}
		case TriggerRegex:
			re, err := regexp.Compile("(?i)" + value)
			if err != nil {
				logger.Warn().Err(err).Str("preset_id", p.ID).Str("pattern", value).Msg("invalid preset regex")
				continue
			}
			if re.MatchString(input) {
				return p, true
			}
		}
	}
	return Preset{}, false
}
