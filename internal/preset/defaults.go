package preset

import "geminimock/internal/gemini"

const fallbackText = "This is a mock response from the Gemini API test double. " +
	"No preset matched your input, so a generic answer was returned."

// Fallback is returned when no preset trigger matches.
func Fallback() *gemini.GenerateContentResponse {
	return gemini.NewTextResponse(fallbackText)
}

// Defaults is the preset table seeded at startup when no preset file is
// configured.
func Defaults() []Preset {
	return []Preset{
		{
			ID:          "greeting",
			Name:        "Greeting",
			Description: "Replies to hello messages",
			Trigger:     Trigger{Type: TriggerContains, Value: "hello"},
			Response:    gemini.NewTextResponse("Hello! I'm a mock Gemini model. How can I help you today?"),
		},
		{
			ID:          "wellbeing",
			Name:        "How are you",
			Description: "Small talk",
			Trigger:     Trigger{Type: TriggerRegex, Value: `how are (you|u)\b`},
			Response:    gemini.NewTextResponse("I'm doing well, thank you for asking! I'm a simulated model, so every day is a good day."),
		},
		{
			ID:          "weather",
			Name:        "Weather",
			Description: "Canned weather report",
			Trigger:     Trigger{Type: TriggerContains, Value: "weather"},
			Response:    gemini.NewTextResponse("I can't check live conditions, but in this simulation it is sunny with a high of 22°C and a light breeze."),
		},
		{
			ID:          "joke",
			Name:        "Joke",
			Description: "Tells a programming joke",
			Trigger:     Trigger{Type: TriggerContains, Value: "joke"},
			Response:    gemini.NewTextResponse("Why do programmers prefer dark mode? Because light attracts bugs."),
		},
		{
			ID:          "code",
			Name:        "Code sample",
			Description: "Returns a short Python function",
			Trigger:     Trigger{Type: TriggerRegex, Value: `(write|create|generate) (a |some )?(python )?(function|code)`},
			Response: gemini.NewTextResponse("Here is a simple function:\n\n```python\ndef add(a, b):\n    return a + b\n\nprint(add(2, 3))\n```\n\nIt returns the sum of its two arguments."),
		},
		{
			ID:          "farewell",
			Name:        "Farewell",
			Description: "Replies to goodbyes",
			Trigger:     Trigger{Type: TriggerText, Value: "goodbye"},
			Response:    gemini.NewTextResponse("Goodbye! Come back any time you need another mock answer."),
		},
	}
}
