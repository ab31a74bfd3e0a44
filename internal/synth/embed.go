package synth

import (
	"fmt"
	"math"
	"strings"

	"geminimock/internal/gemini"
)

const (
	seedModulus = 1_000_000
	sinScale    = 10000
)

// Embed maps text to a vector of the given length with every value in
// [-1, 1]. The same text and length always produce the same vector.
func Embed(text string, dimensions int) []float64 {
	if dimensions <= 0 {
		return []float64{}
	}
	var seed int64
	for _, r := range text {
		seed = (seed*31 + int64(r)) % seedModulus
	}

	out := make([]float64, dimensions)
	for i := range out {
		x := math.Sin(float64(seed+int64(i))) * sinScale
		frac := x - math.Floor(x)
		out[i] = frac*2 - 1
	}
	return out
}

// EmbeddingInput flattens content into the string that Embed hashes.
// Non-text parts contribute a short description so media requests do not
// collide with their text-only counterparts.
func EmbeddingInput(c gemini.Content) string {
	var parts []string
	for _, p := range c.Parts {
		switch {
		case p.InlineData != nil:
			data := p.InlineData.Data
			parts = append(parts, fmt.Sprintf("[inline:%s:%d:%s]", p.InlineData.MimeType, len(data), data[:min(len(data), 32)]))
		case p.FileData != nil:
			parts = append(parts, fmt.Sprintf("[file:%s:%s]", p.FileData.MimeType, p.FileData.FileURI))
		case p.IsText() && p.Text != "":
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, " ")
}
