package synth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"geminimock/internal/gemini"
)

const maxSchemaDepth = 10

var (
	recipeNames = []string{
		"Chocolate Chip Cookies",
		"Oatmeal Raisin Cookies",
		"Peanut Butter Cookies",
		"Snickerdoodles",
		"Double Chocolate Brownies",
	}
	characterNames = []string{"Alice", "Marcus", "Elena", "Kai", "Priya", "Theo"}
	placeholders   = []string{"Sample text", "Example value", "Generated content"}
)

// Object is a generated JSON object whose fields serialize in the order
// they were produced.
type Object []Field

type Field struct {
	Key   string
	Value any
}

func (o Object) Get(key string) (any, bool) {
	for _, f := range o {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Generator fabricates values that conform to a gemini.Schema.
type Generator struct {
	src Source
}

// NewGenerator returns a Generator drawing from src, or from the shared
// math/rand/v2 source when src is nil.
func NewGenerator(src Source) *Generator {
	if src == nil {
		src = globalSource{}
	}
	return &Generator{src: src}
}

// Generate returns a string, int, float64, bool, []any, Object or nil.
// Nil is returned past the depth guard or for an untyped leaf.
func (g *Generator) Generate(schema *gemini.Schema, input string, depth int) any {
	if schema == nil || depth > maxSchemaDepth {
		return nil
	}
	lower := strings.ToLower(input)

	switch resolveType(schema) {
	case gemini.TypeString:
		if len(schema.Enum) > 0 {
			return SelectEnum(schema.Enum, input)
		}
		return g.contextualString(lower)
	case gemini.TypeInteger:
		if strings.Contains(lower, "age") {
			return 18 + g.src.IntN(63)
		}
		return g.src.IntN(101)
	case gemini.TypeNumber:
		return g.src.Float64() * 100
	case gemini.TypeBoolean:
		return g.src.Float64() < 0.5
	case gemini.TypeArray:
		n := 1 + g.src.IntN(5)
		items := make([]any, 0, n)
		for range n {
			if schema.Items == nil {
				items = append(items, g.contextualString(lower))
				continue
			}
			items = append(items, g.Generate(schema.Items, input, depth+1))
		}
		return items
	case gemini.TypeObject:
		obj := Object{}
		for _, prop := range schema.Properties {
			if !schema.IsRequired(prop.Name) && g.src.Float64() >= 0.7 {
				continue
			}
			v := g.Generate(prop.Schema, input, depth+1)
			if v == nil && (prop.Schema == nil || !prop.Schema.Nullable) {
				continue
			}
			obj = append(obj, Field{Key: prop.Name, Value: v})
		}
		return obj
	default:
		return nil
	}
}

// GenerateJSON renders a generated value as compact JSON text.
func (g *Generator) GenerateJSON(schema *gemini.Schema, input string) (string, error) {
	b, err := json.Marshal(g.Generate(schema, input, 0))
	if err != nil {
		return "", fmt.Errorf("marshal generated value: %w", err)
	}
	return string(b), nil
}

func (g *Generator) contextualString(lower string) string {
	switch {
	case strings.Contains(lower, "recipe") || strings.Contains(lower, "cookie"):
		return pick(g.src, recipeNames)
	case strings.Contains(lower, "character") || strings.Contains(lower, "name"):
		return pick(g.src, characterNames)
	default:
		return pick(g.src, placeholders)
	}
}

// resolveType infers a missing type from the shape of the node.
func resolveType(s *gemini.Schema) gemini.Type {
	if s.Type != gemini.TypeUnspecified {
		return s.Type
	}
	switch {
	case len(s.Properties) > 0:
		return gemini.TypeObject
	case s.Items != nil:
		return gemini.TypeArray
	case len(s.Enum) > 0:
		return gemini.TypeString
	}
	return gemini.TypeUnspecified
}
