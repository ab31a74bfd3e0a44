package synth

import (
	"bytes"
	"encoding/json"
	"slices"
	"testing"

	"geminimock/internal/gemini"
)

func mustSchema(t *testing.T, raw string) *gemini.Schema {
	t.Helper()
	var s gemini.Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	return &s
}

// conforms walks v against s and reports the first mismatch.
func conforms(t *testing.T, s *gemini.Schema, v any, path string) {
	t.Helper()
	switch resolveType(s) {
	case gemini.TypeString:
		str, ok := v.(string)
		if !ok {
			t.Fatalf("%s: expected string, got %T", path, v)
		}
		if len(s.Enum) > 0 && !slices.Contains(s.Enum, str) {
			t.Fatalf("%s: %q not in enum %v", path, str, s.Enum)
		}
	case gemini.TypeInteger:
		if _, ok := v.(int); !ok {
			t.Fatalf("%s: expected int, got %T", path, v)
		}
	case gemini.TypeNumber:
		if _, ok := v.(float64); !ok {
			t.Fatalf("%s: expected float64, got %T", path, v)
		}
	case gemini.TypeBoolean:
		if _, ok := v.(bool); !ok {
			t.Fatalf("%s: expected bool, got %T", path, v)
		}
	case gemini.TypeArray:
		items, ok := v.([]any)
		if !ok {
			t.Fatalf("%s: expected array, got %T", path, v)
		}
		if len(items) < 1 || len(items) > 5 {
			t.Fatalf("%s: array length %d out of [1,5]", path, len(items))
		}
		for _, it := range items {
			conforms(t, s.Items, it, path+"[]")
		}
	case gemini.TypeObject:
		obj, ok := v.(Object)
		if !ok {
			t.Fatalf("%s: expected Object, got %T", path, v)
		}
		for _, req := range s.Required {
			if _, ok := obj.Get(req); !ok {
				t.Fatalf("%s: missing required key %q", path, req)
			}
		}
		for _, f := range obj {
			ps, ok := s.Properties.Get(f.Key)
			if !ok {
				t.Fatalf("%s: undeclared key %q", path, f.Key)
			}
			conforms(t, ps, f.Value, path+"."+f.Key)
		}
	}
}

// keyOrder returns the top-level keys of a JSON object in encoded order.
func keyOrder(t *testing.T, b []byte) []string {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(b))
	if _, err := dec.Token(); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			t.Fatalf("decode key: %v", err)
		}
		keys = append(keys, tok.(string))
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			t.Fatalf("decode value: %v", err)
		}
	}
	return keys
}

const nestedSchema = `{
  "type": "OBJECT",
  "properties": {
    "title": {"type": "STRING"},
    "rating": {"type": "NUMBER"},
    "sentiment": {"type": "STRING", "enum": ["POSITIVE", "NEGATIVE", "NEUTRAL"]},
    "tags": {"type": "ARRAY", "items": {"type": "STRING"}},
    "available": {"type": "BOOLEAN"},
    "author": {
      "type": "OBJECT",
      "properties": {"name": {"type": "STRING"}, "age": {"type": "INTEGER"}},
      "required": ["name", "age"]
    },
    "count": {"type": "INTEGER"}
  },
  "required": ["title", "author", "count"]
}`

func TestGenerateConformsToSchema(t *testing.T) {
	s := mustSchema(t, nestedSchema)
	declared := []string{"title", "rating", "sentiment", "tags", "available", "author", "count"}

	for seed := uint64(0); seed < 200; seed++ {
		g := NewGenerator(NewSeededSource(seed))
		v := g.Generate(s, "review of a great book", 0)
		conforms(t, s, v, "$")

		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		keys := keyOrder(t, b)
		last := -1
		for _, k := range keys {
			idx := slices.Index(declared, k)
			if idx <= last {
				t.Fatalf("seed %d: key order %v does not follow declaration order", seed, keys)
			}
			last = idx
		}
	}
}

func TestGenerateNameAndAge(t *testing.T) {
	s := mustSchema(t, `{"type":"OBJECT","properties":{"name":{"type":"STRING"},"age":{"type":"INTEGER"}},"required":["name"]}`)
	sawAge := false
	for seed := uint64(0); seed < 100; seed++ {
		g := NewGenerator(NewSeededSource(seed))

		obj := g.Generate(s, "Create a person", 0).(Object)
		if name, ok := obj.Get("name"); !ok {
			t.Fatalf("name missing")
		} else if _, ok := name.(string); !ok {
			t.Fatalf("name is %T", name)
		}
		if age, ok := obj.Get("age"); ok {
			sawAge = true
			if n := age.(int); n < 0 || n > 100 {
				t.Fatalf("age %d out of [0,100]", n)
			}
		}

		obj = g.Generate(s, "Create a character with an age", 0).(Object)
		if age, ok := obj.Get("age"); ok {
			if n := age.(int); n < 18 || n > 80 {
				t.Fatalf("contextual age %d out of [18,80]", n)
			}
		}
	}
	if !sawAge {
		t.Fatalf("optional age never generated across 100 seeds")
	}
}

func TestGenerateIsReproducibleWithSeed(t *testing.T) {
	s := mustSchema(t, nestedSchema)
	a, _ := NewGenerator(NewSeededSource(7)).GenerateJSON(s, "x")
	b, _ := NewGenerator(NewSeededSource(7)).GenerateJSON(s, "x")
	if a != b {
		t.Fatalf("same seed produced different output:\n%s\n%s", a, b)
	}
}

func TestGenerateDepthGuard(t *testing.T) {
	leaf := &gemini.Schema{Type: gemini.TypeString}
	s := leaf
	for range 12 {
		s = &gemini.Schema{Type: gemini.TypeArray, Items: s}
	}
	g := NewGenerator(NewSeededSource(1))
	v := g.Generate(s, "", 0)

	depth := 0
	for {
		items, ok := v.([]any)
		if !ok {
			break
		}
		depth++
		v = items[0]
	}
	if v != nil {
		t.Fatalf("expected nil past depth guard, got %#v", v)
	}
	if depth != 11 {
		t.Fatalf("expected 11 array levels before the guard, got %d", depth)
	}
}

func TestGenerateContextualStrings(t *testing.T) {
	s := &gemini.Schema{Type: gemini.TypeString}
	g := NewGenerator(NewSeededSource(3))
	if v := g.Generate(s, "List a cookie recipe", 0).(string); !slices.Contains(recipeNames, v) {
		t.Fatalf("expected recipe name, got %q", v)
	}
	if v := g.Generate(s, "Invent a character", 0).(string); !slices.Contains(characterNames, v) {
		t.Fatalf("expected character name, got %q", v)
	}
	if v := g.Generate(s, "anything else", 0).(string); !slices.Contains(placeholders, v) {
		t.Fatalf("expected placeholder, got %q", v)
	}
}
