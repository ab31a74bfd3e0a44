package assembler

import (
	"fmt"
	"hash/fnv"
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"geminimock/internal/gemini"
)

type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

var queryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwhat (?:is|are|was|were) (.+?)[?.!]*$`),
	regexp.MustCompile(`(?i)\bwho (?:is|was|are|were) (.+?)[?.!]*$`),
	regexp.MustCompile(`(?i)\btell me (?:about|more about) (.+?)[?.!]*$`),
	regexp.MustCompile(`(?i)\bhow (?:does|do|did|to|can) (.+?)[?.!]*$`),
	regexp.MustCompile(`(?i)\b(?:latest|recent) (?:news |updates |developments )?(?:on|about|in) (.+?)[?.!]*$`),
	regexp.MustCompile(`(?i)\bsearch (?:for |the web for )?(.+?)[?.!]*$`),
}

var sources = []struct {
	title string
	url   string
	blurb string
}{
	{"%s - Wikipedia", "https://en.wikipedia.org/wiki/%s", "%s is covered in depth, with its history, key concepts and related topics."},
	{"%s | Britannica", "https://www.britannica.com/topic/%s", "An encyclopedic overview of %s written and reviewed by subject experts."},
	{"Understanding %s: A Complete Guide", "https://www.example-guides.com/%s", "A practical guide explaining %s for beginners and practitioners alike."},
	{"Latest research on %s", "https://scholar.example.org/search?q=%s", "Recent studies and articles discussing %s and its current developments."},
}

// Grounding simulates search-backed answers. Results are derived from the
// query alone, so the same query always grounds the same way.
type Grounding struct{}

func NewGrounding() *Grounding {
	return &Grounding{}
}

// ExtractQuery pulls a search query out of free-form input. Text matching
// no pattern is used whole only when it reads as a question.
func (g *Grounding) ExtractQuery(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	for _, re := range queryPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if q := strings.TrimSpace(m[1]); q != "" {
				return q, true
			}
		}
	}
	if strings.Contains(text, "?") {
		return strings.TrimRight(text, "?!. "), true
	}
	return "", false
}

// Search fabricates between two and four results for query.
func (g *Grounding) Search(query string) []SearchResult {
	h := queryHash(query)
	n := 2 + int(h%3)
	slug := url.PathEscape(strings.ReplaceAll(strings.ToLower(query), " ", "_"))
	title := titleCase(query)

	out := make([]SearchResult, 0, n)
	for i := range n {
		src := sources[(int(h)+i)%len(sources)]
		out = append(out, SearchResult{
			Title:   fmt.Sprintf(src.title, title),
			URL:     fmt.Sprintf(src.url, slug),
			Snippet: fmt.Sprintf(src.blurb, query),
		})
	}
	return out
}

// Build returns the text to prepend to the answer and the grounding
// metadata describing it. Support segments are anchored later by Anchor.
func (g *Grounding) Build(query string) (string, *gemini.GroundingMetadata) {
	results := g.Search(query)
	h := queryHash(query)

	var b strings.Builder
	fmt.Fprintf(&b, "Based on current search results for %q:\n", query)
	meta := &gemini.GroundingMetadata{
		WebSearchQueries: []string{query},
		SearchEntryPoint: &gemini.SearchEntryPoint{
			RenderedContent: fmt.Sprintf(`<div class="search-entry-point"><a href="https://www.google.com/search?q=%s">%s</a></div>`,
				url.QueryEscape(query), html.EscapeString(query)),
		},
	}
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s [%d]", i+1, r.Snippet, i+1)
		meta.GroundingChunks = append(meta.GroundingChunks, gemini.GroundingChunk{
			Web: &gemini.WebChunk{URI: r.URL, Title: r.Title},
		})
		meta.GroundingSupports = append(meta.GroundingSupports, gemini.GroundingSupport{
			Segment:               gemini.Segment{Text: r.Snippet},
			GroundingChunkIndices: []int{i},
			ConfidenceScores:      []float64{confidence(h, i)},
		})
	}
	return b.String(), meta
}

// Anchor sets segment offsets against the final answer text and drops
// supports whose text no longer appears in it.
func Anchor(meta *gemini.GroundingMetadata, text string) {
	if meta == nil {
		return
	}
	kept := meta.GroundingSupports[:0]
	for _, s := range meta.GroundingSupports {
		i := strings.Index(text, s.Segment.Text)
		if i < 0 {
			continue
		}
		s.Segment.StartIndex = i
		s.Segment.EndIndex = i + len(s.Segment.Text)
		kept = append(kept, s)
	}
	meta.GroundingSupports = kept
}

// confidence maps to [0.85, 0.95] in steps of 0.01.
func confidence(h uint32, i int) float64 {
	step := (int(h>>4) + i*7) % 11
	return float64(85+step) / 100
}

func queryHash(query string) uint32 {
	f := fnv.New32a()
	_, _ = f.Write([]byte(strings.ToLower(query)))
	return f.Sum32()
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
