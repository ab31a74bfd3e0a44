package models

import (
	"fmt"
	"strings"

	"geminimock/internal/apierr"
)

var ErrNotFound = fmt.Errorf("model %w", apierr.ErrNotFound)

const (
	MethodGenerateContent       = "generateContent"
	MethodStreamGenerateContent = "streamGenerateContent"
	MethodCountTokens           = "countTokens"
	MethodEmbedContent          = "embedContent"
	MethodBatchEmbedContents    = "batchEmbedContents"

	textEmbeddingDims       = 768
	multimodalEmbeddingDims = 1408
)

// Model is an immutable catalog entry. Project and location are spliced
// into the resource name by FullName, never stored.
type Model struct {
	Name                       string   `json:"name"`
	Version                    string   `json:"version"`
	DisplayName                string   `json:"displayName"`
	Description                string   `json:"description"`
	InputTokenLimit            int      `json:"inputTokenLimit"`
	OutputTokenLimit           int      `json:"outputTokenLimit"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	Temperature                float64  `json:"temperature,omitempty"`
	TopP                       float64  `json:"topP,omitempty"`
	TopK                       int      `json:"topK,omitempty"`

	multimodal bool
}

// ID is the bare model id, e.g. "gemini-2.0-flash".
func (m Model) ID() string {
	return strings.TrimPrefix(m.Name, "models/")
}

func (m Model) IsEmbedding() bool {
	for _, method := range m.SupportedGenerationMethods {
		if method == MethodEmbedContent {
			return true
		}
	}
	return false
}

// Dimensions is the embedding width: 1408 for the multimodal embedding
// model and 768 for everything else.
func (m Model) Dimensions() int {
	if m.multimodal {
		return multimodalEmbeddingDims
	}
	return textEmbeddingDims
}

// FullName returns the cloud-platform resource name. An empty project
// yields the direct-API "models/{id}" form.
func (m Model) FullName(project, location string) string {
	if project == "" {
		return m.Name
	}
	return fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", project, location, m.ID())
}

var (
	generative = []string{MethodGenerateContent, MethodStreamGenerateContent, MethodCountTokens}
	embedding  = []string{MethodEmbedContent, MethodBatchEmbedContents, MethodCountTokens}
)

func generativeModel(id, version, display, desc string, in, out int, temp, topP float64, topK int) Model {
	return Model{
		Name:                       "models/" + id,
		Version:                    version,
		DisplayName:                display,
		Description:                desc,
		InputTokenLimit:            in,
		OutputTokenLimit:           out,
		SupportedGenerationMethods: generative,
		Temperature:                temp,
		TopP:                       topP,
		TopK:                       topK,
	}
}

func embeddingModel(id, version, display, desc string, in int) Model {
	return Model{
		Name:                       "models/" + id,
		Version:                    version,
		DisplayName:                display,
		Description:                desc,
		InputTokenLimit:            in,
		OutputTokenLimit:           1,
		SupportedGenerationMethods: embedding,
	}
}

var catalog = func() []Model {
	multimodal := embeddingModel("multimodalembedding@001", "001", "Multimodal Embedding 001",
		"Embeddings for text, image and video with 1408 dimensions.", 2048)
	multimodal.multimodal = true

	return []Model{
		generativeModel("gemini-2.5-pro", "2.5", "Gemini 2.5 Pro",
			"Most capable thinking model for complex reasoning and coding.", 1048576, 65536, 1, 0.95, 64),
		generativeModel("gemini-2.5-flash", "2.5", "Gemini 2.5 Flash",
			"Fast thinking model with a large context window.", 1048576, 65536, 1, 0.95, 64),
		generativeModel("gemini-2.0-flash", "2.0", "Gemini 2.0 Flash",
			"Next generation features, speed and multimodal generation.", 1048576, 8192, 1, 0.95, 40),
		generativeModel("gemini-2.0-flash-thinking-exp", "2.0", "Gemini 2.0 Flash Thinking Experimental",
			"Experimental model that shows its reasoning.", 1048576, 65536, 0.7, 0.95, 64),
		generativeModel("gemini-1.5-pro", "001", "Gemini 1.5 Pro",
			"Mid-size multimodal model for a wide range of reasoning tasks.", 2097152, 8192, 1, 0.95, 40),
		generativeModel("gemini-1.5-flash", "001", "Gemini 1.5 Flash",
			"Fast and versatile multimodal model.", 1048576, 8192, 1, 0.95, 40),
		generativeModel("gemini-1.0-pro", "001", "Gemini 1.0 Pro",
			"Text-only model for natural language tasks.", 30720, 2048, 0.9, 1, 1),
		generativeModel("gemini-pro", "001", "Gemini Pro",
			"Alias of Gemini 1.0 Pro.", 30720, 2048, 0.9, 1, 1),
		embeddingModel("text-embedding-004", "004", "Text Embedding 004",
			"Text embeddings with 768 dimensions.", 2048),
		embeddingModel("text-embedding-005", "005", "Text Embedding 005",
			"Text embeddings with 768 dimensions.", 2048),
		embeddingModel("textembedding-gecko@003", "003", "Text Embedding Gecko 003",
			"Legacy text embedding model.", 3072),
		embeddingModel("gemini-embedding-001", "001", "Gemini Embedding 001",
			"Gemini text embeddings.", 2048),
		multimodal,
	}
}()

// List returns a copy of the catalog in declaration order.
func List() []Model {
	out := make([]Model, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup resolves a model by bare id or by any of its qualified forms:
// "models/x", "publishers/google/models/x" or a full project path.
func Lookup(name string) (Model, error) {
	id := Normalize(name)
	for _, m := range catalog {
		if m.ID() == id {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Normalize strips resource prefixes and any ":action" suffix.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "/models/"); i >= 0 {
		name = name[i+len("/models/"):]
	}
	name = strings.TrimPrefix(name, "models/")
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[:i]
	}
	return name
}
