package gemini

import (
	"encoding/json"
	"fmt"
)

type ToolKind int

const (
	ToolUnknown ToolKind = iota
	ToolFunctionDeclarations
	ToolCodeExecution
	ToolGoogleSearch
)

func (k ToolKind) String() string {
	switch k {
	case ToolFunctionDeclarations:
		return "function_declarations"
	case ToolCodeExecution:
		return "code_execution"
	case ToolGoogleSearch:
		return "google_search"
	default:
		return "unknown"
	}
}

type FunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Tool is resolved to a single Kind when decoded. When one wire object
// carries several tool fields, search wins over code execution, which wins
// over function declarations.
type Tool struct {
	Kind                 ToolKind
	FunctionDeclarations []FunctionDeclaration
}

type wireTool struct {
	FunctionDeclarations  []FunctionDeclaration `json:"functionDeclarations,omitempty"`
	CodeExecution         *json.RawMessage      `json:"codeExecution,omitempty"`
	GoogleSearch          *json.RawMessage      `json:"googleSearch,omitempty"`
	GoogleSearchRetrieval *json.RawMessage      `json:"googleSearchRetrieval,omitempty"`
}

func (t *Tool) UnmarshalJSON(b []byte) error {
	var w wireTool
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("decode tool: %w", err)
	}
	switch {
	case w.GoogleSearch != nil || w.GoogleSearchRetrieval != nil:
		*t = Tool{Kind: ToolGoogleSearch}
	case w.CodeExecution != nil:
		*t = Tool{Kind: ToolCodeExecution}
	case len(w.FunctionDeclarations) > 0:
		*t = Tool{Kind: ToolFunctionDeclarations, FunctionDeclarations: w.FunctionDeclarations}
	default:
		*t = Tool{Kind: ToolUnknown}
	}
	return nil
}

func (t Tool) MarshalJSON() ([]byte, error) {
	empty := json.RawMessage("{}")
	var w wireTool
	switch t.Kind {
	case ToolGoogleSearch:
		w.GoogleSearch = &empty
	case ToolCodeExecution:
		w.CodeExecution = &empty
	case ToolFunctionDeclarations:
		w.FunctionDeclarations = t.FunctionDeclarations
	}
	return json.Marshal(w)
}
