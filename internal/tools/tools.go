// Package tools defines the tools the model may call and decodes its requests
// into typed calls.
package tools

import (
	"errors"
	"fmt"
	"strings"

	"basegraph.app/parley/common/llm"
)

type Kind string

const (
	KindWebSearch   Kind = "web_search"
	KindFetchURL    Kind = "fetch_url"
	KindReadSource  Kind = "read_source"
	KindReadHistory Kind = "read_history"
)

// AllKinds lists every tool in the order they are offered to the model.
var AllKinds = []Kind{KindWebSearch, KindFetchURL, KindReadSource, KindReadHistory}

const (
	DefaultSearchResults = 5
	MaxSearchResults     = 10
	DefaultHistoryLimit  = 25
	MaxHistoryLimit      = 100
)

var ErrUnknownTool = errors.New("unknown tool")

// WebSearchInput for searching the web.
type WebSearchInput struct {
	Query string `json:"query" jsonschema:"required,description=Search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Number of results (default 5, max 10)"`
}

// FetchURLInput for reading a web page.
type FetchURLInput struct {
	URL string `json:"url" jsonschema:"required,description=Absolute http(s) URL to fetch"`
}

// ReadSourceInput for reading a file or directory under the source root.
type ReadSourceInput struct {
	Path   string `json:"path" jsonschema:"required,description=File or directory path relative to the source root. Use an empty string or '.' for the root."`
	Offset int    `json:"offset,omitempty" jsonschema:"description=Line number to start reading from (1-indexed)"`
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Number of lines to read (default 200, max 500)"`
}

// ReadHistoryInput for re-reading older channel messages.
type ReadHistoryInput struct {
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Number of messages to read (default 25, max 100)"`
	Before string `json:"before,omitempty" jsonschema:"description=Only messages older than this message id"`
}

// Call is a decoded tool call. Exactly one input field is set, matching Kind.
type Call struct {
	ID   string
	Kind Kind

	WebSearch   *WebSearchInput
	FetchURL    *FetchURLInput
	ReadSource  *ReadSourceInput
	ReadHistory *ReadHistoryInput
}

// Decode validates a raw tool call into a Call.
func Decode(tc llm.ToolCall) (Call, error) {
	call := Call{ID: tc.ID, Kind: Kind(tc.Name)}

	switch call.Kind {
	case KindWebSearch:
		in, err := llm.ParseToolArguments[WebSearchInput](tc.Arguments)
		if err != nil {
			return call, err
		}
		in.Query = strings.TrimSpace(in.Query)
		if in.Query == "" {
			return call, fmt.Errorf("query is required")
		}
		in.Limit = clamp(in.Limit, DefaultSearchResults, MaxSearchResults)
		call.WebSearch = &in

	case KindFetchURL:
		in, err := llm.ParseToolArguments[FetchURLInput](tc.Arguments)
		if err != nil {
			return call, err
		}
		in.URL = strings.TrimSpace(in.URL)
		if !strings.HasPrefix(in.URL, "http://") && !strings.HasPrefix(in.URL, "https://") {
			return call, fmt.Errorf("url must start with http:// or https://")
		}
		call.FetchURL = &in

	case KindReadSource:
		in, err := llm.ParseToolArguments[ReadSourceInput](tc.Arguments)
		if err != nil {
			return call, err
		}
		call.ReadSource = &in

	case KindReadHistory:
		in, err := llm.ParseToolArguments[ReadHistoryInput](tc.Arguments)
		if err != nil {
			return call, err
		}
		in.Limit = clamp(in.Limit, DefaultHistoryLimit, MaxHistoryLimit)
		call.ReadHistory = &in

	default:
		return call, fmt.Errorf("%w: %s", ErrUnknownTool, tc.Name)
	}

	return call, nil
}

func clamp(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

// Definitions returns tool definitions for the given kinds, in AllKinds order.
func Definitions(enabled ...Kind) []llm.Tool {
	on := make(map[Kind]bool, len(enabled))
	for _, k := range enabled {
		on[k] = true
	}

	var defs []llm.Tool
	for _, k := range AllKinds {
		if on[k] {
			defs = append(defs, definition(k))
		}
	}
	return defs
}

func definition(k Kind) llm.Tool {
	switch k {
	case KindWebSearch:
		return llm.Tool{
			Name: string(k),
			Description: `Search the web. Returns titles, snippets and URLs.

Use for current events, facts you are unsure of, or documentation lookups.
Follow up with fetch_url to read a promising result in full.`,
			Parameters: llm.GenerateSchemaFrom(WebSearchInput{}),
		}
	case KindFetchURL:
		return llm.Tool{
			Name: string(k),
			Description: `Fetch a web page and return its main text (truncated to 5000 characters).

Use when a user shares a link or a search result needs reading.`,
			Parameters: llm.GenerateSchemaFrom(FetchURLInput{}),
		}
	case KindReadSource:
		return llm.Tool{
			Name: string(k),
			Description: `Read a file from the project source tree with line numbers, or list a directory.

Examples:
  read_source(path=".")                              # List the root
  read_source(path="internal/brain/responder.go")    # First 200 lines
  read_source(path="README.md", offset=50, limit=100) # Lines 50-149`,
			Parameters: llm.GenerateSchemaFrom(ReadSourceInput{}),
		}
	case KindReadHistory:
		return llm.Tool{
			Name: string(k),
			Description: `Re-read older messages from this channel, oldest first.

Use when the conversation refers to something said before the visible context.`,
			Parameters: llm.GenerateSchemaFrom(ReadHistoryInput{}),
		}
	default:
		panic(fmt.Sprintf("tools: no definition for %q", k))
	}
}
