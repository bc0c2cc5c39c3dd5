// Package react implements the Reason-Act-Observe loop: it streams a
// model's text, scans it for tool-call envelopes, dispatches them through
// the tool gateway, and feeds the results back as the next turn of
// conversation until the model produces a final answer with no further
// calls.
package react

import (
	"encoding/json"
	"strings"

	"github.com/relaycore/agentcore/pkg/models"
)

const (
	openTag  = "<tool_call>"
	closeTag = "</tool_call>"
)

// ParseResult classifies what ScanEnvelope found in a text buffer.
type ParseResult string

const (
	// ParseOK means a complete, well-formed tool call envelope was found.
	ParseOK ParseResult = "ok"
	// ParseNone means no envelope tag was found in the buffer at all.
	ParseNone ParseResult = "none"
	// ParseIncomplete means an opening tag was found but the closing tag
	// has not arrived yet; the caller should keep buffering.
	ParseIncomplete ParseResult = "incomplete"
	// ParseMalformed means both tags were found but the content between
	// them did not parse as a valid tool call.
	ParseMalformed ParseResult = "malformed"
)

// ScanEnvelope leniently scans text for the first `<tool_call>...</tool_call>`
// envelope. It returns the text before the envelope (to surface to the
// user), the parsed call (if ParseOK), and the remainder of text after the
// envelope's close tag (to keep scanning for further calls).
func ScanEnvelope(text string) (before string, call *models.ToolCall, after string, result ParseResult) {
	openIdx := strings.Index(text, openTag)
	if openIdx == -1 {
		return text, nil, "", ParseNone
	}

	closeIdx := strings.Index(text[openIdx:], closeTag)
	if closeIdx == -1 {
		return text[:openIdx], nil, "", ParseIncomplete
	}
	closeIdx += openIdx

	before = text[:openIdx]
	body := strings.TrimSpace(text[openIdx+len(openTag) : closeIdx])
	after = text[closeIdx+len(closeTag):]

	var raw struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(body), &raw); err != nil || strings.TrimSpace(raw.Name) == "" {
		return before, nil, after, ParseMalformed
	}

	args := raw.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return before, &models.ToolCall{Name: raw.Name, Arguments: args}, after, ParseOK
}

// ScanAllEnvelopes repeatedly scans text, returning every well-formed call
// found and the concatenation of all non-envelope text. A malformed or
// incomplete envelope stops further scanning and its raw text is appended
// to the returned prose so nothing is silently dropped.
func ScanAllEnvelopes(text string) (prose string, calls []models.ToolCall) {
	remaining := text
	var proseBuilder strings.Builder

	for {
		before, call, after, result := ScanEnvelope(remaining)
		proseBuilder.WriteString(before)

		switch result {
		case ParseOK:
			calls = append(calls, *call)
			remaining = after
		case ParseNone:
			return proseBuilder.String(), calls
		case ParseIncomplete, ParseMalformed:
			proseBuilder.WriteString(remaining[len(before):])
			return proseBuilder.String(), calls
		}
	}
}
