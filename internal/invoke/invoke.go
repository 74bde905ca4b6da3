// Package invoke implements spec §9's inline tool-use extractor: a
// hand-written, explicit-grammar scanner for the inline XML-like spans
// some providers emit as plain text instead of native structured tool-use
// items — balanced `<invoke name="…"><parameter name="…">…</parameter>
// …</invoke>` blocks and `<thinking>…</thinking>` spans.
//
// No single source file parses this exact grammar (DESIGN.md records this
// as the one component with no line-for-line source to imitate); its style
// — a small explicit scanner, no regexp — follows the general preference
// for plain string operations over regex seen in
// internal/agent/approval.go's matchesPattern, and spec §9 explicitly
// calls for replacing the source's regex implementation with an explicit
// grammar that rejects unbalanced spans by re-surfacing the text.
package invoke

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Param is one <parameter name="…">value</parameter> pair, in emission
// order (order matters for the round-trip law: Serialize(Extract(s)) must
// reproduce the same Param order it was given).
type Param struct {
	Name  string
	Value string
}

// ToolUse is one extracted <invoke> block.
type ToolUse struct {
	ToolName string
	Params   []Param
	// Input is Params folded into a JSON object, ready for a tool_use
	// content block's Input field.
	Input json.RawMessage
}

// Result is the output of Extract: the visible text with every balanced
// <invoke>/<thinking> span removed, plus the extracted spans themselves in
// the order they appeared.
type Result struct {
	PlainText string
	ToolUses  []ToolUse
	Thinking  []string
}

// SplitComplete splits streamed text into a prefix that is safe to run
// through Extract now and a holdback suffix that might still grow into a
// balanced <invoke>/<thinking> span with more text. Callers accumulating
// provider deltas should sanitize only the safe prefix and keep holdback
// buffered until the next delta arrives, rather than running Extract on
// every partial delta — a span split across chunk boundaries would
// otherwise look unbalanced on an early delta and be re-surfaced as plain
// text before its closing tag ever showed up.
func SplitComplete(text string) (safe, holdback string) {
	i := 0
	for i < len(text) {
		ltIdx := strings.IndexByte(text[i:], '<')
		if ltIdx < 0 {
			return text, ""
		}
		start := i + ltIdx
		rest := text[start:]

		switch {
		case strings.HasPrefix(rest, "<invoke"):
			if end := indexAfterClose(rest, "</invoke>"); end >= 0 {
				i = start + end
				continue
			}
			return text[:start], text[start:]
		case strings.HasPrefix(rest, "<thinking"):
			if end := indexAfterClose(rest, "</thinking>"); end >= 0 {
				i = start + end
				continue
			}
			return text[:start], text[start:]
		case isProperPrefix(rest, "<invoke"), isProperPrefix(rest, "<thinking"):
			// The buffer ends mid tag-name (e.g. "<inv"); more text could
			// still complete it into an opener.
			return text[:start], text[start:]
		default:
			i = start + 1
		}
	}
	return text, ""
}

// indexAfterClose returns the index just past closeTag's first occurrence
// in s, or -1 if closeTag does not (yet) appear.
func indexAfterClose(s, closeTag string) int {
	idx := strings.Index(s, closeTag)
	if idx < 0 {
		return -1
	}
	return idx + len(closeTag)
}

// isProperPrefix reports whether s is a non-empty, strictly shorter prefix
// of full (s could still grow into full with more streamed text).
func isProperPrefix(s, full string) bool {
	return len(s) < len(full) && strings.HasPrefix(full, s)
}

// Extract scans text for balanced <invoke>...</invoke> and
// <thinking>...</thinking> spans. An opening tag with no matching close
// is unbalanced: per spec §9 it is rejected and re-surfaced verbatim in
// PlainText rather than silently dropped or guessed-closed.
func Extract(text string) Result {
	var res Result
	var plain strings.Builder

	i := 0
	for i < len(text) {
		nextInvoke := strings.Index(text[i:], "<invoke")
		nextThinking := strings.Index(text[i:], "<thinking")

		if nextInvoke < 0 && nextThinking < 0 {
			plain.WriteString(text[i:])
			break
		}

		var tagStart int
		isInvoke := nextInvoke >= 0 && (nextThinking < 0 || nextInvoke < nextThinking)
		if isInvoke {
			tagStart = i + nextInvoke
		} else {
			tagStart = i + nextThinking
		}

		plain.WriteString(text[i:tagStart])

		if isInvoke {
			call, consumed, ok := parseInvoke(text[tagStart:])
			if !ok {
				// Unbalanced: re-surface the opening tag literally and
				// keep scanning just past it so we don't loop forever.
				plain.WriteString("<invoke")
				i = tagStart + len("<invoke")
				continue
			}
			res.ToolUses = append(res.ToolUses, call)
			i = tagStart + consumed
			continue
		}

		thinking, consumed, ok := parseThinking(text[tagStart:])
		if !ok {
			plain.WriteString("<thinking")
			i = tagStart + len("<thinking")
			continue
		}
		res.Thinking = append(res.Thinking, thinking)
		i = tagStart + consumed
	}

	res.PlainText = plain.String()
	return res
}

// parseInvoke parses one <invoke name="...">...</invoke> block starting
// at s[0:]. Returns the number of bytes consumed from s and false if the
// block is unbalanced (no matching </invoke>) or the opening tag is
// malformed.
func parseInvoke(s string) (ToolUse, int, bool) {
	openEnd := strings.Index(s, ">")
	if openEnd < 0 || !strings.HasPrefix(s, "<invoke") {
		return ToolUse{}, 0, false
	}
	name, ok := extractAttr(s[:openEnd], "name")
	if !ok {
		return ToolUse{}, 0, false
	}

	closeTag := "</invoke>"
	closeIdx := strings.Index(s[openEnd+1:], closeTag)
	if closeIdx < 0 {
		return ToolUse{}, 0, false
	}
	body := s[openEnd+1 : openEnd+1+closeIdx]
	consumed := openEnd + 1 + closeIdx + len(closeTag)

	params, ok := parseParams(body)
	if !ok {
		return ToolUse{}, 0, false
	}

	obj := make(map[string]string, len(params))
	for _, p := range params {
		obj[p.Name] = p.Value
	}
	input, err := json.Marshal(obj)
	if err != nil {
		input = json.RawMessage("{}")
	}

	return ToolUse{ToolName: name, Params: params, Input: input}, consumed, true
}

// parseParams scans body for balanced <parameter name="...">...</parameter>
// blocks in order. Any text between/around them is ignored (invoke bodies
// carry only parameter children per the grammar); an unbalanced parameter
// tag fails the whole invoke block so it is rejected uniformly.
func parseParams(body string) ([]Param, bool) {
	var params []Param
	i := 0
	for i < len(body) {
		start := strings.Index(body[i:], "<parameter")
		if start < 0 {
			break
		}
		start += i
		openEnd := strings.Index(body[start:], ">")
		if openEnd < 0 {
			return nil, false
		}
		openEnd += start
		name, ok := extractAttr(body[start:openEnd], "name")
		if !ok {
			return nil, false
		}
		closeTag := "</parameter>"
		closeIdx := strings.Index(body[openEnd+1:], closeTag)
		if closeIdx < 0 {
			return nil, false
		}
		value := body[openEnd+1 : openEnd+1+closeIdx]
		params = append(params, Param{Name: name, Value: value})
		i = openEnd + 1 + closeIdx + len(closeTag)
	}
	return params, true
}

// parseThinking parses one <thinking>...</thinking> span.
func parseThinking(s string) (string, int, bool) {
	openEnd := strings.Index(s, ">")
	if openEnd < 0 || !strings.HasPrefix(s, "<thinking") {
		return "", 0, false
	}
	closeTag := "</thinking>"
	closeIdx := strings.Index(s[openEnd+1:], closeTag)
	if closeIdx < 0 {
		return "", 0, false
	}
	text := s[openEnd+1 : openEnd+1+closeIdx]
	consumed := openEnd + 1 + closeIdx + len(closeTag)
	return text, consumed, true
}

// extractAttr pulls name="value" out of an opening tag's attribute
// section (everything between "<tagname" and the closing ">").
func extractAttr(openTag, attr string) (string, bool) {
	marker := attr + "=\""
	idx := strings.Index(openTag, marker)
	if idx < 0 {
		return "", false
	}
	rest := openTag[idx+len(marker):]
	end := strings.Index(rest, "\"")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// Serialize renders a ToolUse back into its canonical inline form, used
// by the round-trip law: Extract(Serialize(tu)).ToolUses == []ToolUse{tu}.
func Serialize(tu ToolUse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<invoke name=%q>", tu.ToolName)
	for _, p := range tu.Params {
		fmt.Fprintf(&b, "<parameter name=%q>%s</parameter>", p.Name, p.Value)
	}
	b.WriteString("</invoke>")
	return b.String()
}

// SerializeThinking renders a thinking span back into its canonical
// inline form.
func SerializeThinking(text string) string {
	return "<thinking>" + text + "</thinking>"
}
