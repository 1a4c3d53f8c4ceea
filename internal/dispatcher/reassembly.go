package dispatcher

import (
	"bytes"
	"encoding/json"
	"strings"
)

// lineReassembler accumulates subprocess stdout lines into complete JSON
// records, tolerating partial records split across lines (spec.md §4.3):
// each line is appended to a buffer; if the buffer parses as JSON the event
// fires and the buffer clears; otherwise, if brace/bracket depth suggests an
// incomplete record, the buffer is retained for the next line; otherwise the
// line is emitted as raw text and the buffer is cleared.
type lineReassembler struct {
	buf bytes.Buffer
}

// reassembledEvent is either a decoded JSON record or raw text emitted when
// a line could not be interpreted as part of a JSON record.
type reassembledEvent struct {
	JSON    map[string]any
	RawText string
	IsRaw   bool
}

func (r *lineReassembler) Feed(line []byte) *reassembledEvent {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil
	}
	if r.buf.Len() > 0 {
		r.buf.WriteByte('\n')
	}
	r.buf.Write(trimmed)

	candidate := r.buf.Bytes()
	var decoded map[string]any
	if err := json.Unmarshal(candidate, &decoded); err == nil {
		r.buf.Reset()
		return &reassembledEvent{JSON: decoded}
	}

	if looksIncomplete(candidate) {
		return nil
	}

	raw := string(candidate)
	r.buf.Reset()
	return &reassembledEvent{RawText: raw, IsRaw: true}
}

// looksIncomplete reports whether buf's brace/bracket nesting suggests a
// JSON record split across multiple stdout lines (heuristic, not a parser).
func looksIncomplete(buf []byte) bool {
	depth := 0
	inString := false
	escaped := false
	sawOpen := false
	for _, b := range buf {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
			sawOpen = true
		case '}', ']':
			depth--
		}
	}
	return sawOpen && (depth > 0 || inString)
}

// extractText probes a decoded event, in order, for "content" (string or
// list of {text}), "delta" (string), "message" (string or {content})
// (spec.md §4.3).
func extractText(ev map[string]any) (string, bool) {
	if v, ok := ev["content"]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
		if list, ok := v.([]any); ok {
			var b strings.Builder
			for _, item := range list {
				if m, ok := item.(map[string]any); ok {
					if t, ok := m["text"].(string); ok {
						b.WriteString(t)
					}
				}
			}
			if b.Len() > 0 {
				return b.String(), true
			}
		}
	}
	if v, ok := ev["delta"]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	if v, ok := ev["message"]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
		if m, ok := v.(map[string]any); ok {
			if c, ok := m["content"].(string); ok {
				return c, true
			}
		}
	}
	return "", false
}
