package driver

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/laulauland/mill/internal/errkind"
)

// lineDecoder is the per-dialect state machine fed by decodeLines. A
// decoder reports whether a line was terminal; retry-tolerant dialects
// additionally report that a repeated terminal replaces the previous one.
type lineDecoder interface {
	// consume processes one parsed line. It returns terminal=true when
	// the line is a terminal line for the dialect.
	consume(raw []byte, obj map[string]any) (terminal bool, err error)
	// retryTerminal reports whether a second terminal line is a legal
	// replacement rather than a protocol violation.
	retryTerminal() bool
	// finish produces the decoded output after the stream ends.
	finish(in SpawnInput) (*SpawnOutput, error)
}

// decodeLines enforces the rules every dialect shares:
//   - every non-empty line must parse to a JSON object,
//   - exactly one terminal line (replacement terminals allowed only for
//     retry-tolerant dialects),
//   - nothing but replacement terminals after the terminal.
func decodeLines(stdout []byte, in SpawnInput, dec lineDecoder) (*SpawnOutput, error) {
	var raw []string
	sawTerminal := false

	for _, line := range bytes.Split(stdout, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		raw = append(raw, string(line))

		var obj map[string]any
		if err := json.Unmarshal(line, &obj); err != nil {
			return nil, errkind.Wrap(errkind.Runtime, err, "driver output line is not a JSON object: %s", truncateLine(line))
		}

		terminal, err := dec.consume(line, obj)
		if err != nil {
			return nil, err
		}
		if sawTerminal {
			if !terminal || !dec.retryTerminal() {
				return nil, errkind.New(errkind.Runtime, "non-terminal line after terminal: %s", truncateLine(line))
			}
			continue
		}
		if terminal {
			sawTerminal = true
		}
	}

	if !sawTerminal {
		return nil, errkind.New(errkind.Runtime, "driver stream missing terminal line")
	}
	out, err := dec.finish(in)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return out, nil
}

func truncateLine(line []byte) string {
	const max = 160
	s := string(line)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func stringField(obj map[string]any, key string) string {
	v, ok := obj[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

func boolField(obj map[string]any, key string) bool {
	v, ok := obj[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func mapField(obj map[string]any, key string) map[string]any {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

func sliceField(obj map[string]any, key string) []any {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil
	}
	s, _ := v.([]any)
	return s
}
