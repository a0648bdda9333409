package driver

import (
	"strings"

	"github.com/laulauland/mill/internal/errkind"
)

// ClaudeCodec decodes the Claude CLI stream-json dialect. The stream is
// strict: exactly one "result" line; a second is a protocol violation.
type ClaudeCodec struct{}

func (c *ClaudeCodec) Name() string { return "claude" }

func (c *ClaudeCodec) Decode(stdout []byte, in SpawnInput) (*SpawnOutput, error) {
	return decodeLines(stdout, in, &claudeDecoder{})
}

type claudeDecoder struct {
	events     []Event
	sessionRef string
	text       string
	stopReason string
	errMsg     string
	isError    bool
	sawResult  bool
}

func (d *claudeDecoder) retryTerminal() bool { return false }

func (d *claudeDecoder) consume(raw []byte, obj map[string]any) (bool, error) {
	switch stringField(obj, "type") {
	case "system":
		if id := stringField(obj, "session_id"); id != "" {
			d.sessionRef = id
			d.events = append(d.events, Event{
				Type:    EventMilestone,
				Payload: map[string]any{"milestone": "session:start", "sessionRef": id},
			})
		}
		return false, nil

	case "assistant":
		msg := mapField(obj, "message")
		var parts []string
		for _, rawBlock := range sliceField(msg, "content") {
			block, _ := rawBlock.(map[string]any)
			if block == nil {
				continue
			}
			switch stringField(block, "type") {
			case "tool_use":
				d.events = append(d.events, Event{
					Type:    EventToolCall,
					Payload: map[string]any{"toolName": stringField(block, "name")},
				})
			case "text":
				if t, ok := block["text"].(string); ok && t != "" {
					parts = append(parts, t)
				}
			}
		}
		if len(parts) > 0 {
			d.text = strings.Join(parts, "\n")
		}
		return false, nil

	case "result":
		if d.sawResult {
			return false, errkind.New(errkind.Runtime, "claude stream has duplicate result line")
		}
		d.sawResult = true
		if t := stringField(obj, "result"); t != "" {
			d.text = t
		}
		if id := stringField(obj, "session_id"); id != "" {
			d.sessionRef = id
		}
		d.stopReason = stringField(obj, "stop_reason")
		if boolField(obj, "is_error") {
			d.isError = true
			d.errMsg = stringField(obj, "result")
			if d.errMsg == "" {
				d.errMsg = "claude reported an error result"
			}
		}
		return true, nil

	default:
		// User messages and other stream chatter are carried through
		// without normalization.
		return false, nil
	}
}

func (d *claudeDecoder) finish(in SpawnInput) (*SpawnOutput, error) {
	res := SpawnResult{
		Text:       d.text,
		SessionRef: d.sessionRef,
		Agent:      in.Agent,
		Model:      in.Model,
		Driver:     "claude",
		StopReason: d.stopReason,
	}
	if d.isError {
		res.ExitCode = 1
		res.ErrorMessage = d.errMsg
	}
	return &SpawnOutput{Events: d.events, Result: res}, nil
}
