package driver

import (
	"path/filepath"
	"strings"
)

// PICodec decodes the PI agent dialect. PI retries internally, so a
// later terminal line (message_end / agent_end) replaces an earlier one.
type PICodec struct{}

func (c *PICodec) Name() string { return "pi" }

func (c *PICodec) Decode(stdout []byte, in SpawnInput) (*SpawnOutput, error) {
	return decodeLines(stdout, in, &piDecoder{input: in})
}

type piDecoder struct {
	input      SpawnInput
	events     []Event
	sessionRef string
	terminal   map[string]any
}

func (d *piDecoder) retryTerminal() bool { return true }

func (d *piDecoder) consume(raw []byte, obj map[string]any) (bool, error) {
	switch stringField(obj, "type") {
	case "session":
		// PI session transcripts land in the run directory by
		// convention; the session id itself is not a resumable handle.
		d.sessionRef = piSessionRef(d.input)
		d.events = append(d.events, Event{
			Type:    EventMilestone,
			Payload: map[string]any{"milestone": "session:start", "sessionRef": d.sessionRef, "sessionId": stringField(obj, "id")},
		})
		return false, nil

	case "agent_start", "auto_retry_start":
		d.events = append(d.events, Event{
			Type:    EventMilestone,
			Payload: map[string]any{"milestone": stringField(obj, "type")},
		})
		return false, nil

	case "tool_execution_start":
		d.events = append(d.events, Event{
			Type:    EventToolCall,
			Payload: map[string]any{"toolName": stringField(obj, "toolName")},
		})
		return false, nil

	case "message_end", "agent_end":
		// Later terminals replace earlier ones (auto-retry).
		d.terminal = obj
		return true, nil

	default:
		return false, nil
	}
}

func (d *piDecoder) finish(in SpawnInput) (*SpawnOutput, error) {
	res := SpawnResult{
		SessionRef: d.sessionRef,
		Agent:      in.Agent,
		Model:      in.Model,
		Driver:     "pi",
	}
	res.Text = piTerminalText(d.terminal)
	res.StopReason = stringField(d.terminal, "stopReason")
	res.ErrorMessage = stringField(d.terminal, "errorMessage")
	if res.StopReason == "error" {
		res.ExitCode = 1
		if res.ErrorMessage == "" {
			res.ErrorMessage = "pi agent stopped with an error"
		}
	}
	return &SpawnOutput{Events: d.events, Result: res}, nil
}

// piTerminalText extracts the assistant text from either terminal
// shape: message_end carries one message, agent_end a message list.
func piTerminalText(terminal map[string]any) string {
	if terminal == nil {
		return ""
	}
	if msg := mapField(terminal, "message"); msg != nil {
		return piMessageText(msg)
	}
	msgs := sliceField(terminal, "messages")
	for i := len(msgs) - 1; i >= 0; i-- {
		msg, _ := msgs[i].(map[string]any)
		if msg == nil {
			continue
		}
		if stringField(msg, "role") != "assistant" {
			continue
		}
		if t := piMessageText(msg); t != "" {
			return t
		}
	}
	return ""
}

func piMessageText(msg map[string]any) string {
	if s, ok := msg["content"].(string); ok {
		return s
	}
	var parts []string
	for _, rawBlock := range sliceField(msg, "content") {
		block, _ := rawBlock.(map[string]any)
		if block == nil {
			continue
		}
		if stringField(block, "type") != "text" {
			continue
		}
		if t, ok := block["text"].(string); ok && t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

func piSessionRef(in SpawnInput) string {
	if strings.TrimSpace(in.RunDirectory) == "" {
		return ""
	}
	return filepath.Join(in.RunDirectory, "sessions", in.SpawnID+".jsonl")
}
