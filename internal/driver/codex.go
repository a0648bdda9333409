package driver

// CodexCodec decodes the Codex CLI JSON event dialect.
type CodexCodec struct{}

func (c *CodexCodec) Name() string { return "codex" }

func (c *CodexCodec) Decode(stdout []byte, in SpawnInput) (*SpawnOutput, error) {
	return decodeLines(stdout, in, &codexDecoder{})
}

type codexDecoder struct {
	events     []Event
	sessionRef string
	text       string
}

func (d *codexDecoder) retryTerminal() bool { return false }

func (d *codexDecoder) consume(raw []byte, obj map[string]any) (bool, error) {
	switch stringField(obj, "type") {
	case "thread.started":
		if id := stringField(obj, "thread_id"); id != "" {
			d.sessionRef = id
			d.events = append(d.events, Event{
				Type:    EventMilestone,
				Payload: map[string]any{"milestone": "session:start", "sessionRef": id},
			})
		}
		return false, nil

	case "item.completed":
		item := mapField(obj, "item")
		switch stringField(item, "type") {
		case "command_execution":
			d.events = append(d.events, Event{
				Type:    EventToolCall,
				Payload: map[string]any{"toolName": stringField(item, "command")},
			})
		case "agent_message":
			if t := stringField(item, "text"); t != "" {
				d.text = t
			}
		}
		return false, nil

	case "turn.completed":
		return true, nil

	default:
		return false, nil
	}
}

func (d *codexDecoder) finish(in SpawnInput) (*SpawnOutput, error) {
	return &SpawnOutput{
		Events: d.events,
		Result: SpawnResult{
			Text:       d.text,
			SessionRef: d.sessionRef,
			Agent:      in.Agent,
			Model:      in.Model,
			Driver:     "codex",
		},
	}, nil
}
