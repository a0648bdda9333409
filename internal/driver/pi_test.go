package driver

import (
	"path/filepath"
	"strings"
	"testing"
)

func piInput() SpawnInput {
	return SpawnInput{
		RunID:        "run_20240101t000000_abcdefabcdefabcd",
		SpawnID:      "spawn_7",
		Agent:        "coder",
		Prompt:       "do it",
		Model:        "pi/large",
		RunDirectory: "/tmp/run_x",
	}
}

func TestPIDecodeBasicStream(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"session","id":"pi-sess"}`,
		`{"type":"agent_start"}`,
		`{"type":"tool_execution_start","toolName":"bash"}`,
		`{"type":"message_end","message":{"role":"assistant","content":[{"type":"text","text":"done"}],"stopReason":"stop"}}`,
	}, "\n")

	out, err := (&PICodec{}).Decode([]byte(stream), piInput())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Result.Text != "done" {
		t.Errorf("text = %q, want %q", out.Result.Text, "done")
	}
	want := filepath.Join("/tmp/run_x", "sessions", "spawn_7.jsonl")
	if out.Result.SessionRef != want {
		t.Errorf("sessionRef = %q, want %q", out.Result.SessionRef, want)
	}
	if out.Result.ExitCode != 0 {
		t.Errorf("exitCode = %d", out.Result.ExitCode)
	}

	var toolCalls int
	for _, ev := range out.Events {
		if ev.Type == EventToolCall {
			toolCalls++
			if ev.Payload["toolName"] != "bash" {
				t.Errorf("toolName = %v", ev.Payload["toolName"])
			}
		}
	}
	if toolCalls != 1 {
		t.Errorf("toolCalls = %d, want 1", toolCalls)
	}
}

func TestPIDecodeRetryReplacesTerminal(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"session","id":"pi-sess"}`,
		`{"type":"agent_end","messages":[{"role":"assistant","content":[{"type":"text","text":"first"}]}]}`,
		`{"type":"agent_end","messages":[{"role":"assistant","content":[{"type":"text","text":"second"}]}]}`,
	}, "\n")

	out, err := (&PICodec{}).Decode([]byte(stream), piInput())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Result.Text != "second" {
		t.Errorf("text = %q, want %q (later terminal wins)", out.Result.Text, "second")
	}
}

func TestPIDecodeNonTerminalAfterTerminalRejected(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"agent_end","messages":[{"role":"assistant","content":[{"type":"text","text":"x"}]}]}`,
		`{"type":"tool_execution_start","toolName":"bash"}`,
	}, "\n")

	if _, err := (&PICodec{}).Decode([]byte(stream), piInput()); err == nil {
		t.Fatal("expected non-terminal-after-terminal error")
	}
}

func TestPIDecodeAutoRetryMilestone(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"agent_start"}`,
		`{"type":"auto_retry_start"}`,
		`{"type":"message_end","message":{"role":"assistant","content":"plain text"}}`,
	}, "\n")

	out, err := (&PICodec{}).Decode([]byte(stream), piInput())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var milestones int
	for _, ev := range out.Events {
		if ev.Type == EventMilestone {
			milestones++
		}
	}
	if milestones != 2 {
		t.Errorf("milestones = %d, want 2", milestones)
	}
	if out.Result.Text != "plain text" {
		t.Errorf("text = %q", out.Result.Text)
	}
}

func TestPIDecodeErrorStopReason(t *testing.T) {
	stream := `{"type":"message_end","message":{"role":"assistant","content":[{"type":"text","text":""}]},"stopReason":"error","errorMessage":"backend exploded"}`

	out, err := (&PICodec{}).Decode([]byte(stream), piInput())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Result.ExitCode != 1 {
		t.Errorf("exitCode = %d, want 1", out.Result.ExitCode)
	}
	if out.Result.StopReason != "error" {
		t.Errorf("stopReason = %q", out.Result.StopReason)
	}
	if out.Result.ErrorMessage != "backend exploded" {
		t.Errorf("errorMessage = %q", out.Result.ErrorMessage)
	}
}

func TestPIDecodeMissingTerminal(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"session","id":"s"}`,
		`{"type":"agent_start"}`,
	}, "\n")

	if _, err := (&PICodec{}).Decode([]byte(stream), piInput()); err == nil {
		t.Fatal("expected missing-terminal error")
	}
}
