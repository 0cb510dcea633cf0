package nodes

import (
	"encoding/json"
	"testing"
)

func TestFrame_ToolRequestRoundTrip(t *testing.T) {
	args := json.RawMessage(`{"path":"/etc/hosts"}`)
	original := ToolRequestFrame("req-1", "fs.read_text", args, "session-a")

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Frame
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.Type != FrameToolRequest {
		t.Errorf("Type = %v, want %v", decoded.Type, FrameToolRequest)
	}
	if decoded.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want req-1", decoded.RequestID)
	}
	if decoded.Tool != "fs.read_text" {
		t.Errorf("Tool = %q, want fs.read_text", decoded.Tool)
	}
	if decoded.SessionKey != "session-a" {
		t.Errorf("SessionKey = %q, want session-a", decoded.SessionKey)
	}
	if string(decoded.Args) != string(args) {
		t.Errorf("Args = %s, want %s", decoded.Args, args)
	}
}

func TestFrame_ToolResponseWithError(t *testing.T) {
	original := ToolResponseFrame("req-2", false, nil, &ToolError{Kind: "timeout", Message: "node took too long"})

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Frame
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.OK {
		t.Error("OK should be false")
	}
	if decoded.Error == nil || decoded.Error.Kind != "timeout" {
		t.Fatalf("Error = %+v, want kind=timeout", decoded.Error)
	}
}

func TestNodeHelloFrame(t *testing.T) {
	info := NodeInfo{ID: "n1", Name: "laptop", NodeType: "desktop", Version: "1.0.0"}
	frame := NodeHelloFrame(info, []string{"fs", "camera"})

	if frame.Type != FrameNodeHello {
		t.Errorf("Type = %v, want %v", frame.Type, FrameNodeHello)
	}
	if frame.Node == nil || frame.Node.ID != "n1" {
		t.Fatalf("Node = %+v", frame.Node)
	}
	if len(frame.Capabilities) != 2 {
		t.Errorf("Capabilities = %v, want 2 entries", frame.Capabilities)
	}
}

func TestPingPongFrames(t *testing.T) {
	ping := PingFrame(1000)
	if ping.Type != FramePing || ping.Timestamp != 1000 {
		t.Errorf("PingFrame = %+v", ping)
	}
	pong := PongFrame(1000)
	if pong.Type != FramePong || pong.Timestamp != 1000 {
		t.Errorf("PongFrame = %+v", pong)
	}
}
