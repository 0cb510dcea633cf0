package nodes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/relaygate/relaygate/internal/auth"
)

func TestNormalizeCapabilities(t *testing.T) {
	got := normalizeCapabilities([]string{"FS.", " Camera ", "", "shell"})
	want := []string{"fs", "camera", "shell"}
	if len(got) != len(want) {
		t.Fatalf("normalizeCapabilities = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("normalizeCapabilities[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTokenFromRequest_HeaderThenQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/nodes/ws?token=query-token", nil)
	if got := tokenFromRequest(req); got != "query-token" {
		t.Errorf("tokenFromRequest = %q, want query-token", got)
	}

	req.Header.Set("Authorization", "Bearer header-token")
	if got := tokenFromRequest(req); got != "header-token" {
		t.Errorf("tokenFromRequest = %q, want header-token (header takes priority)", got)
	}
}

func TestWSServer_HandshakeAndToolDispatch(t *testing.T) {
	router := NewRouter(NewMemoryStore(), nil, time.Second, nil)
	nodeAuth := auth.NewNodeAuthenticator(nil, "shared-secret")
	server := NewWSServer(router, nodeAuth, nil, "v-test", nil)

	ts := httptest.NewServer(server)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "?token=shared-secret"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello := NodeHelloFrame(NodeInfo{ID: "node-1", Name: "test-node"}, []string{"fs"})
	if err := writeFrame(ctx, conn, hello); err != nil {
		t.Fatalf("writeFrame(hello): %v", err)
	}

	welcome, err := readFrame(ctx, conn)
	if err != nil {
		t.Fatalf("readFrame(welcome): %v", err)
	}
	if welcome.Type != FrameGatewayWelcome || welcome.GatewayVersion != "v-test" {
		t.Fatalf("welcome = %+v", welcome)
	}

	// Give the server a moment to register the node before dispatching.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if router.Resolve("fs.read_text").Kind == ResolveNode {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if router.Resolve("fs.read_text").Kind != ResolveNode {
		t.Fatal("node capability never registered with router")
	}

	dispatchDone := make(chan struct{})
	var dispatchOK bool
	go func() {
		defer close(dispatchDone)
		dispatchOK, _, _, err = router.DispatchToNode(context.Background(), "node-1", "fs.read_text", nil, "", 2*time.Second)
		if err != nil {
			t.Errorf("DispatchToNode: %v", err)
		}
	}()

	request, err := readFrame(ctx, conn)
	if err != nil {
		t.Fatalf("readFrame(tool_request): %v", err)
	}
	if request.Type != FrameToolRequest || request.Tool != "fs.read_text" {
		t.Fatalf("request = %+v", request)
	}

	response := ToolResponseFrame(request.RequestID, true, json.RawMessage(`{"content":"hi"}`), nil)
	if err := writeFrame(ctx, conn, response); err != nil {
		t.Fatalf("writeFrame(response): %v", err)
	}

	<-dispatchDone
	if !dispatchOK {
		t.Error("expected dispatch to report ok=true")
	}
}

func TestWSServer_RejectsBadToken(t *testing.T) {
	router := NewRouter(NewMemoryStore(), nil, time.Second, nil)
	nodeAuth := auth.NewNodeAuthenticator(nil, "shared-secret")
	server := NewWSServer(router, nodeAuth, nil, "v-test", nil)

	ts := httptest.NewServer(server)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "?token=wrong"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello := NodeHelloFrame(NodeInfo{ID: "node-1", Name: "test-node"}, []string{"fs"})
	if err := writeFrame(ctx, conn, hello); err != nil {
		t.Fatalf("writeFrame(hello): %v", err)
	}

	if _, err := readFrame(ctx, conn); err == nil {
		t.Error("expected connection to be closed after bad token")
	}
}
