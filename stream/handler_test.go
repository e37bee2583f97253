package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"faceforge/core"
	"faceforge/protocol"
)

func newStreamServer(t *testing.T, engine *fakeEngine) (*httptest.Server, *Registry) {
	t.Helper()
	registry := NewRegistry(engine, 85, core.GetLogger(), nil)
	handler := NewHandler(registry, core.GetLogger())
	srv := httptest.NewServer(http.HandlerFunc(handler.ServeStream))
	t.Cleanup(srv.Close)
	return srv, registry
}

func dialStream(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial stream endpoint: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readJSONReply(t *testing.T, conn *websocket.Conn, out interface{}) {
	t.Helper()
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read reply: %v", err)
	}
	if messageType != websocket.TextMessage {
		t.Fatalf("Expected text reply, got message type %d", messageType)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("Failed to parse reply %q: %v", data, err)
	}
}

func TestStreamSessionLifecycle(t *testing.T) {
	engine := &fakeEngine{findFace: true}
	srv, registry := newStreamServer(t, engine)
	conn := dialStream(t, srv, "lifecycle-test")

	// Wait for the server side to register the session.
	waitFor(t, func() bool { return registry.Count() == 1 })

	frame := testJPEG(t)

	// Set the reference face.
	faceMsg := append([]byte("FACE"), frame...)
	if err := conn.WriteMessage(websocket.BinaryMessage, faceMsg); err != nil {
		t.Fatalf("Failed to send face message: %v", err)
	}
	var faceReply protocol.FaceSetReply
	readJSONReply(t, conn, &faceReply)
	if faceReply.Type != protocol.MsgFaceSet || !faceReply.Success {
		t.Fatalf("Expected successful face_set reply, got %+v", faceReply)
	}

	// Process a frame; the reply is binary.
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame reply: %v", err)
	}
	if messageType != websocket.BinaryMessage {
		t.Fatalf("Expected binary frame reply, got message type %d", messageType)
	}
	if len(data) == 0 {
		t.Fatal("Expected non-empty processed frame")
	}

	// Stats reflect the processed frame and the reference face.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"stats"}`)); err != nil {
		t.Fatalf("Failed to send stats command: %v", err)
	}
	var statsReply protocol.StatsReply
	readJSONReply(t, conn, &statsReply)
	if statsReply.Type != protocol.MsgStats {
		t.Errorf("Expected stats reply type, got %q", statsReply.Type)
	}
	if statsReply.FramesProcessed != 1 {
		t.Errorf("Expected 1 frame processed, got %d", statsReply.FramesProcessed)
	}
	if !statsReply.HasTargetFace {
		t.Error("Expected has_target_face true")
	}

	// Malformed JSON is ignored; the following ping still gets its pong,
	// proving the connection survived and replies stay ordered.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)); err != nil {
		t.Fatalf("Failed to send malformed text: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"ping"}`)); err != nil {
		t.Fatalf("Failed to send ping: %v", err)
	}
	var pong protocol.PongReply
	readJSONReply(t, conn, &pong)
	if pong.Type != protocol.MsgPong {
		t.Errorf("Expected pong reply, got %q", pong.Type)
	}

	// Disconnect tears the session down.
	conn.Close()
	waitFor(t, func() bool { return registry.Count() == 0 })
}

func TestStreamFaceSetFailureReply(t *testing.T) {
	engine := &fakeEngine{findFace: false}
	srv, _ := newStreamServer(t, engine)
	conn := dialStream(t, srv, "no-face-test")

	faceMsg := append([]byte("FACE"), testJPEG(t)...)
	if err := conn.WriteMessage(websocket.BinaryMessage, faceMsg); err != nil {
		t.Fatalf("Failed to send face message: %v", err)
	}
	var reply protocol.FaceSetReply
	readJSONReply(t, conn, &reply)
	if reply.Success {
		t.Error("Expected face_set success false when no face is found")
	}
}

func TestStreamDuplicateSessionRejected(t *testing.T) {
	engine := &fakeEngine{findFace: true}
	srv, registry := newStreamServer(t, engine)

	first := dialStream(t, srv, "same-id")
	waitFor(t, func() bool { return registry.Count() == 1 })

	second := dialStream(t, srv, "same-id")
	// The server closes the rejected connection; the next read fails.
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := second.ReadMessage(); err == nil {
		t.Error("Expected the duplicate connection to be closed")
	}
	if registry.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", registry.Count())
	}

	// The original session is unaffected.
	if err := first.WriteMessage(websocket.TextMessage, []byte(`{"command":"ping"}`)); err != nil {
		t.Fatalf("Failed to ping on original connection: %v", err)
	}
	var pong protocol.PongReply
	readJSONReply(t, first, &pong)
	if pong.Type != protocol.MsgPong {
		t.Errorf("Expected pong on original connection, got %q", pong.Type)
	}
}

func TestStreamUndecodableFrameNoReply(t *testing.T) {
	engine := &fakeEngine{findFace: true}
	srv, _ := newStreamServer(t, engine)
	conn := dialStream(t, srv, "bad-frame-test")

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("not an image")); err != nil {
		t.Fatalf("Failed to send bad frame: %v", err)
	}
	// No reply for the dropped frame; the next ping answers first.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"ping"}`)); err != nil {
		t.Fatalf("Failed to send ping: %v", err)
	}
	var pong protocol.PongReply
	readJSONReply(t, conn, &pong)
	if pong.Type != protocol.MsgPong {
		t.Errorf("Expected pong, got %q", pong.Type)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not met within deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
