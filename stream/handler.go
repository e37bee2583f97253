package stream

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"faceforge/core"
	"faceforge/protocol"
)

// Handler upgrades stream connections and runs the per-connection dispatch
// loop: one message read at a time, replies written back in arrival order.
type Handler struct {
	registry *Registry
	upgrader websocket.Upgrader
	logger   *core.Logger
}

// NewHandler creates the websocket stream handler.
func NewHandler(registry *Registry, logger *core.Logger) *Handler {
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 16,
			WriteBufferSize: 1 << 16,
			// Browser clients connect cross-origin; frame payloads carry no
			// credentials.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With(map[string]any{"component": "stream"}),
	}
}

// ServeStream handles GET /ws/stream?session_id=... . A missing session_id
// gets a freshly minted one.
func (h *Handler) ServeStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	session, err := h.registry.Create(sessionID, conn)
	if err != nil {
		h.logger.Warn("rejecting connection", "session_id", sessionID, "error", err)
		conn.Close()
		return
	}
	defer h.registry.Remove(session.ID)

	// The loop context deliberately outlives the request: an in-flight frame
	// is allowed to finish after disconnect, its result discarded.
	h.dispatchLoop(context.WithoutCancel(r.Context()), session, conn)
}

// dispatchLoop reads messages until the transport reports a disconnect.
func (h *Handler) dispatchLoop(ctx context.Context, session *Session, conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			// Disconnect, clean or otherwise, ends the session.
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("read loop ended", "session_id", session.ID, "error", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			h.handleBinary(ctx, session, data)
		case websocket.TextMessage:
			h.handleCommand(session, data)
		}
	}
}

func (h *Handler) handleBinary(ctx context.Context, session *Session, data []byte) {
	kind, payload := protocol.ClassifyBinary(data)
	switch kind {
	case protocol.BinaryFaceSet:
		success := session.SetReferenceFace(ctx, payload)
		if err := session.SendJSON(protocol.FaceSetReply{Type: protocol.MsgFaceSet, Success: success}); err != nil {
			h.logger.Debug("failed to send face_set reply", "session_id", session.ID, "error", err)
		}
	case protocol.BinaryFrame:
		result := session.ProcessFrame(ctx, payload)
		if result == nil {
			// Dropped or undecodable; no reply keeps the stream alive.
			return
		}
		if err := session.SendBinary(result); err != nil {
			h.logger.Debug("failed to send frame", "session_id", session.ID, "error", err)
		}
	}
}

func (h *Handler) handleCommand(session *Session, data []byte) {
	cmd, ok := protocol.ParseCommand(data)
	if !ok {
		// Malformed text frames are tolerated silently.
		return
	}

	switch cmd.Command {
	case protocol.CmdStats:
		stats := session.Stats()
		reply := protocol.StatsReply{
			Type:            protocol.MsgStats,
			FramesProcessed: stats.FramesProcessed,
			FPS:             stats.FPS,
			HasTargetFace:   stats.HasTargetFace,
		}
		if err := session.SendJSON(reply); err != nil {
			h.logger.Debug("failed to send stats reply", "session_id", session.ID, "error", err)
		}
	case protocol.CmdPing:
		if err := session.SendJSON(protocol.PongReply{Type: protocol.MsgPong}); err != nil {
			h.logger.Debug("failed to send pong", "session_id", session.ID, "error", err)
		}
	default:
		// Unrecognized commands get no reply.
	}
}
