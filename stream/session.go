package stream

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"faceforge/core"
	"faceforge/metrics"
	"faceforge/protocol"
	"faceforge/swap"
)

// Conn is the subset of the websocket connection a session writes to. The
// session owns its connection exclusively and closes it exactly once.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Stats is a point-in-time snapshot of a session's counters.
type Stats struct {
	FramesProcessed uint64  `json:"frames_processed"`
	FPS             float64 `json:"fps"`
	HasTargetFace   bool    `json:"has_target_face"`
}

// Session holds one connection's streaming state. All operations are invoked
// from the connection's dispatch loop, so they never overlap for one session;
// the busy flag additionally guards ProcessFrame against itself so the
// guarantee holds even if the dispatcher ever pipelines reads.
type Session struct {
	ID        string
	StartTime time.Time

	conn      Conn
	writeMu   sync.Mutex
	closeOnce sync.Once

	engine      swap.Engine
	jpegQuality int
	logger      *core.Logger
	metrics     *metrics.Metrics

	// busy is set while a ProcessFrame call is executing. Frames arriving
	// while it is set are dropped, not queued.
	busy atomic.Bool

	mu              sync.RWMutex
	descriptor      *swap.Descriptor
	framesProcessed uint64
	lastFrameTime   time.Time
	fps             float64
}

func newSession(id string, conn Conn, engine swap.Engine, jpegQuality int, logger *core.Logger, m *metrics.Metrics) *Session {
	return &Session{
		ID:          id,
		StartTime:   time.Now(),
		conn:        conn,
		engine:      engine,
		jpegQuality: jpegQuality,
		logger:      logger.With(map[string]any{"session_id": id}),
		metrics:     m,
	}
}

// SetReferenceFace decodes image bytes and derives a new reference face
// descriptor from them, replacing any previous one. It returns false on
// decode failure or when no face is found; the stored descriptor is left
// unchanged in that case.
func (s *Session) SetReferenceFace(ctx context.Context, data []byte) bool {
	img, err := core.DecodeImage(data)
	if err != nil {
		s.logger.Error("failed to decode reference face image", "error", err)
		s.recordFaceSet(false)
		return false
	}

	desc, ok, err := s.engine.ExtractDescriptor(ctx, img)
	if err != nil {
		s.logger.Error("reference face extraction failed", "error", err)
		s.recordFaceSet(false)
		return false
	}
	if !ok {
		s.logger.Warn("no face detected in reference image")
		s.recordFaceSet(false)
		return false
	}

	s.mu.Lock()
	s.descriptor = desc
	s.mu.Unlock()

	s.logger.Info("reference face set")
	s.recordFaceSet(true)
	return true
}

// ProcessFrame runs one frame through the substitution engine and returns the
// re-encoded result, or nil when the frame produced no output: undecodable
// bytes, or a previous frame still in flight. A session with no reference
// descriptor echoes the input bytes unchanged.
func (s *Session) ProcessFrame(ctx context.Context, data []byte) []byte {
	if !s.busy.CompareAndSwap(false, true) {
		if s.metrics != nil {
			s.metrics.FramesDropped.Inc()
		}
		return nil
	}
	defer s.busy.Store(false)

	start := time.Now()

	img, err := core.DecodeImage(data)
	if err != nil {
		s.logger.Debug("dropping undecodable frame", "error", err)
		return nil
	}

	s.mu.RLock()
	desc := s.descriptor
	s.mu.RUnlock()

	var out []byte
	if desc == nil {
		// Pure passthrough; the decode above still validates the frame.
		out = data
	} else {
		result, applied, err := s.engine.Substitute(ctx, img, desc)
		if err != nil {
			// Substitution failures degrade to passthrough rather than
			// surfacing on the wire.
			s.logger.Warn("face substitution failed", "error", err)
			result = img
			applied = false
		}
		out, err = core.EncodeJPEG(result, s.jpegQuality)
		if err != nil {
			s.logger.Error("failed to encode processed frame", "error", err)
			return nil
		}
		if s.metrics != nil && !applied {
			s.metrics.FramesPassthrough.Inc()
		}
	}

	now := time.Now()
	s.mu.Lock()
	s.framesProcessed++
	if !s.lastFrameTime.IsZero() {
		if delta := now.Sub(s.lastFrameTime).Seconds(); delta > 0 {
			s.fps = 1.0 / delta
		}
	}
	s.lastFrameTime = now
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.FramesProcessed.Inc()
		s.metrics.FrameProcessingDuration.Observe(time.Since(start).Seconds())
	}
	return out
}

// Stats returns a snapshot of the session counters. Never blocks on frame
// processing.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		FramesProcessed: s.framesProcessed,
		FPS:             math.Round(s.fps*10) / 10,
		HasTargetFace:   s.descriptor != nil,
	}
}

// SendBinary writes a binary message to the client.
func (s *Session) SendBinary(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// SendJSON writes a reply message as a text frame.
func (s *Session) SendJSON(v interface{}) error {
	data, err := protocol.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection. Safe to call more than once; the
// connection is closed exactly once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("connection close", "error", err)
		}
	})
}

func (s *Session) recordFaceSet(success bool) {
	if s.metrics == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	s.metrics.FaceSetAttempts.WithLabelValues(outcome).Inc()
}
