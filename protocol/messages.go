package protocol

// MessageType enumerates all server->client reply types.
type MessageType string

const (
	MsgFaceSet MessageType = "face_set"
	MsgStats   MessageType = "stats"
	MsgPong    MessageType = "pong"
)

// Command names accepted on the text side of the stream.
const (
	CmdStats = "stats"
	CmdPing  = "ping"
)

// FaceMarker prefixes a binary message whose remainder is an encoded still
// image to use as the reference face. Binary messages without the marker are
// single video frames.
var FaceMarker = []byte("FACE")

// BinaryKind classifies a binary message body.
type BinaryKind int

const (
	// BinaryFrame is a single encoded video frame to process.
	BinaryFrame BinaryKind = iota
	// BinaryFaceSet carries the FACE marker followed by a reference image.
	BinaryFaceSet
)

// ClassifyBinary splits a binary message into its kind and payload. For a
// face-set message the returned payload has the marker stripped.
func ClassifyBinary(data []byte) (BinaryKind, []byte) {
	if len(data) >= len(FaceMarker) && string(data[:len(FaceMarker)]) == string(FaceMarker) {
		return BinaryFaceSet, data[len(FaceMarker):]
	}
	return BinaryFrame, data
}

// Command is a client->server text message.
type Command struct {
	Command string `json:"command"`
}

// FaceSetReply acknowledges a set-reference-face request.
type FaceSetReply struct {
	Type    MessageType `json:"type"`
	Success bool        `json:"success"`
}

// StatsReply carries a point-in-time session stats snapshot.
type StatsReply struct {
	Type            MessageType `json:"type"`
	FramesProcessed uint64      `json:"frames_processed"`
	FPS             float64     `json:"fps"`
	HasTargetFace   bool        `json:"has_target_face"`
}

// PongReply answers a keepalive ping.
type PongReply struct {
	Type MessageType `json:"type"`
}
