package protocol

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Marshal encodes a reply message for the wire. This sits on the per-frame
// hot path, hence sonic rather than encoding/json.
func Marshal(v interface{}) ([]byte, error) {
	b, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %T: %w", v, err)
	}
	return b, nil
}

// ParseCommand parses a client text message. ok is false for malformed JSON
// or a missing command field; the dispatcher ignores those messages rather
// than failing the connection.
func ParseCommand(data []byte) (Command, bool) {
	var cmd Command
	if err := sonic.Unmarshal(data, &cmd); err != nil {
		return Command{}, false
	}
	if cmd.Command == "" {
		return Command{}, false
	}
	return cmd, true
}
