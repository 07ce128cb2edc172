package mesh

import (
	"github.com/vmihailenco/msgpack/v5"
)

// HelloLabel is the data channel the initiator opens on every link.
const HelloLabel = "classroom"

const frameTypeHello = "peer-hello"

// frame is the envelope of every data channel message.
type frame struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// Hello introduces a participant once a link's data channel opens.
type Hello struct {
	UserID  string `msgpack:"userId"`
	Name    string `msgpack:"name"`
	Role    string `msgpack:"role"`
	Version string `msgpack:"version"`
}

// EncodeHello builds a peer-hello frame.
func EncodeHello(h Hello) ([]byte, error) {
	payload, err := msgpack.Marshal(h)
	if err != nil {
		return nil, NewError("marshal hello", err)
	}
	data, err := msgpack.Marshal(frame{Type: frameTypeHello, Payload: payload})
	if err != nil {
		return nil, NewError("marshal frame", err)
	}
	return data, nil
}

// DecodeHello parses a peer-hello frame.
func DecodeHello(data []byte) (Hello, error) {
	var f frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return Hello{}, NewError("parse frame", err)
	}
	if f.Type != frameTypeHello {
		return Hello{}, WrapError("parse frame", ErrUnexpectedFrame, f.Type)
	}
	var h Hello
	if err := msgpack.Unmarshal(f.Payload, &h); err != nil {
		return Hello{}, NewError("parse hello", err)
	}
	return h, nil
}
