package encoder

import (
	"errors"
)

// ErrAgain is returned by an Engine when it cannot accept input
// or produce output until the opposite operation is performed.
var ErrAgain = errors.New("resource temporarily unavailable")

// Frame is a planar YUV 4:2:0 picture.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	PTS    int64
}

// Packet is an encoded access unit or JPEG image.
type Packet struct {
	Data     []byte
	PTS      int64
	KeyFrame bool
}

// EngineConf is the configuration of an Engine.
type EngineConf struct {
	Codec   Codec
	Width   int
	Height  int
	Bitrate int
	FPS     int
}

// Engine is a stateful codec.
// Usage follows the send/receive model:
// SendFrame() is called with a picture, then ReceivePacket() is called until it returns ErrAgain.
type Engine interface {
	SendFrame(*Frame) error
	ReceivePacket() (*Packet, error)
	Close()
}

// EngineFactory allocates an Engine.
type EngineFactory func(EngineConf) (Engine, error)
