package framecast

import (
	"time"

	"github.com/bluenviron/framecast/pkg/tileheader"
)

// Packet is an encoded frame or tile, ready to be sent to clients.
// Packets are shared between clients and must not be modified.
type Packet struct {
	// codec payload, followed by the tile trailer when Tile is not nil.
	Payload []byte

	// presentation sequence number.
	PTS int64

	// wall clock time of the capture of the frame.
	NTP time.Time

	// codec of the payload.
	Codec Codec

	// whether the payload can be decoded on its own.
	KeyFrame bool

	// tile position. It is nil when the frame is not tiled.
	Tile *tileheader.Header
}
