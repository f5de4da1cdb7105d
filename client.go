package framecast

import (
	"github.com/google/uuid"
)

// Client is a receiver of packets.
//
// WritePacket is called by the encoding routine and must not block;
// a returned error causes the removal of the client.
// Transports that detect a failure on their own must call Server.RemoveClient().
type Client interface {
	ID() uuid.UUID
	WritePacket(*Packet) error
	Close()
}
