package framecast

// ServerStats are server statistics.
type ServerStats struct {
	// number of connected clients
	Clients int
	// number of frames passed to the server
	FramesSubmitted uint64
	// number of frames that were encoded
	FramesEncoded uint64
	// number of frames discarded by the frame queue
	FramesDropped uint64
	// number of frames waiting in the frame queue
	FramesQueued int
	// number of frames or tile batches that failed to encode
	EncodeErrors uint64
	// number of encoded tiles
	TilesEncoded uint64
	// number of packets handed to clients
	PacketsSent uint64
	// bytes sent by TCP and WebSocket clients
	BytesSent uint64
	// number of RTCP packets sent by TCP clients
	RTCPPacketsSent uint64
	// number of write errors of TCP and WebSocket clients
	WriteErrors uint64
}
