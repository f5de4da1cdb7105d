package framecast

// ServerHandler is the interface implemented by all the server handlers.
type ServerHandler interface{}

// ServerHandlerOnClientOpenCtx is the context of OnClientOpen.
type ServerHandlerOnClientOpenCtx struct {
	Client Client
}

// ServerHandlerOnClientOpen can be implemented by a ServerHandler.
type ServerHandlerOnClientOpen interface {
	// called when a client is added.
	OnClientOpen(*ServerHandlerOnClientOpenCtx)
}

// ServerHandlerOnClientCloseCtx is the context of OnClientClose.
type ServerHandlerOnClientCloseCtx struct {
	Client Client
	Error  error
}

// ServerHandlerOnClientClose can be implemented by a ServerHandler.
type ServerHandlerOnClientClose interface {
	// called when a client is removed.
	OnClientClose(*ServerHandlerOnClientCloseCtx)
}

// ServerHandlerOnEncodeErrorCtx is the context of OnEncodeError.
type ServerHandlerOnEncodeErrorCtx struct {
	PTS   int64
	Error error
}

// ServerHandlerOnEncodeError can be implemented by a ServerHandler.
type ServerHandlerOnEncodeError interface {
	// called when a frame or a tile batch cannot be encoded.
	OnEncodeError(*ServerHandlerOnEncodeErrorCtx)
}

// ServerHandlerOnFrameDroppedCtx is the context of OnFrameDropped.
type ServerHandlerOnFrameDroppedCtx struct {
	QueueSize int
}

// ServerHandlerOnFrameDropped can be implemented by a ServerHandler.
type ServerHandlerOnFrameDropped interface {
	// called when a frame is discarded because the frame queue is full.
	OnFrameDropped(*ServerHandlerOnFrameDroppedCtx)
}
