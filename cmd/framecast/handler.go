package main

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/bluenviron/framecast"
)

// log one dropped frame every droppedLogInterval.
const droppedLogInterval = 100

type handler struct {
	logger  *zap.Logger
	dropped atomic.Uint64
}

// OnClientOpen implements framecast.ServerHandlerOnClientOpen.
func (h *handler) OnClientOpen(ctx *framecast.ServerHandlerOnClientOpenCtx) {
	switch c := ctx.Client.(type) {
	case *framecast.ServerConn:
		h.logger.Info("TCP client opened", zap.Stringer("remote", c.NetConn().RemoteAddr()))

	case *framecast.ServerWSConn:
		h.logger.Info("WebSocket client opened", zap.Stringer("client", c.ID()))
	}
}

// OnClientClose implements framecast.ServerHandlerOnClientClose.
func (h *handler) OnClientClose(ctx *framecast.ServerHandlerOnClientCloseCtx) {
	switch c := ctx.Client.(type) {
	case *framecast.ServerConn:
		h.logger.Info("TCP client closed", zap.Stringer("remote", c.NetConn().RemoteAddr()),
			zap.Uint64("bytes_sent", c.BytesSent()), zap.Error(ctx.Error))

	case *framecast.ServerWSConn:
		h.logger.Info("WebSocket client closed", zap.Stringer("client", c.ID()),
			zap.Uint64("bytes_sent", c.BytesSent()), zap.Error(ctx.Error))
	}
}

// OnFrameDropped implements framecast.ServerHandlerOnFrameDropped.
func (h *handler) OnFrameDropped(ctx *framecast.ServerHandlerOnFrameDroppedCtx) {
	n := h.dropped.Add(1)
	if (n % droppedLogInterval) == 1 {
		h.logger.Warn("source is faster than the encoder, frames are being dropped",
			zap.Uint64("dropped", n), zap.Int("queue_size", ctx.QueueSize))
	}
}
