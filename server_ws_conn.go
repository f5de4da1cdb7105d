package framecast

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bluenviron/framecast/internal/asyncprocessor"
	"github.com/bluenviron/framecast/pkg/bytecounter"
	"github.com/bluenviron/framecast/pkg/liberrors"
)

// ServerWSConn is a WebSocket client.
// Each packet is sent as a binary message containing the codec payload,
// followed by the tile trailer in case of tiled frames.
type ServerWSConn struct {
	s  *Server
	wc *websocket.Conn

	id        uuid.UUID
	counters  bytecounter.Counters
	writer    *asyncprocessor.Processor[*Packet]
	ctx       context.Context
	ctxCancel func()
	logger    *zap.Logger

	// in
	chWriteErr chan error
	chReadErr  chan error
}

func (s *Server) newWSConn(wc *websocket.Conn) {
	sc := &ServerWSConn{
		s:  s,
		wc: wc,
	}

	err := sc.initialize()
	if err != nil {
		s.Logger.Warn("unable to initialize connection",
			zap.Stringer("remote", wc.RemoteAddr()), zap.Error(err))
		wc.Close()
		return
	}

	err = s.AddClient(sc)
	if err != nil {
		sc.ctxCancel()
		sc.teardown()
		return
	}

	s.wg.Add(1)
	go sc.run()
}

func (sc *ServerWSConn) initialize() error {
	sc.id = uuid.New()
	sc.ctx, sc.ctxCancel = context.WithCancel(sc.s.ctx)
	sc.logger = sc.s.Logger.With(zap.Stringer("client", sc.id), zap.Stringer("remote", sc.wc.RemoteAddr()))
	sc.chWriteErr = make(chan error)
	sc.chReadErr = make(chan error)

	sc.writer = &asyncprocessor.Processor[*Packet]{
		BufferSize: sc.s.ClientQueueSize,
		Process:    sc.writePacket,
		OnError: func(ctx context.Context, err error) {
			select {
			case sc.chWriteErr <- err:
			case <-ctx.Done():
			}
		},
	}
	err := sc.writer.Initialize()
	if err != nil {
		sc.ctxCancel()
		return err
	}

	sc.writer.Start()

	return nil
}

// ID implements Client.
func (sc *ServerWSConn) ID() uuid.UUID {
	return sc.id
}

// BytesSent returns the number of bytes sent to the client.
func (sc *ServerWSConn) BytesSent() uint64 {
	return sc.counters.BytesSent.Load()
}

// Close implements Client.
// It does not wait for the connection to be closed.
func (sc *ServerWSConn) Close() {
	sc.ctxCancel()
}

// WritePacket implements Client.
func (sc *ServerWSConn) WritePacket(pkt *Packet) error {
	if sc.ctx.Err() != nil {
		return liberrors.ErrClientClosed{}
	}

	if !sc.writer.Push(pkt) {
		return liberrors.ErrClientQueueFull{}
	}
	return nil
}

func (sc *ServerWSConn) run() {
	defer sc.s.wg.Done()

	readerDone := make(chan struct{})
	go sc.runReader(readerDone)

	err := sc.runInner()

	sc.ctxCancel()
	sc.teardown()
	<-readerDone

	sc.s.RemoveClient(sc, err)
}

func (sc *ServerWSConn) runInner() error {
	select {
	case err := <-sc.chWriteErr:
		return err

	case err := <-sc.chReadErr:
		return err

	case <-sc.ctx.Done():
		return liberrors.ErrServerTerminated{}
	}
}

func (sc *ServerWSConn) teardown() {
	sc.writer.Close()

	sc.wc.WriteControl(websocket.CloseMessage, //nolint:errcheck
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(wsCloseTimeout))
	sc.wc.Close()
}

// runReader consumes control messages and detects disconnections.
func (sc *ServerWSConn) runReader(done chan struct{}) {
	defer close(done)

	for {
		_, _, err := sc.wc.ReadMessage()
		if err != nil {
			select {
			case sc.chReadErr <- err:
			case <-sc.ctx.Done():
			}
			return
		}
	}
}

func (sc *ServerWSConn) writePacket(pkt *Packet) error {
	sc.wc.SetWriteDeadline(time.Now().Add(sc.s.WriteTimeout)) //nolint:errcheck

	err := sc.wc.WriteMessage(websocket.BinaryMessage, pkt.Payload)

	for _, c := range []*bytecounter.Counters{&sc.counters, &sc.s.counters} {
		if err != nil {
			c.WriteErrors.Add(1)
		} else {
			c.BytesSent.Add(uint64(len(pkt.Payload)))
			c.WritesSent.Add(1)
		}
	}

	return err
}
