package framecast

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/bluenviron/gortsplib/v5/pkg/base"
	"github.com/bluenviron/gortsplib/v5/pkg/rtpsender"
	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/bluenviron/framecast/internal/asyncprocessor"
	"github.com/bluenviron/framecast/pkg/bytecounter"
	"github.com/bluenviron/framecast/pkg/liberrors"
)

// ServerConn is a TCP client.
// It receives RTP packets and RTCP sender reports wrapped into interleaved frames,
// RTP on channel 0 and RTCP on channel 1.
type ServerConn struct {
	s     *Server
	nconn net.Conn

	id         uuid.UUID
	counters   bytecounter.Counters
	bc         *bytecounter.ByteCounter
	packetizer *rtpPacketizer
	rtpSender  *rtpsender.Sender
	writer     *asyncprocessor.Processor[func() error]
	ctx        context.Context
	ctxCancel  func()
	logger     *zap.Logger

	// in
	chWriteErr chan error
	chReadErr  chan error
}

func (s *Server) newTCPConn(nconn net.Conn) {
	sc := &ServerConn{
		s:     s,
		nconn: nconn,
	}

	err := sc.initialize()
	if err != nil {
		s.Logger.Warn("unable to initialize connection",
			zap.Stringer("remote", nconn.RemoteAddr()), zap.Error(err))
		nconn.Close()
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

func (sc *ServerConn) initialize() error {
	sc.id = uuid.New()
	sc.ctx, sc.ctxCancel = context.WithCancel(sc.s.ctx)
	sc.logger = sc.s.Logger.With(zap.Stringer("client", sc.id), zap.Stringer("remote", sc.nconn.RemoteAddr()))
	sc.chWriteErr = make(chan error)
	sc.chReadErr = make(chan error)

	if sc.s.DSCP != 0 {
		err := ipv4.NewConn(sc.nconn).SetTOS(sc.s.DSCP << 2)
		if err != nil {
			sc.logger.Warn("unable to set DSCP", zap.Error(err))
		}
	}

	sc.bc = bytecounter.New(sc.nconn, &sc.counters, &sc.s.counters)

	sc.packetizer = &rtpPacketizer{
		codec:          sc.s.Codec,
		payloadMaxSize: tcpMaxPayloadSize,
	}
	err := sc.packetizer.initialize()
	if err != nil {
		sc.ctxCancel()
		return err
	}

	sc.writer = &asyncprocessor.Processor[func() error]{
		BufferSize: sc.s.ClientQueueSize,
		Process: func(cb func() error) error {
			return cb()
		},
		OnError: func(ctx context.Context, err error) {
			select {
			case sc.chWriteErr <- err:
			case <-ctx.Done():
			}
		},
	}
	err = sc.writer.Initialize()
	if err != nil {
		sc.ctxCancel()
		return err
	}

	sc.rtpSender = &rtpsender.Sender{
		ClockRate: sc.s.Codec.ClockRate(),
		Period:    sc.s.RTCPPeriod,
		TimeNow:   sc.s.timeNow,
		WritePacketRTCP: func(pkt rtcp.Packet) {
			sc.writer.Push(func() error {
				return sc.writeRTCP(pkt)
			})
		},
	}
	sc.rtpSender.Initialize()

	sc.writer.Start()

	return nil
}

// ID implements Client.
func (sc *ServerConn) ID() uuid.UUID {
	return sc.id
}

// NetConn returns the underlying net.Conn.
func (sc *ServerConn) NetConn() net.Conn {
	return sc.nconn
}

// BytesSent returns the number of bytes sent to the client.
func (sc *ServerConn) BytesSent() uint64 {
	return sc.bc.BytesSent()
}

// Close implements Client.
// It does not wait for the connection to be closed.
func (sc *ServerConn) Close() {
	sc.ctxCancel()
}

// WritePacket implements Client.
func (sc *ServerConn) WritePacket(pkt *Packet) error {
	if sc.ctx.Err() != nil {
		return liberrors.ErrClientClosed{}
	}

	ok := sc.writer.Push(func() error {
		return sc.writeRTP(pkt)
	})
	if !ok {
		return liberrors.ErrClientQueueFull{}
	}
	return nil
}

func (sc *ServerConn) run() {
	defer sc.s.wg.Done()

	readerDone := make(chan struct{})
	go sc.runReader(readerDone)

	err := sc.runInner()

	sc.ctxCancel()
	sc.teardown()
	<-readerDone

	sc.s.RemoveClient(sc, err)
}

func (sc *ServerConn) runInner() error {
	select {
	case err := <-sc.chWriteErr:
		return err

	case err := <-sc.chReadErr:
		return err

	case <-sc.ctx.Done():
		return liberrors.ErrServerTerminated{}
	}
}

func (sc *ServerConn) teardown() {
	sc.nconn.Close()
	sc.rtpSender.Close()
	sc.writer.Close()

	sc.logger.Debug("connection closed",
		zap.Uint64("bytes_received", sc.bc.BytesReceived()),
		zap.Uint64("bytes_sent", sc.bc.BytesSent()),
		zap.Uint64("write_errors", sc.bc.WriteErrors()))
}

// runReader reads RTCP receiver reports and detects disconnections.
func (sc *ServerConn) runReader(done chan struct{}) {
	defer close(done)

	br := bufio.NewReaderSize(sc.bc, tcpReadBufferSize)
	var frame base.InterleavedFrame

	for {
		err := frame.Unmarshal(br)
		if err != nil {
			select {
			case sc.chReadErr <- err:
			case <-sc.ctx.Done():
			}
			return
		}

		if frame.Channel != rtcpChannel {
			continue
		}

		pkts, err := rtcp.Unmarshal(frame.Payload)
		if err != nil {
			sc.logger.Debug("invalid RTCP packet", zap.Error(err))
			continue
		}

		for _, pkt := range pkts {
			if rr, ok := pkt.(*rtcp.ReceiverReport); ok {
				for _, r := range rr.Reports {
					sc.logger.Debug("receiver report",
						zap.Uint32("lost", r.TotalLost),
						zap.Uint32("jitter", r.Jitter))
				}
			}
		}
	}
}

func (sc *ServerConn) writeInterleaved(channel int, payload []byte) error {
	f := base.InterleavedFrame{
		Channel: channel,
		Payload: payload,
	}

	buf := make([]byte, f.MarshalSize())
	_, err := f.MarshalTo(buf)
	if err != nil {
		return err
	}

	sc.nconn.SetWriteDeadline(time.Now().Add(sc.s.WriteTimeout)) //nolint:errcheck
	_, err = sc.bc.Write(buf)
	return err
}

func (sc *ServerConn) writeRTP(pkt *Packet) error {
	rpkts, err := sc.packetizer.packetize(pkt)
	if err != nil {
		sc.logger.Debug("unable to packetize", zap.Int64("pts", pkt.PTS), zap.Error(err))
		return nil
	}

	for i, rpkt := range rpkts {
		byts, err := rpkt.Marshal()
		if err != nil {
			return err
		}

		err = sc.writeInterleaved(rtpChannel, byts)
		if err != nil {
			return err
		}

		sc.rtpSender.ProcessPacket(rpkt, pkt.NTP, i == 0 && (pkt.KeyFrame || pkt.Codec == CodecMJPEG))
	}

	return nil
}

func (sc *ServerConn) writeRTCP(pkt rtcp.Packet) error {
	byts, err := pkt.Marshal()
	if err != nil {
		return err
	}

	err = sc.writeInterleaved(rtcpChannel, byts)
	if err != nil {
		return err
	}

	sc.s.rtcpPacketsSent.Add(1)
	return nil
}
