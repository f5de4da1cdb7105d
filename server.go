// Package framecast is a server that streams raw frames to clients as H264 or motion-JPEG.
package framecast

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bluenviron/framecast/internal/asyncprocessor"
	"github.com/bluenviron/framecast/pkg/bytecounter"
	"github.com/bluenviron/framecast/pkg/encoder"
	"github.com/bluenviron/framecast/pkg/liberrors"
	"github.com/bluenviron/framecast/pkg/tiling"
	"github.com/bluenviron/framecast/pkg/url"
)

// Server is a frame streaming server.
//
// Raw frames are passed to the server with SubmitFrame(), SubmitBigFrame() or SubmitFrameBuffered(),
// are encoded, then are written to every client.
type Server struct {
	//
	// Stream
	//

	// listening URL, in the form rtsp://host:port[/path].
	// It is mandatory.
	URL string
	// frame width. It is mandatory.
	Width int
	// frame height. It is mandatory.
	Height int
	// channels of raw frames, 1 (gray) or 3 (RGB). It defaults to 3.
	Channels int
	// codec.
	Codec Codec
	// target bitrate in bits per second. It defaults to 4 Mbit/s.
	Bitrate int
	// frame rate used to configure the codec. It defaults to 60.
	FPS int

	//
	// Encoding
	//

	// size of the queue used by SubmitFrameBuffered(). It defaults to 8.
	FrameQueueSize int
	// encode tiles in parallel.
	MultithreadedTiling bool
	// maximum number of tiles encoded in parallel. It defaults to the number of CPUs.
	TileWorkers int
	// encode JPEG frames through Compressor.
	UseCustomEncodeJPEG bool
	// encode H264 frames through a custom path. Not implemented, encoding fails.
	UseCustomEncodeH264 bool
	// JPEG compressor used for tiles and custom JPEG encoding.
	// It defaults to a encoder.SoftwareCompressor.
	Compressor encoder.Compressor
	// function that allocates the codec engine.
	// It is mandatory for H264.
	NewEngine encoder.EngineFactory

	//
	// Transport
	//

	// address of the WebSocket listener (optional).
	WebSocketAddress string
	// size of the packet queue of each client. It defaults to 256.
	ClientQueueSize int
	// timeout of write operations. It defaults to 10 seconds.
	WriteTimeout time.Duration
	// period of RTCP sender reports sent to TCP clients. It defaults to 2 seconds.
	RTCPPeriod time.Duration
	// DSCP value set on TCP connections (optional).
	DSCP int
	// function used to initialize the TCP listener.
	// It defaults to net.Listen.
	Listen func(network string, address string) (net.Listener, error)

	//
	// Handler and logging
	//

	// an handler to receive events (optional).
	Handler ServerHandler
	// logger. It defaults to a no-op logger.
	Logger *zap.Logger

	//
	// private
	//

	timeNow     func() time.Time
	endpoint    *url.Endpoint
	enc         *encoder.Encoder
	tiles       tiling.Cache
	frameQueue  *asyncprocessor.Processor[[]byte]
	clients     clientSet
	counters    bytecounter.Counters
	initialized bool

	// protected by encMutex
	encMutex     sync.Mutex
	sequence     int64
	scratch      [][]byte
	captureTimes [captureTimesSize]captureSlot

	multithreadedTiling atomic.Bool

	framesSubmitted atomic.Uint64
	framesEncoded   atomic.Uint64
	framesDropped   atomic.Uint64
	encodeErrors    atomic.Uint64
	tilesEncoded    atomic.Uint64
	packetsSent     atomic.Uint64
	rtcpPacketsSent atomic.Uint64

	errMutex sync.RWMutex
	err      error

	stateMutex sync.Mutex
	started    bool
	closed     bool

	ctx         context.Context
	ctxCancel   func()
	wg          sync.WaitGroup
	tcpListener *serverTCPListener
	wsListener  *serverWSListener

	// in
	chAcceptErr chan error

	// out
	done chan struct{}
}

func (s *Server) setError(err error) error {
	s.errMutex.Lock()
	defer s.errMutex.Unlock()

	if s.err == nil {
		s.err = err
	}
	return s.err
}

// Err returns the error that put the server in error state, or nil.
// Once set, the error never changes.
func (s *Server) Err() error {
	s.errMutex.RLock()
	defer s.errMutex.RUnlock()
	return s.err
}

// Initialize validates the configuration and allocates the encoder.
// In case of failure, the error is also stored and returned by Err().
func (s *Server) Initialize() error {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	if s.timeNow == nil {
		s.timeNow = time.Now
	}
	if s.Channels == 0 {
		s.Channels = 3
	}
	if s.Bitrate == 0 {
		s.Bitrate = defaultBitrate
	}
	if s.FrameQueueSize == 0 {
		s.FrameQueueSize = defaultFrameQueueSize
	}
	if s.ClientQueueSize == 0 {
		s.ClientQueueSize = defaultClientQueueSize
	}
	if s.TileWorkers == 0 {
		s.TileWorkers = runtime.NumCPU()
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = defaultWriteTimeout
	}
	if s.RTCPPeriod == 0 {
		s.RTCPPeriod = defaultRTCPPeriod
	}
	if s.Listen == nil {
		s.Listen = net.Listen
	}

	err := s.initialize()
	if err != nil {
		s.Logger.Error("configuration error", zap.Error(err))
		return s.setError(err)
	}

	s.initialized = true

	return nil
}

func (s *Server) initialize() error {
	if s.Width <= 0 || s.Height <= 0 {
		return liberrors.ErrServerInvalidConfig{Reason: fmt.Sprintf("invalid frame size %dx%d", s.Width, s.Height)}
	}

	if s.Channels != 1 && s.Channels != 3 {
		return liberrors.ErrServerInvalidConfig{Reason: fmt.Sprintf("unsupported channel count (%d)", s.Channels)}
	}

	if s.Bitrate < 0 {
		return liberrors.ErrServerInvalidConfig{Reason: fmt.Sprintf("invalid bitrate (%d)", s.Bitrate)}
	}

	if s.FrameQueueSize < 0 || s.ClientQueueSize < 0 || s.TileWorkers < 0 {
		return liberrors.ErrServerInvalidConfig{Reason: "queue sizes and worker count must be positive"}
	}

	if s.DSCP < 0 || s.DSCP > 63 {
		return liberrors.ErrServerInvalidConfig{Reason: fmt.Sprintf("invalid DSCP (%d)", s.DSCP)}
	}

	var err error
	s.endpoint, err = url.Parse(s.URL)
	if err != nil {
		return liberrors.ErrServerInvalidURL{URL: s.URL, Err: err}
	}

	s.enc = &encoder.Encoder{
		Codec:         s.Codec,
		Width:         s.Width,
		Height:        s.Height,
		Channels:      s.Channels,
		Bitrate:       s.Bitrate,
		FPS:           s.FPS,
		Compressor:    s.Compressor,
		UseCustomJPEG: s.UseCustomEncodeJPEG,
		UseCustomH264: s.UseCustomEncodeH264,
		NewEngine:     s.NewEngine,
	}
	err = s.enc.Initialize()
	if err != nil {
		s.enc = nil
		return err
	}

	s.multithreadedTiling.Store(s.MultithreadedTiling)

	s.frameQueue = &asyncprocessor.Processor[[]byte]{
		BufferSize: s.FrameQueueSize,
		Process:    s.processQueuedFrame,
	}
	err = s.frameQueue.Initialize()
	if err != nil {
		s.enc.Close()
		s.enc = nil
		return liberrors.ErrServerInvalidConfig{Reason: err.Error()}
	}

	s.Logger.Info("encoder initialized",
		zap.Stringer("codec", s.Codec),
		zap.Int("width", s.Width),
		zap.Int("height", s.Height),
		zap.Int("channels", s.Channels),
		zap.Bool("tiling", s.enc.NeedsTiling()))

	// RTP/JPEG carries sizes in units of 8 pixels
	if s.Codec == CodecMJPEG && !s.enc.NeedsTiling() && (s.Width%8 != 0 || s.Height%8 != 0) {
		s.Logger.Warn("MJPEG frame size is not a multiple of 8, frames will not be sent to TCP clients",
			zap.Int("width", s.Width), zap.Int("height", s.Height))
	}

	return nil
}

// Start starts the listeners.
func (s *Server) Start() error {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()

	if err := s.Err(); err != nil {
		return liberrors.ErrServerErrored{Err: err}
	}

	if !s.initialized {
		return liberrors.ErrServerInvalidConfig{Reason: "server is not initialized"}
	}

	if s.closed {
		return liberrors.ErrServerTerminated{}
	}

	if s.started {
		return liberrors.ErrServerAlreadyStarted{}
	}

	s.ctx, s.ctxCancel = context.WithCancel(context.Background())
	s.chAcceptErr = make(chan error)
	s.done = make(chan struct{})

	s.tcpListener = &serverTCPListener{s: s}
	err := s.tcpListener.initialize()
	if err != nil {
		s.tcpListener = nil
		s.ctxCancel()
		s.Logger.Error("unable to listen", zap.String("address", s.endpoint.Address()), zap.Error(err))
		return s.setError(err)
	}

	if s.WebSocketAddress != "" {
		s.wsListener = &serverWSListener{s: s}
		err = s.wsListener.initialize()
		if err != nil {
			s.wsListener = nil
			s.tcpListener.close()
			s.ctxCancel()
			s.tcpListener = nil
			s.Logger.Error("unable to listen", zap.String("address", s.WebSocketAddress), zap.Error(err))
			return s.setError(err)
		}
	}

	s.started = true

	s.Logger.Info("listening", zap.Stringer("url", s.endpoint))

	go s.run()

	return nil
}

// Close closes all the server resources and waits for them to close.
func (s *Server) Close() {
	s.stateMutex.Lock()

	if s.closed {
		s.stateMutex.Unlock()
		return
	}
	s.closed = true
	started := s.started
	s.stateMutex.Unlock()

	if started {
		s.ctxCancel()
		<-s.done
	} else {
		s.teardown()
	}
}

// Wait waits until all server resources are closed.
// This can happen when a fatal error occurs or when Close() is called.
func (s *Server) Wait() error {
	s.stateMutex.Lock()
	started := s.started
	s.stateMutex.Unlock()

	if !started {
		return liberrors.ErrServerNotStarted{}
	}

	<-s.done

	return s.Err()
}

func (s *Server) run() {
	defer close(s.done)

	err := s.runInner()

	s.ctxCancel()
	s.teardown()

	if err != nil {
		s.setError(err)
	}
}

func (s *Server) runInner() error {
	select {
	case err := <-s.chAcceptErr:
		s.Logger.Error("listener failed", zap.Error(err))
		return err

	case <-s.ctx.Done():
		return nil
	}
}

func (s *Server) listeners() (*serverTCPListener, *serverWSListener) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	return s.tcpListener, s.wsListener
}

func (s *Server) teardown() {
	tcpListener, wsListener := s.listeners()

	if wsListener != nil {
		wsListener.close()
	}

	if tcpListener != nil {
		tcpListener.close()
	}

	if s.frameQueue != nil {
		s.frameQueue.Close()
	}

	for _, c := range s.clients.removeAll() {
		c.Close()
		s.onClientClose(c, liberrors.ErrServerTerminated{})
	}

	s.wg.Wait()

	s.encMutex.Lock()
	if s.enc != nil {
		s.enc.Close()
	}
	s.encMutex.Unlock()
}

func (s *Server) isRunning() bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	return s.started && !s.closed
}

func (s *Server) acceptErr(err error) {
	select {
	case s.chAcceptErr <- err:
	case <-s.ctx.Done():
	}
}

// AddClient adds a client.
// It can be used to plug custom transports.
func (s *Server) AddClient(c Client) error {
	if !s.isRunning() {
		return liberrors.ErrServerNotStarted{}
	}

	if !s.clients.add(c) {
		return fmt.Errorf("client %v already exists", c.ID())
	}

	s.Logger.Info("client connected", zap.Stringer("client", c.ID()), zap.Int("clients", s.clients.len()))

	if h, ok := s.Handler.(ServerHandlerOnClientOpen); ok {
		h.OnClientOpen(&ServerHandlerOnClientOpenCtx{
			Client: c,
		})
	}

	return nil
}

// RemoveClient removes and closes a client.
// It is a no-op if the client is not in the client set.
func (s *Server) RemoveClient(c Client, err error) {
	if !s.clients.remove(c) {
		return
	}

	c.Close()
	s.onClientClose(c, err)
}

func (s *Server) onClientClose(c Client, err error) {
	s.Logger.Info("client disconnected", zap.Stringer("client", c.ID()), zap.Error(err))

	if h, ok := s.Handler.(ServerHandlerOnClientClose); ok {
		h.OnClientClose(&ServerHandlerOnClientCloseCtx{
			Client: c,
			Error:  err,
		})
	}
}

// Clients returns the connected clients.
func (s *Server) Clients() []Client {
	return s.clients.list()
}

// IsConnected returns whether the server is running and at least one client is connected.
func (s *Server) IsConnected() bool {
	return s.isRunning() && s.clients.len() != 0
}

// Endpoint returns the parsed listening endpoint.
func (s *Server) Endpoint() *url.Endpoint {
	return s.endpoint
}

// NetAddr returns the address of the TCP listener.
func (s *Server) NetAddr() net.Addr {
	tcpListener, _ := s.listeners()
	if tcpListener == nil {
		return nil
	}
	return tcpListener.ln.Addr()
}

// SetCompressor replaces the JPEG compressor.
// A nil compressor restores the software one.
func (s *Server) SetCompressor(c encoder.Compressor) {
	s.encMutex.Lock()
	defer s.encMutex.Unlock()

	if s.enc != nil {
		s.enc.SetCompressor(c)
	}
}

// SetUseCustomEncodeJPEG toggles the encoding of JPEG frames through the compressor.
func (s *Server) SetUseCustomEncodeJPEG(v bool) {
	s.encMutex.Lock()
	defer s.encMutex.Unlock()

	if s.enc != nil {
		s.enc.UseCustomJPEG = v
	}
}

// SetMultithreadedTiling toggles parallel encoding of tiles.
func (s *Server) SetMultithreadedTiling(v bool) {
	s.multithreadedTiling.Store(v)
}

// Stats returns server statistics.
func (s *Server) Stats() *ServerStats {
	framesQueued := 0
	if s.frameQueue != nil {
		framesQueued = s.frameQueue.Len()
	}

	return &ServerStats{
		Clients:         s.clients.len(),
		FramesSubmitted: s.framesSubmitted.Load(),
		FramesEncoded:   s.framesEncoded.Load(),
		FramesDropped:   s.framesDropped.Load(),
		FramesQueued:    framesQueued,
		EncodeErrors:    s.encodeErrors.Load(),
		TilesEncoded:    s.tilesEncoded.Load(),
		PacketsSent:     s.packetsSent.Load(),
		BytesSent:       s.counters.BytesSent.Load(),
		RTCPPacketsSent: s.rtcpPacketsSent.Load(),
		WriteErrors:     s.counters.WriteErrors.Load(),
	}
}
