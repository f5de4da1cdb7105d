package framecast

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/gortsplib/v5/pkg/base"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bluenviron/framecast/pkg/encoder"
	"github.com/bluenviron/framecast/pkg/liberrors"
	"github.com/bluenviron/framecast/pkg/tileheader"
)

type fakeClient struct {
	id   uuid.UUID
	fail error

	mutex  sync.Mutex
	pkts   []*Packet
	closed bool
}

func newFakeClient(fail error) *fakeClient {
	return &fakeClient{
		id:   uuid.New(),
		fail: fail,
	}
}

func (c *fakeClient) ID() uuid.UUID {
	return c.id
}

func (c *fakeClient) WritePacket(pkt *Packet) error {
	if c.fail != nil {
		return c.fail
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.pkts = append(c.pkts, pkt)
	return nil
}

func (c *fakeClient) Close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.closed = true
}

func (c *fakeClient) packets() []*Packet {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]*Packet(nil), c.pkts...)
}

func (c *fakeClient) isClosed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closed
}

type testHandler struct {
	mutex        sync.Mutex
	closed       []error
	encodeErrors []error
	dropped      int
}

func (h *testHandler) OnClientClose(ctx *ServerHandlerOnClientCloseCtx) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.closed = append(h.closed, ctx.Error)
}

func (h *testHandler) OnEncodeError(ctx *ServerHandlerOnEncodeErrorCtx) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.encodeErrors = append(h.encodeErrors, ctx.Error)
}

func (h *testHandler) OnFrameDropped(_ *ServerHandlerOnFrameDroppedCtx) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.dropped++
}

// passEngine returns every frame as a packet, immediately.
type passEngine struct {
	block   chan struct{}
	started chan struct{}
	mapPTS  func(int64) int64
	pending *encoder.Packet
	once    sync.Once
}

func (e *passEngine) SendFrame(f *encoder.Frame) error {
	if e.block != nil {
		e.once.Do(func() {
			close(e.started)
			<-e.block
		})
	}

	pts := f.PTS
	if e.mapPTS != nil {
		pts = e.mapPTS(pts)
	}

	e.pending = &encoder.Packet{
		Data:     []byte{0, 0, 0, 1, 0x65, byte(f.PTS)},
		PTS:      pts,
		KeyFrame: true,
	}
	return nil
}

func (e *passEngine) ReceivePacket() (*encoder.Packet, error) {
	if e.pending == nil {
		return nil, encoder.ErrAgain
	}
	pkt := e.pending
	e.pending = nil
	return pkt, nil
}

func (e *passEngine) Close() {}

// stepClock advances by one second at every call.
type stepClock struct {
	mutex sync.Mutex
	cur   time.Time
}

func (c *stepClock) now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

func (c *stepClock) last() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.cur
}

func listenLoopback(network string, _ string) (net.Listener, error) {
	return net.Listen(network, "127.0.0.1:0")
}

func startServer(t *testing.T, s *Server) {
	if s.URL == "" {
		s.URL = "rtsp://127.0.0.1:8554/stream"
	}
	s.Listen = listenLoopback
	s.Logger = zaptest.NewLogger(t)

	err := s.Initialize()
	require.NoError(t, err)

	err = s.Start()
	require.NoError(t, err)
}

func tileCompressor(fail int) encoder.Compressor {
	return encoder.CompressorFunc(func(tileIndex int, _ []byte, width int, height int, _ int) ([]byte, error) {
		if tileIndex == fail {
			return nil, fmt.Errorf("tile failed")
		}
		return []byte{0xFF, 0xD8, byte(tileIndex), byte(width / 8), byte(height / 8), 0xFF, 0xD9}, nil
	})
}

func TestServerInvalidURL(t *testing.T) {
	s := &Server{
		URL:    "127.0.0.1:1234",
		Width:  64,
		Height: 48,
		Codec:  CodecMJPEG,
		Logger: zaptest.NewLogger(t),
	}

	err := s.Initialize()
	require.Error(t, err)

	var urlErr liberrors.ErrServerInvalidURL
	require.ErrorAs(t, err, &urlErr)
	require.Equal(t, "127.0.0.1:1234", urlErr.URL)

	require.Equal(t, err, s.Err())

	err = s.Start()
	require.ErrorAs(t, err, &urlErr)
	require.Nil(t, s.NetAddr())

	require.Equal(t, false, s.SubmitFrameBuffered(make([]byte, 64*48*3)))

	err = s.SubmitFrame(make([]byte, 64*48*3))
	require.ErrorAs(t, err, &urlErr)

	s.Close()
}

func TestServerInvalidConfig(t *testing.T) {
	for _, ca := range []struct {
		name string
		s    *Server
		err  string
	}{
		{
			"zero size",
			&Server{URL: "rtsp://127.0.0.1:8554", Width: 0, Height: 48},
			"invalid configuration: invalid frame size 0x48",
		},
		{
			"channels",
			&Server{URL: "rtsp://127.0.0.1:8554", Width: 64, Height: 48, Channels: 2},
			"invalid configuration: unsupported channel count (2)",
		},
		{
			"missing port",
			&Server{URL: "rtsp://127.0.0.1", Width: 64, Height: 48},
			"invalid URL 'rtsp://127.0.0.1': port is missing",
		},
		{
			"h264 without engine",
			&Server{URL: "rtsp://127.0.0.1:8554", Width: 64, Height: 48, Codec: CodecH264},
			"codec not found: H264",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			err := ca.s.Initialize()
			require.EqualError(t, err, ca.err)
			require.EqualError(t, ca.s.Err(), ca.err)

			err = ca.s.Start()
			require.EqualError(t, err, "server is in error state: "+ca.err)
		})
	}
}

func TestServerMJPEGSizeWarning(t *testing.T) {
	for _, ca := range []struct {
		name     string
		width    int
		height   int
		warnings int
	}{
		{"aligned", 96, 72, 0},
		{"unaligned", 100, 75, 1},
	} {
		t.Run(ca.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)

			s := &Server{
				URL:      "rtsp://127.0.0.1:8554/stream",
				Width:    ca.width,
				Height:   ca.height,
				Channels: 1,
				Codec:    CodecMJPEG,
				Listen:   listenLoopback,
				Logger:   zap.New(core),
			}
			err := s.Initialize()
			require.NoError(t, err)

			err = s.Start()
			require.NoError(t, err)
			defer s.Close()

			c := newFakeClient(nil)
			err = s.AddClient(c)
			require.NoError(t, err)

			for range 3 {
				err = s.SubmitFrame(make([]byte, ca.width*ca.height))
				require.NoError(t, err)
			}

			require.Len(t, c.packets(), 3)
			require.Equal(t, ca.warnings, logs.Len())
		})
	}
}

func TestServerStartTwice(t *testing.T) {
	s := &Server{
		Width:    64,
		Height:   48,
		Channels: 1,
		Codec:    CodecMJPEG,
	}
	startServer(t, s)

	err := s.Start()
	require.Equal(t, liberrors.ErrServerAlreadyStarted{}, err)

	s.Close()
	s.Close()

	err = s.Wait()
	require.NoError(t, err)

	err = s.Start()
	require.Equal(t, liberrors.ErrServerTerminated{}, err)
}

func TestServerNetAddrDuringStartAndClose(t *testing.T) {
	s := &Server{
		URL:      "rtsp://127.0.0.1:8554/stream",
		Width:    64,
		Height:   48,
		Channels: 1,
		Codec:    CodecMJPEG,
		Listen:   listenLoopback,
		Logger:   zaptest.NewLogger(t),
	}
	err := s.Initialize()
	require.NoError(t, err)

	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			s.NetAddr()
		}
	}()

	err = s.Start()
	require.NoError(t, err)
	require.NotNil(t, s.NetAddr())

	s.Close()

	close(stop)
	<-done
}

func TestServerSubmitErrors(t *testing.T) {
	s := &Server{
		URL:      "rtsp://127.0.0.1:8554",
		Width:    64,
		Height:   48,
		Channels: 1,
		Codec:    CodecMJPEG,
		Logger:   zaptest.NewLogger(t),
	}
	err := s.Initialize()
	require.NoError(t, err)

	err = s.SubmitFrame(make([]byte, 64*48))
	require.Equal(t, liberrors.ErrServerNotStarted{}, err)

	s.Listen = listenLoopback
	err = s.Start()
	require.NoError(t, err)
	defer s.Close()

	err = s.SubmitFrame(make([]byte, 64*48))
	require.Equal(t, liberrors.ErrServerNoClients{}, err)
	require.Equal(t, uint64(0), s.Stats().FramesEncoded)
}

func TestServerFailingClient(t *testing.T) {
	h := &testHandler{}

	s := &Server{
		Width:    64,
		Height:   48,
		Channels: 1,
		Codec:    CodecMJPEG,
		Handler:  h,
	}
	startServer(t, s)
	defer s.Close()

	good := newFakeClient(nil)
	bad := newFakeClient(fmt.Errorf("broken pipe"))

	err := s.AddClient(bad)
	require.NoError(t, err)

	err = s.AddClient(good)
	require.NoError(t, err)

	err = s.AddClient(good)
	require.Error(t, err)

	require.Len(t, s.Clients(), 2)

	err = s.SubmitFrame(make([]byte, 64*48))
	require.NoError(t, err)

	require.Equal(t, []Client{good}, s.Clients())
	require.Equal(t, true, bad.isClosed())
	require.Equal(t, false, good.isClosed())
	require.Equal(t, []error{fmt.Errorf("broken pipe")}, h.closed)

	err = s.SubmitFrame(make([]byte, 64*48))
	require.NoError(t, err)

	pkts := good.packets()
	require.Len(t, pkts, 2)
	require.Equal(t, int64(0), pkts[0].PTS)
	require.Equal(t, int64(1), pkts[1].PTS)
	require.Equal(t, []byte{0xFF, 0xD8}, pkts[0].Payload[:2])
	require.Nil(t, pkts[0].Tile)

	require.Equal(t, uint64(2), s.Stats().FramesEncoded)
	require.Equal(t, uint64(2), s.Stats().PacketsSent)
}

func TestServerPTSIncreasing(t *testing.T) {
	s := &Server{
		Width:     64,
		Height:    48,
		Codec:     CodecH264,
		NewEngine: func(encoder.EngineConf) (encoder.Engine, error) { return &passEngine{}, nil },
	}
	startServer(t, s)
	defer s.Close()

	c := newFakeClient(nil)
	err := s.AddClient(c)
	require.NoError(t, err)

	for range 5 {
		err = s.SubmitFrame(make([]byte, 64*48*3))
		require.NoError(t, err)
	}

	pkts := c.packets()
	require.Len(t, pkts, 5)

	for i := 1; i < len(pkts); i++ {
		require.Greater(t, pkts[i].PTS, pkts[i-1].PTS)
		require.Equal(t, CodecH264, pkts[i].Codec)
	}
}

func TestServerCaptureTimeFallback(t *testing.T) {
	for _, ca := range []struct {
		name   string
		frames int
		mapPTS func(int64) int64
		pts    int64
	}{
		{
			"unknown pts",
			1,
			func(int64) int64 { return -1 },
			-1,
		},
		{
			"overwritten slot",
			41,
			func(pts int64) int64 {
				if pts >= 40 {
					return pts - 40
				}
				return pts
			},
			0,
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			clk := &stepClock{cur: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}

			s := &Server{
				Width:  64,
				Height: 48,
				Codec:  CodecH264,
				NewEngine: func(encoder.EngineConf) (encoder.Engine, error) {
					return &passEngine{mapPTS: ca.mapPTS}, nil
				},
				timeNow: clk.now,
			}
			startServer(t, s)
			defer s.Close()

			c := newFakeClient(nil)
			err := s.AddClient(c)
			require.NoError(t, err)

			for range ca.frames {
				require.NotPanics(t, func() {
					err = s.SubmitFrame(make([]byte, 64*48*3))
				})
				require.NoError(t, err)
			}

			pkts := c.packets()
			require.Len(t, pkts, ca.frames)

			pkt := pkts[len(pkts)-1]
			require.Equal(t, ca.pts, pkt.PTS)
			require.Equal(t, clk.last(), pkt.NTP)

			if len(pkts) > 1 {
				require.True(t, pkt.NTP.After(pkts[len(pkts)-2].NTP))
			}
		})
	}
}

func TestServerCustomH264(t *testing.T) {
	h := &testHandler{}

	s := &Server{
		Width:               64,
		Height:              48,
		Codec:               CodecH264,
		UseCustomEncodeH264: true,
		NewEngine:           func(encoder.EngineConf) (encoder.Engine, error) { return &passEngine{}, nil },
		Handler:             h,
	}
	startServer(t, s)
	defer s.Close()

	err := s.AddClient(newFakeClient(nil))
	require.NoError(t, err)

	err = s.SubmitFrame(make([]byte, 64*48*3))
	require.Equal(t, liberrors.ErrUnsupportedCustomEncode{Codec: "H264"}, err)
	require.Len(t, h.encodeErrors, 1)
	require.NoError(t, s.Err())
	require.Equal(t, uint64(1), s.Stats().EncodeErrors)
}

func TestServerTiledFrame(t *testing.T) {
	for _, multithreaded := range []bool{false, true} {
		t.Run(fmt.Sprintf("multithreaded %v", multithreaded), func(t *testing.T) {
			s := &Server{
				Width:               5000,
				Height:              2000,
				Channels:            1,
				Codec:               CodecMJPEG,
				MultithreadedTiling: multithreaded,
				TileWorkers:         2,
				Compressor:          tileCompressor(-1),
			}
			startServer(t, s)
			defer s.Close()

			c := newFakeClient(nil)
			err := s.AddClient(c)
			require.NoError(t, err)

			frame := make([]byte, 5000*2000)

			err = s.SubmitBigFrame(frame, 0)
			require.NoError(t, err)

			// frames that need tiling are tiled by SubmitFrame too
			err = s.SubmitFrame(frame)
			require.NoError(t, err)

			pkts := c.packets()
			require.Len(t, pkts, 12)

			for i, pkt := range pkts[:6] {
				payload, h, err := tileheader.Split(pkt.Payload)
				require.NoError(t, err)

				require.Equal(t, tileheader.Header{
					Column:      i % 3,
					Row:         i / 3,
					Columns:     3,
					Rows:        2,
					FrameWidth:  5000,
					FrameHeight: 2000,
				}, h)
				require.Equal(t, &h, pkt.Tile)

				// every tile is compressed at full tile size
				require.Equal(t, []byte{0xFF, 0xD8, byte(i), 1920 / 8, 1080 / 8, 0xFF, 0xD9}, payload)
				require.Equal(t, int64(i), pkt.PTS)
			}

			// sequence advances by tiles + 1
			require.Equal(t, int64(7), pkts[6].PTS)

			require.Equal(t, uint64(12), s.Stats().TilesEncoded)
		})
	}
}

func TestServerTiledFrameStride(t *testing.T) {
	var mutex sync.Mutex
	var firstTile []byte

	s := &Server{
		Width:    4000,
		Height:   1000,
		Channels: 3,
		Codec:    CodecMJPEG,
		Compressor: encoder.CompressorFunc(func(tileIndex int, pix []byte, _ int, _ int, _ int) ([]byte, error) {
			if tileIndex == 0 {
				mutex.Lock()
				firstTile = append([]byte(nil), pix[:6]...)
				mutex.Unlock()
			}
			return []byte{0xFF, 0xD8, 0xFF, 0xD9}, nil
		}),
	}
	startServer(t, s)
	defer s.Close()

	err := s.AddClient(newFakeClient(nil))
	require.NoError(t, err)

	stride := 4000*3 + 12
	frame := make([]byte, stride*1000)
	frame[stride] = 1 // first pixel of the second line
	frame[0] = 7

	err = s.SubmitBigFrame(frame, stride)
	require.NoError(t, err)
	require.Equal(t, []byte{7, 0, 0, 0, 0, 0}, firstTile)

	err = s.SubmitBigFrame(frame[:100], stride)
	require.Equal(t, liberrors.ErrServerInvalidFrameSize{Expected: stride*999 + 4000*3, Value: 100}, err)
}

func TestServerTileFailure(t *testing.T) {
	h := &testHandler{}

	s := &Server{
		Width:               5000,
		Height:              2000,
		Channels:            1,
		Codec:               CodecMJPEG,
		MultithreadedTiling: true,
		Compressor:          tileCompressor(2),
		Handler:             h,
	}
	startServer(t, s)
	defer s.Close()

	c := newFakeClient(nil)
	err := s.AddClient(c)
	require.NoError(t, err)

	frame := make([]byte, 5000*2000)

	err = s.SubmitBigFrame(frame, 0)
	require.Equal(t, liberrors.ErrTileEncode{Failed: 1, Total: 6, Err: fmt.Errorf("tile failed")}, err)
	require.Empty(t, c.packets())
	require.Len(t, h.encodeErrors, 1)

	s.SetCompressor(tileCompressor(-1))

	err = s.SubmitBigFrame(frame, 0)
	require.NoError(t, err)

	pkts := c.packets()
	require.Len(t, pkts, 6)
	require.Equal(t, int64(7), pkts[0].PTS)
}

func TestServerFrameQueue(t *testing.T) {
	h := &testHandler{}

	eng := &passEngine{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}

	s := &Server{
		Width:          64,
		Height:         48,
		Codec:          CodecH264,
		FrameQueueSize: 5,
		NewEngine:      func(encoder.EngineConf) (encoder.Engine, error) { return eng, nil },
		Handler:        h,
	}
	startServer(t, s)
	defer s.Close()

	c := newFakeClient(nil)
	err := s.AddClient(c)
	require.NoError(t, err)

	frame := make([]byte, 64*48*3)

	ok := s.SubmitFrameBuffered(frame)
	require.Equal(t, true, ok)

	<-eng.started

	accepted := 0
	for range 9 {
		if s.SubmitFrameBuffered(frame) {
			accepted++
		}
	}

	require.Equal(t, 5, accepted)
	require.Equal(t, 5, s.Stats().FramesQueued)
	require.Equal(t, 4, h.dropped)
	require.Equal(t, uint64(4), s.Stats().FramesDropped)

	close(eng.block)

	require.Eventually(t, func() bool {
		return len(c.packets()) == 6
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, 0, s.Stats().FramesQueued)
	require.LessOrEqual(t, s.Stats().FramesEncoded, s.Stats().FramesSubmitted)
}

func TestServerTCPClient(t *testing.T) {
	s := &Server{
		Width:      64,
		Height:     48,
		Channels:   1,
		Codec:      CodecMJPEG,
		RTCPPeriod: 100 * time.Millisecond,
	}
	startServer(t, s)
	defer s.Close()

	nconn, err := net.Dial("tcp", s.NetAddr().String())
	require.NoError(t, err)
	defer nconn.Close()

	require.Eventually(t, s.IsConnected, 5*time.Second, 10*time.Millisecond)

	err = s.SubmitFrame(make([]byte, 64*48))
	require.NoError(t, err)

	br := bufio.NewReader(nconn)
	var f base.InterleavedFrame

	for {
		err = f.Unmarshal(br)
		require.NoError(t, err)

		if f.Channel != 0 {
			continue
		}

		var pkt rtp.Packet
		err = pkt.Unmarshal(f.Payload)
		require.NoError(t, err)
		require.Equal(t, uint8(26), pkt.PayloadType)

		if pkt.Marker {
			break
		}
	}

	require.Eventually(t, func() bool {
		return s.Stats().BytesSent > 0
	}, 5*time.Second, 10*time.Millisecond)

	nconn.Close()

	require.Eventually(t, func() bool {
		return !s.IsConnected()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServerWebSocketClient(t *testing.T) {
	s := &Server{
		Width:            64,
		Height:           48,
		Channels:         3,
		Codec:            CodecMJPEG,
		WebSocketAddress: "127.0.0.1:0",
	}
	startServer(t, s)
	defer s.Close()

	wc, _, err := websocket.DefaultDialer.Dial("ws://"+s.wsListener.ln.Addr().String()+"/stream", nil) //nolint:bodyclose
	require.NoError(t, err)
	defer wc.Close()

	require.Eventually(t, s.IsConnected, 5*time.Second, 10*time.Millisecond)

	err = s.SubmitFrame(make([]byte, 64*48*3))
	require.NoError(t, err)

	msgType, msg, err := wc.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)
	require.Equal(t, []byte{0xFF, 0xD8}, msg[:2])
}

func TestServerCloseClients(t *testing.T) {
	h := &testHandler{}

	s := &Server{
		Width:    64,
		Height:   48,
		Channels: 1,
		Codec:    CodecMJPEG,
		Handler:  h,
	}
	startServer(t, s)

	c := newFakeClient(nil)
	err := s.AddClient(c)
	require.NoError(t, err)

	s.Close()

	require.Equal(t, true, c.isClosed())
	require.Equal(t, false, s.IsConnected())
	require.Equal(t, []error{liberrors.ErrServerTerminated{}}, h.closed)

	err = s.SubmitFrame(make([]byte, 64*48))
	require.Equal(t, liberrors.ErrServerNotStarted{}, err)

	err = s.AddClient(newFakeClient(nil))
	require.Equal(t, liberrors.ErrServerNotStarted{}, err)
}
