package framecast

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bluenviron/framecast/pkg/encoder"
	"github.com/bluenviron/framecast/pkg/liberrors"
	"github.com/bluenviron/framecast/pkg/tileheader"
	"github.com/bluenviron/framecast/pkg/tiling"
)

func (s *Server) checkSubmit() error {
	if err := s.Err(); err != nil {
		return liberrors.ErrServerErrored{Err: err}
	}

	if !s.isRunning() {
		return liberrors.ErrServerNotStarted{}
	}

	if !s.IsConnected() {
		return liberrors.ErrServerNoClients{}
	}

	return nil
}

// SubmitFrame encodes a raw frame and writes it to every client.
// The frame must contain Width*Height*Channels bytes, without line padding.
// MJPEG frames that are too big for a single JPEG are split into tiles.
func (s *Server) SubmitFrame(buf []byte) error {
	err := s.checkSubmit()
	if err != nil {
		return err
	}

	s.framesSubmitted.Add(1)

	s.encMutex.Lock()
	defer s.encMutex.Unlock()

	if s.enc.NeedsTiling() {
		return s.encodeTiledLocked(buf, 0)
	}

	return s.encodeFrameLocked(buf)
}

// SubmitBigFrame encodes a raw frame of any size and writes it to every client.
// stride is the size in bytes of a line of the frame; zero means Width*Channels.
// MJPEG frames larger than what a single RTP/JPEG image can carry are split into tiles,
// each one followed by a tile trailer. Other frames are handled as in SubmitFrame().
func (s *Server) SubmitBigFrame(buf []byte, stride int) error {
	err := s.checkSubmit()
	if err != nil {
		return err
	}

	s.framesSubmitted.Add(1)

	s.encMutex.Lock()
	defer s.encMutex.Unlock()

	if !s.enc.NeedsTiling() {
		if stride != 0 && stride != s.Width*s.Channels {
			packed := s.packLines(buf, stride)
			if packed == nil {
				return liberrors.ErrServerInvalidFrameSize{
					Expected: stride*(s.Height-1) + s.Width*s.Channels,
					Value:    len(buf),
				}
			}
			buf = packed
		}
		return s.encodeFrameLocked(buf)
	}

	return s.encodeTiledLocked(buf, stride)
}

// SubmitFrameBuffered copies a raw frame into the frame queue and returns immediately.
// The frame is encoded later by a dedicated routine, started with the first frame.
// It returns false when the frame is discarded because the queue is full
// or the server is not running.
func (s *Server) SubmitFrameBuffered(buf []byte) bool {
	if s.Err() != nil || !s.isRunning() {
		return false
	}

	s.framesSubmitted.Add(1)

	frame := make([]byte, len(buf))
	copy(frame, buf)

	ok := s.frameQueue.Push(frame)
	if !ok {
		s.framesDropped.Add(1)
		s.Logger.Debug("frame queue is full, frame discarded", zap.Int("queue_size", s.FrameQueueSize))

		if h, ok2 := s.Handler.(ServerHandlerOnFrameDropped); ok2 {
			h.OnFrameDropped(&ServerHandlerOnFrameDroppedCtx{
				QueueSize: s.FrameQueueSize,
			})
		}
		return false
	}

	return true
}

func (s *Server) processQueuedFrame(buf []byte) error {
	if s.checkSubmit() != nil {
		return nil
	}

	s.encMutex.Lock()
	defer s.encMutex.Unlock()

	if s.enc.NeedsTiling() {
		s.encodeTiledLocked(buf, 0) //nolint:errcheck
	} else {
		s.encodeFrameLocked(buf) //nolint:errcheck
	}

	// encoding errors are reported by the handler and must not stop the queue.
	return nil
}

// packLines removes line padding.
func (s *Server) packLines(buf []byte, stride int) []byte {
	lineSize := s.Width * s.Channels
	if stride < lineSize || len(buf) < stride*(s.Height-1)+lineSize {
		return nil
	}

	ret := make([]byte, lineSize*s.Height)
	for y := 0; y < s.Height; y++ {
		copy(ret[y*lineSize:(y+1)*lineSize], buf[y*stride:y*stride+lineSize])
	}
	return ret
}

func (s *Server) reportEncodeError(pts int64, err error) {
	s.encodeErrors.Add(1)
	s.Logger.Error("unable to encode frame", zap.Int64("pts", pts), zap.Error(err))

	if h, ok := s.Handler.(ServerHandlerOnEncodeError); ok {
		h.OnEncodeError(&ServerHandlerOnEncodeErrorCtx{
			PTS:   pts,
			Error: err,
		})
	}
}

type captureSlot struct {
	pts int64
	t   time.Time
}

// captureTime returns the time at which the frame with the given PTS was submitted,
// or the current time when the slot was overwritten or the PTS is unknown.
func (s *Server) captureTime(pts int64) time.Time {
	slot := s.captureTimes[uint64(pts)%captureTimesSize]
	if slot.pts != pts || slot.t.IsZero() {
		return s.timeNow()
	}
	return slot.t
}

func (s *Server) encodeFrameLocked(buf []byte) error {
	pts := s.sequence
	s.sequence++
	s.captureTimes[uint64(pts)%captureTimesSize] = captureSlot{pts: pts, t: s.timeNow()}

	start := time.Now()

	encoded, err := s.enc.EncodeFrame(buf, pts)
	if err != nil {
		s.reportEncodeError(pts, err)
		return err
	}

	s.framesEncoded.Add(1)
	s.Logger.Debug("frame encoded", zap.Int64("pts", pts),
		zap.Int("packets", len(encoded)), zap.Duration("duration", time.Since(start)))

	if len(encoded) == 0 {
		return nil
	}

	pkts := make([]*Packet, len(encoded))
	for i, e := range encoded {
		pkts[i] = &Packet{
			Payload:  e.Data,
			PTS:      e.PTS,
			NTP:      s.captureTime(e.PTS),
			Codec:    s.Codec,
			KeyFrame: e.KeyFrame,
		}
	}

	s.writeBatch(pkts)

	return nil
}

func (s *Server) encodeTiledLocked(buf []byte, stride int) error {
	channels := s.Channels
	if stride == 0 {
		stride = s.Width * channels
	}

	pts := s.sequence

	if stride < s.Width*channels || len(buf) < stride*(s.Height-1)+s.Width*channels {
		err := liberrors.ErrServerInvalidFrameSize{
			Expected: stride*(s.Height-1) + s.Width*channels,
			Value:    len(buf),
		}
		s.reportEncodeError(pts, err)
		return err
	}

	grid, err := s.tiles.Get(s.Width, s.Height, encoder.MaxWidthJPEG, encoder.MaxHeightJPEG)
	if err != nil {
		s.reportEncodeError(pts, err)
		return err
	}

	if grid.Columns > tileheader.MaxGridSize || grid.Rows > tileheader.MaxGridSize {
		err = liberrors.ErrGridTooLarge{Columns: grid.Columns, Rows: grid.Rows}
		s.reportEncodeError(pts, err)
		return err
	}

	n := grid.Len()
	ntp := s.timeNow()

	// the tile batch occupies n sequence numbers, plus one separating it from the next frame.
	s.sequence += int64(n) + 1

	scratchSize := encoder.MaxWidthJPEG * encoder.MaxHeightJPEG * channels
	for len(s.scratch) < n {
		s.scratch = append(s.scratch, make([]byte, scratchSize))
	}

	for i, t := range grid.Tiles {
		if t.Width != encoder.MaxWidthJPEG || t.Height != encoder.MaxHeightJPEG {
			clear(s.scratch[i])
		}
		tiling.CopyTile(s.scratch[i], encoder.MaxWidthJPEG*channels, buf, stride, t, channels)
	}

	start := time.Now()
	encoded := make([]*encoder.Packet, n)
	errs := make([]error, n)

	encodeTile := func(i int) {
		encoded[i], errs[i] = s.enc.EncodeTile(i, s.scratch[i],
			encoder.MaxWidthJPEG, encoder.MaxHeightJPEG, pts+int64(i))
	}

	if s.multithreadedTiling.Load() && n > 1 {
		var g errgroup.Group
		g.SetLimit(s.TileWorkers)

		for i := range n {
			g.Go(func() error {
				encodeTile(i)
				return nil
			})
		}

		g.Wait() //nolint:errcheck
	} else {
		for i := range n {
			encodeTile(i)
		}
	}

	failed := 0
	var firstErr error
	for _, err := range errs {
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failed++
		}
	}

	if failed != 0 {
		err = liberrors.ErrTileEncode{Failed: failed, Total: n, Err: firstErr}
		s.reportEncodeError(pts, err)
		return err
	}

	pkts := make([]*Packet, n)

	for i, t := range grid.Tiles {
		h := &tileheader.Header{
			Column:      t.Column,
			Row:         t.Row,
			Columns:     grid.Columns,
			Rows:        grid.Rows,
			FrameWidth:  s.Width,
			FrameHeight: s.Height,
		}

		payload, err := tileheader.Append(encoded[i].Data, *h)
		if err != nil {
			s.reportEncodeError(pts, err)
			return err
		}

		pkts[i] = &Packet{
			Payload:  payload,
			PTS:      encoded[i].PTS,
			NTP:      ntp,
			Codec:    s.Codec,
			KeyFrame: true,
			Tile:     h,
		}
	}

	s.framesEncoded.Add(1)
	s.tilesEncoded.Add(uint64(n))
	s.Logger.Debug("frame encoded", zap.Int64("pts", pts),
		zap.Int("tiles", n), zap.Duration("duration", time.Since(start)))

	s.writeBatch(pkts)

	return nil
}

// writeBatch writes the packets of a frame to every client.
// Failing clients are removed after the batch has been written to the others.
func (s *Server) writeBatch(pkts []*Packet) {
	written, failures := s.clients.writeBatch(pkts)
	s.packetsSent.Add(uint64(written))

	for _, f := range failures {
		s.Logger.Warn("client write failed", zap.Stringer("client", f.client.ID()), zap.Error(f.err))
		s.RemoveClient(f.client, f.err)
	}
}
