// Package encoder contains the frame encoder.
package encoder

import (
	"errors"
	"fmt"

	"github.com/bluenviron/framecast/pkg/liberrors"
	"github.com/bluenviron/framecast/pkg/yuv"
)

// Maximum JPEG sizes.
const (
	// size of a tile and of the working frame when tiling is needed.
	MaxWidthJPEG  = 1920
	MaxHeightJPEG = 1080

	// largest picture that RTP/JPEG can describe.
	MaxWidthRTPJPEG  = 2040
	MaxHeightRTPJPEG = 2040
)

const (
	defaultFPS = 60

	// number of times a frame is resubmitted to an engine that keeps refusing it.
	maxSendAttempts = 4
)

// Encoder encodes raw frames into H264 or motion-JPEG.
type Encoder struct {
	// codec.
	Codec Codec

	// frame width.
	Width int

	// frame height.
	Height int

	// channels of the raw frames, 1 (gray) or 3 (RGB).
	Channels int

	// target bitrate, in bits per second.
	// It defaults to 4 Mbit/s.
	Bitrate int

	// frame rate used to configure the engine.
	// It defaults to 60.
	FPS int

	// JPEG compressor used for tiles and for custom JPEG encoding.
	// It defaults to a SoftwareCompressor.
	Compressor Compressor

	// encode whole JPEG frames through Compressor instead of the engine.
	UseCustomJPEG bool

	// encode H264 frames through a custom path. Not implemented.
	UseCustomH264 bool

	// function that allocates the engine.
	// It is mandatory for H264. MJPEG defaults to a software engine.
	NewEngine EngineFactory

	engine      Engine
	frame       Frame
	workWidth   int
	workHeight  int
	initialized bool
}

// Initialize initializes the Encoder.
func (e *Encoder) Initialize() error {
	if e.Width <= 0 || e.Height <= 0 {
		return liberrors.ErrServerInvalidConfig{Reason: fmt.Sprintf("invalid frame size %dx%d", e.Width, e.Height)}
	}

	if e.Channels != 1 && e.Channels != 3 {
		return liberrors.ErrServerInvalidConfig{Reason: fmt.Sprintf("unsupported channel count (%d)", e.Channels)}
	}

	if e.Codec != CodecH264 && e.Codec != CodecMJPEG {
		return liberrors.ErrCodecNotFound{Codec: e.Codec.String()}
	}

	if e.Bitrate == 0 {
		e.Bitrate = 4 * 1024 * 1024
	}
	if e.FPS == 0 {
		e.FPS = defaultFPS
	}
	if e.Compressor == nil {
		e.Compressor = &SoftwareCompressor{}
	}

	e.workWidth, e.workHeight = e.Width, e.Height
	if e.Codec == CodecMJPEG && (e.Width > MaxWidthRTPJPEG || e.Height > MaxHeightRTPJPEG) {
		e.workWidth, e.workHeight = MaxWidthJPEG, MaxHeightJPEG
	}

	conf := EngineConf{
		Codec:   e.Codec,
		Width:   e.workWidth,
		Height:  e.workHeight,
		Bitrate: e.Bitrate,
		FPS:     e.FPS,
	}

	switch {
	case e.NewEngine != nil:
		var err error
		e.engine, err = e.NewEngine(conf)
		if err != nil {
			return err
		}

	case e.Codec == CodecMJPEG:
		var quality int
		if sc, ok := e.Compressor.(*SoftwareCompressor); ok {
			quality = sc.Quality
		}

		var err error
		e.engine, err = newJPEGEngine(conf, quality)
		if err != nil {
			return liberrors.ErrCodecOpenFailed{Codec: e.Codec.String(), Err: err}
		}

	default:
		return liberrors.ErrCodecNotFound{Codec: e.Codec.String()}
	}

	e.frame = Frame{
		Data:   make([]byte, yuv.Size(e.workWidth, e.workHeight)),
		Width:  e.workWidth,
		Height: e.workHeight,
	}

	e.initialized = true

	return nil
}

// Close closes the Encoder and frees engine resources.
func (e *Encoder) Close() {
	if e.engine != nil {
		e.engine.Close()
		e.engine = nil
	}
	e.initialized = false
}

// WorkingSize returns the size of the pictures fed to the engine.
// MJPEG frames larger than what RTP/JPEG can describe are clamped to the tile size.
func (e *Encoder) WorkingSize() (int, int) {
	return e.workWidth, e.workHeight
}

// NeedsTiling returns whether frames must be split into tiles before being encoded.
func (e *Encoder) NeedsTiling() bool {
	return e.Codec == CodecMJPEG && (e.Width > MaxWidthRTPJPEG || e.Height > MaxHeightRTPJPEG)
}

// FrameSize returns the size in bytes of a raw frame.
func (e *Encoder) FrameSize() int {
	return e.Width * e.Height * e.Channels
}

// SetCompressor replaces the JPEG compressor.
// It must not be called concurrently with encoding.
func (e *Encoder) SetCompressor(c Compressor) {
	if c == nil {
		c = &SoftwareCompressor{}
	}
	e.Compressor = c
}

// EncodeFrame encodes a whole raw frame.
// It can return zero packets when the engine is buffering.
func (e *Encoder) EncodeFrame(pix []byte, pts int64) ([]*Packet, error) {
	if !e.initialized {
		return nil, liberrors.ErrEncoderNotInitialized{}
	}

	if len(pix) < e.FrameSize() {
		return nil, liberrors.ErrServerInvalidFrameSize{Expected: e.FrameSize(), Value: len(pix)}
	}

	switch {
	case e.Codec == CodecMJPEG && e.UseCustomJPEG:
		data, err := e.Compressor.Compress(0, pix, e.Width, e.Height, e.Channels)
		if err != nil {
			return nil, err
		}

		return []*Packet{{
			Data:     data,
			PTS:      pts,
			KeyFrame: true,
		}}, nil

	case e.Codec == CodecH264 && e.UseCustomH264:
		return nil, liberrors.ErrUnsupportedCustomEncode{Codec: e.Codec.String()}
	}

	if e.workWidth != e.Width || e.workHeight != e.Height {
		return nil, fmt.Errorf("frame size %dx%d exceeds the maximum size of the codec", e.Width, e.Height)
	}

	yuv.Convert(e.frame.Data, pix, e.Width, e.Height, e.Channels)
	e.frame.PTS = pts

	return e.encodeFrame(&e.frame)
}

func (e *Encoder) encodeFrame(f *Frame) ([]*Packet, error) {
	var pkts []*Packet

	for i := 0; ; i++ {
		err := e.engine.SendFrame(f)
		if err == nil {
			break
		}

		if !errors.Is(err, ErrAgain) {
			return nil, fmt.Errorf("unable to send frame: %w", err)
		}

		if i == (maxSendAttempts - 1) {
			return nil, fmt.Errorf("engine does not accept frames")
		}

		// engine wants its output to be consumed before accepting the frame again
		pkts, err = e.drain(pkts)
		if err != nil {
			return nil, err
		}
	}

	return e.drain(pkts)
}

func (e *Encoder) drain(pkts []*Packet) ([]*Packet, error) {
	for {
		pkt, err := e.engine.ReceivePacket()
		if err != nil {
			if errors.Is(err, ErrAgain) {
				return pkts, nil
			}
			return nil, fmt.Errorf("unable to receive packet: %w", err)
		}

		pkts = append(pkts, pkt)
	}
}

// EncodeTile encodes a tile picture into a JPEG image.
// It can be called concurrently.
func (e *Encoder) EncodeTile(index int, pix []byte, width int, height int, pts int64) (*Packet, error) {
	if !e.initialized {
		return nil, liberrors.ErrEncoderNotInitialized{}
	}

	if e.Codec != CodecMJPEG {
		return nil, fmt.Errorf("tiles can only be encoded with MJPEG")
	}

	data, err := e.Compressor.Compress(index, pix, width, height, e.Channels)
	if err != nil {
		return nil, err
	}

	return &Packet{
		Data:     data,
		PTS:      pts,
		KeyFrame: true,
	}, nil
}
