// Package ffmpeg contains an encoder engine backed by FFmpeg.
package ffmpeg

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/bluenviron/framecast/pkg/encoder"
	"github.com/bluenviron/framecast/pkg/liberrors"
)

// H264 encoders, in order of preference.
var h264Encoders = []string{
	"h264_nvenc",
	"libx264",
}

func candidates(c encoder.Codec) []*astiav.Codec {
	var ret []*astiav.Codec

	switch c {
	case encoder.CodecH264:
		for _, name := range h264Encoders {
			if codec := astiav.FindEncoderByName(name); codec != nil {
				ret = append(ret, codec)
			}
		}

		if codec := astiav.FindEncoder(astiav.CodecIDH264); codec != nil {
			ret = append(ret, codec)
		}

	case encoder.CodecMJPEG:
		if codec := astiav.FindEncoder(astiav.CodecIDMjpeg); codec != nil {
			ret = append(ret, codec)
		}
	}

	return ret
}

func options(c encoder.Codec) map[string]string {
	if c == encoder.CodecMJPEG {
		return map[string]string{
			"q:v":                     "3",
			"huffman":                 "0",
			"force_duplicated_matrix": "1",
		}
	}

	return map[string]string{
		"tune":   "zerolatency",
		"preset": "fast",
	}
}

// Engine is an encoder.Engine backed by FFmpeg.
type Engine struct {
	conf      encoder.EngineConf
	codecName string
	codecCtx  *astiav.CodecContext
	frame     *astiav.Frame
	pkt       *astiav.Packet
}

// NewEngine allocates an Engine.
// H264 uses h264_nvenc when available, then libx264, then any H264 encoder.
func NewEngine(conf encoder.EngineConf) (encoder.Engine, error) {
	codecs := candidates(conf.Codec)
	if len(codecs) == 0 {
		return nil, liberrors.ErrCodecNotFound{Codec: conf.Codec.String()}
	}

	e := &Engine{conf: conf}

	var lastErr error

	for _, codec := range codecs {
		err := e.open(codec)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
	}

	if lastErr != nil {
		return nil, liberrors.ErrCodecOpenFailed{Codec: conf.Codec.String(), Err: lastErr}
	}

	e.frame = astiav.AllocFrame()
	e.frame.SetWidth(conf.Width)
	e.frame.SetHeight(conf.Height)
	e.frame.SetPixelFormat(e.codecCtx.PixelFormat())

	err := e.frame.AllocBuffer(1)
	if err != nil {
		e.frame.Free()
		e.codecCtx.Free()
		return nil, fmt.Errorf("frame.AllocBuffer() failed: %w", err)
	}

	e.pkt = astiav.AllocPacket()

	return e, nil
}

func (e *Engine) open(codec *astiav.Codec) error {
	ctx := astiav.AllocCodecContext(codec)
	if ctx == nil {
		return fmt.Errorf("AllocCodecContext() failed")
	}

	ctx.SetBitRate(int64(e.conf.Bitrate))
	ctx.SetWidth(e.conf.Width)
	ctx.SetHeight(e.conf.Height)
	ctx.SetTimeBase(astiav.NewRational(1, e.conf.FPS))
	ctx.SetFramerate(astiav.NewRational(e.conf.FPS, 1))
	ctx.SetGopSize(0)

	if e.conf.Codec == encoder.CodecMJPEG {
		ctx.SetPixelFormat(astiav.PixelFormatYuvj420P)
	} else {
		ctx.SetPixelFormat(astiav.PixelFormatYuv420P)
		ctx.SetMaxBFrames(1)
		ctx.SetFlags(astiav.NewCodecContextFlags(astiav.CodecContextFlagLowDelay))
		ctx.SetFlags2(astiav.NewCodecContextFlags2(astiav.CodecContextFlag2Fast))
	}

	dict := astiav.NewDictionary()
	defer dict.Free()

	for k, v := range options(e.conf.Codec) {
		err := dict.Set(k, v, 0)
		if err != nil {
			ctx.Free()
			return err
		}
	}

	err := ctx.Open(codec, dict)
	if err != nil {
		ctx.Free()
		return fmt.Errorf("%s: %w", codec.Name(), err)
	}

	e.codecCtx = ctx
	e.codecName = codec.Name()

	return nil
}

// CodecName returns the name of the FFmpeg encoder in use.
func (e *Engine) CodecName() string {
	return e.codecName
}

// Close implements encoder.Engine.
func (e *Engine) Close() {
	e.pkt.Free()
	e.frame.Free()
	e.codecCtx.Free()
}

// SendFrame implements encoder.Engine.
func (e *Engine) SendFrame(f *encoder.Frame) error {
	if f.Width != e.conf.Width || f.Height != e.conf.Height {
		return fmt.Errorf("frame size %dx%d does not match engine size %dx%d",
			f.Width, f.Height, e.conf.Width, e.conf.Height)
	}

	err := e.frame.MakeWritable()
	if err != nil {
		return fmt.Errorf("frame.MakeWritable() failed: %w", err)
	}

	err = e.frame.Data().SetBytes(f.Data, 1)
	if err != nil {
		return fmt.Errorf("frame.Data().SetBytes() failed: %w", err)
	}

	e.frame.SetPts(f.PTS)

	err = e.codecCtx.SendFrame(e.frame)
	if err != nil {
		if errors.Is(err, astiav.ErrEagain) {
			return encoder.ErrAgain
		}
		return err
	}

	return nil
}

// ReceivePacket implements encoder.Engine.
func (e *Engine) ReceivePacket() (*encoder.Packet, error) {
	err := e.codecCtx.ReceivePacket(e.pkt)
	if err != nil {
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return nil, encoder.ErrAgain
		}
		return nil, err
	}

	// perform a deep copy of the data before unreferencing the packet
	pkt := &encoder.Packet{
		Data:     append([]byte(nil), e.pkt.Data()...),
		PTS:      e.pkt.Pts(),
		KeyFrame: e.pkt.Flags().Has(astiav.PacketFlagKey),
	}
	e.pkt.Unref()

	return pkt, nil
}
