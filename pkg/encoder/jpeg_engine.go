package encoder

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/bluenviron/framecast/pkg/yuv"
)

// jpegEngine is an Engine that produces motion-JPEG in software.
type jpegEngine struct {
	conf    EngineConf
	quality int
	pending *Packet
}

func newJPEGEngine(conf EngineConf, quality int) (*jpegEngine, error) {
	if conf.Codec != CodecMJPEG {
		return nil, fmt.Errorf("codec %v is not supported by the software engine", conf.Codec)
	}

	if quality == 0 {
		quality = DefaultJPEGQuality
	}

	return &jpegEngine{
		conf:    conf,
		quality: quality,
	}, nil
}

// SendFrame implements Engine.
func (e *jpegEngine) SendFrame(f *Frame) error {
	if e.pending != nil {
		return ErrAgain
	}

	if f.Width != e.conf.Width || f.Height != e.conf.Height {
		return fmt.Errorf("frame size %dx%d does not match engine size %dx%d",
			f.Width, f.Height, e.conf.Width, e.conf.Height)
	}

	if len(f.Data) < yuv.Size(f.Width, f.Height) {
		return fmt.Errorf("frame buffer is too small")
	}

	var buf bytes.Buffer
	err := imaging.Encode(&buf, yuv.Image(f.Data, f.Width, f.Height), imaging.JPEG, imaging.JPEGQuality(e.quality))
	if err != nil {
		return err
	}

	e.pending = &Packet{
		Data:     buf.Bytes(),
		PTS:      f.PTS,
		KeyFrame: true,
	}

	return nil
}

// ReceivePacket implements Engine.
func (e *jpegEngine) ReceivePacket() (*Packet, error) {
	if e.pending == nil {
		return nil, ErrAgain
	}

	pkt := e.pending
	e.pending = nil
	return pkt, nil
}

// Close implements Engine.
func (e *jpegEngine) Close() {
	e.pending = nil
}
