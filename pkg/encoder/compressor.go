package encoder

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/bluenviron/framecast/pkg/yuv"
)

// Compressor compresses a raw interleaved picture into a JPEG image.
// It must be safe for concurrent use, since tiles can be compressed in parallel.
type Compressor interface {
	Compress(tileIndex int, pix []byte, width int, height int, channels int) ([]byte, error)
}

// CompressorFunc is a Compressor implemented by a function.
type CompressorFunc func(tileIndex int, pix []byte, width int, height int, channels int) ([]byte, error)

// Compress implements Compressor.
func (f CompressorFunc) Compress(tileIndex int, pix []byte, width int, height int, channels int) ([]byte, error) {
	return f(tileIndex, pix, width, height, channels)
}

// DefaultJPEGQuality is the quality used by SoftwareCompressor when Quality is zero.
const DefaultJPEGQuality = 85

// SoftwareCompressor is a Compressor that runs entirely in software.
// It always emits a baseline 3-component 4:2:0 JPEG, including for gray pictures,
// so that the result can be carried by RTP/JPEG.
type SoftwareCompressor struct {
	// JPEG quality, between 1 and 100.
	Quality int

	pool sync.Pool
}

// Compress implements Compressor.
func (c *SoftwareCompressor) Compress(_ int, pix []byte, width int, height int, channels int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid picture size %dx%d", width, height)
	}

	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("unsupported channel count (%d)", channels)
	}

	if len(pix) < width*height*channels {
		return nil, fmt.Errorf("picture buffer is too small")
	}

	size := yuv.Size(width, height)

	var planar []byte
	if v := c.pool.Get(); v != nil {
		planar = *(v.(*[]byte))
	}
	if cap(planar) < size {
		planar = make([]byte, size)
	}
	planar = planar[:size]
	defer c.pool.Put(&planar)

	yuv.Convert(planar, pix, width, height, channels)

	quality := c.Quality
	if quality == 0 {
		quality = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	err := imaging.Encode(&buf, yuv.Image(planar, width, height), imaging.JPEG, imaging.JPEGQuality(quality))
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
