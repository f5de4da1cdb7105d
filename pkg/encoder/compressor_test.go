package encoder

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSoftwareCompressorGray(t *testing.T) {
	c := &SoftwareCompressor{Quality: 90}

	data, err := c.Compress(0, bytes.Repeat([]byte{128}, 40*24), 40, 24, 1)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	// gray pictures are emitted with three components
	ycbcr, ok := img.(*image.YCbCr)
	require.Equal(t, true, ok)
	require.Equal(t, image.YCbCrSubsampleRatio420, ycbcr.SubsampleRatio)
	require.InDelta(t, 128, int(ycbcr.Cb[0]), 2)
	require.InDelta(t, 128, int(ycbcr.Cr[0]), 2)
}

func TestSoftwareCompressorErrors(t *testing.T) {
	c := &SoftwareCompressor{}

	for _, ca := range []struct {
		name     string
		pix      []byte
		w        int
		h        int
		channels int
		err      string
	}{
		{"size", nil, 0, 10, 3, "invalid picture size 0x10"},
		{"channels", make([]byte, 64), 4, 4, 4, "unsupported channel count (4)"},
		{"buffer", make([]byte, 10), 4, 4, 3, "picture buffer is too small"},
	} {
		t.Run(ca.name, func(t *testing.T) {
			_, err := c.Compress(0, ca.pix, ca.w, ca.h, ca.channels)
			require.EqualError(t, err, ca.err)
		})
	}
}

func TestSoftwareCompressorConcurrent(t *testing.T) {
	c := &SoftwareCompressor{}

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	errs := make([]error, 8)

	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.Compress(i, bytes.Repeat([]byte{byte(i * 30)}, 32*32*3), 32, 32, 3)
		}()
	}

	wg.Wait()

	for i := range 8 {
		require.NoError(t, errs[i])
		_, err := jpeg.DecodeConfig(bytes.NewReader(results[i]))
		require.NoError(t, err)
	}
}
