// Package yuv contains functions to convert RGB and grayscale images into planar YUV 4:2:0.
package yuv

import (
	"image"
)

// fixed point BT.601 coefficients, scaled by 2^18.
const (
	shift = 18

	yR = 67316
	yG = 132154
	yB = 25666

	uR = -38856
	uG = -76282
	uB = 115138

	vR = 115138
	vG = -96414
	vB = -18724

	lumaBias   = 16
	chromaBias = 128
)

func chromaSize(width int, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

// Size returns the size of a planar YUV 4:2:0 image.
func Size(width int, height int) int {
	cw, ch := chromaSize(width, height)
	return width*height + 2*cw*ch
}

func luma(r, g, b int) byte {
	return byte(((yR*r + yG*g + yB*b) >> shift) + lumaBias)
}

func chromaU(r, g, b int) byte {
	return byte(((uR*r + uG*g + uB*b) >> shift) + chromaBias)
}

func chromaV(r, g, b int) byte {
	return byte(((vR*r + vG*g + vB*b) >> shift) + chromaBias)
}

// FromRGB converts a packed RGB image into planar YUV 4:2:0.
// dst must be at least Size(width, height) bytes long.
func FromRGB(dst []byte, src []byte, width int, height int) {
	n := width * height
	cw, ch := chromaSize(width, height)
	dstY := dst[:n]
	dstU := dst[n : n+cw*ch]
	dstV := dst[n+cw*ch : n+2*cw*ch]

	for i := range n {
		dstY[i] = luma(int(src[3*i]), int(src[3*i+1]), int(src[3*i+2]))
	}

	pos := 0
	for y := 0; y < height; y += 2 {
		for x := 0; x < width; x += 2 {
			i := y*width + x
			r, g, b := int(src[3*i]), int(src[3*i+1]), int(src[3*i+2])
			dstU[pos] = chromaU(r, g, b)
			dstV[pos] = chromaV(r, g, b)
			pos++
		}
	}
}

// FromGray converts a grayscale image into planar YUV 4:2:0.
// The gray sample is used as R, G and B, therefore chroma always evaluates to the bias.
func FromGray(dst []byte, src []byte, width int, height int) {
	n := width * height
	cw, ch := chromaSize(width, height)
	dstY := dst[:n]
	dstU := dst[n : n+cw*ch]
	dstV := dst[n+cw*ch : n+2*cw*ch]

	for i := range n {
		v := int(src[i])
		dstY[i] = luma(v, v, v)
	}

	pos := 0
	for y := 0; y < height; y += 2 {
		for x := 0; x < width; x += 2 {
			v := int(src[y*width+x])
			dstU[pos] = chromaU(v, v, v)
			dstV[pos] = chromaV(v, v, v)
			pos++
		}
	}
}

// Convert converts a packed image with 1 or 3 channels into planar YUV 4:2:0.
func Convert(dst []byte, src []byte, width int, height int, channels int) {
	if channels == 1 {
		FromGray(dst, src, width, height)
	} else {
		FromRGB(dst, src, width, height)
	}
}

// Image wraps a planar YUV 4:2:0 buffer into an image.YCbCr, without copying it.
func Image(buf []byte, width int, height int) *image.YCbCr {
	n := width * height
	cw, ch := chromaSize(width, height)

	return &image.YCbCr{
		Y:              buf[:n],
		Cb:             buf[n : n+cw*ch],
		Cr:             buf[n+cw*ch : n+2*cw*ch],
		YStride:        width,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, width, height),
	}
}
