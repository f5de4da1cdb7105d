// Package tileheader contains the trailer that is appended to tiles of oversized frames.
//
// The trailer is placed after the compressed tile (i.e. after the JPEG EOI marker) and allows
// a receiver to place each tile inside the full frame without any side channel:
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|          magic ("FT")         |    version    |    column     |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|      row      |    columns    |     rows      |   reserved    |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                          frame width                          |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                         frame height                          |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//
// All fields are big endian.
package tileheader

import (
	"encoding/binary"
	"fmt"
)

const (
	// Size is the size of the trailer.
	Size = 16

	// Version is the version of the trailer.
	Version = 1

	// MaxGridSize is the maximum number of columns or rows.
	MaxGridSize = 255

	magic0 = 'F'
	magic1 = 'T'
)

// Header is a tile trailer.
type Header struct {
	// position of the tile.
	Column int
	Row    int

	// size of the grid.
	Columns int
	Rows    int

	// size of the full frame.
	FrameWidth  int
	FrameHeight int
}

func (h Header) validate() error {
	if h.Columns <= 0 || h.Columns > MaxGridSize || h.Rows <= 0 || h.Rows > MaxGridSize {
		return fmt.Errorf("invalid grid size %dx%d", h.Columns, h.Rows)
	}

	if h.Column < 0 || h.Column >= h.Columns || h.Row < 0 || h.Row >= h.Rows {
		return fmt.Errorf("tile (%d, %d) is outside grid %dx%d", h.Column, h.Row, h.Columns, h.Rows)
	}

	if h.FrameWidth <= 0 || h.FrameHeight <= 0 ||
		uint64(h.FrameWidth) > 0xFFFFFFFF || uint64(h.FrameHeight) > 0xFFFFFFFF {
		return fmt.Errorf("invalid frame size %dx%d", h.FrameWidth, h.FrameHeight)
	}

	return nil
}

// MarshalSize returns the size of a Header.
func (h Header) MarshalSize() int {
	return Size
}

// MarshalTo writes a Header.
func (h Header) MarshalTo(buf []byte) (int, error) {
	err := h.validate()
	if err != nil {
		return 0, err
	}

	if len(buf) < Size {
		return 0, fmt.Errorf("buffer is too small")
	}

	buf[0] = magic0
	buf[1] = magic1
	buf[2] = Version
	buf[3] = byte(h.Column)
	buf[4] = byte(h.Row)
	buf[5] = byte(h.Columns)
	buf[6] = byte(h.Rows)
	buf[7] = 0
	binary.BigEndian.PutUint32(buf[8:], uint32(h.FrameWidth))
	binary.BigEndian.PutUint32(buf[12:], uint32(h.FrameHeight))

	return Size, nil
}

// Marshal encodes a Header.
func (h Header) Marshal() ([]byte, error) {
	buf := make([]byte, h.MarshalSize())
	_, err := h.MarshalTo(buf)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Unmarshal decodes a Header.
func (h *Header) Unmarshal(buf []byte) error {
	if len(buf) != Size {
		return fmt.Errorf("invalid size (%d)", len(buf))
	}

	if buf[0] != magic0 || buf[1] != magic1 {
		return fmt.Errorf("invalid magic (0x%.2x%.2x)", buf[0], buf[1])
	}

	if buf[2] != Version {
		return fmt.Errorf("unsupported version (%d)", buf[2])
	}

	h.Column = int(buf[3])
	h.Row = int(buf[4])
	h.Columns = int(buf[5])
	h.Rows = int(buf[6])
	h.FrameWidth = int(binary.BigEndian.Uint32(buf[8:]))
	h.FrameHeight = int(binary.BigEndian.Uint32(buf[12:]))

	return h.validate()
}

// Append appends a trailer to a compressed tile.
func Append(payload []byte, h Header) ([]byte, error) {
	l := len(payload)

	ret := make([]byte, l+Size)
	copy(ret, payload)

	_, err := h.MarshalTo(ret[l:])
	if err != nil {
		return nil, err
	}

	return ret, nil
}

// Split separates a compressed tile from its trailer.
func Split(pkt []byte) ([]byte, Header, error) {
	if len(pkt) < Size {
		return nil, Header{}, fmt.Errorf("packet is too short")
	}

	l := len(pkt) - Size

	var h Header
	err := h.Unmarshal(pkt[l:])
	if err != nil {
		return nil, Header{}, err
	}

	return pkt[:l], h, nil
}
