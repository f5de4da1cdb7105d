// Package tiling contains utilities to split an oversized frame into a grid of tiles.
package tiling

import (
	"fmt"
	"sync"
)

// Tile is a rectangular region of a frame.
type Tile struct {
	// position of the tile inside the grid.
	Column int
	Row    int

	// pixel offset and size of the tile inside the frame.
	X      int
	Y      int
	Width  int
	Height int
}

// Grid is a partition of a frame into tiles, ordered row-major.
type Grid struct {
	Columns int
	Rows    int
	Tiles   []Tile
}

// Len returns the number of tiles.
func (g *Grid) Len() int {
	return len(g.Tiles)
}

func ceilDiv(a int, b int) int {
	return (a + b - 1) / b
}

// ComputeGrid computes the tile grid of a frame.
// Tiles in the last column and row are clipped to the frame edges.
func ComputeGrid(frameWidth int, frameHeight int, maxTileWidth int, maxTileHeight int) (*Grid, error) {
	if frameWidth <= 0 || frameHeight <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", frameWidth, frameHeight)
	}

	if maxTileWidth <= 0 || maxTileHeight <= 0 {
		return nil, fmt.Errorf("invalid maximum tile size %dx%d", maxTileWidth, maxTileHeight)
	}

	g := &Grid{
		Columns: ceilDiv(frameWidth, maxTileWidth),
		Rows:    ceilDiv(frameHeight, maxTileHeight),
	}
	g.Tiles = make([]Tile, 0, g.Columns*g.Rows)

	y := 0
	for row := range g.Rows {
		h := min(frameHeight-y, maxTileHeight)
		x := 0

		for col := range g.Columns {
			w := min(frameWidth-x, maxTileWidth)

			g.Tiles = append(g.Tiles, Tile{
				Column: col,
				Row:    row,
				X:      x,
				Y:      y,
				Width:  w,
				Height: h,
			})

			x += w
		}

		y += h
	}

	return g, nil
}

type cacheKey struct {
	frameWidth    int
	frameHeight   int
	maxTileWidth  int
	maxTileHeight int
}

// Cache memoizes grids by geometry.
// It can be used by multiple routines.
type Cache struct {
	mutex sync.Mutex
	grids map[cacheKey]*Grid
}

// Get returns the grid of the given geometry, computing it once.
// The returned grid is shared and must not be modified.
func (c *Cache) Get(frameWidth int, frameHeight int, maxTileWidth int, maxTileHeight int) (*Grid, error) {
	key := cacheKey{frameWidth, frameHeight, maxTileWidth, maxTileHeight}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if g, ok := c.grids[key]; ok {
		return g, nil
	}

	g, err := ComputeGrid(frameWidth, frameHeight, maxTileWidth, maxTileHeight)
	if err != nil {
		return nil, err
	}

	if c.grids == nil {
		c.grids = make(map[cacheKey]*Grid)
	}
	c.grids[key] = g

	return g, nil
}

// CopyTile copies the region of a tile from a packed source image into dst.
// srcStride and dstStride are the sizes of a line in bytes.
func CopyTile(dst []byte, dstStride int, src []byte, srcStride int, t Tile, channels int) {
	lineSize := t.Width * channels
	srcPos := t.Y*srcStride + t.X*channels
	dstPos := 0

	for range t.Height {
		copy(dst[dstPos:dstPos+lineSize], src[srcPos:srcPos+lineSize])
		srcPos += srcStride
		dstPos += dstStride
	}
}
