package main

// colors of the bars, RGB.
var barColors = [][3]byte{
	{255, 255, 255},
	{255, 255, 0},
	{0, 255, 255},
	{0, 255, 0},
	{255, 0, 255},
	{255, 0, 0},
	{0, 0, 255},
	{0, 0, 0},
}

// testPattern generates moving synthetic frames.
type testPattern struct {
	Width    int
	Height   int
	Channels int
	Pattern  string

	buf   []byte
	count int
}

func (p *testPattern) initialize() {
	p.buf = make([]byte, p.Width*p.Height*p.Channels)
}

func (p *testPattern) setPixel(x int, y int, rgb [3]byte) {
	i := (y*p.Width + x) * p.Channels

	if p.Channels == 1 {
		p.buf[i] = byte((int(rgb[0])*77 + int(rgb[1])*150 + int(rgb[2])*29) >> 8)
		return
	}

	copy(p.buf[i:i+3], rgb[:])
}

// next returns the next frame.
// The returned buffer is reused by the following call.
func (p *testPattern) next() []byte {
	shift := p.count * 4
	p.count++

	for y := range p.Height {
		for x := range p.Width {
			var rgb [3]byte

			switch p.Pattern {
			case "gradient":
				v := byte((x + y + shift) % 256)
				rgb = [3]byte{v, byte((x + shift) % 256), byte(y % 256)}

			default:
				bar := ((x + shift) % p.Width) * len(barColors) / p.Width
				rgb = barColors[bar]
			}

			p.setPixel(x, y, rgb)
		}
	}

	return p.buf
}
