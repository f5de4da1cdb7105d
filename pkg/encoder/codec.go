package encoder

// Codec is a video codec.
type Codec int

// codecs.
const (
	CodecH264 Codec = iota
	CodecMJPEG
)

// String implements fmt.Stringer.
func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "H264"
	case CodecMJPEG:
		return "MJPEG"
	}
	return "unknown"
}

// ClockRate returns the RTP clock rate of the codec.
func (c Codec) ClockRate() int {
	return 90000
}
