package framecast

import (
	"github.com/bluenviron/framecast/pkg/encoder"
)

// Codec is a video codec.
type Codec = encoder.Codec

// codecs.
const (
	CodecH264  = encoder.CodecH264
	CodecMJPEG = encoder.CodecMJPEG
)
