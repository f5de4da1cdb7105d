package framecast

import (
	"time"
)

const (
	defaultFrameQueueSize  = 8
	defaultClientQueueSize = 256
	defaultWriteTimeout    = 10 * time.Second
	defaultRTCPPeriod      = 2 * time.Second
	defaultBitrate         = 4 * 1024 * 1024

	// interleaved channels used by TCP clients.
	rtpChannel  = 0
	rtcpChannel = 1

	// same as RTSP over TCP.
	tcpMaxPayloadSize = 1460

	// dynamic payload type used by H264.
	h264PayloadType = 96

	// number of capture times kept to match packets returned by engines with delay.
	captureTimesSize = 32

	tcpReadBufferSize = 2048
)
