package framecast

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/bluenviron/gortsplib/v5/pkg/format/rtph264"
	"github.com/bluenviron/gortsplib/v5/pkg/format/rtpmjpeg"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pion/rtp"
)

func randUint32() (uint32, error) {
	var b [4]byte
	_, err := rand.Read(b[:])
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// rtpPacketizer converts packets into RTP packets.
// Every client owns a packetizer, therefore sequence numbers are per client.
type rtpPacketizer struct {
	codec          Codec
	payloadMaxSize int

	encH264   *rtph264.Encoder
	encMJPEG  *rtpmjpeg.Encoder
	initialTS uint32
	startNTP  time.Time
}

func (p *rtpPacketizer) initialize() error {
	var err error
	p.initialTS, err = randUint32()
	if err != nil {
		return err
	}

	switch p.codec {
	case CodecH264:
		p.encH264 = &rtph264.Encoder{
			PayloadType:       h264PayloadType,
			PayloadMaxSize:    p.payloadMaxSize,
			PacketizationMode: 1,
		}
		return p.encH264.Init()

	case CodecMJPEG:
		p.encMJPEG = &rtpmjpeg.Encoder{
			PayloadMaxSize: p.payloadMaxSize,
		}
		return p.encMJPEG.Init()
	}

	return fmt.Errorf("unsupported codec: %v", p.codec)
}

func (p *rtpPacketizer) timestamp(ntp time.Time) uint32 {
	if p.startNTP.IsZero() {
		p.startNTP = ntp
	}

	// 90khz clock
	return p.initialTS + uint32(ntp.Sub(p.startNTP).Microseconds()*9/100)
}

func (p *rtpPacketizer) packetize(pkt *Packet) ([]*rtp.Packet, error) {
	var pkts []*rtp.Packet

	switch p.codec {
	case CodecH264:
		var au h264.AnnexB
		err := au.Unmarshal(pkt.Payload)
		if err != nil {
			return nil, err
		}

		pkts, err = p.encH264.Encode(au)
		if err != nil {
			return nil, err
		}

	default:
		var err error
		pkts, err = p.encMJPEG.Encode(pkt.Payload)
		if err != nil {
			return nil, err
		}
	}

	ts := p.timestamp(pkt.NTP)
	for _, rpkt := range pkts {
		rpkt.Timestamp = ts
	}

	return pkts, nil
}
