// Package status contains a reporter that periodically publishes server statistics.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/bluenviron/framecast"
)

// Message is a status message, encoded with MessagePack.
type Message struct {
	// unix time in milliseconds.
	Time            int64  `msgpack:"time"`
	ClientID        string `msgpack:"client_id"`
	Online          bool   `msgpack:"online"`
	Clients         int    `msgpack:"clients"`
	FramesSubmitted uint64 `msgpack:"frames_submitted"`
	FramesEncoded   uint64 `msgpack:"frames_encoded"`
	FramesDropped   uint64 `msgpack:"frames_dropped"`
	FramesQueued    int    `msgpack:"frames_queued"`
	EncodeErrors    uint64 `msgpack:"encode_errors"`
	TilesEncoded    uint64 `msgpack:"tiles_encoded"`
	PacketsSent     uint64 `msgpack:"packets_sent"`
	BytesSent       uint64 `msgpack:"bytes_sent"`
	WriteErrors     uint64 `msgpack:"write_errors"`
}

// Marshal encodes a Message.
func (m *Message) Marshal() ([]byte, error) {
	return msgpack.Marshal(m)
}

// Unmarshal decodes a Message.
func (m *Message) Unmarshal(buf []byte) error {
	return msgpack.Unmarshal(buf, m)
}

// Publisher publishes messages.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// StatsSource provides statistics.
type StatsSource interface {
	Stats() *framecast.ServerStats
}

// OfflineMessage returns the message published when the reporter goes away.
func OfflineMessage(clientID string) ([]byte, error) {
	m := &Message{
		ClientID: clientID,
		Online:   false,
	}
	return m.Marshal()
}

// Reporter periodically publishes statistics of a StatsSource.
type Reporter struct {
	Publisher Publisher
	Source    StatsSource
	ClientID  string
	Topic     string
	QoS       byte
	Period    time.Duration
	Logger    *zap.Logger

	timeNow   func() time.Time
	ctx       context.Context
	ctxCancel func()
	done      chan struct{}
}

// Initialize initializes the Reporter and starts publishing.
func (r *Reporter) Initialize() error {
	if r.Publisher == nil || r.Source == nil {
		return fmt.Errorf("publisher and source are mandatory")
	}
	if r.Period <= 0 {
		return fmt.Errorf("invalid period (%v)", r.Period)
	}
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
	if r.timeNow == nil {
		r.timeNow = time.Now
	}

	r.ctx, r.ctxCancel = context.WithCancel(context.Background())
	r.done = make(chan struct{})

	go r.run()

	return nil
}

// Close stops the Reporter and publishes a final offline message.
func (r *Reporter) Close() {
	r.ctxCancel()
	<-r.done

	m := r.message()
	m.Online = false

	err := r.publish(m)
	if err != nil {
		r.Logger.Warn("unable to publish status", zap.Error(err))
	}
}

func (r *Reporter) run() {
	defer close(r.done)

	t := time.NewTicker(r.Period)
	defer t.Stop()

	for {
		err := r.publish(r.message())
		if err != nil {
			r.Logger.Warn("unable to publish status", zap.Error(err))
		}

		select {
		case <-t.C:
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Reporter) message() *Message {
	st := r.Source.Stats()

	return &Message{
		Time:            r.timeNow().UnixMilli(),
		ClientID:        r.ClientID,
		Online:          true,
		Clients:         st.Clients,
		FramesSubmitted: st.FramesSubmitted,
		FramesEncoded:   st.FramesEncoded,
		FramesDropped:   st.FramesDropped,
		FramesQueued:    st.FramesQueued,
		EncodeErrors:    st.EncodeErrors,
		TilesEncoded:    st.TilesEncoded,
		PacketsSent:     st.PacketsSent,
		BytesSent:       st.BytesSent,
		WriteErrors:     st.WriteErrors,
	}
}

func (r *Reporter) publish(m *Message) error {
	buf, err := m.Marshal()
	if err != nil {
		return err
	}

	err = r.Publisher.Publish(r.Topic, r.QoS, true, buf)
	if err != nil {
		return err
	}

	r.Logger.Debug("status published", zap.String("topic", r.Topic), zap.Int("size", len(buf)))
	return nil
}
