package bytecounter

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type failingWriter struct {
	bytes.Buffer
}

func (w *failingWriter) Write([]byte) (int, error) {
	return 0, fmt.Errorf("broken pipe")
}

func TestByteCounter(t *testing.T) {
	bc := New(bytes.NewBuffer(nil))

	_, err := bc.Write([]byte{0x01, 0x02, 0x03, 0x04})
	require.NoError(t, err)

	buf := make([]byte, 2)
	_, err = bc.Read(buf)
	require.NoError(t, err)

	require.Equal(t, uint64(4), bc.BytesSent())
	require.Equal(t, uint64(2), bc.BytesReceived())
}

func TestByteCounterShared(t *testing.T) {
	var total Counters
	var own1, own2 Counters

	bc1 := New(bytes.NewBuffer(nil), &own1, &total)
	bc2 := New(&failingWriter{}, &own2, &total)

	_, err := bc1.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	_, err = bc1.Write([]byte{4, 5})
	require.NoError(t, err)

	_, err = bc2.Write([]byte{1})
	require.Error(t, err)

	require.Equal(t, uint64(5), own1.BytesSent.Load())
	require.Equal(t, uint64(2), own1.WritesSent.Load())
	require.Equal(t, uint64(0), own2.BytesSent.Load())
	require.Equal(t, uint64(1), own2.WriteErrors.Load())

	require.Equal(t, uint64(5), total.BytesSent.Load())
	require.Equal(t, uint64(2), total.WritesSent.Load())
	require.Equal(t, uint64(1), total.WriteErrors.Load())

	require.Equal(t, uint64(1), bc2.WriteErrors())
}
