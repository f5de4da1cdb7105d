package ringbuffer

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateError(t *testing.T) {
	_, err := New[[]byte](0)
	require.EqualError(t, err, "size must be greater than zero")
}

func TestPushBeforePull(t *testing.T) {
	r, err := New[[]byte](1024)
	require.NoError(t, err)
	defer r.Close()

	ok := r.Push(bytes.Repeat([]byte{1, 2, 3, 4}, 1024/4))
	require.Equal(t, true, ok)

	ret, ok := r.Pull()
	require.Equal(t, true, ok)
	require.Equal(t, bytes.Repeat([]byte{1, 2, 3, 4}, 1024/4), ret)
}

func TestPullBeforePush(t *testing.T) {
	r, err := New[[]byte](1024)
	require.NoError(t, err)
	defer r.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ret, ok := r.Pull()
		require.Equal(t, true, ok)
		require.Equal(t, bytes.Repeat([]byte{1, 2, 3, 4}, 1024/4), ret)
	}()

	time.Sleep(100 * time.Millisecond)

	ok := r.Push(bytes.Repeat([]byte{1, 2, 3, 4}, 1024/4))
	require.Equal(t, true, ok)

	<-done
}

func TestClose(t *testing.T) {
	r, err := New[[]byte](1024)
	require.NoError(t, err)

	ok := r.Push([]byte{1, 2, 3, 4})
	require.Equal(t, true, ok)

	_, ok = r.Pull()
	require.Equal(t, true, ok)

	ok = r.Push([]byte{5, 6, 7, 8})
	require.Equal(t, true, ok)

	r.Close()

	_, ok = r.Pull()
	require.Equal(t, false, ok)

	ok = r.Push([]byte{5, 6, 7, 8})
	require.Equal(t, false, ok)
}

func TestCloseWakesPull(t *testing.T) {
	r, err := New[int](4)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok := r.Pull()
		require.Equal(t, false, ok)
	}()

	time.Sleep(50 * time.Millisecond)
	r.Close()
	<-done
}

func TestOverflow(t *testing.T) {
	// capacity does not need to be a power of two
	r, err := New[[]byte](5)
	require.NoError(t, err)

	for range 5 {
		ok := r.Push([]byte{1, 2, 3, 4})
		require.Equal(t, true, ok)
	}

	ok := r.Push([]byte{5, 6, 7, 8})
	require.Equal(t, false, ok)
	require.Equal(t, 5, r.Len())

	for range 5 {
		var data []byte
		data, ok = r.Pull()
		require.Equal(t, true, ok)
		require.Equal(t, []byte{1, 2, 3, 4}, data)
	}

	require.Equal(t, 0, r.Len())
}

func TestOrderAcrossWrap(t *testing.T) {
	r, err := New[int](3)
	require.NoError(t, err)

	next := 0
	for i := range 10 {
		require.Equal(t, true, r.Push(i))
		if i%2 == 1 {
			for range 2 {
				v, ok := r.Pull()
				require.Equal(t, true, ok)
				require.Equal(t, next, v)
				next++
			}
		}
	}
}

func BenchmarkPushPullContinuous(b *testing.B) {
	r, _ := New[[]byte](1024 * 8)
	defer r.Close()

	data := make([]byte, 1024)

	for b.Loop() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			for range 1024 * 8 {
				r.Push(data)
			}
		}()

		for range 1024 * 8 {
			r.Pull()
		}

		<-done
	}
}

func BenchmarkPushPullPaused5(b *testing.B) {
	r, _ := New[[]byte](128)
	defer r.Close()

	data := make([]byte, 1024)

	for b.Loop() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			for range 128 {
				r.Push(data)
				time.Sleep(5 * time.Millisecond)
			}
		}()

		for range 128 {
			r.Pull()
		}

		<-done
	}
}
