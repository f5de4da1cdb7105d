// Package bytecounter contains a io.ReadWriter wrapper that counts transferred bytes, packets and errors.
package bytecounter

import (
	"io"
	"sync/atomic"
)

// Counters are the counters updated by one or more ByteCounters.
// A single Counters can be shared between connections to obtain totals.
type Counters struct {
	BytesReceived atomic.Uint64
	BytesSent     atomic.Uint64
	WritesSent    atomic.Uint64
	ReadErrors    atomic.Uint64
	WriteErrors   atomic.Uint64
}

// ByteCounter is a io.ReadWriter wrapper that updates one or more Counters.
type ByteCounter struct {
	rw       io.ReadWriter
	counters []*Counters
}

// New allocates a ByteCounter.
// Nil counters are ignored.
func New(rw io.ReadWriter, counters ...*Counters) *ByteCounter {
	bc := &ByteCounter{
		rw: rw,
	}

	for _, c := range counters {
		if c != nil {
			bc.counters = append(bc.counters, c)
		}
	}

	if bc.counters == nil {
		bc.counters = []*Counters{{}}
	}

	return bc
}

// Read implements io.ReadWriter.
func (bc *ByteCounter) Read(p []byte) (int, error) {
	n, err := bc.rw.Read(p)

	for _, c := range bc.counters {
		if err == nil {
			c.BytesReceived.Add(uint64(n))
		} else {
			c.ReadErrors.Add(1)
		}
	}

	return n, err
}

// Write implements io.ReadWriter.
func (bc *ByteCounter) Write(p []byte) (int, error) {
	n, err := bc.rw.Write(p)

	for _, c := range bc.counters {
		if err == nil {
			c.BytesSent.Add(uint64(n))
			c.WritesSent.Add(1)
		} else {
			c.WriteErrors.Add(1)
		}
	}

	return n, err
}

// BytesReceived returns the number of bytes received.
func (bc *ByteCounter) BytesReceived() uint64 {
	return bc.counters[0].BytesReceived.Load()
}

// BytesSent returns the number of bytes sent.
func (bc *ByteCounter) BytesSent() uint64 {
	return bc.counters[0].BytesSent.Load()
}

// WriteErrors returns the number of write errors.
func (bc *ByteCounter) WriteErrors() uint64 {
	return bc.counters[0].WriteErrors.Load()
}
