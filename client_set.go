package framecast

import (
	"sync"
)

type clientFailure struct {
	client Client
	err    error
}

// clientSet is an insertion-ordered set of clients.
// Batches are written under the read lock, mutations happen under the write lock,
// therefore a client is never removed while a batch is being written.
type clientSet struct {
	mutex   sync.RWMutex
	clients []Client
}

func (cs *clientSet) add(c Client) bool {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	for _, existing := range cs.clients {
		if existing.ID() == c.ID() {
			return false
		}
	}

	cs.clients = append(cs.clients, c)
	return true
}

func (cs *clientSet) remove(c Client) bool {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	for i, existing := range cs.clients {
		if existing.ID() == c.ID() {
			cs.clients = append(cs.clients[:i], cs.clients[i+1:]...)
			return true
		}
	}

	return false
}

func (cs *clientSet) removeAll() []Client {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	ret := cs.clients
	cs.clients = nil
	return ret
}

func (cs *clientSet) len() int {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()
	return len(cs.clients)
}

func (cs *clientSet) list() []Client {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	ret := make([]Client, len(cs.clients))
	copy(ret, cs.clients)
	return ret
}

// writeBatch writes packets to every client, in order.
// A client that fails stops receiving the rest of the batch.
func (cs *clientSet) writeBatch(pkts []*Packet) (int, []clientFailure) {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	var failures []clientFailure
	written := 0

	for _, c := range cs.clients {
		for _, pkt := range pkts {
			err := c.WritePacket(pkt)
			if err != nil {
				failures = append(failures, clientFailure{client: c, err: err})
				break
			}
			written++
		}
	}

	return written, failures
}
