package match

import "sync"

// Outbox is one connection's bounded send queue. It is the only value shared
// between a session loop and a transport writer.
type Outbox struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = 1
	}
	return &Outbox{ch: make(chan []byte, size)}
}

// Push enqueues a frame that must not be lost. If the queue is full the
// outbox is closed instead, which drops the connection and forces the client
// to resync on its next join.
func (o *Outbox) Push(frame []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	select {
	case o.ch <- frame:
		return true
	default:
		o.closed = true
		close(o.ch)
		return false
	}
}

// Offer enqueues a frame only if there is room.
func (o *Outbox) Offer(frame []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	select {
	case o.ch <- frame:
		return true
	default:
		return false
	}
}

// C is drained by the transport writer; it is closed with the outbox.
func (o *Outbox) C() <-chan []byte { return o.ch }

func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}

func (o *Outbox) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
