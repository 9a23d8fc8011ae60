package mqtt

import log "github.com/sirupsen/logrus"

// bufferedMsg is a serialized message held for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer keeps the newest messages up to its capacity. The caller
// synchronizes access.
type ringBuffer struct {
	msgs    []bufferedMsg
	start   int
	count   int
	dropped int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{msgs: make([]bufferedMsg, capacity)}
}

// push appends msg, evicting the oldest message when full.
func (r *ringBuffer) push(msg bufferedMsg) {
	capacity := len(r.msgs)
	if r.count < capacity {
		r.msgs[(r.start+r.count)%capacity] = msg
		r.count++
		return
	}
	if r.dropped == 0 {
		log.Warnf("mqtt: buffer full (%d messages), dropping oldest", capacity)
	}
	r.dropped++
	r.msgs[r.start] = msg
	r.start = (r.start + 1) % capacity
}

// drainAll returns the buffered messages oldest first and empties the
// buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}
	out := make([]bufferedMsg, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.msgs[(r.start+i)%len(r.msgs)])
	}
	if r.dropped > 0 {
		log.Warnf("mqtt: %d buffered messages were dropped while disconnected", r.dropped)
	}
	r.start, r.count, r.dropped = 0, 0, 0
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
