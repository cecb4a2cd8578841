package mqtt

// message is a formatted publish waiting for the broker connection.
type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds the newest messages published while offline. When full the
// oldest message is overwritten. Callers serialise access.
type outbox struct {
	slots   []message
	next    int
	size    int
	dropped int
}

func newOutbox(capacity int) *outbox {
	return &outbox{slots: make([]message, max(capacity, 1))}
}

// add stores m. It reports true when m is the first message to overwrite
// an older one since the last take.
func (o *outbox) add(m message) bool {
	first := false
	if o.size == len(o.slots) {
		first = o.dropped == 0
		o.dropped++
	} else {
		o.size++
	}
	o.slots[o.next] = m
	o.next = (o.next + 1) % len(o.slots)
	return first
}

// take empties the outbox and returns its messages oldest first together
// with the number of messages lost to overflow.
func (o *outbox) take() ([]message, int) {
	dropped := o.dropped
	if o.size == 0 {
		o.dropped = 0
		return nil, dropped
	}

	out := make([]message, 0, o.size)
	first := o.next - o.size
	if first < 0 {
		first += len(o.slots)
	}
	for i := 0; i < o.size; i++ {
		out = append(out, o.slots[(first+i)%len(o.slots)])
	}

	clear(o.slots)
	o.next, o.size, o.dropped = 0, 0, 0
	return out, dropped
}

func (o *outbox) capacity() int {
	return len(o.slots)
}

func (o *outbox) len() int {
	return o.size
}
