package mqtt

// pending is a serialized message waiting for the broker connection.
type pending struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox queues messages while the broker is unreachable. Samples are
// dropped oldest first once the limit is reached. Retained messages
// replace any queued retained message on the same topic, since the broker
// only keeps the last one. Not safe for concurrent use.
type outbox struct {
	msgs    []pending
	limit   int
	dropped int // since the last drain
}

func newOutbox(limit int) *outbox {
	if limit < 1 {
		limit = 1
	}
	return &outbox{limit: limit}
}

// add queues m. It reports true for the first drop after a drain.
func (o *outbox) add(m pending) bool {
	if m.retained {
		for i, q := range o.msgs {
			if q.retained && q.topic == m.topic {
				o.msgs = append(o.msgs[:i], o.msgs[i+1:]...)
				break
			}
		}
	}

	first := false
	if len(o.msgs) >= o.limit {
		copy(o.msgs, o.msgs[1:])
		o.msgs = o.msgs[:len(o.msgs)-1]
		first = o.dropped == 0
		o.dropped++
	}
	o.msgs = append(o.msgs, m)
	return first
}

// drain empties the outbox, returning the queued messages oldest first and
// the number dropped since the previous drain.
func (o *outbox) drain() ([]pending, int) {
	msgs, dropped := o.msgs, o.dropped
	o.msgs = nil
	o.dropped = 0
	return msgs, dropped
}

func (o *outbox) len() int {
	return len(o.msgs)
}
