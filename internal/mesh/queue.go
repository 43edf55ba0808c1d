package mesh

// Queue is the in-memory outbox of undelivered messages. Like the Registry it
// has no locking of its own; the Gatekeeper serializes access, which is what
// makes Drain atomic with respect to concurrent pollers.
//
// No backpressure, no size bound, no TTL: an offline device accumulates
// queued messages until it polls.
type Queue struct {
	messages []Message
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(m Message) {
	q.messages = append(q.messages, m)
}

// Drain returns and removes every message addressed to deviceID or to
// broadcast. A broadcast message therefore goes to the first poller that asks
// for it and is then gone; it is not fanned out.
func (q *Queue) Drain(deviceID string) []Message {
	var delivered []Message
	kept := q.messages[:0]
	for _, m := range q.messages {
		if m.To == deviceID || m.To == Broadcast {
			delivered = append(delivered, m)
		} else {
			kept = append(kept, m)
		}
	}
	q.messages = kept
	return delivered
}

func (q *Queue) Len() int {
	return len(q.messages)
}
