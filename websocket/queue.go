package websocket

// Queue is a FIFO of decoded messages. It is not safe for concurrent use; the
// owning connection serializes access.
type Queue struct {
	items []Message
	head  int
}

func (q *Queue) Push(msg Message) {
	q.items = append(q.items, msg)
}

// Pop removes the oldest message.
func (q *Queue) Pop() (Message, bool) {
	if q.head == len(q.items) {
		return Message{}, false
	}
	msg := q.items[q.head]
	q.items[q.head] = Message{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return msg, true
}

func (q *Queue) Len() int {
	return len(q.items) - q.head
}

func (q *Queue) Reset() {
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
}
