package capture

import "sync"

// mailbox carries messages from the capture goroutine to the dispatcher.
// Pushing never blocks. Droppable messages are refused once limit of them
// are pending; the rest are always accepted and keep their order.
type mailbox struct {
	mu      sync.Mutex
	items   []message
	pending int // droppable messages in items
	limit   int
	closed  bool

	ready chan struct{}
}

func newMailbox(limit int) *mailbox {
	if limit < 1 {
		limit = 1
	}
	return &mailbox{
		items: make([]message, 0, limit),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// push appends m and reports whether it was kept.
func (b *mailbox) push(m message, droppable bool) bool {
	b.mu.Lock()
	if b.closed || (droppable && b.pending >= b.limit) {
		b.mu.Unlock()
		return false
	}
	b.items = append(b.items, m)
	if droppable {
		b.pending++
	}
	b.mu.Unlock()

	b.signal()
	return true
}

// close wakes the dispatcher for the last time. Messages already pushed are
// still handed out.
func (b *mailbox) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.signal()
}

func (b *mailbox) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// next waits for messages and returns all of them, reusing spare as the next
// backing array. ok is false once the mailbox is closed and empty.
func (b *mailbox) next(spare []message) (batch []message, ok bool) {
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			batch = b.items
			b.items = spare[:0]
			b.pending = 0
			b.mu.Unlock()
			return batch, true
		}
		closed := b.closed
		b.mu.Unlock()

		if closed {
			return nil, false
		}
		<-b.ready
	}
}
