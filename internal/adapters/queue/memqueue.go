package queue

import (
	"sync"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/ports"
)

// MemQueue is a bounded in-memory queue that preserves FIFO ordering.
type MemQueue struct {
	mu   sync.Mutex
	data []domain.Event
	cap  int
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{
		data: make([]domain.Event, 0, capacity),
		cap:  capacity,
	}
}

func (q *MemQueue) Enqueue(ev domain.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) >= q.cap {
		return false
	}
	q.data = append(q.data, ev)
	return true
}

func (q *MemQueue) DequeueBatch(max int) []domain.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]domain.Event, max)
	copy(out, q.data[:max])
	rest := copy(q.data, q.data[max:])
	clear(q.data[rest:])
	q.data = q.data[:rest]
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

var _ ports.EventQueue = (*MemQueue)(nil)
