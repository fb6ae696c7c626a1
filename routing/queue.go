package routing

import "errors"

var ErrEmptyQueue = errors.New("routing: dequeue from empty priority queue")

type PriorityQueueItem[T any] struct {
	Element  T
	Priority float64
}

// PriorityQueue keeps its items sorted by ascending priority. Inserts are a
// linear scan, which is fine for the few dozen nodes a dispatch graph holds.
// Items with equal priority come out in insertion order.
type PriorityQueue[T any] struct {
	items []PriorityQueueItem[T]
}

func NewPriorityQueue[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{}
}

func (pq *PriorityQueue[T]) Enqueue(element T, priority float64) {
	item := PriorityQueueItem[T]{Element: element, Priority: priority}

	for i := range pq.items {
		if priority < pq.items[i].Priority {
			pq.items = append(pq.items, PriorityQueueItem[T]{})
			copy(pq.items[i+1:], pq.items[i:])
			pq.items[i] = item
			return
		}
	}
	pq.items = append(pq.items, item)
}

func (pq *PriorityQueue[T]) Dequeue() (PriorityQueueItem[T], error) {
	if len(pq.items) == 0 {
		return PriorityQueueItem[T]{}, ErrEmptyQueue
	}
	item := pq.items[0]
	pq.items[0] = PriorityQueueItem[T]{}
	pq.items = pq.items[1:]
	return item, nil
}

func (pq *PriorityQueue[T]) IsEmpty() bool { return len(pq.items) == 0 }

func (pq *PriorityQueue[T]) Len() int { return len(pq.items) }
