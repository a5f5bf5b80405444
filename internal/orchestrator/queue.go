package orchestrator

import "pairtrader/internal/trade"

// Item is one unit of work: a single leg or a correlated pair. The queue
// hands items to the worker one at a time, which is what serializes all
// exchange interaction.
type Item struct {
	Legs []trade.Request
}

// Sentinel reports whether the item is the trading-stopped marker.
func (it Item) Sentinel() bool {
	return len(it.Legs) == 1 && it.Legs[0].Sentinel()
}

// Queue buffers trade items between the signal layer and the worker.
type Queue struct {
	ch chan Item
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 16
	}
	return &Queue{ch: make(chan Item, size)}
}

// Enqueue blocks until the worker has room for the item.
func (q *Queue) Enqueue(it Item) {
	q.ch <- it
}

// Chan exposes the consumer side.
func (q *Queue) Chan() <-chan Item {
	return q.ch
}

// Depth returns the number of waiting items.
func (q *Queue) Depth() int {
	return len(q.ch)
}

func (q *Queue) Close() {
	close(q.ch)
}
