package scheduler

import (
	"time"

	"github.com/kooklabs/ksbot/pkg/store"
)

// entry is one queued feed with the time its next refresh fires.
type entry struct {
	feed   *store.Feed
	fireAt time.Time
}

// delayQueue is a min-heap over fire times, used with container/heap.
type delayQueue []*entry

func (q delayQueue) Len() int { return len(q) }

func (q delayQueue) Less(i, j int) bool { return q[i].fireAt.Before(q[j].fireAt) }

func (q delayQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *delayQueue) Push(x any) { *q = append(*q, x.(*entry)) }

func (q *delayQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}
