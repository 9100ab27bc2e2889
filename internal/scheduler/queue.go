package scheduler

import (
	"sync"

	"github.com/wekeepgrowing/timesync/internal/domain/entity"
)

// Queue is the FIFO of job runs waiting for the pump.
type Queue struct {
	mu    sync.Mutex
	items []*entity.JobLog
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Push(log *entity.JobLog) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, log)
}

// Pop removes the oldest entry.
func (q *Queue) Pop() (*entity.JobLog, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	log := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return log, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
