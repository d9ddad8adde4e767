package activities

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// CollectionLocks serializes comparisons that target the same collection.
// Comparisons on different collections never wait on each other.
type CollectionLocks struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewCollectionLocks creates an empty lock set
func NewCollectionLocks() *CollectionLocks {
	return &CollectionLocks{sems: make(map[string]*semaphore.Weighted)}
}

// Lock blocks until the collection is free or ctx is done. The returned
// function releases the lock and must be called exactly once.
func (l *CollectionLocks) Lock(ctx context.Context, collection string) (func(), error) {
	sem := l.get(collection)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

func (l *CollectionLocks) get(collection string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.sems[collection]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.sems[collection] = sem
	}
	return sem
}
