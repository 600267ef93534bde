package bdk

import (
	"context"
	"fmt"
	"os"

	"github.com/MixinNetwork/mixin/logger"
	"golang.org/x/sync/semaphore"
)

// Lock serializes all use of the single temporary wallet directory of
// the tool and leaves it empty between holders.
type Lock struct {
	dir string
	sem *semaphore.Weighted
}

func NewLock(dir string) *Lock {
	if dir == "" {
		panic("bdk.NewLock() => empty dir")
	}
	return &Lock{dir: dir, sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the lock is free or ctx is done. The returned
// release must be called exactly once on every exit path.
func (l *Lock) Acquire(ctx context.Context) (func(), error) {
	err := l.sem.Acquire(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("bdk.Lock.Acquire(%s) => %v", l.dir, err)
	}
	err = l.clear()
	if err != nil {
		l.sem.Release(1)
		return nil, err
	}
	var released bool
	return func() {
		if released {
			panic(l.dir)
		}
		released = true
		err := l.clear()
		if err != nil {
			logger.Printf("bdk.Lock.Release(%s) => %v", l.dir, err)
		}
		l.sem.Release(1)
	}, nil
}

func (l *Lock) clear() error {
	err := os.RemoveAll(l.dir)
	if err != nil {
		return fmt.Errorf("os.RemoveAll(%s) => %v", l.dir, err)
	}
	return nil
}
