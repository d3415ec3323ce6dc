// SPDX-FileCopyrightText: 2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// readerLocks grants exclusive access to a reader by name.
type readerLocks struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

func (l *readerLocks) get(reader string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locks == nil {
		l.locks = map[string]*semaphore.Weighted{}
	}

	sem, ok := l.locks[reader]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.locks[reader] = sem
	}

	return sem
}

// acquire waits at most timeout for the reader. If ctx is done first, its
// error is returned instead of ErrReaderBusy. The returned function releases
// the lock and may be called more than once.
func (l *readerLocks) acquire(ctx context.Context, reader string, timeout time.Duration) (func(), error) {
	sem := l.get(reader)

	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("stopped waiting for %s: %w", reader, ctx.Err())
		}

		return nil, fmt.Errorf("%w: %s held by another attempt", ErrReaderBusy, reader)
	}

	var once sync.Once

	return func() {
		once.Do(func() { sem.Release(1) })
	}, nil
}
