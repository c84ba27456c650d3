package stackforge

import (
	"context"
	"sync"
)

// PlayerLocker serialises inventory mutations per player. A nil *PlayerLocker never blocks.
type PlayerLocker struct {
	mu    sync.Mutex
	locks map[string]*playerLock
}

type playerLock struct {
	held chan struct{}
	refs int
}

func NewPlayerLocker() *PlayerLocker {
	return &PlayerLocker{
		locks: make(map[string]*playerLock),
	}
}

// Lock waits for the player's lock or for ctx to end. The returned func releases it.
func (l *PlayerLocker) Lock(ctx context.Context, playerID string) (func(), error) {
	if l == nil {
		return func() {}, nil
	}

	l.mu.Lock()
	pl, ok := l.locks[playerID]
	if !ok {
		pl = &playerLock{held: make(chan struct{}, 1)}
		l.locks[playerID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	select {
	case pl.held <- struct{}{}:
	case <-ctx.Done():
		l.release(playerID, pl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-pl.held
			l.release(playerID, pl)
		})
	}, nil
}

func (l *PlayerLocker) release(playerID string, pl *playerLock) {
	l.mu.Lock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, playerID)
	}
	l.mu.Unlock()
}

// size reports how many players currently hold or wait on a lock.
func (l *PlayerLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
