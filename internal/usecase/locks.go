package usecase

import (
	"marketplace_ledger/internal/domain"
	"sync"
)

// cellKey identifies one balance cell. Platform-only events use an empty
// seller id.
type cellKey struct {
	sellerID string
	currency domain.Currency
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// cellLocks hands out one mutex per balance cell and drops it once no
// goroutine holds or waits on it.
type cellLocks struct {
	mu    sync.Mutex
	locks map[cellKey]*lockEntry
}

func newCellLocks() *cellLocks {
	return &cellLocks{locks: make(map[cellKey]*lockEntry)}
}

func (l *cellLocks) Lock(key cellKey) (unlock func()) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
