package inbox

import "sync"

// clientLocks serializes message processing per client while letting
// different clients proceed in parallel. Entries are refcounted so idle
// clients do not accumulate locks forever.
type clientLocks struct {
	mu    sync.Mutex
	locks map[string]*clientLock
}

type clientLock struct {
	mu   sync.Mutex
	refs int
}

func newClientLocks() *clientLocks {
	return &clientLocks{locks: make(map[string]*clientLock)}
}

func (c *clientLocks) acquire(clientID string) {
	c.mu.Lock()
	l, ok := c.locks[clientID]
	if !ok {
		l = &clientLock{}
		c.locks[clientID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
}

func (c *clientLocks) release(clientID string) {
	c.mu.Lock()
	l := c.locks[clientID]
	l.refs--
	if l.refs == 0 {
		delete(c.locks, clientID)
	}
	c.mu.Unlock()

	l.mu.Unlock()
}
