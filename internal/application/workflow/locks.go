package workflow

import "sync"

// instanceLocks grants at most one in-flight mutation per instance.
// Entries are removed when released, so the map only holds busy instances.
type instanceLocks struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func newInstanceLocks() *instanceLocks {
	return &instanceLocks{busy: make(map[string]struct{})}
}

// tryLock returns a release func, or false when the instance is busy
func (l *instanceLocks) tryLock(id string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.busy[id]; taken {
		return nil, false
	}
	l.busy[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.busy, id)
			l.mu.Unlock()
		})
	}, true
}
