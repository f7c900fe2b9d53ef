// Package lock provides engine.KeyLocker implementations: an in-process
// locker for single-replica deployments and a Redis-backed one for several.
package lock

import (
	"context"
	"sync"

	"github.com/warp/fieldservice-engine/engine"
)

// Local is a non-blocking per-key lock held in process memory.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

// Lock fails with engine.ErrLockNotObtained while the key is held.
func (l *Local) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, engine.ErrLockNotObtained
	}
	l.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
