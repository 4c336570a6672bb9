package training

import "sync"

// enrollmentLocks serializes mutation per enrollment id. Attempt accounting
// (attempts_used, blocked, sticky pass) is the one real race in the engine;
// submissions for the same enrollment run through this critical section on
// top of the store's transactional write.
type enrollmentLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newEnrollmentLocks() *enrollmentLocks {
	return &enrollmentLocks{m: make(map[string]*sync.Mutex)}
}

func (l *enrollmentLocks) lock(enrollmentID string) func() {
	l.mu.Lock()
	em, ok := l.m[enrollmentID]
	if !ok {
		em = &sync.Mutex{}
		l.m[enrollmentID] = em
	}
	l.mu.Unlock()
	em.Lock()
	return em.Unlock
}
