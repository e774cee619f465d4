package handler

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// sessionLocks serializes read-modify-write cycles on one session's state.
// Sessions share a fixed set of stripes.
type sessionLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *sessionLocks) lock(id string) (unlock func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
