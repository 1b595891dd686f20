package srlock

import (
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"
)

// OperationGuard is an in-process fast path that rejects two goroutines in
// the same process racing the same id before either one reaches the
// (slower, cross-process) FileLockSet. Grounded on
// ceph-ceph-csi/internal/util/idlocker.go's VolumeLocks, which plays the
// identical role for ceph-csi's controller process.
type OperationGuard struct {
	mu   sync.Mutex
	held sets.Set[string]
}

// NewOperationGuard returns an empty OperationGuard.
func NewOperationGuard() *OperationGuard {
	return &OperationGuard{held: sets.New[string]()}
}

// TryAcquire acquires id for the caller's goroutine, returning false if
// another goroutine in this process already holds it.
func (g *OperationGuard) TryAcquire(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held.Has(id) {
		return false
	}
	g.held.Insert(id)

	return true
}

// Release gives up id.
func (g *OperationGuard) Release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held.Delete(id)
}
