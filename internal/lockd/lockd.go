// Package lockd implements the cross-process readers/writers lock
// service (C3): per-resource-name coordination with two selectable
// admission strategies, and the crash-safety bookkeeping that lets a
// killed worker's held lock be recovered.
package lockd

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimeout is returned by Start* when the configured acquisition
// timeout elapses before the lock can be granted.
var ErrTimeout = errors.New("lockd: timed out acquiring lock")

// Strategy names accepted by NewRegistry, matching the --locking flag.
const (
	WriterPreference = "w"
	NoStarve         = "n"
)

// state is the per-resource admission machinery. Both strategies
// implement it; a Registry holds one state per resource name.
type state interface {
	startRead(timeout time.Duration) error
	endRead()
	startWrite(timeout time.Duration) error
	endWrite()
}

func newState(strategy string) (state, error) {
	switch strategy {
	case WriterPreference:
		return newWriterPreferenceState(), nil
	case NoStarve:
		return newNoStarveState(), nil
	default:
		return nil, fmt.Errorf("lockd: unknown strategy %q", strategy)
	}
}

// Registry owns the lock-bookkeeping state for every resource name this
// server has ever seen a request for. It is the "coordinator" referred to
// by the crash-safety design: it lives for the lifetime of the server
// process, not any single request, so a worker goroutine dying mid
// operation never takes the bookkeeping with it.
type Registry struct {
	strategy string
	timeout  time.Duration

	mu        sync.Mutex
	resources map[string]state
}

// NewRegistry creates a Registry using the named strategy ("w" or "n")
// and the default lock-acquisition timeout applied to every Start* call.
func NewRegistry(strategy string, timeout time.Duration) (*Registry, error) {
	if _, err := newState(strategy); err != nil {
		return nil, err
	}
	return &Registry{
		strategy:  strategy,
		timeout:   timeout,
		resources: make(map[string]state),
	}, nil
}

// getOrCreate returns the state for name, creating it on first use. The
// registry's own mutex is held only for the map lookup/insert, never
// across a lock acquisition, so resources with no contention between
// each other never serialize against one another here.
func (r *Registry) getOrCreate(name string) state {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.resources[name]
	if !ok {
		// newState cannot fail here: strategy was already validated in
		// NewRegistry.
		s, _ = newState(r.strategy)
		r.resources[name] = s
	}
	return s
}

// Holder is an acquired lock that must be released exactly once, by
// calling Release. A Holder is the crash-safety unit: every internal/store
// method defers the matching Release right after acquiring the lock, so a
// panicking worker still releases the lock it holds.
type Holder struct {
	s       state
	write   bool
	release sync.Once
}

// Release runs the matching end_read/end_write exactly once; extra calls
// are no-ops rather than the programming error the spec allows them to be,
// since a deferred Release may race a caller's own explicit Release on the
// same panic-unwind path.
func (h *Holder) Release() {
	h.release.Do(func() {
		if h.write {
			h.s.endWrite()
		} else {
			h.s.endRead()
		}
	})
}

// StartRead blocks until a read lock on name is granted or the
// acquisition timeout elapses.
func (r *Registry) StartRead(name string) (*Holder, error) {
	s := r.getOrCreate(name)
	if err := s.startRead(r.timeout); err != nil {
		return nil, err
	}
	return &Holder{s: s, write: false}, nil
}

// StartWrite blocks until a write lock on name is granted or the
// acquisition timeout elapses.
func (r *Registry) StartWrite(name string) (*Holder, error) {
	s := r.getOrCreate(name)
	if err := s.startWrite(r.timeout); err != nil {
		return nil, err
	}
	return &Holder{s: s, write: true}, nil
}
