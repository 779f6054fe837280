package realtime

import (
	"github.com/c-pro/geche"
)

// Registry keeps at most one shared channel per name and counts the
// handles held on it.
type Registry struct {
	channels *geche.Locker[string, *shared]
}

func NewRegistry() *Registry {
	return &Registry{
		channels: geche.NewLocker[string, *shared](geche.NewMapCache[string, *shared]()),
	}
}

func (r *Registry) acquire(name string, create func() *shared) *shared {
	tx := r.channels.Lock()
	defer tx.Unlock()

	s, err := tx.Get(name)
	if err != nil {
		s = create()
		tx.Set(name, s)
	}
	s.refs++
	return s
}

// release drops one reference and reports whether it was the last one.
func (r *Registry) release(s *shared) bool {
	tx := r.channels.Lock()
	defer tx.Unlock()

	s.refs--
	if s.refs > 0 {
		return false
	}
	if cur, err := tx.Get(s.name); err == nil && cur == s {
		_ = tx.Del(s.name)
	}
	return true
}

func (r *Registry) get(name string) (*shared, bool) {
	tx := r.channels.Lock()
	defer tx.Unlock()
	s, err := tx.Get(name)
	return s, err == nil
}

func (r *Registry) Len() int {
	tx := r.channels.Lock()
	defer tx.Unlock()
	return tx.Len()
}
