package registry

import "sync"

// Descriptor is a client-supplied JSON object describing one service
// instance. The tracker treats its contents as opaque apart from the two
// fields it stamps on merge.
type Descriptor map[string]any

// Fields stamped by the server on every merge. Everything else in a
// Descriptor passes through untouched.
const (
	FieldReporterAddress = "reporterAddress"
	FieldAvailable       = "available"
)

// Store is the process-wide service registry: a mapping from service name to
// the descriptor it was last reported with. Entries are never deleted, only
// overwritten by a later report or flipped unavailable on expiry. The store
// is ephemeral; a process restart starts from empty.
type Store struct {
	mu       sync.Mutex
	services map[string]Descriptor
}

func New() *Store {
	return &Store{services: make(map[string]Descriptor)}
}

// Merge folds one client report into the registry. Every reported descriptor
// overwrites (or creates) the entry for its name, stamped with the reporter's
// address and available=true. Descriptors are copied on the way in, so the
// caller keeps no handle into store state.
func (s *Store) Merge(reports map[string]Descriptor, reporterAddr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, desc := range reports {
		merged := make(Descriptor, len(desc)+2)
		for k, v := range desc {
			merged[k] = v
		}
		merged[FieldReporterAddress] = reporterAddr
		merged[FieldAvailable] = true
		s.services[name] = merged
	}
}

// MarkUnavailable flips an entry's available field to false and reports
// whether the entry existed. Unknown names are a no-op; the expiry path must
// tolerate entries that are no longer there.
func (s *Store) MarkUnavailable(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	desc, ok := s.services[name]
	if !ok {
		return false
	}
	desc[FieldAvailable] = false
	return true
}

// Snapshot returns a copy of the full current view. Descriptors are copied
// one level deep, which covers the stamped fields; nested values stay shared
// and are treated as read-only by anyone handed a snapshot.
func (s *Store) Snapshot() map[string]Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Descriptor, len(s.services))
	for name, desc := range s.services {
		copied := make(Descriptor, len(desc))
		for k, v := range desc {
			copied[k] = v
		}
		out[name] = copied
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.services)
}

// CountAvailable returns how many entries currently carry available=true.
func (s *Store) CountAvailable() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, desc := range s.services {
		if avail, ok := desc[FieldAvailable].(bool); ok && avail {
			n++
		}
	}
	return n
}
