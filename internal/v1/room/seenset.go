package room

import "container/list"

// seenSet is a bounded set of message ids with LRU eviction. Once the
// capacity is exceeded the oldest id is forgotten, which is acceptable
// because the bus does not replay.
type seenSet struct {
	capacity int
	order    *list.List // front = most recent
	index    map[string]*list.Element
}

func newSeenSet(capacity int) *seenSet {
	if capacity < 1 {
		capacity = 1
	}
	return &seenSet{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Add inserts an id, refreshing it if already present, and evicts the
// oldest entry when over capacity.
func (s *seenSet) Add(id string) {
	if el, ok := s.index[id]; ok {
		s.order.MoveToFront(el)
		return
	}
	s.index[id] = s.order.PushFront(id)
	if s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(string))
	}
}

// Contains reports whether the id is currently remembered.
func (s *seenSet) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Len returns the number of remembered ids.
func (s *seenSet) Len() int {
	return s.order.Len()
}
