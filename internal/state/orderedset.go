package state

// orderedSet keeps insertion order with constant-time membership and removal.
// Removed slots are tombstoned and compacted once they dominate the slice.
type orderedSet struct {
	items []string
	index map[string]int
	dead  int
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: make(map[string]int)}
}

func (s *orderedSet) has(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *orderedSet) add(id string) bool {
	if s.has(id) {
		return false
	}
	s.index[id] = len(s.items)
	s.items = append(s.items, id)
	return true
}

func (s *orderedSet) remove(id string) bool {
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	delete(s.index, id)
	s.items[pos] = ""
	s.dead++
	if s.dead > 64 && s.dead*2 > len(s.items) {
		s.compact()
	}
	return true
}

func (s *orderedSet) len() int {
	return len(s.index)
}

func (s *orderedSet) values() []string {
	out := make([]string, 0, len(s.index))
	for _, id := range s.items {
		if _, ok := s.index[id]; ok && id != "" {
			out = append(out, id)
		}
	}
	return out
}

func (s *orderedSet) compact() {
	live := s.values()
	s.items = live
	s.dead = 0
	for i, id := range live {
		s.index[id] = i
	}
}
