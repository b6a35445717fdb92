package sync

// SeenSet is a size-bounded set of message ids already shown to the user,
// used by callers to tell new mail apart across sync cycles. When the bound
// is exceeded the oldest entries are evicted; Trim drops everything not
// relevant to the active view. SeenSet is not safe for concurrent use.
type SeenSet struct {
	max   int
	ids   map[string]struct{}
	order []string
}

// NewSeenSet creates a SeenSet holding at most max ids. A non-positive max
// defaults to 1000.
func NewSeenSet(max int) *SeenSet {
	if max <= 0 {
		max = 1000
	}
	return &SeenSet{
		max: max,
		ids: make(map[string]struct{}, max),
	}
}

// Add records an id and reports whether it was previously unseen. Adding
// past the bound evicts the oldest id.
func (s *SeenSet) Add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}

	for len(s.ids) >= s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.ids, oldest)
	}

	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// Has reports whether id has been seen.
func (s *SeenSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of ids currently held.
func (s *SeenSet) Len() int {
	return len(s.ids)
}

// Trim retains only the ids present in keep, releasing everything else.
func (s *SeenSet) Trim(keep []string) {
	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}

	ids := make(map[string]struct{}, len(keepSet))
	order := make([]string, 0, len(keepSet))
	for _, id := range s.order {
		if _, ok := keepSet[id]; ok {
			ids[id] = struct{}{}
			order = append(order, id)
		}
	}
	s.ids = ids
	s.order = order
}
