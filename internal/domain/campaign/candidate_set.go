package campaign

// CandidateSet collects user ids from several scans without duplicates,
// keeping first-seen order.
type CandidateSet struct {
	ids   []int64
	index map[int64]struct{}
}

func NewCandidateSet() *CandidateSet {
	return &CandidateSet{index: make(map[int64]struct{})}
}

// Add merges ids into the set and returns how many were new.
func (s *CandidateSet) Add(ids ...int64) int {
	added := 0
	for _, id := range ids {
		if _, ok := s.index[id]; ok {
			continue
		}
		s.index[id] = struct{}{}
		s.ids = append(s.ids, id)
		added++
	}
	return added
}

func (s *CandidateSet) Has(id int64) bool {
	_, ok := s.index[id]
	return ok
}

func (s *CandidateSet) Len() int { return len(s.ids) }

// IDs returns a copy of the members in insertion order.
func (s *CandidateSet) IDs() []int64 {
	out := make([]int64, len(s.ids))
	copy(out, s.ids)
	return out
}
