package engine

import "sort"

// LabelSet tracks label names known to exist remotely during one
// reconciliation call, and the names the call must create first. It is owned
// by a single goroutine.
type LabelSet struct {
	known   map[string]struct{}
	created map[string]struct{}
}

// NewLabelSet seeds the set with labels already known to exist.
func NewLabelSet(existing ...string) *LabelSet {
	s := &LabelSet{known: make(map[string]struct{}), created: make(map[string]struct{})}
	for _, name := range existing {
		if name != "" {
			s.known[name] = struct{}{}
		}
	}
	return s
}

// Ensure marks a label as required. Names not yet known are scheduled for
// creation exactly once.
func (s *LabelSet) Ensure(name string) {
	if name == "" {
		return
	}
	if _, ok := s.known[name]; ok {
		return
	}
	s.known[name] = struct{}{}
	s.created[name] = struct{}{}
}

// Contains reports whether the label exists or is already scheduled.
func (s *LabelSet) Contains(name string) bool {
	_, ok := s.known[name]
	return ok
}

// ToCreate returns the sorted names scheduled for creation.
func (s *LabelSet) ToCreate() []string {
	out := make([]string, 0, len(s.created))
	for name := range s.created {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
