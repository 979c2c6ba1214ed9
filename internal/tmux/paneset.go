package tmux

import (
	"sort"
	"strconv"
	"strings"
)

// PaneSet is a snapshot of the pane IDs alive in one session.
type PaneSet map[string]struct{}

// NewPaneSet builds a set from pane IDs.
func NewPaneSet(ids ...string) PaneSet {
	s := make(PaneSet, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// Has reports whether the pane ID is in the set.
func (s PaneSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Added returns the panes present here but absent from old.
func (s PaneSet) Added(old PaneSet) PaneSet {
	added := make(PaneSet)
	for id := range s {
		if !old.Has(id) {
			added[id] = struct{}{}
		}
	}
	return added
}

// Newest returns the most recently created pane in the set, relying on
// tmux pane IDs (%N) increasing monotonically for the server's lifetime.
func (s PaneSet) Newest() (string, bool) {
	best := ""
	bestN := -1
	for id := range s {
		n, err := strconv.Atoi(strings.TrimPrefix(id, "%"))
		if err != nil {
			continue
		}
		if n > bestN {
			bestN = n
			best = id
		}
	}
	return best, best != ""
}

// Sorted returns the pane IDs in numeric order for stable rendering.
func (s PaneSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(strings.TrimPrefix(ids[i], "%"))
		b, errB := strconv.Atoi(strings.TrimPrefix(ids[j], "%"))
		if errA != nil || errB != nil {
			return ids[i] < ids[j]
		}
		return a < b
	})
	return ids
}

func (s PaneSet) clone() PaneSet {
	dup := make(PaneSet, len(s))
	for id := range s {
		dup[id] = struct{}{}
	}
	return dup
}
