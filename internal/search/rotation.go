// File: internal/search/rotation.go
package search

// Rotation cycles over a fixed snapshot of phrases. It never runs dry: Next
// wraps around, and an empty snapshot is replaced by the root term.
type Rotation struct {
	terms []string
	next  int
}

// NewRotation snapshots terms, falling back to root when terms is empty.
func NewRotation(root string, terms []string) *Rotation {
	snapshot := make([]string, 0, len(terms))
	for _, t := range terms {
		if t != "" {
			snapshot = append(snapshot, t)
		}
	}
	if len(snapshot) == 0 {
		snapshot = append(snapshot, root)
	}
	return &Rotation{terms: snapshot}
}

// Next returns the current phrase and advances.
func (r *Rotation) Next() string {
	t := r.terms[r.next%len(r.terms)]
	r.next = (r.next + 1) % len(r.terms)
	return t
}

// Len is the size of the snapshot.
func (r *Rotation) Len() int { return len(r.terms) }
