package partition

// DisjointSet is a union-find over dense element indices.
// Roots are always the smallest index of their set.
type DisjointSet struct {
	parents []uint32
}

// NewDisjointSet returns n singleton sets.
func NewDisjointSet(n int) *DisjointSet {
	d := &DisjointSet{parents: make([]uint32, n)}
	for i := range d.parents {
		d.parents[i] = uint32(i)
	}
	return d
}

// Len returns the number of elements.
func (d *DisjointSet) Len() int {
	return len(d.parents)
}

// Find returns the root of x, compressing the path.
func (d *DisjointSet) Find(x uint32) uint32 {
	root := x
	for d.parents[root] != root {
		root = d.parents[root]
	}
	for d.parents[x] != root {
		x, d.parents[x] = d.parents[x], root
	}
	return root
}

// Union joins the sets of x and y.
func (d *DisjointSet) Union(x, y uint32) {
	rx, ry := d.Find(x), d.Find(y)
	switch {
	case rx < ry:
		d.parents[ry] = rx
	case ry < rx:
		d.parents[rx] = ry
	}
}

// Components returns the number of distinct sets.
func (d *DisjointSet) Components() int {
	n := 0
	for i := range d.parents {
		if d.Find(uint32(i)) == uint32(i) {
			n++
		}
	}
	return n
}
