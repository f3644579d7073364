package hir

// UnionFind is a disjoint-set forest over dense integer ids. Each id either
// has no forwarding (it is its own representative) or forwards to another
// id. The table grows on demand; ids never seen are their own
// representative.
type UnionFind[T ~int] struct {
	forwarded []T
	set       []bool
}

// NewUnionFind returns an empty forest.
func NewUnionFind[T ~int]() *UnionFind[T] {
	return &UnionFind[T]{}
}

func (uf *UnionFind[T]) at(id T) (T, bool) {
	if int(id) < 0 || int(id) >= len(uf.set) || !uf.set[id] {
		return id, false
	}
	return uf.forwarded[id], true
}

func (uf *UnionFind[T]) setForward(id, to T) {
	for int(id) >= len(uf.set) {
		uf.forwarded = append(uf.forwarded, 0)
		uf.set = append(uf.set, false)
	}
	uf.forwarded[id] = to
	uf.set[id] = true
}

// Forwarded returns the direct forwarding target of id without following
// chains, and whether id forwards at all.
func (uf *UnionFind[T]) Forwarded(id T) (T, bool) {
	return uf.at(id)
}

// Find returns the representative of id, compressing the path so every id
// visited afterwards forwards directly to the representative.
func (uf *UnionFind[T]) Find(id T) T {
	rep := uf.FindConst(id)
	for id != rep {
		next, _ := uf.at(id)
		uf.setForward(id, rep)
		id = next
	}
	return rep
}

// FindConst returns the representative of id without mutating the forest.
func (uf *UnionFind[T]) FindConst(id T) T {
	for {
		next, ok := uf.at(id)
		if !ok || next == id {
			return id
		}
		id = next
	}
}

// MakeEqualTo merges the set containing id into the set containing
// target. The representative of target's set represents the result; when
// target is fresh that is target itself.
func (uf *UnionFind[T]) MakeEqualTo(id, target T) {
	rep := uf.Find(id)
	to := uf.Find(target)
	if rep == to {
		return
	}
	uf.setForward(rep, to)
}

// Len returns the size of the forwarding table.
func (uf *UnionFind[T]) Len() int {
	return len(uf.set)
}
