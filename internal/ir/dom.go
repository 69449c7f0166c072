// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ir

// domTree holds immediate dominators of the reachable blocks of a function,
// computed with the iterative algorithm of Cooper, Harvey and Kennedy.
type domTree struct {
	idom  map[BlockID]BlockID
	order map[BlockID]int // reverse postorder number
}

func newDomTree(f *Function) *domTree {
	entry := f.layout[0]
	var post []BlockID
	visited := make(map[BlockID]bool)
	var walk func(id BlockID)
	walk = func(id BlockID) {
		visited[id] = true
		for _, s := range f.blocks[id].Succs() {
			if !visited[s.id] {
				walk(s.id)
			}
		}
		post = append(post, id)
	}
	walk(entry)

	t := &domTree{
		idom:  make(map[BlockID]BlockID, len(post)),
		order: make(map[BlockID]int, len(post)),
	}
	rpo := make([]BlockID, len(post))
	for i, id := range post {
		rpo[len(post)-1-i] = id
	}
	for i, id := range rpo {
		t.order[id] = i
	}
	preds := make(map[BlockID][]BlockID, len(rpo))
	for _, id := range rpo {
		for _, s := range f.blocks[id].Succs() {
			preds[s.id] = append(preds[s.id], id)
		}
	}

	t.idom[entry] = entry
	for changed := true; changed; {
		changed = false
		for _, id := range rpo[1:] {
			var newIdom BlockID
			for _, p := range preds[id] {
				if _, ok := t.idom[p]; !ok {
					continue
				}
				if newIdom == NoBlock {
					newIdom = p
				} else {
					newIdom = t.intersect(p, newIdom)
				}
			}
			if t.idom[id] != newIdom {
				t.idom[id] = newIdom
				changed = true
			}
		}
	}
	return t
}

func (t *domTree) intersect(a, b BlockID) BlockID {
	for a != b {
		for t.order[a] > t.order[b] {
			a = t.idom[a]
		}
		for t.order[b] > t.order[a] {
			b = t.idom[b]
		}
	}
	return a
}

func (t *domTree) reachable(id BlockID) bool {
	_, ok := t.order[id]
	return ok
}

// dominates reports whether every path from the entry to b goes through a.
func (t *domTree) dominates(a, b BlockID) bool {
	if !t.reachable(a) || !t.reachable(b) {
		return false
	}
	for {
		if a == b {
			return true
		}
		up := t.idom[b]
		if up == b {
			return false
		}
		b = up
	}
}
