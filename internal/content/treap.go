package content

// Treap primitives over the arena. Subtree roots returned by split and merge
// always have their parent cleared; callers attach them.

func (f *File) size(h handle) int {
	if h == none {
		return 0
	}
	return f.nodes[h].size
}

func (f *File) live(h handle) int {
	if h == none {
		return 0
	}
	return f.nodes[h].live
}

func (f *File) lines(h handle) int {
	if h == none {
		return 0
	}
	return f.nodes[h].lines
}

// pull recomputes the cached aggregates of h from its children.
func (f *File) pull(h handle) {
	n := &f.nodes[h]
	n.size = 1 + f.size(n.left) + f.size(n.right)
	n.live = f.live(n.left) + f.live(n.right)
	n.lines = f.lines(n.left) + f.lines(n.right)
	if n.alive {
		n.live++
		if n.r == '\n' {
			n.lines++
		}
	}
}

func (f *File) setParent(child, parent handle) {
	if child != none {
		f.nodes[child].parent = parent
	}
}

// split cuts t into the first k nodes and the rest.
func (f *File) split(t handle, k int) (handle, handle) {
	if t == none {
		return none, none
	}
	n := &f.nodes[t]
	if k <= f.size(n.left) {
		l, r := f.split(n.left, k)
		n = &f.nodes[t]
		n.left = r
		f.setParent(r, t)
		f.pull(t)
		f.nodes[t].parent = none
		return l, t
	}
	l, r := f.split(n.right, k-f.size(n.left)-1)
	n = &f.nodes[t]
	n.right = l
	f.setParent(l, t)
	f.pull(t)
	f.nodes[t].parent = none
	return t, r
}

// merge joins a and b with every node of a ordered before b.
func (f *File) merge(a, b handle) handle {
	if a == none {
		return b
	}
	if b == none {
		return a
	}
	if f.nodes[a].prio > f.nodes[b].prio {
		m := f.merge(f.nodes[a].right, b)
		f.nodes[a].right = m
		f.setParent(m, a)
		f.pull(a)
		f.nodes[a].parent = none
		return a
	}
	m := f.merge(a, f.nodes[b].left)
	f.nodes[b].left = m
	f.setParent(m, b)
	f.pull(b)
	f.nodes[b].parent = none
	return b
}

// index returns the storage position of h, tombstones included.
func (f *File) index(h handle) int {
	idx := f.size(f.nodes[h].left)
	for c, p := h, f.nodes[h].parent; p != none; c, p = p, f.nodes[p].parent {
		if f.nodes[p].right == c {
			idx += f.size(f.nodes[p].left) + 1
		}
	}
	return idx
}

// liveBefore returns the number of live characters stored before h.
func (f *File) liveBefore(h handle) int {
	count := f.live(f.nodes[h].left)
	for c, p := h, f.nodes[h].parent; p != none; c, p = p, f.nodes[p].parent {
		if f.nodes[p].right == c {
			count += f.live(f.nodes[p].left)
			if f.nodes[p].alive {
				count++
			}
		}
	}
	return count
}

// selectLive returns the k-th live character. k must be in range.
func (f *File) selectLive(k int) handle {
	h := f.root
	for h != none {
		n := &f.nodes[h]
		left := f.live(n.left)
		switch {
		case k < left:
			h = n.left
		case n.alive && k == left:
			return h
		default:
			k -= left
			if n.alive {
				k--
			}
			h = n.right
		}
	}
	return none
}

// selectNewline returns the k-th live line break. k must be in range.
func (f *File) selectNewline(k int) handle {
	h := f.root
	for h != none {
		n := &f.nodes[h]
		left := f.lines(n.left)
		isBreak := n.alive && n.r == '\n'
		switch {
		case k < left:
			h = n.left
		case isBreak && k == left:
			return h
		default:
			k -= left
			if isBreak {
				k--
			}
			h = n.right
		}
	}
	return none
}

// linesBefore returns the number of live line breaks among the first k live
// characters.
func (f *File) linesBefore(k int) int {
	count := 0
	h := f.root
	for h != none && k > 0 {
		n := &f.nodes[h]
		left := f.live(n.left)
		if k <= left {
			h = n.left
			continue
		}
		count += f.lines(n.left)
		k -= left
		if n.alive {
			if n.r == '\n' {
				count++
			}
			k--
		}
		h = n.right
	}
	return count
}

// setAlive flips the state of h and fixes the aggregates up to the root.
func (f *File) setAlive(h handle, alive bool) {
	f.nodes[h].alive = alive
	for p := h; p != none; p = f.nodes[p].parent {
		f.pull(p)
	}
}

func (f *File) walk(h handle, fn func(handle)) {
	// Iterative in-order traversal keeps deep trees off the call stack.
	var stack []handle
	for h != none || len(stack) > 0 {
		for h != none {
			stack = append(stack, h)
			h = f.nodes[h].left
		}
		h = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(h)
		h = f.nodes[h].right
	}
}

func (f *File) alloc(n node) handle {
	n.prio = f.nextPrio()
	n.left, n.right, n.parent = none, none, none
	var h handle
	if k := len(f.free); k > 0 {
		h = f.free[k-1]
		f.free = f.free[:k-1]
		f.nodes[h] = n
	} else {
		h = handle(len(f.nodes))
		f.nodes = append(f.nodes, n)
	}
	f.pull(h)
	return h
}

func (f *File) release(h handle) {
	f.nodes[h] = node{left: none, right: none, parent: none}
	f.free = append(f.free, h)
}

// nextPrio is a xorshift generator; a fixed seed keeps layouts reproducible.
func (f *File) nextPrio() uint32 {
	x := f.seed
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	f.seed = x
	return x
}
