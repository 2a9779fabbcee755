package gc

import "cyclegc/pkg/object"

// Cycles groups objs into strongly connected components of the reference
// graph restricted to objs, and returns the ones forming a cycle: at least
// two members, or one member referencing itself. Components come out in
// reverse topological order.
//
// Tarjan's algorithm, run with an explicit stack so that long chains of
// garbage cannot exhaust the goroutine stack.
func Cycles(objs []object.Object) [][]object.Object {
	id := make(map[*object.Header]int, len(objs))
	var nodes []object.Object
	for _, o := range objs {
		if _, ok := id[o.Head()]; !ok {
			id[o.Head()] = len(nodes)
			nodes = append(nodes, o)
		}
	}

	adj := make([][]int, len(nodes))
	selfLoop := make([]bool, len(nodes))
	for i, o := range nodes {
		object.Traverse(o, func(r object.Object) int {
			if r == nil {
				return 0
			}
			if j, ok := id[r.Head()]; ok {
				if j == i {
					selfLoop[i] = true
				}
				adj[i] = append(adj[i], j)
			}
			return 0
		})
	}

	const unvisited = -1
	index := make([]int, len(nodes))
	low := make([]int, len(nodes))
	onStack := make([]bool, len(nodes))
	for i := range index {
		index[i] = unvisited
	}
	next := 0
	var stack []int
	push := func(v int) {
		index[v], low[v] = next, next
		next++
		stack = append(stack, v)
		onStack[v] = true
	}

	type frame struct{ v, edge int }
	var out [][]object.Object
	for root := range nodes {
		if index[root] != unvisited {
			continue
		}
		push(root)
		calls := []frame{{v: root}}
		for len(calls) > 0 {
			f := &calls[len(calls)-1]
			if f.edge < len(adj[f.v]) {
				w := adj[f.v][f.edge]
				f.edge++
				if index[w] == unvisited {
					push(w)
					calls = append(calls, frame{v: w})
				} else if onStack[w] && index[w] < low[f.v] {
					low[f.v] = index[w]
				}
				continue
			}

			v := f.v
			calls = calls[:len(calls)-1]
			if len(calls) > 0 {
				if p := calls[len(calls)-1].v; low[v] < low[p] {
					low[p] = low[v]
				}
			}
			if low[v] != index[v] {
				continue
			}
			// v is the root of a component
			var comp []object.Object
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, nodes[w])
				if w == v {
					break
				}
			}
			if len(comp) > 1 || selfLoop[v] {
				out = append(out, comp)
			}
		}
	}
	return out
}

// GarbageCycles returns the cycles formed by the objects in the garbage list
func (s *State) GarbageCycles() [][]object.Object {
	return Cycles(s.garbage)
}
