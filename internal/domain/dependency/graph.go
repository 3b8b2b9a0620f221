package dependency

import "sort"

// Graph is the prerequisite graph over lessons and courses. Achievement
// requirements are leaves and are not represented.
type Graph struct {
	edges map[Subject][]Subject
}

// NewGraph builds a graph from stored dependencies.
func NewGraph(deps []Dependency) *Graph {
	g := &Graph{edges: make(map[Subject][]Subject)}
	for _, d := range deps {
		g.Add(d)
	}
	return g
}

// Add inserts the edge of d if it points at a lesson or course.
func (g *Graph) Add(d Dependency) {
	to, ok := requirementNode(d.Requirement)
	if !ok {
		return
	}
	g.edges[d.Subject] = append(g.edges[d.Subject], to)
}

func requirementNode(r Requirement) (Subject, bool) {
	switch v := r.(type) {
	case LessonRequirement:
		return LessonSubject(v.LessonID), true
	case CourseRequirement:
		return CourseSubject(v.CourseID), true
	}
	return Subject{}, false
}

// WouldCreateCycle reports whether adding d closes a cycle, that is whether the
// requirement can already reach the subject.
func (g *Graph) WouldCreateCycle(d Dependency) bool {
	to, ok := requirementNode(d.Requirement)
	if !ok {
		return false
	}
	if to == d.Subject {
		return true
	}
	return g.reachable(to, d.Subject)
}

func (g *Graph) reachable(from, target Subject) bool {
	seen := map[Subject]bool{from: true}
	stack := []Subject{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range g.edges[n] {
			if next == target {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

const (
	white = iota
	grey
	black
)

// FindCycles returns every cycle found by a depth-first walk. Each cycle is
// listed from its entry node back to that node.
func (g *Graph) FindCycles() [][]Subject {
	color := make(map[Subject]int)
	var (
		path   []Subject
		cycles [][]Subject
		visit  func(n Subject)
	)

	visit = func(n Subject) {
		color[n] = grey
		path = append(path, n)
		for _, next := range g.edges[n] {
			switch color[next] {
			case white:
				visit(next)
			case grey:
				for i := len(path) - 1; i >= 0; i-- {
					if path[i] == next {
						cycle := append([]Subject{}, path[i:]...)
						cycles = append(cycles, append(cycle, next))
						break
					}
				}
			}
		}
		path = path[:len(path)-1]
		color[n] = black
	}

	for _, n := range g.nodes() {
		if color[n] == white {
			visit(n)
		}
	}
	return cycles
}

// nodes returns subjects in a stable order so audit output is reproducible.
func (g *Graph) nodes() []Subject {
	out := make([]Subject, 0, len(g.edges))
	for n := range g.edges {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
