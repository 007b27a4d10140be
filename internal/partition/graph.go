package partition

// Graph is a weighted adjacency list in compressed row form.
// Nodes are appended in index order with AddNode, each followed by its edges.
type Graph struct {
	Offsets   []int
	Adjacency []int
	Cost      []int
}

// NewGraph returns an empty graph sized for numNodes nodes.
func NewGraph(numNodes, edgeHint int) *Graph {
	return &Graph{
		Offsets:   make([]int, 0, numNodes+1),
		Adjacency: make([]int, 0, edgeHint),
		Cost:      make([]int, 0, edgeHint),
	}
}

// AddNode starts the edge list of the next node.
func (g *Graph) AddNode() {
	g.Offsets = append(g.Offsets, len(g.Adjacency))
}

// AddEdge appends an edge from the current node. Repeated targets
// accumulate cost.
func (g *Graph) AddEdge(to, cost int) {
	start := g.Offsets[len(g.Offsets)-1]
	for i := start; i < len(g.Adjacency); i++ {
		if g.Adjacency[i] == to {
			g.Cost[i] += cost
			return
		}
	}
	g.Adjacency = append(g.Adjacency, to)
	g.Cost = append(g.Cost, cost)
}

// NumNodes returns the number of nodes added so far.
func (g *Graph) NumNodes() int {
	return len(g.Offsets)
}

// Edges returns the neighbors and costs of node.
func (g *Graph) Edges(node int) ([]int, []int) {
	start := g.Offsets[node]
	end := len(g.Adjacency)
	if node+1 < len(g.Offsets) {
		end = g.Offsets[node+1]
	}
	return g.Adjacency[start:end], g.Cost[start:end]
}
