package excel

// Nodes describes the node table of an exported network. Coordinates, colors
// and sizes are optional; when set they need one entry per node.
type Nodes struct {
	Labels []string
	X      []float64
	Y      []float64
	Z      []float64
	Colors []string
	Sizes  []float64
}

// EdgeRow is one row of an exported edge list
type EdgeRow struct {
	Source int
	Target int
	Lag    int
	Weight float64
	PValue float64
}
