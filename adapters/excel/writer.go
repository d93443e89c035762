package excel

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"goinfonet/internal"
	"goinfonet/internal/comparison"
	"goinfonet/internal/errors"
	"goinfonet/internal/results"

	"github.com/xuri/excelize/v2"
)

const (
	nodesSheet = "nodes"
	edgesSheet = "edges"
)

var (
	nodeHeader = []string{"id", "label", "x", "y", "z", "color", "size"}
	edgeHeader = []string{"source", "target", "lag", "weight", "p_value"}
)

// DefaultNodes places n labelled nodes on a unit circle
func DefaultNodes(labels []string) Nodes {
	n := len(labels)
	nodes := Nodes{
		Labels: append([]string(nil), labels...),
		X:      make([]float64, n),
		Y:      make([]float64, n),
		Z:      make([]float64, n),
	}
	for i := range labels {
		angle := 2 * math.Pi * float64(i) / float64(n)
		nodes.X[i] = math.Round(math.Cos(angle)*1e6) / 1e6
		nodes.Y[i] = math.Round(math.Sin(angle)*1e6) / 1e6
	}
	return nodes
}

// Labels returns "p0" .. "p<n-1>"
func Labels(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "p" + strconv.Itoa(i)
	}
	return out
}

// Validate checks that every populated column has one entry per node
func (n Nodes) Validate(nNodes int) error {
	if len(n.Labels) != nNodes {
		return errors.Newf(errors.CodeInvalidInput, "got %d node labels for %d nodes", len(n.Labels), nNodes)
	}
	floats := map[string][]float64{"x": n.X, "y": n.Y, "z": n.Z, "size": n.Sizes}
	for _, name := range []string{"x", "y", "z", "size"} {
		if v := floats[name]; v != nil && len(v) != nNodes {
			return errors.Newf(errors.CodeInvalidInput, "got %d %s values for %d nodes", len(v), name, nNodes)
		}
	}
	if n.Colors != nil && len(n.Colors) != nNodes {
		return errors.Newf(errors.CodeInvalidInput, "got %d colors for %d nodes", len(n.Colors), nNodes)
	}
	return nil
}

// NetworkEdges converts inferred links into edge rows
func NetworkEdges(net *results.NetworkResults, weight results.WeightType, fdr bool) ([]EdgeRow, error) {
	edges, err := net.Edges(weight, fdr)
	if err != nil {
		return nil, err
	}
	rows := make([]EdgeRow, len(edges))
	for i, e := range edges {
		rows[i] = EdgeRow{Source: e.Source, Target: e.Target, Lag: e.Lag, Weight: e.Weight, PValue: e.PValue}
	}
	return rows, nil
}

// ComparisonEdges converts the union links of a comparison into edge rows
// weighted by their absolute difference.
func ComparisonEdges(res *comparison.Result) []EdgeRow {
	rows := make([]EdgeRow, len(res.Links))
	for i, l := range res.Links {
		rows[i] = EdgeRow{Source: l.Source, Target: l.Target, Weight: l.DiffAbs, PValue: l.PValue}
	}
	return rows
}

// Writer exports node tables and edge lists for graph visualisation tools
type Writer struct {
	logger *internal.Logger
}

// NewWriter creates a new export writer
func NewWriter(logger *internal.Logger) *Writer {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Writer{logger: logger.WithComponent("Export")}
}

// Write exports nodes and edges. An .xlsx path produces one workbook with a
// nodes and an edges sheet; any other path is treated as a prefix for
// <prefix>_nodes.csv and <prefix>_edges.csv. It returns the written files.
func (w *Writer) Write(path string, nodes Nodes, edges []EdgeRow) ([]string, error) {
	if err := nodes.Validate(len(nodes.Labels)); err != nil {
		return nil, err
	}
	for _, e := range edges {
		if e.Source < 0 || e.Source >= len(nodes.Labels) || e.Target < 0 || e.Target >= len(nodes.Labels) {
			return nil, errors.Newf(errors.CodeInvalidInput, "edge %d -> %d references a node outside [0, %d)", e.Source, e.Target, len(nodes.Labels))
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory for %s", path)
	}

	nodeRows, edgeRows := nodeTable(nodes), edgeTable(edges)
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		if err := writeWorkbook(path, nodeRows, edgeRows); err != nil {
			return nil, err
		}
		w.logger.Info("exported %d nodes and %d edges to %s", len(nodes.Labels), len(edges), path)
		return []string{path}, nil
	}

	prefix := strings.TrimSuffix(path, filepath.Ext(path))
	files := []string{prefix + "_nodes.csv", prefix + "_edges.csv"}
	for i, table := range [][][]string{nodeRows, edgeRows} {
		if err := writeCSV(files[i], table); err != nil {
			return nil, err
		}
	}
	w.logger.Info("exported %d nodes and %d edges to %s", len(nodes.Labels), len(edges), strings.Join(files, ", "))
	return files, nil
}

func nodeTable(n Nodes) [][]string {
	get := func(v []float64, i int) string {
		if v == nil {
			return ""
		}
		return formatFloat(v[i])
	}
	rows := [][]string{nodeHeader}
	for i, label := range n.Labels {
		color := ""
		if n.Colors != nil {
			color = n.Colors[i]
		}
		rows = append(rows, []string{strconv.Itoa(i), label, get(n.X, i), get(n.Y, i), get(n.Z, i), color, get(n.Sizes, i)})
	}
	return rows
}

func edgeTable(edges []EdgeRow) [][]string {
	rows := [][]string{edgeHeader}
	for _, e := range edges {
		rows = append(rows, []string{strconv.Itoa(e.Source), strconv.Itoa(e.Target), strconv.Itoa(e.Lag), formatFloat(e.Weight), formatFloat(e.PValue)})
	}
	return rows
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeCSV(path string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(rows); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

func writeWorkbook(path string, nodes, edges [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), nodesSheet); err != nil {
		return errors.Wrap(err, "failed to name nodes sheet")
	}
	if _, err := f.NewSheet(edgesSheet); err != nil {
		return errors.Wrap(err, "failed to add edges sheet")
	}
	// label and color are the only text columns
	text := map[string]map[int]bool{nodesSheet: {1: true, 5: true}, edgesSheet: {}}
	for sheet, rows := range map[string][][]string{nodesSheet: nodes, edgesSheet: edges} {
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				return errors.Wrap(err, "failed to address cell")
			}
			values := make([]interface{}, len(row))
			for j, v := range row {
				values[j] = v
				if i == 0 || text[sheet][j] {
					continue
				}
				if num, err := strconv.ParseFloat(v, 64); err == nil {
					values[j] = num
				}
			}
			if err := f.SetSheetRow(sheet, cell, &values); err != nil {
				return errors.Wrapf(err, "failed to write %s row %d", sheet, i+1)
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		return errors.Wrapf(err, "failed to save %s", path)
	}
	return nil
}

// String renders an edge row for logs
func (e EdgeRow) String() string {
	return fmt.Sprintf("%d -> %d (lag %d, weight %g, p %g)", e.Source, e.Target, e.Lag, e.Weight, e.PValue)
}
