package excel

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"goinfonet/domain/series"
	"goinfonet/internal"
	"goinfonet/internal/errors"
	"goinfonet/ports"

	"github.com/xuri/excelize/v2"
)

// DataReader reads time series from XLSX and CSV files. The first row holds
// one header per process; every further row is one sample. An optional
// replication column groups rows into replications of equal length, in order
// of first appearance.
type DataReader struct {
	// ReplicationColumn names the grouping column; empty disables grouping
	ReplicationColumn string
	// Sheet is the XLSX sheet to read; empty means the first sheet
	Sheet     string
	Normalise bool
	logger    *internal.Logger
}

var _ ports.SeriesReader = (*DataReader)(nil)

// NewDataReader creates a reader that groups replications by a column named
// "replication" when present.
func NewDataReader(logger *internal.Logger) *DataReader {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &DataReader{ReplicationColumn: "replication", logger: logger.WithComponent("DataReader")}
}

// ReadSeries loads the file at path and returns the series and its process names
func (r *DataReader) ReadSeries(ctx context.Context, path string) (*series.TimeSeries, []string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil, errors.NotFound(path)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = r.readCSV(path)
	case ".xlsx":
		rows, err = r.readExcel(path)
	default:
		return nil, nil, errors.Newf(errors.CodeInvalidInput, "unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, nil, err
	}
	r.logger.Debug("%s read in %.2fms (%d rows)", path, float64(time.Since(start).Nanoseconds())/1e6, len(rows))

	ts, names, err := r.processRows(rows)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	nP, nS, nR := ts.Dims()
	r.logger.Info("loaded %s: %d processes, %d samples, %d replications", path, nP, nS, nR)
	return ts, names, nil
}

func (r *DataReader) readExcel(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrap(err, "failed to open Excel file"))
	}
	defer f.Close()

	sheet := r.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrapf(err, "failed to read sheet %s", sheet))
	}
	return rows, nil
}

func (r *DataReader) readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open CSV file")
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrap(err, "failed to read CSV file"))
	}
	return rows, nil
}

// processRows converts raw string rows into a process x sample x replication series
func (r *DataReader) processRows(rows [][]string) (*series.TimeSeries, []string, error) {
	if len(rows) < 2 {
		return nil, nil, errors.InvalidInput("file must have a header row and at least one data row")
	}

	replCol := -1
	var names []string
	var cols []int
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		if r.ReplicationColumn != "" && strings.EqualFold(h, r.ReplicationColumn) {
			replCol = i
			continue
		}
		names = append(names, h)
		cols = append(cols, i)
	}
	if len(names) == 0 {
		return nil, nil, errors.InvalidInput("no process columns found")
	}

	var order []string
	groups := make(map[string][][]float64)
	for i, row := range rows[1:] {
		line := i + 2
		key := ""
		if replCol >= 0 {
			if replCol >= len(row) {
				return nil, nil, errors.Newf(errors.CodeInvalidInput, "row %d has no replication value", line)
			}
			key = strings.TrimSpace(row[replCol])
		}
		values := make([]float64, len(cols))
		for j, c := range cols {
			if c >= len(row) {
				return nil, nil, errors.Newf(errors.CodeInvalidInput, "row %d is missing column %s", line, names[j])
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[c]), 64)
			if err != nil {
				return nil, nil, errors.Newf(errors.CodeInvalidInput, "row %d, column %s: %v", line, names[j], err)
			}
			values[j] = v
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], values)
	}

	nS := len(groups[order[0]])
	data := make([][][]float64, len(names))
	for p := range data {
		data[p] = make([][]float64, nS)
		for s := range data[p] {
			data[p][s] = make([]float64, len(order))
		}
	}
	for rIdx, key := range order {
		samples := groups[key]
		if len(samples) != nS {
			return nil, nil, errors.Newf(errors.CodeInvalidInput, "replication %q has %d samples, expected %d", key, len(samples), nS)
		}
		for s, values := range samples {
			for p, v := range values {
				data[p][s][rIdx] = v
			}
		}
	}

	ts, err := series.FromNested(data, series.Options{Normalise: r.Normalise})
	if err != nil {
		return nil, nil, err
	}
	return ts, names, nil
}
