package ports

import (
	"context"

	"goinfonet/domain/series"
)

// SeriesReader loads multivariate time series from external storage
type SeriesReader interface {
	// ReadSeries loads the series at path; columns are processes and rows samples
	ReadSeries(ctx context.Context, path string) (*series.TimeSeries, []string, error)
}
