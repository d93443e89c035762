package app

import (
	"context"
	"fmt"

	"goinfonet/domain/settings"
	"goinfonet/internal"
	"goinfonet/internal/comparison"
	"goinfonet/internal/inference"
	"goinfonet/internal/results"
	"goinfonet/ports"
)

// EstimatorFactory builds the CMI estimator named by analysis settings
type EstimatorFactory func(s settings.Settings) (ports.CMIEstimator, error)

// NetworkService loads data, runs network inference and comparisons, and
// persists their results.
type NetworkService struct {
	reader     ports.SeriesReader
	repository ports.ResultsRepository
	streams    ports.RNGPort
	estimators EstimatorFactory
	options    ServiceOptions
	logger     *internal.Logger
}

// ServiceOptions bounds the parallelism of the service
type ServiceOptions struct {
	Workers       int
	TargetWorkers int
	Logger        *internal.Logger
}

// NewNetworkService creates a network service. The repository may be nil, in
// which case results are only written to files.
func NewNetworkService(reader ports.SeriesReader, repository ports.ResultsRepository, streams ports.RNGPort, estimators EstimatorFactory, opts ServiceOptions) *NetworkService {
	if opts.Logger == nil {
		opts.Logger = internal.DefaultLogger
	}
	return &NetworkService{
		reader:     reader,
		repository: repository,
		streams:    streams,
		estimators: estimators,
		options:    opts,
		logger:     opts.Logger.WithComponent("NetworkService"),
	}
}

// AnalyseRequest defines the inputs of a network analysis
type AnalyseRequest struct {
	DataPath string
	Settings settings.Settings
	Targets  []int
	Sources  [][]int
	// OutputPath receives the JSON results when set
	OutputPath string
	// Store saves the results to the repository
	Store bool
}

// AnalyseResponse carries the results of a network analysis
type AnalyseResponse struct {
	Results      *results.NetworkResults
	ProcessNames []string
	Stored       bool
}

// Analyse runs a network analysis on the series at req.DataPath
func (s *NetworkService) Analyse(ctx context.Context, req AnalyseRequest) (*AnalyseResponse, error) {
	if req.Store && s.repository == nil {
		return nil, fmt.Errorf("no results repository configured")
	}
	estimator, err := s.estimators(req.Settings)
	if err != nil {
		return nil, err
	}
	engine, err := inference.NewEngine(req.Settings, estimator, inference.Options{
		Workers:       s.options.Workers,
		TargetWorkers: s.options.TargetWorkers,
		Streams:       s.streams,
		Logger:        s.options.Logger,
	})
	if err != nil {
		return nil, err
	}

	data, names, err := s.reader.ReadSeries(ctx, req.DataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", req.DataPath, err)
	}
	net, err := engine.AnalyseNetwork(ctx, data, inference.Request{Targets: req.Targets, Sources: req.Sources})
	if err != nil {
		return nil, err
	}

	resp := &AnalyseResponse{Results: net, ProcessNames: names}
	if req.OutputPath != "" {
		if err := results.SaveFile(req.OutputPath, net); err != nil {
			return nil, err
		}
		s.logger.Info("run %s written to %s", net.RunID, req.OutputPath)
	}
	if req.Store {
		if err := s.repository.Save(ctx, net); err != nil {
			return nil, err
		}
		resp.Stored = true
		s.logger.Info("run %s stored", net.RunID)
	}
	return resp, nil
}

// SubjectFiles locates the results and data of one subject or condition
type SubjectFiles struct {
	Results string
	Data    string
}

// CompareRequest defines the inputs of a network comparison. Within-subject
// comparisons use exactly one subject per group.
type CompareRequest struct {
	GroupA   []SubjectFiles
	GroupB   []SubjectFiles
	Within   bool
	Settings settings.Comparison
}

// Compare loads the requested networks and data and compares them
func (s *NetworkService) Compare(ctx context.Context, req CompareRequest) (*comparison.Result, error) {
	if len(req.GroupA) == 0 || len(req.GroupB) == 0 {
		return nil, fmt.Errorf("both groups need at least one subject")
	}
	if req.Within && (len(req.GroupA) != 1 || len(req.GroupB) != 1) {
		return nil, fmt.Errorf("within-subject comparison needs exactly one network per condition")
	}
	groupA, err := s.loadSubjects(ctx, req.GroupA)
	if err != nil {
		return nil, err
	}
	groupB, err := s.loadSubjects(ctx, req.GroupB)
	if err != nil {
		return nil, err
	}

	estimator, err := s.estimators(groupA[0].Network.Settings)
	if err != nil {
		return nil, err
	}
	comparer, err := comparison.NewComparer(req.Settings, estimator, s.streams, s.options.Workers, s.options.Logger)
	if err != nil {
		return nil, err
	}
	if req.Within {
		return comparer.CompareWithin(ctx, groupA[0].Network, groupB[0].Network, groupA[0].Data, groupB[0].Data)
	}
	return comparer.CompareBetween(ctx, groupA, groupB)
}

func (s *NetworkService) loadSubjects(ctx context.Context, files []SubjectFiles) ([]comparison.Subject, error) {
	out := make([]comparison.Subject, len(files))
	for i, f := range files {
		net, err := results.LoadFile(f.Results)
		if err != nil {
			return nil, err
		}
		data, _, err := s.reader.ReadSeries(ctx, f.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f.Data, err)
		}
		out[i] = comparison.Subject{Network: net, Data: data}
	}
	return out, nil
}
