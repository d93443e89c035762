// Package testkit provides deterministic synthetic data and estimator
// doubles for tests of the inference engine and its collaborators.
package testkit

import (
	"context"
	"math"
	"math/rand/v2"
	"sync/atomic"

	"goinfonet/domain/series"
	"goinfonet/ports"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const burnIn = 100

// Coupling adds Weight * x_Source[t-Lag] to x_Target[t]
type Coupling struct {
	Source int
	Target int
	Lag    int
	Weight float64
}

// NetworkConfig describes a linear autoregressive network
type NetworkConfig struct {
	NProcesses    int
	NSamples      int
	NReplications int
	Couplings     []Coupling
	// SelfWeight is the AR(1) coefficient of every process
	SelfWeight float64
	// Noise is the standard deviation of the innovation noise
	Noise float64
	Seed  uint64
}

// GenerateNetwork simulates the network and returns it as a TimeSeries. Each
// replication is an independent run with its own burn-in.
func GenerateNetwork(cfg NetworkConfig) (*series.TimeSeries, error) {
	if cfg.NReplications <= 0 {
		cfg.NReplications = 1
	}
	if cfg.Noise <= 0 {
		cfg.Noise = 1
	}
	noise := distuv.Normal{Mu: 0, Sigma: cfg.Noise, Src: rand.NewPCG(cfg.Seed, 0x5eed)}

	total := cfg.NSamples + burnIn
	data := make([][][]float64, cfg.NProcesses)
	for p := range data {
		data[p] = make([][]float64, cfg.NSamples)
		for s := range data[p] {
			data[p][s] = make([]float64, cfg.NReplications)
		}
	}

	x := make([][]float64, cfg.NProcesses)
	for r := 0; r < cfg.NReplications; r++ {
		for p := range x {
			x[p] = make([]float64, total)
		}
		for t := 0; t < total; t++ {
			for p := 0; p < cfg.NProcesses; p++ {
				v := noise.Rand()
				if t > 0 {
					v += cfg.SelfWeight * x[p][t-1]
				}
				for _, c := range cfg.Couplings {
					if c.Target == p && t-c.Lag >= 0 {
						v += c.Weight * x[c.Source][t-c.Lag]
					}
				}
				x[p][t] = v
			}
		}
		for p := range x {
			for s := 0; s < cfg.NSamples; s++ {
				data[p][s][r] = x[p][burnIn+s]
			}
		}
	}
	return series.FromNested(data, series.Options{})
}

// CorrelatedPair returns n draws of a standard bivariate normal with
// correlation rho as two single-column matrices.
func CorrelatedPair(n int, rho float64, seed uint64) (*mat.Dense, *mat.Dense) {
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(seed, 0xc0de)}
	x := make([]float64, n)
	y := make([]float64, n)
	scale := math.Sqrt(1 - rho*rho)
	for i := 0; i < n; i++ {
		x[i] = normal.Rand()
		y[i] = rho*x[i] + scale*normal.Rand()
	}
	return mat.NewDense(n, 1, x), mat.NewDense(n, 1, y)
}

// GaussianMI returns the analytic mutual information of a bivariate normal
func GaussianMI(rho float64) float64 {
	return -0.5 * math.Log(1-rho*rho)
}

// Noise returns an n x cols matrix of independent standard normal draws
func Noise(n, cols int, seed uint64) *mat.Dense {
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(seed, 0xbeef)}
	data := make([]float64, n*cols)
	for i := range data {
		data[i] = normal.Rand()
	}
	return mat.NewDense(n, cols, data)
}

// CorrelationEstimator is a cheap estimator double returning the Gaussian MI
// implied by the correlation of the first source and target columns. It
// ignores the conditioning set and counts its calls.
type CorrelationEstimator struct {
	calls atomic.Int64
	// Fail makes every call return an error once set
	Fail error
}

var _ ports.CMIEstimator = (*CorrelationEstimator)(nil)

// Name returns the estimator name
func (e *CorrelationEstimator) Name() string { return "correlation" }

// Calls returns how many estimates were requested
func (e *CorrelationEstimator) Calls() int64 { return e.calls.Load() }

// Estimate returns -1/2 ln(1 - r^2) of the first source and target columns
func (e *CorrelationEstimator) Estimate(ctx context.Context, source, target, _ *mat.Dense) (float64, error) {
	e.calls.Add(1)
	if e.Fail != nil {
		return 0, e.Fail
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r, _ := source.Dims()
	x := mat.Col(nil, 0, source)
	y := mat.Col(nil, 0, target)
	if r < 2 {
		return 0, nil
	}
	rho := stat.Correlation(x, y, nil)
	if math.IsNaN(rho) {
		return 0, nil
	}
	if rho*rho >= 1 {
		rho = 0.999999
	}
	return GaussianMI(rho), nil
}
