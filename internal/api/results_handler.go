// Package api exposes stored network analysis runs over HTTP.
package api

import (
	"net/http"
	"strconv"

	"goinfonet/domain/core"
	"goinfonet/internal"
	apperrors "goinfonet/internal/errors"
	"goinfonet/internal/results"
	"goinfonet/ports"

	"github.com/gin-gonic/gin"
	"gonum.org/v1/gonum/mat"
)

const defaultListLimit = 50

// ResultsHandler serves runs from a results repository
type ResultsHandler struct {
	repo   ports.ResultsRepository
	logger *internal.Logger
}

// NewResultsHandler creates a new results handler
func NewResultsHandler(repo ports.ResultsRepository, logger *internal.Logger) *ResultsHandler {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &ResultsHandler{repo: repo, logger: logger.WithComponent("API")}
}

// Register mounts the run routes on r
func (h *ResultsHandler) Register(r gin.IRouter) {
	runs := r.Group("/runs")
	runs.GET("", h.ListRuns)
	runs.GET("/:runId", h.GetRun)
	runs.DELETE("/:runId", h.DeleteRun)
	runs.GET("/:runId/edges", h.GetEdges)
	runs.GET("/:runId/adjacency", h.GetAdjacency)
}

// NewRouter builds the HTTP engine with recovery, a health probe and the run routes
func NewRouter(repo ports.ResultsRepository, logger *internal.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	NewResultsHandler(repo, logger).Register(r)
	return r
}

// ListRuns returns the most recent run summaries (?limit=, default 50)
func (h *ResultsHandler) ListRuns(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = v
	}
	runs, err := h.repo.List(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if runs == nil {
		runs = []ports.RunSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRun returns the full results document of a run
func (h *ResultsHandler) GetRun(c *gin.Context) {
	net, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, net)
}

// DeleteRun removes a run
func (h *ResultsHandler) DeleteRun(c *gin.Context) {
	id, ok := h.runID(c)
	if !ok {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetEdges returns the edge list of a run (?weight=, ?fdr=true)
func (h *ResultsHandler) GetEdges(c *gin.Context) {
	net, ok := h.load(c)
	if !ok {
		return
	}
	weight, fdr, ok := h.edgeOptions(c)
	if !ok {
		return
	}
	edges, err := net.Edges(weight, fdr)
	if err != nil {
		h.fail(c, err)
		return
	}
	if edges == nil {
		edges = []results.Edge{}
	}
	c.JSON(http.StatusOK, gin.H{"run_id": net.RunID, "weight": weight, "edges": edges})
}

// GetAdjacency returns the source x target adjacency matrix of a run
func (h *ResultsHandler) GetAdjacency(c *gin.Context) {
	net, ok := h.load(c)
	if !ok {
		return
	}
	weight, fdr, ok := h.edgeOptions(c)
	if !ok {
		return
	}
	adj, err := net.AdjacencyMatrix(weight, fdr)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": net.RunID, "weight": weight, "n_nodes": net.NNodes, "matrix": rows(adj)})
}

func (h *ResultsHandler) runID(c *gin.Context) (core.RunID, bool) {
	id, err := core.ParseRunID(c.Param("runId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return id, true
}

func (h *ResultsHandler) load(c *gin.Context) (*results.NetworkResults, bool) {
	id, ok := h.runID(c)
	if !ok {
		return nil, false
	}
	net, err := h.repo.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return net, true
}

func (h *ResultsHandler) edgeOptions(c *gin.Context) (results.WeightType, bool, bool) {
	weight := results.WeightType(c.DefaultQuery("weight", string(results.WeightLagFirst)))
	fdr, err := strconv.ParseBool(c.DefaultQuery("fdr", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fdr must be a boolean"})
		return "", false, false
	}
	return weight, fdr, true
}

func (h *ResultsHandler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": apperrors.GetCode(err)})
}

func statusFor(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeInvalidInput, apperrors.CodeConfigInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func rows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}
