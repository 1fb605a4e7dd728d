package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"workerwatch/collector"
	"workerwatch/logger"
	"workerwatch/metrics"
	"workerwatch/storage"
)

// ReportRequest is the body of POST /api. Pointers let binding tell a
// missing field from an empty one.
type ReportRequest struct {
	ServerName    *string `json:"server_name" binding:"required"`
	ContainerName *string `json:"container_name" binding:"required"`
	LogContent    *string `json:"log_content" binding:"required"`
}

// WorkerResponse is one worker in the GET / snapshot.
type WorkerResponse struct {
	Log        []collector.Metric `json:"log"`
	LastUpdate float64            `json:"last_update"` // unix seconds
}

// StatusResponse acknowledges an accepted report.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned for requests the service cannot process.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Workers int    `json:"workers"`
}

// ReceiveReport parses one report and stores it under the worker's key.
// POST /api
//
// A report that does not parse leaves the registry untouched and is
// answered with 200 and a JSON null body, so senders cannot tell it from
// an accepted one. The failure kind is only visible in debug logs and in
// workerwatch_reports_total.
func (s *Server) ReceiveReport(c *gin.Context) {
	log := logger.FromContext(c.Request.Context(), s.log)

	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.InvalidRequestsTotal.Inc()
		log.Debug("invalid report request", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Detail: err.Error()})
		return
	}

	parsed, err := collector.Parse(*req.LogContent)
	if err != nil {
		kind := collector.Kind(err)
		metrics.RecordReport(kind)
		log.Debug("report ignored",
			zap.String("server_name", *req.ServerName),
			zap.String("container_name", *req.ContainerName),
			zap.String("kind", kind),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, nil)
		return
	}

	key := storage.WorkerKey(*req.ServerName, *req.ContainerName)
	if err := s.store.Upsert(c.Request.Context(), key, parsed); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("upsert").Inc()
		log.Error("store report failed", zap.String("worker", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "failed to store report"})
		return
	}
	metrics.RecordReport(metrics.ResultOK)
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

// GetSnapshot returns every live worker and its latest metrics.
// GET /
func (s *Server) GetSnapshot(c *gin.Context) {
	snap, err := s.store.Snapshot(c.Request.Context())
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("snapshot").Inc()
		logger.FromContext(c.Request.Context(), s.log).Error("snapshot failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: "failed to read registry"})
		return
	}

	out := make(map[string]WorkerResponse, len(snap))
	for key, e := range snap {
		out[key] = WorkerResponse{
			Log:        e.Metrics,
			LastUpdate: float64(e.LastUpdate.UnixNano()) / 1e9,
		}
	}
	c.JSON(http.StatusOK, out)
}

// Health reports liveness and the registry size.
// GET /healthz
func (s *Server) Health(c *gin.Context) {
	n, err := s.store.Len(c.Request.Context())
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("len").Inc()
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Detail: err.Error()})
		return
	}
	metrics.SetWorkers(n)
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Workers: n})
}
