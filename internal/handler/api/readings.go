package api

import (
	"context"

	"SensorPull/internal/domain/models"
	"SensorPull/internal/usecase"
	xhttp "SensorPull/pkg/http"
	xlogger "SensorPull/pkg/logger"

	"github.com/labstack/echo/v4"
)

type Ingester interface {
	Ingest(ctx context.Context, records []models.RawRecord) usecase.IngestResult
}

type WindowReader interface {
	Stats(sensorID string, metric models.Metric) (models.WindowStats, bool)
}

type AnomalyReader interface {
	LatestAnomalies(ctx context.Context, sensorID string, n int) ([]models.AnomalyRecord, error)
}

// IngestResponse is the body returned by POST /api/v1/readings.
type IngestResponse struct {
	Decisions   []models.Decision      `json:"decisions"`
	Invalid     []models.InvalidRecord `json:"invalid,omitempty"`
	Clean       int                    `json:"clean"`
	Anomalies   int                    `json:"anomalies"`
	Throttled   int                    `json:"throttled,omitempty"`
	Undelivered int                    `json:"undelivered,omitempty"`
}

// ReadingsHandler serves the ingestion and window inspection endpoints.
type ReadingsHandler struct {
	logger   *xlogger.Logger
	ingestor  Ingester
	windows   WindowReader
	anomalies AnomalyReader
}

func NewReadingsHandler(logger *xlogger.Logger, ingestor Ingester, windows WindowReader) *ReadingsHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &ReadingsHandler{logger: logger, ingestor: ingestor, windows: windows}
}

// WithAnomalies enables GET /api/v1/anomalies backed by r.
func (h *ReadingsHandler) WithAnomalies(r AnomalyReader) *ReadingsHandler {
	h.anomalies = r
	return h
}

func (h *ReadingsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api/v1")
	g.POST("/readings", h.Ingest)
	g.GET("/windows", h.Window)
	if h.anomalies != nil {
		g.GET("/anomalies", h.Anomalies)
	}
}

func (h *ReadingsHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *ReadingsHandler) Ingest(c echo.Context) error {
	req := &models.IngestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res := h.ingestor.Ingest(c.Request().Context(), []models.RawRecord{req.ToRaw()})
	if len(res.Invalid) > 0 && len(res.Decisions) == 0 {
		return xhttp.BadRequestResponse(c, res.Invalid)
	}
	if res.Throttled > 0 && len(res.Decisions) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.ThrottledError("sensor_id",
			"sensor is sending faster than the configured rate").
			WithParam("throttled", res.Throttled))
	}
	if res.Rejected > 0 && len(res.Decisions) == 0 {
		h.logger.Error("ingest rejected reading", xlogger.String("sensor_id", req.SensorID))
		return xhttp.InternalServerErrorResponse(c)
	}

	return xhttp.SuccessResponse(c, IngestResponse{
		Decisions:   res.Decisions,
		Invalid:     res.Invalid,
		Clean:       res.Clean(),
		Anomalies:   res.Anomalies(),
		Throttled:   res.Throttled,
		Undelivered: res.Undelivered,
	})
}

func (h *ReadingsHandler) Window(c echo.Context) error {
	req := &models.WindowRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	metric, err := models.ParseMetric(req.Metric)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("metric: %v", err))
	}

	stats, ok := h.windows.Stats(req.SensorID, metric)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no window for %s:%s", req.SensorID, metric))
	}
	return xhttp.SuccessResponse(c, stats)
}

func (h *ReadingsHandler) Anomalies(c echo.Context) error {
	req := &models.AnomaliesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.anomalies.LatestAnomalies(c.Request().Context(), req.SensorID, req.Limit)
	if err != nil {
		h.logger.Error("anomaly history error", xlogger.String("sensor_id", req.SensorID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("anomaly history unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, res)
}
