package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	apierrors "github.com/yourusername/candlecore/internal/api/errors"
	"github.com/yourusername/candlecore/internal/collector"
	"github.com/yourusername/candlecore/internal/config"
	"github.com/yourusername/candlecore/internal/exchange"
	"github.com/yourusername/candlecore/internal/models"
	"github.com/yourusername/candlecore/internal/store"
)

// CandleHandler exposes the get_candles operation and its supplemental
// data-quality and progress endpoints.
type CandleHandler struct {
	Coordinator    *collector.Coordinator
	Repo           store.CandleRepository
	Limiter        *exchange.RateLimiter
	HistoricalData config.HistoricalDataConfig
}

// NewCandleHandler returns a CandleHandler. limiter may be nil.
func NewCandleHandler(coordinator *collector.Coordinator, repo store.CandleRepository, limiter *exchange.RateLimiter, historical config.HistoricalDataConfig) *CandleHandler {
	return &CandleHandler{Coordinator: coordinator, Repo: repo, Limiter: limiter, HistoricalData: historical}
}

// GetCandles implements the public get_candles operation (§6): exactly one
// of {count}, {count,to}, {to,end}, {end} must be supplied as query params.
//
//	GET /api/v1/candles?symbol=KRW-BTC&timeframe=1h&count=500
//	GET /api/v1/candles?symbol=KRW-BTC&timeframe=1h&to=2024-01-01T00:00:00Z&end=2023-01-01T00:00:00Z
func (h *CandleHandler) GetCandles(c *fiber.Ctx) error {
	symbol := c.Query("symbol")
	tf := models.Timeframe(c.Query("timeframe"))
	if symbol == "" || !tf.IsValid() {
		return apierrors.SendError(c, apierrors.InvalidRequest("symbol and a valid timeframe are required"))
	}

	var count *int
	if raw := c.Query("count"); raw != "" {
		n := c.QueryInt("count")
		count = &n
	}
	var to, end *time.Time
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return apierrors.SendError(c, apierrors.InvalidRequest("to must be RFC3339"))
		}
		to = &t
	}
	if raw := c.Query("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return apierrors.SendError(c, apierrors.InvalidRequest("end must be RFC3339"))
		}
		end = &t
	}

	req, err := collector.NewRequestInfo(symbol, tf, count, to, end)
	if err != nil {
		return apierrors.SendError(c, apierrors.FromCollectorError(err))
	}

	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Minute)
	defer cancel()

	state, candles, err := h.Coordinator.Collect(ctx, req, nil)
	if err != nil {
		return apierrors.SendError(c, apierrors.FromCollectorError(err))
	}

	return c.JSON(fiber.Map{
		"request_id":           req.RequestID,
		"symbol":               symbol,
		"timeframe":            tf,
		"candles":              candles,
		"count":                len(candles),
		"reached_upstream_end": state.ReachedUpstreamEnd,
	})
}

// PostBackfill triggers a first-time historical backfill: an END_ONLY
// collection bounded below by the per-timeframe default from
// HistoricalDataConfig. No end query parameter is read.
//
//	POST /api/v1/candles/backfill?symbol=KRW-BTC&timeframe=1h
func (h *CandleHandler) PostBackfill(c *fiber.Ctx) error {
	symbol := c.Query("symbol")
	tf := models.Timeframe(c.Query("timeframe"))
	if symbol == "" || !tf.IsValid() {
		return apierrors.SendError(c, apierrors.InvalidRequest("symbol and a valid timeframe are required"))
	}

	defaultStart := h.HistoricalData.GetHistoricalStartDate(string(tf))

	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Minute)
	defer cancel()

	state, candles, err := h.Coordinator.CollectHistorical(ctx, symbol, tf, defaultStart, nil)
	if err != nil {
		return apierrors.SendError(c, apierrors.FromCollectorError(err))
	}

	return c.JSON(fiber.Map{
		"request_id":           state.RequestInfo.RequestID,
		"symbol":               symbol,
		"timeframe":            tf,
		"default_start":        defaultStart,
		"count":                len(candles),
		"reached_upstream_end": state.ReachedUpstreamEnd,
	})
}

// GetQuality exposes the supplemental QualityReport operation.
//
//	GET /api/v1/candles/quality?symbol=KRW-BTC&timeframe=1h
func (h *CandleHandler) GetQuality(c *fiber.Ctx) error {
	symbol := c.Query("symbol")
	tf := models.Timeframe(c.Query("timeframe"))
	if symbol == "" || !tf.IsValid() {
		return apierrors.SendError(c, apierrors.InvalidRequest("symbol and a valid timeframe are required"))
	}

	reporter, ok := h.Repo.(interface {
		QualityReport(ctx context.Context, symbol string, tf models.Timeframe) (*store.QualityReport, error)
	})
	if !ok {
		return apierrors.SendError(c, apierrors.InternalError("repository does not support quality reports"))
	}

	report, err := reporter.QualityReport(c.Context(), symbol, tf)
	if err != nil {
		return apierrors.SendError(c, apierrors.FromCollectorError(err))
	}
	return c.JSON(report)
}

// GetStats exposes rolling chunk-latency statistics and recent run history
// for observability.
//
//	GET /api/v1/candles/stats?limit=10
func (h *CandleHandler) GetStats(c *fiber.Ctx) error {
	var meanLatencyMs int64
	if h.Coordinator.Latency != nil {
		meanLatencyMs = h.Coordinator.Latency.Mean().Milliseconds()
	}
	limit := c.QueryInt("limit", 20)
	resp := fiber.Map{
		"mean_chunk_latency_ms": meanLatencyMs,
		"recent_runs":           h.Coordinator.RecentRuns(limit),
	}
	if h.Limiter != nil {
		resp["rate_limit"] = h.Limiter.GetStatus()
	}
	return c.JSON(resp)
}
