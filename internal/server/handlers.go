package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/compscout/compscout/internal/geo"
	"github.com/compscout/compscout/internal/ingest"
	"github.com/compscout/compscout/internal/source"
	"github.com/compscout/compscout/internal/store"
)

// IngestRunner executes one valuation run.
type IngestRunner interface {
	Run(ctx context.Context, q source.VehicleQuery) (ingest.Result, error)
}

// RunStore reads run audit records and cohort aggregates.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (store.RunLog, error)
	CohortStats(ctx context.Context, resolver *geo.Resolver, q store.CohortStatsQuery) (store.CohortStats, error)
}

// Handlers owns the HTTP API surface.
type Handlers struct {
	Agent    IngestRunner
	Store    RunStore
	Resolver *geo.Resolver
}

// Register mounts the API routes on a group.
func (h *Handlers) Register(g *echo.Group) {
	g.POST("/ingest", h.ingest)
	g.GET("/runs/:id", h.getRun)
	g.GET("/cohort-stats", h.cohortStats)
}

type ingestRequest struct {
	Make        string `json:"make"`
	Model       string `json:"model"`
	Year        int    `json:"year"`
	Zip         string `json:"zip"`
	RadiusMiles int    `json:"radius_miles"`
}

func (h *Handlers) ingest(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.Agent.Run(c.Request().Context(), source.VehicleQuery{
		Make:        req.Make,
		Model:       req.Model,
		Year:        req.Year,
		Zip:         req.Zip,
		RadiusMiles: req.RadiusMiles,
	})
	if err != nil {
		var verr ingest.ValidationError
		if errors.As(err, &verr) {
			return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
		}
		// The run record is already finalized on these paths; the error
		// still has to reach the caller.
		var rerr ingest.RunError
		if errors.As(err, &rerr) {
			return echo.NewHTTPError(http.StatusBadGateway, rerr.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handlers) getRun(c echo.Context) error {
	run, err := h.Store.GetRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}

func (h *Handlers) cohortStats(c echo.Context) error {
	mk := c.QueryParam("make")
	model := c.QueryParam("model")
	if mk == "" || model == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "make and model are required")
	}
	year, err := optionalInt(c.QueryParam("year"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "year must be an integer")
	}
	radius, err := optionalInt(c.QueryParam("radius"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "radius must be an integer")
	}

	stats, err := h.Store.CohortStats(c.Request().Context(), h.Resolver, store.CohortStatsQuery{
		Make:        mk,
		Model:       model,
		Year:        year,
		Zip:         c.QueryParam("zip"),
		RadiusMiles: radius,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func optionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
