package analytics

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/apsvt/svt-registry/internal/platform/auth"
	"github.com/apsvt/svt-registry/pkg/envelope"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/analytics", auth.RequireRole("admin", "investigator", "viewer"))
	read.GET("/summary", h.GetSummary)
	read.GET("/cohort", h.GetCohort)
	read.GET("/followups", h.GetFollowups)
	read.GET("/data-quality", h.GetDataQuality)
}

func (h *Handler) GetSummary(c echo.Context) error {
	projection, totalSubmissions, err := h.svc.Snapshot(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	summary := projection.Summary
	summary.TotalSubmissions = totalSubmissions
	return envelope.OK(c, summary)
}

func (h *Handler) GetCohort(c echo.Context) error {
	projection, _, err := h.svc.Snapshot(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return envelope.OK(c, projection.Cohort)
}

func (h *Handler) GetFollowups(c echo.Context) error {
	projection, _, err := h.svc.Snapshot(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return envelope.OK(c, projection.Followups)
}

func (h *Handler) GetDataQuality(c echo.Context) error {
	projection, _, err := h.svc.Snapshot(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return envelope.OK(c, projection.DataQuality)
}
