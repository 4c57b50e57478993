package assist

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/apsvt/svt-registry/internal/platform/auth"
	"github.com/apsvt/svt-registry/pkg/envelope"
	"github.com/apsvt/svt-registry/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	group := api.Group("/ingestion/attachment-assist", auth.RequireRole("admin", "investigator"))
	group.POST("/jobs", h.CreateJob)
	group.GET("/jobs", h.ListJobs)
	group.GET("/jobs/:id", h.GetJob)
	group.POST("/jobs/:id/review", h.ReviewJob)
	group.POST("/jobs/:id/retry", h.RetryJob)
}

func (h *Handler) CreateJob(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	section := c.FormValue("section")
	patientID := c.FormValue("patient_id")

	job, err := h.svc.Enqueue(c.Request().Context(), section, patientID, fileHeader)
	if err != nil {
		if errors.Is(err, ErrInvalidSection) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return envelope.JSON(c, http.StatusAccepted, job)
}

func (h *Handler) ListJobs(c echo.Context) error {
	limit := pagination.LimitFromContext(c, 50, 300)
	jobs, err := h.svc.List(c.Request().Context(), c.QueryParam("patient_id"), c.QueryParam("status"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return envelope.OK(c, map[string]interface{}{
		"total": len(jobs),
		"items": jobs,
	})
}

func (h *Handler) GetJob(c echo.Context) error {
	job, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return envelope.OK(c, job)
}

type reviewRequest struct {
	Decision       string          `json:"decision"`
	ReviewerNote   string          `json:"reviewer_note"`
	AppliedPayload *AppliedPayload `json:"applied_payload"`
}

func (h *Handler) ReviewJob(c echo.Context) error {
	var req reviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	job, err := h.svc.Review(c.Request().Context(), c.Param("id"), req.Decision, req.ReviewerNote, req.AppliedPayload)
	if err != nil {
		switch {
		case errors.Is(err, ErrJobNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		case errors.Is(err, ErrInvalidDecision), errors.Is(err, ErrReviewNotReady):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ErrReviewConflict):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return envelope.OK(c, job)
}

func (h *Handler) RetryJob(c echo.Context) error {
	job, err := h.svc.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrJobNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		case errors.Is(err, ErrRetryConflict):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return envelope.JSON(c, http.StatusAccepted, job)
}
