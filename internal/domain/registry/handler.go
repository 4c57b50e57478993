package registry

import (
	"errors"
	"io"
	"net/http"
	"strings"

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
	write := api.Group("/ingestion", auth.RequireRole("admin", "investigator"))
	write.POST("/patient", h.IngestPatient)
	write.POST("/patient-csv", h.IngestPatientCSV)
	write.POST("/files", h.UploadFiles)

	read := api.Group("/ingestion", auth.RequireRole("admin", "investigator", "viewer"))
	read.GET("/cases", h.ListCases)
	read.GET("/cases/:patientId", h.GetCase)

	templates := api.Group("/templates", auth.RequireRole("admin", "investigator", "viewer"))
	templates.GET("", h.ListTemplates)
	templates.GET("/:templateId", h.GetTemplate)
}

func (h *Handler) IngestPatient(c echo.Context) error {
	var sub PatientSubmission
	if err := c.Bind(&sub); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ack, err := h.svc.Ingest(c.Request().Context(), &sub)
	if err != nil {
		return ingestionError(c, err)
	}
	return envelope.JSON(c, http.StatusCreated, ack)
}

func (h *Handler) IngestPatientCSV(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "csv file is required")
	}
	if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".csv") {
		return echo.NewHTTPError(http.StatusBadRequest, "only .csv files are accepted")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not open uploaded file")
	}
	defer src.Close()
	raw, err := io.ReadAll(src)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read uploaded file")
	}

	ack, err := h.svc.IngestCSV(c.Request().Context(), raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return envelope.JSON(c, http.StatusCreated, ack)
}

func (h *Handler) UploadFiles(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form is required")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one file is required")
	}
	patientID := c.FormValue("patient_id")

	ack, err := h.svc.SaveFiles(patientID, files)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return envelope.JSON(c, http.StatusCreated, ack)
}

func (h *Handler) ListCases(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.ListCases(c.Request().Context(), pg.Query, pg.Limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return envelope.OK(c, map[string]interface{}{
		"total": len(items),
		"items": items,
	})
}

func (h *Handler) GetCase(c echo.Context) error {
	detail, err := h.svc.GetCase(c.Request().Context(), c.Param("patientId"))
	if err != nil {
		if errors.Is(err, ErrCaseNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "case not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return envelope.OK(c, detail)
}

func (h *Handler) ListTemplates(c echo.Context) error {
	items := h.svc.ListTemplates()
	return envelope.OK(c, map[string]interface{}{
		"total": len(items),
		"items": items,
	})
}

func (h *Handler) GetTemplate(c echo.Context) error {
	tmpl, err := h.svc.GetTemplate(c.Param("templateId"))
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "template not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return envelope.OK(c, tmpl)
}

// ingestionError maps pipeline failures onto HTTP statuses. Unknown templates
// are a client addressing mistake; rule violations are a semantic reject.
func ingestionError(c echo.Context, err error) error {
	if errors.Is(err, ErrTemplateNotFound) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "validation failed",
			"errors": vErr.Errors,
		})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
