package notecheck

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// Trigger is the enqueue surface the operator endpoints reduce to. All
// manual controls are just enqueue calls into the same queues the
// scheduler uses.
type Trigger interface {
	EnqueueScan(ctx context.Context, force bool, triggeredBy string) error
	EnqueueCheck(ctx context.Context, encounterID, patientID string, force bool, delay time.Duration) error
}

// Handler exposes the operator controls for the note-check pipeline.
type Handler struct {
	service *Service
	trigger Trigger
}

func NewHandler(service *Service, trigger Trigger) *Handler {
	return &Handler{service: service, trigger: trigger}
}

// RegisterRoutes binds the operator routes to the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/scan/trigger", h.TriggerScan)
	g.GET("/checks/:encounterId", h.GetCheck)
	g.POST("/checks/:encounterId/recheck", h.Recheck)
	g.POST("/checks/recheck-bulk", h.RecheckBulk)
	g.POST("/checks/:encounterId/issues/:idx/invalid", h.MarkInvalid)
	g.POST("/checks/:encounterId/issues/:idx/resolved", h.MarkResolved)
}

type triggerScanRequest struct {
	Force bool `json:"force"`
}

// TriggerScan handles POST /scan/trigger.
func (h *Handler) TriggerScan(c echo.Context) error {
	var req triggerScanRequest
	_ = c.Bind(&req)

	if err := h.trigger.EnqueueScan(c.Request().Context(), req.Force, operator(c)); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "scan enqueued"})
}

// GetCheck handles GET /checks/:encounterId.
func (h *Handler) GetCheck(c echo.Context) error {
	rec, marks, err := h.service.GetCheckWithMarks(c.Request().Context(), c.Param("encounterId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if rec == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no check record for encounter")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"check": rec,
		"marks": marks,
	})
}

type recheckRequest struct {
	PatientID string `json:"patientId"`
}

// Recheck handles POST /checks/:encounterId/recheck. The force flag is
// threaded through to the dedup ledger so an unchanged note is re-analyzed
// anyway.
func (h *Handler) Recheck(c echo.Context) error {
	var req recheckRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patientId is required")
	}

	err := h.trigger.EnqueueCheck(c.Request().Context(), c.Param("encounterId"), req.PatientID, true, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "recheck enqueued"})
}

type recheckBulkRequest struct {
	Encounters []recheckBulkItem `json:"encounters"`
}

type recheckBulkItem struct {
	EncounterID string `json:"encounterId"`
	PatientID   string `json:"patientId"`
}

// RecheckBulk handles POST /checks/recheck-bulk.
func (h *Handler) RecheckBulk(c echo.Context) error {
	var req recheckBulkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Encounters) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "encounters is required")
	}

	enqueued := 0
	for _, item := range req.Encounters {
		if item.EncounterID == "" || item.PatientID == "" {
			continue
		}
		if err := h.trigger.EnqueueCheck(c.Request().Context(), item.EncounterID, item.PatientID, true, 0); err != nil {
			continue
		}
		enqueued++
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"status":   "rechecks enqueued",
		"enqueued": enqueued,
	})
}

type markRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// MarkInvalid handles POST /checks/:encounterId/issues/:idx/invalid.
func (h *Handler) MarkInvalid(c echo.Context) error {
	return h.mark(c, MarkInvalid)
}

// MarkResolved handles POST /checks/:encounterId/issues/:idx/resolved.
func (h *Handler) MarkResolved(c echo.Context) error {
	return h.mark(c, MarkResolved)
}

func (h *Handler) mark(c echo.Context, kind string) error {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "issue index must be an integer")
	}
	var req markRequest
	_ = c.Bind(&req)

	err = h.service.MarkIssue(c.Request().Context(), c.Param("encounterId"), idx, kind, operator(c), req.Reason)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": kind})
}

// operator identifies the caller for audit fields; falls back to the
// request id when no operator header is present.
func operator(c echo.Context) string {
	if op := c.Request().Header.Get("X-Operator"); op != "" {
		return op
	}
	rid, _ := c.Get("request_id").(string)
	return "operator:" + rid
}
