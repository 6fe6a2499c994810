package fees

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/school-portal/portal/internal/platform/httpx"
	"github.com/school-portal/portal/internal/rbac"
	"github.com/school-portal/portal/internal/shared"
)

// Handler exposes the fee ledger over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers the staff fee routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.StaffRoles()...))

		r.Get("/heads", h.listHeads)
		r.Post("/heads", h.createHead)
		r.Put("/heads/{id}", h.updateHead)
		r.Delete("/heads/{id}", h.deleteHead)

		r.Get("/structures", h.listStructures)
		r.Post("/structures", h.createStructure)
		r.Patch("/structures/{id}", h.updateStructure)
		r.Delete("/structures/{id}", h.deleteStructure)

		r.Get("/students/{id}/obligations", h.obligations)
		r.Get("/students/{id}/ledger", h.ledger)
		r.Post("/collect", h.collect)
		r.Get("/receipts/{batchID}", h.receipt)

		r.Get("/reports/daily", h.dailyReport)
		r.Get("/reports/summary", h.summary)
	})
}

// MountGuardianRoutes registers the guardian fee view.
func (h *Handler) MountGuardianRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.GuardianRoles()...)).Get("/fees", h.guardianLedger)
}

func (h *Handler) listHeads(w http.ResponseWriter, r *http.Request) {
	heads, err := h.service.ListHeads(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, heads, "")
}

func (h *Handler) createHead(w http.ResponseWriter, r *http.Request) {
	var in CreateHeadInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	head, err := h.service.CreateHead(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusCreated, head, "Fee head created")
}

func (h *Handler) updateHead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in UpdateHeadInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	head, err := h.service.UpdateHead(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, head, "Fee head updated")
}

func (h *Handler) deleteHead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeleteHead(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil, "Fee head deleted")
}

func (h *Handler) listStructures(w http.ResponseWriter, r *http.Request) {
	verr := &shared.ValidationError{}
	filter := StructureFilter{
		ClassID:        queryID(r, "class_id", verr),
		AcademicYearID: queryID(r, "academic_year_id", verr),
	}
	if err := verr.OrNil(); err != nil {
		h.fail(w, r, err)
		return
	}
	structures, err := h.service.ListStructures(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, structures, "")
}

func (h *Handler) createStructure(w http.ResponseWriter, r *http.Request) {
	var in CreateStructureInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.service.CreateStructure(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusCreated, st, "Fee structure created")
}

func (h *Handler) updateStructure(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in UpdateStructureInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.service.UpdateStructure(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, st, "Fee structure updated")
}

func (h *Handler) deleteStructure(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeleteStructure(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, nil, "Fee structure deleted")
}

func (h *Handler) obligations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.service.Obligations(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, out, "")
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.service.Ledger(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, out, "")
}

func (h *Handler) collect(w http.ResponseWriter, r *http.Request) {
	var req CollectRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	if identity := shared.IdentityFromContext(r.Context()); identity != nil {
		req.CollectedBy = identity.UserID
	}
	result, err := h.service.Collect(r.Context(), req)
	if err != nil {
		h.fail(w, r, err, slog.Int64("student_id", req.StudentID))
		return
	}
	httpx.OK(w, http.StatusCreated, result, "Payment recorded")
}

func (h *Handler) receipt(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	out, err := h.service.Receipt(r.Context(), batchID)
	if err != nil {
		h.fail(w, r, err, slog.String("batch_id", batchID))
		return
	}
	httpx.OK(w, http.StatusOK, out, "")
}

func (h *Handler) dailyReport(w http.ResponseWriter, r *http.Request) {
	date := h.service.Today()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := ParseDate(raw)
		if err != nil {
			h.fail(w, r, shared.NewValidationError("date", "must be YYYY-MM-DD"))
			return
		}
		date = parsed
	}
	report, err := h.service.DailyReport(r.Context(), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, report, "")
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	verr := &shared.ValidationError{}
	from := queryDate(r, "from", verr)
	to := queryDate(r, "to", verr)
	if err := verr.OrNil(); err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.service.CollectionSummary(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, out, "")
}

func (h *Handler) guardianLedger(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	if identity == nil {
		h.fail(w, r, shared.ErrUnauthorized)
		return
	}
	out, err := h.service.GuardianLedger(r.Context(), identity.UserID)
	if err != nil {
		h.fail(w, r, err, slog.Int64("student_id", identity.UserID))
		return
	}
	httpx.OK(w, http.StatusOK, out, "")
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, attrs ...any) {
	if h.logger != nil && isServerError(err) {
		attrs = append(attrs, slog.String("path", r.URL.Path), slog.Any("error", err))
		h.logger.Error("fees request failed", attrs...)
	}
	httpx.RespondError(w, err)
}

func isServerError(err error) bool {
	for _, kind := range []error{
		httpx.ErrBadRequest, shared.ErrValidation, shared.ErrNotFound, shared.ErrConflict,
		shared.ErrForbidden, shared.ErrUnauthorized, shared.ErrAllocationExhausted,
	} {
		if errors.Is(err, kind) {
			return false
		}
	}
	return true
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.NewValidationError(name, "must be a positive integer")
	}
	return id, nil
}

func queryID(r *http.Request, name string, verr *shared.ValidationError) int64 {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		verr.Add(name, "must be a positive integer")
		return 0
	}
	return id
}

func queryDate(r *http.Request, name string, verr *shared.ValidationError) Date {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		verr.Add(name, "is required")
		return Date{}
	}
	d, err := ParseDate(raw)
	if err != nil {
		verr.Add(name, "must be YYYY-MM-DD")
	}
	return d
}
