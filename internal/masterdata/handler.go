package masterdata

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/frostline-erp/frostline-erp/internal/masterdata/customers"
	"github.com/frostline-erp/frostline-erp/internal/masterdata/items"
	"github.com/frostline-erp/frostline-erp/internal/masterdata/shared"
	"github.com/frostline-erp/frostline-erp/internal/masterdata/warehouses"
	"github.com/frostline-erp/frostline-erp/internal/platform/httpx"
)

// Handler wires read endpoints for master data consumed by the inventory UI
// and integrations.
type Handler struct {
	logger     *slog.Logger
	items      *items.Service
	customers  *customers.Service
	warehouses *warehouses.Service
}

// NewHandler constructs the master-data handler.
func NewHandler(logger *slog.Logger, itemSvc *items.Service, customerSvc *customers.Service, warehouseSvc *warehouses.Service) *Handler {
	return &Handler{logger: logger, items: itemSvc, customers: customerSvc, warehouses: warehouseSvc}
}

// MountRoutes registers master-data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.listItems)
	r.Get("/items/{id}", h.getItem)
	r.Get("/customers", h.listCustomers)
	r.Get("/warehouses", h.listWarehouses)
	r.Get("/warehouses/{id}/rooms", h.listRooms)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	filters := listFilters(r)
	result, total, err := h.items.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": result, "total": total})
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	item, err := h.items.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	filters := listFilters(r)
	result, total, err := h.customers.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"customers": result, "total": total})
}

func (h *Handler) listWarehouses(w http.ResponseWriter, r *http.Request) {
	result, err := h.warehouses.List(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"warehouses": result})
}

func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	rooms, err := h.warehouses.ListRooms(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidID), errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrRequiredField):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrDuplicate):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error("masterdata request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func listFilters(r *http.Request) shared.ListFilters {
	q := r.URL.Query()
	filters := shared.ListFilters{Search: q.Get("search")}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		filters.Page = page
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filters.Limit = limit
	}
	if active := q.Get("is_active"); active != "" {
		b := active == "true"
		filters.IsActive = &b
	}
	return filters
}
