package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/frostline-erp/frostline-erp/internal/platform/httpx"
	"github.com/frostline-erp/frostline-erp/internal/shared"
)

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.handlePostMovement)
	r.Get("/balances", h.handleListBalances)
	r.Get("/transactions", h.handleListTransactions)
}

type movementForm struct {
	Type            string          `json:"type" validate:"required,oneof=RECEIPT ISSUE TRANSFER ADJUSTMENT"`
	TransactionDate string          `json:"transaction_date"`
	ItemID          int64           `json:"item_id" validate:"required"`
	CustomerID      int64           `json:"customer_id"`
	WarehouseID     int64           `json:"warehouse_id"`
	RoomID          int64           `json:"room_id"`
	FromWarehouseID int64           `json:"from_warehouse_id"`
	FromRoomID      int64           `json:"from_room_id"`
	ToWarehouseID   int64           `json:"to_warehouse_id"`
	ToRoomID        int64           `json:"to_room_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitOfMeasure   string          `json:"unit_of_measure"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	LotNumber       string          `json:"lot_number"`
	BatchNumber     string          `json:"batch_number"`
	ExpiryDate      string          `json:"expiry_date"`
	RefType         string          `json:"reference_type"`
	RefID           string          `json:"reference_id"`
	RefNumber       string          `json:"reference_number"`
	Notes           string          `json:"notes"`
	Code            string          `json:"code"`
}

type transactionResponse struct {
	ID              int64  `json:"id"`
	Code            string `json:"code"`
	Type            string `json:"type"`
	TransactionDate string `json:"transaction_date"`
	ItemID          int64  `json:"item_id"`
	CustomerID      int64  `json:"customer_id,omitempty"`
	WarehouseID     int64  `json:"warehouse_id"`
	RoomID          int64  `json:"room_id,omitempty"`
	LotNumber       string `json:"lot_number,omitempty"`
	FromWarehouseID int64  `json:"from_warehouse_id,omitempty"`
	ToWarehouseID   int64  `json:"to_warehouse_id,omitempty"`
	Quantity        string `json:"quantity"`
	UnitCost        string `json:"unit_cost"`
	TotalCost       string `json:"total_cost"`
	PeriodID        string `json:"period_id,omitempty"`
	RefNumber       string `json:"reference_number,omitempty"`
}

type balanceResponse struct {
	ItemID           int64  `json:"item_id"`
	CustomerID       int64  `json:"customer_id,omitempty"`
	WarehouseID      int64  `json:"warehouse_id"`
	RoomID           int64  `json:"room_id,omitempty"`
	LotNumber        string `json:"lot_number,omitempty"`
	QtyOnHand        string `json:"qty_on_hand"`
	QtyReserved      string `json:"qty_reserved"`
	QtyAvailable     string `json:"qty_available"`
	AvgCost          string `json:"avg_cost"`
	TotalValue       string `json:"total_value"`
	LastMovementAt   string `json:"last_movement_at,omitempty"`
	LastMovementType string `json:"last_movement_type,omitempty"`
}

func (h *Handler) handlePostMovement(w http.ResponseWriter, r *http.Request) {
	var form movementForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	req := MovementRequest{
		Type:            TransactionType(form.Type),
		ItemID:          form.ItemID,
		CustomerID:      form.CustomerID,
		WarehouseID:     form.WarehouseID,
		RoomID:          form.RoomID,
		FromWarehouseID: form.FromWarehouseID,
		FromRoomID:      form.FromRoomID,
		ToWarehouseID:   form.ToWarehouseID,
		ToRoomID:        form.ToRoomID,
		Quantity:        form.Quantity,
		UnitOfMeasure:   form.UnitOfMeasure,
		UnitCost:        form.UnitCost,
		LotNumber:       form.LotNumber,
		BatchNumber:     form.BatchNumber,
		RefType:         form.RefType,
		RefID:           form.RefID,
		RefNumber:       form.RefNumber,
		Notes:           form.Notes,
		Code:            form.Code,
		ActorID:         shared.ActorIDFromContext(r.Context()),
	}
	if form.TransactionDate != "" {
		d, err := time.Parse("2006-01-02", form.TransactionDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transaction_date")
			return
		}
		req.TransactionDate = d
	}
	if form.ExpiryDate != "" {
		d, err := time.Parse("2006-01-02", form.ExpiryDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid expiry_date")
			return
		}
		req.ExpiryDate = d
	}

	txn, err := h.service.Process(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTransactionResponse(txn))
}

func (h *Handler) handleListBalances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := BalanceFilter{
		ItemID:      parseID(q.Get("item_id")),
		CustomerID:  parseID(q.Get("customer_id")),
		WarehouseID: parseID(q.Get("warehouse_id")),
		RoomID:      parseID(q.Get("room_id")),
		LotNumber:   q.Get("lot_number"),
		InStockOnly: q.Get("in_stock") == "true",
		Limit:       int(parseID(q.Get("limit"))),
	}
	balances, err := h.service.ListBalances(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]balanceResponse, 0, len(balances))
	for _, bal := range balances {
		out = append(out, toBalanceResponse(bal))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := TransactionFilter{
		ItemID:      parseID(q.Get("item_id")),
		WarehouseID: parseID(q.Get("warehouse_id")),
		Type:        TransactionType(q.Get("type")),
		RefNumber:   q.Get("reference_number"),
		Limit:       int(parseID(q.Get("limit"))),
	}
	if from := q.Get("from"); from != "" {
		d, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid from date")
			return
		}
		filter.From = d
	}
	if to := q.Get("to"); to != "" {
		d, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid to date")
			return
		}
		filter.To = d.Add(24*time.Hour - time.Nanosecond)
	}
	txns, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]transactionResponse, 0, len(txns))
	for _, txn := range txns {
		out = append(out, toTransactionResponse(txn))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.JSON(w, http.StatusConflict, map[string]any{
			"title":     "Insufficient Stock",
			"status":    http.StatusConflict,
			"detail":    insufficient.Error(),
			"required":  insufficient.Required.String(),
			"available": insufficient.Available.String(),
		})
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrCustomerNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidTransaction),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidUnitCost),
		errors.Is(err, ErrItemInactive):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Transaction", err.Error())
	case errors.Is(err, ErrMovementConflict):
		httpx.Problem(w, http.StatusConflict, "Movement Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error("inventory request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toTransactionResponse(txn Transaction) transactionResponse {
	return transactionResponse{
		ID:              txn.ID,
		Code:            txn.Code,
		Type:            string(txn.Type),
		TransactionDate: txn.TransactionDate.UTC().Format(time.RFC3339),
		ItemID:          txn.Key.ItemID,
		CustomerID:      txn.Key.CustomerID,
		WarehouseID:     txn.Key.WarehouseID,
		RoomID:          txn.Key.RoomID,
		LotNumber:       txn.Key.LotNumber,
		FromWarehouseID: txn.FromWarehouseID,
		ToWarehouseID:   txn.ToWarehouseID,
		Quantity:        txn.Quantity.String(),
		UnitCost:        txn.UnitCost.String(),
		TotalCost:       txn.TotalCost.String(),
		PeriodID:        txn.PeriodID,
		RefNumber:       txn.RefNumber,
	}
}

func toBalanceResponse(bal Balance) balanceResponse {
	out := balanceResponse{
		ItemID:           bal.Key.ItemID,
		CustomerID:       bal.Key.CustomerID,
		WarehouseID:      bal.Key.WarehouseID,
		RoomID:           bal.Key.RoomID,
		LotNumber:        bal.Key.LotNumber,
		QtyOnHand:        bal.QtyOnHand.String(),
		QtyReserved:      bal.QtyReserved.String(),
		QtyAvailable:     bal.QtyAvailable.String(),
		AvgCost:          bal.AvgCost.String(),
		TotalValue:       bal.TotalValue.String(),
		LastMovementType: string(bal.LastMovementType),
	}
	if !bal.LastMovementAt.IsZero() {
		out.LastMovementAt = bal.LastMovementAt.UTC().Format(time.RFC3339)
	}
	return out
}

func parseID(s string) int64 {
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
