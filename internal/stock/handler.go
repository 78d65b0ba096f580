package stock

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rateLimit func(http.Handler) http.Handler
}

// NewHandler constructs stock handler. Mutations are limited per acting user.
func NewHandler(logger *slog.Logger, service *Service, mutationsPerMinute int) *Handler {
	if mutationsPerMinute <= 0 {
		mutationsPerMinute = 120
	}
	limiter := httprate.Limit(mutationsPerMinute, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		if actor := shared.ActorIDFromContext(r.Context()); actor != 0 {
			return "user:" + strconv.FormatInt(actor, 10), nil
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return "ip:" + r.RemoteAddr, nil
		}
		return "ip:" + host, nil
	}))
	return &Handler{logger: logger, service: service, rateLimit: limiter}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reasons", h.handleReasons)
	r.Get("/movements", h.handleMovementsByReference)
	r.Route("/items/{id}", func(r chi.Router) {
		r.Get("/balance", h.handleBalance)
		r.Get("/movements", h.handleHistory)
		r.Get("/verify", h.handleVerify)
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Post("/in", h.handleStockIn)
			r.Post("/out", h.handleStockOut)
			r.Post("/adjust", h.handleAdjust)
		})
	})
	r.Route("/stock-outs", func(r chi.Router) {
		r.Get("/", h.handleStockOutsByReference)
		r.Get("/{id}", h.handleGetStockOut)
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Post("/", h.handleCreateBatch)
			r.Put("/{id}", h.handleUpdateStockOut)
			r.Delete("/{id}", h.handleDeleteStockOut)
		})
	})
}

type stockInRequest struct {
	Quantity        int64  `json:"quantity"`
	ReferenceNumber string `json:"reference_number"`
	Notes           string `json:"notes"`
	WarehouseID     int64  `json:"warehouse_id"`
}

type stockOutRequest struct {
	Quantity        int64  `json:"quantity"`
	Reason          string `json:"reason"`
	ReasonType      string `json:"reason_type"`
	Recipient       string `json:"recipient"`
	ReferenceNumber string `json:"reference_number"`
	Notes           string `json:"notes"`
	WarehouseID     int64  `json:"warehouse_id"`
}

type adjustRequest struct {
	CountedQuantity int64  `json:"counted_quantity"`
	Reason          string `json:"reason"`
	Notes           string `json:"notes"`
}

type updateRequest struct {
	ItemID     int64        `json:"item_id"`
	Quantity   int64        `json:"quantity"`
	Type       StockOutType `json:"stock_out_type"`
	BranchID   int64        `json:"branch_id"`
	EmployeeID int64        `json:"employee_id"`
	Note       string       `json:"note"`
}

type balanceResponse struct {
	ItemID       int64 `json:"item_id"`
	CurrentStock int64 `json:"current_stock"`
}

func (h *Handler) handleReasons(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, Reasons())
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	current, err := h.service.GetCurrentStock(r.Context(), itemID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{ItemID: itemID, CurrentStock: current})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	movements, err := h.service.GetMovementHistory(r.Context(), itemID, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	report, err := h.service.VerifyItemLedger(r.Context(), itemID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleMovementsByReference(w http.ResponseWriter, r *http.Request) {
	movements, err := h.service.GetMovementsByReference(r.Context(), r.URL.Query().Get("reference"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleStockIn(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req stockInRequest
	if !h.decode(w, r, &req) {
		return
	}
	movement, err := h.service.RecordStockIn(r.Context(), StockInInput{
		ItemID:          itemID,
		Quantity:        req.Quantity,
		ReferenceNumber: req.ReferenceNumber,
		Notes:           req.Notes,
		WarehouseID:     req.WarehouseID,
		ActorID:         shared.ActorIDFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) handleStockOut(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req stockOutRequest
	if !h.decode(w, r, &req) {
		return
	}
	movement, err := h.service.RecordStockOut(r.Context(), StockOutInput{
		ItemID:          itemID,
		Quantity:        req.Quantity,
		Reason:          req.Reason,
		ReasonType:      req.ReasonType,
		Recipient:       req.Recipient,
		ReferenceNumber: req.ReferenceNumber,
		Notes:           req.Notes,
		WarehouseID:     req.WarehouseID,
		ActorID:         shared.ActorIDFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	movement, err := h.service.AdjustStock(r.Context(), AdjustmentInput{
		ItemID:          itemID,
		CountedQuantity: req.CountedQuantity,
		Reason:          req.Reason,
		Notes:           req.Notes,
		ActorID:         shared.ActorIDFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var input BatchInput
	if !h.decode(w, r, &input) {
		return
	}
	input.ActorID = shared.ActorIDFromContext(r.Context())
	input.IdempotencyKey = r.Header.Get("Idempotency-Key")
	created, err := h.service.CreateStockOutBatch(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logger.Info("stock-out batch created",
		slog.String("reference", created[0].ReferenceNumber),
		slog.Int("lines", len(created)),
		slog.Int64("actor_id", input.ActorID))
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleGetStockOut(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	so, err := h.service.GetStockOut(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, so)
}

func (h *Handler) handleStockOutsByReference(w http.ResponseWriter, r *http.Request) {
	outs, err := h.service.GetStockOutsByReference(r.Context(), r.URL.Query().Get("reference"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, outs)
}

func (h *Handler) handleUpdateStockOut(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !h.decode(w, r, &req) {
		return
	}
	so, err := h.service.UpdateStockOut(r.Context(), id, UpdateInput{
		ItemID:     req.ItemID,
		Quantity:   req.Quantity,
		Type:       req.Type,
		BranchID:   req.BranchID,
		EmployeeID: req.EmployeeID,
		Note:       req.Note,
		ActorID:    shared.ActorIDFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, so)
}

func (h *Handler) handleDeleteStockOut(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteStockOut(r.Context(), id, shared.ActorIDFromContext(r.Context())); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

type insufficientStockProblem struct {
	httpx.ProblemDetail
	ItemID    int64 `json:"item_id"`
	Available int64 `json:"available"`
	Requested int64 `json:"requested"`
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.ProblemWith(w, http.StatusConflict, insufficientStockProblem{
			ProblemDetail: httpx.ProblemDetail{Title: "Insufficient Stock", Status: http.StatusConflict, Detail: err.Error()},
			ItemID:        insufficient.ItemID,
			Available:     insufficient.Available,
			Requested:     insufficient.Requested,
		})
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrStockOutNotFound), errors.Is(err, ErrMovementNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrMissingDestination),
		errors.Is(err, ErrInvalidReasonType), errors.Is(err, ErrWarehouseNotFound):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
	default:
		h.logger.Error("stock request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
