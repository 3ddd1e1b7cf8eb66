package acquisition

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/alexandria-ils/alexandria/internal/platform/httpx"
)

// Handler manages acquisition endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	projector *Projector
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, projector *Projector) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		projector: projector,
		validator: validator.New(),
	}
}

// MountRoutes registers acquisition routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Delete("/orders/{id}", h.deleteOrder)
	r.Post("/orders/{id}/lines", h.addOrderLine)
	r.Post("/orders/{id}/receipts", h.addReceipt)
	r.Post("/orders/{id}/send", h.sendOrder)
	r.Get("/orders/{id}/status", h.orderStatus)
	r.Get("/orders/{id}/account-statement", h.accountStatement)
	r.Get("/orders/{id}/links", h.links)
	r.Get("/orders/{id}/reasons-not-to-delete", h.reasonsNotToDelete)
	r.Get("/orders/{id}/related-notes", h.relatedNotes)
}

var errMappings = []httpx.Mapping{
	{Err: ErrNotFound, Status: http.StatusNotFound},
	{Err: ErrValidation, Status: http.StatusUnprocessableEntity},
}

func orderID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

type noteRequest struct {
	Type    string `json:"type" validate:"required,oneof=staff_note vendor_note"`
	Content string `json:"content" validate:"required"`
}

type createOrderRequest struct {
	LibraryID int64         `json:"library_id" validate:"required"`
	VendorID  int64         `json:"vendor_id" validate:"required"`
	Currency  string        `json:"currency" validate:"omitempty,len=3"`
	Notes     []noteRequest `json:"notes" validate:"dive"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	input := CreateOrderInput{
		LibraryID: req.LibraryID,
		VendorID:  req.VendorID,
		Currency:  req.Currency,
	}
	for _, note := range req.Notes {
		input.Notes = append(input.Notes, Note{Type: NoteType(note.Type), Content: note.Content})
	}

	order, err := h.service.CreateOrder(r.Context(), input)
	if err != nil {
		h.logger.Error("create order", slog.Any("error", err))
		httpx.RespondError(w, err, errMappings...)
		return
	}
	httpx.JSON(w, http.StatusCreated, orderResponse(order))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	orders, pagination, err := h.service.ListOrders(r.Context(), page, perPage)
	if err != nil {
		h.logger.Error("list orders", slog.Any("error", err))
		httpx.RespondError(w, err, errMappings...)
		return
	}
	items := make([]map[string]any, 0, len(orders))
	for _, order := range orders {
		items = append(items, orderResponse(order))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"orders":     items,
		"pagination": pagination,
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errMappings...)
		return
	}
	httpx.JSON(w, http.StatusOK, orderResponse(order))
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	reasons, err := h.service.DeleteOrder(r.Context(), id)
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !reasons.Empty() {
		// Structured refusal, not a generic failure: callers render
		// the specific blockers.
		httpx.JSON(w, http.StatusConflict, map[string]any{"reasons_not_to_delete": reasons})
		return
	}
	httpx.RespondError(w, err, errMappings...)
}

type addLineRequest struct {
	Quantity    int    `json:"quantity" validate:"required,gt=0"`
	TotalAmount string `json:"total_amount" validate:"required"`
	Note        string `json:"note"`
}

func (h *Handler) addOrderLine(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req addLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.TotalAmount)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "total_amount is not a decimal")
		return
	}

	line, err := h.service.AddOrderLine(r.Context(), AddOrderLineInput{
		OrderID:     id,
		Quantity:    req.Quantity,
		TotalAmount: amount,
		Note:        req.Note,
	})
	if err != nil {
		httpx.RespondError(w, err, errMappings...)
		return
	}
	httpx.JSON(w, http.StatusCreated, lineResponse(line))
}

type addReceiptRequest struct {
	TotalAmount string `json:"total_amount" validate:"required"`
	Reference   string `json:"reference"`
	Note        string `json:"note"`
}

func (h *Handler) addReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req addReceiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.TotalAmount)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "total_amount is not a decimal")
		return
	}

	receipt, err := h.service.AddReceipt(r.Context(), AddReceiptInput{
		OrderID:     id,
		TotalAmount: amount,
		Reference:   req.Reference,
		Note:        req.Note,
	})
	if err != nil {
		httpx.RespondError(w, err, errMappings...)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":           receipt.ID,
		"order_id":     receipt.OrderID,
		"total_amount": receipt.TotalAmount.StringFixed(2),
		"reference":    receipt.Reference,
	})
}

type sendOrderRequest struct {
	Recipients []string `json:"recipients" validate:"dive,email"`
}

func (h *Handler) sendOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req sendOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	notif, err := h.service.SendOrder(r.Context(), id, req.Recipients)
	if err != nil {
		h.logger.Error("send order", slog.Int64("order_id", id), slog.Any("error", err))
		httpx.RespondError(w, err, errMappings...)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"notification_id": notif.ID,
		"type":            notif.Type,
		"status":          notif.Status,
		"sent":            notif.Sent,
		"process_date":    notif.ProcessDate,
	})
}

func (h *Handler) orderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	status, err := h.service.OrderStatus(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errMappings...)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order_id": id, "status": status})
}

// accountStatement serves the cached projection when fresh and falls back to
// recomputation on a miss.
func (h *Handler) accountStatement(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	if h.projector != nil {
		if projection, err := h.projector.Get(r.Context(), id); err == nil {
			httpx.JSON(w, http.StatusOK, projection)
			return
		}
	}
	statement, err := h.service.AccountStatement(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errMappings...)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order_id": id, "account_statement": statement})
}

func (h *Handler) links(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	links, err := h.service.LinksTo(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errMappings...)
		return
	}
	response := map[string]any{"links": links}
	if r.URL.Query().Get("pids") == "true" {
		pids, err := h.service.LinkedPIDs(r.Context(), id)
		if err != nil {
			httpx.RespondError(w, err, errMappings...)
			return
		}
		response["pids"] = pids
	}
	httpx.JSON(w, http.StatusOK, response)
}

func (h *Handler) reasonsNotToDelete(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	reasons, err := h.service.ReasonsNotToDelete(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errMappings...)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"deletable":             reasons.Empty(),
		"reasons_not_to_delete": reasons,
	})
}

func (h *Handler) relatedNotes(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	notes, err := h.service.RelatedNotes(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errMappings...)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"notes": notes})
}

func orderResponse(order Order) map[string]any {
	return map[string]any{
		"id":         order.ID,
		"library_id": order.LibraryID,
		"vendor_id":  order.VendorID,
		"currency":   order.Currency,
		"notes":      order.Notes,
		"created_at": order.CreatedAt,
	}
}

func lineResponse(line OrderLine) map[string]any {
	resp := map[string]any{
		"id":           line.ID,
		"order_id":     line.OrderID,
		"status":       line.Status,
		"quantity":     line.Quantity,
		"total_amount": line.TotalAmount.StringFixed(2),
	}
	if line.OrderDate != "" {
		resp["order_date"] = line.OrderDate
	}
	return resp
}
