package patronfee

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/alexandria-ils/alexandria/internal/notification"
	"github.com/alexandria-ils/alexandria/internal/platform/httpx"
)

// Handler manages patron transaction endpoints.
type Handler struct {
	logger        *slog.Logger
	service       *Service
	notifications NotificationReader
	validator     *validator.Validate
}

// NotificationReader loads the notification a derivation request names.
type NotificationReader interface {
	Get(ctx context.Context, id int64) (notification.Notification, error)
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, notifications NotificationReader) *Handler {
	return &Handler{
		logger:        logger,
		service:       service,
		notifications: notifications,
		validator:     validator.New(),
	}
}

// MountRoutes registers patron transaction routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/derive", h.derive)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.deleteTransaction)
	r.Get("/{id}/events", h.events)
	r.Post("/{id}/events", h.registerEvent)
	r.Get("/{id}/links", h.links)
	r.Get("/{id}/reasons-not-to-delete", h.reasonsNotToDelete)
}

var errMappings = []httpx.Mapping{
	{Err: ErrNotFound, Status: http.StatusNotFound},
	{Err: notification.ErrNotFound, Status: http.StatusNotFound},
	{Err: ErrValidation, Status: http.StatusUnprocessableEntity},
}

func transactionID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

type deriveRequest struct {
	NotificationID int64 `json:"notification_id" validate:"required"`
}

func (h *Handler) derive(w http.ResponseWriter, r *http.Request) {
	var req deriveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	notif, err := h.notifications.Get(r.Context(), req.NotificationID)
	if err != nil {
		httpx.RespondError(w, err, errMappings...)
		return
	}
	txn, err := h.service.CreateFromNotification(r.Context(), notif)
	if err != nil {
		h.logger.Error("derive transaction",
			slog.Int64("notification_id", req.NotificationID),
			slog.Any("error", err))
		httpx.RespondError(w, err, errMappings...)
		return
	}
	if txn == nil {
		// Non-overdue notification: not an error, nothing derived.
		httpx.JSON(w, http.StatusOK, map[string]any{"transaction": nil})
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"transaction": transactionResponse(*txn)})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := transactionID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transaction id")
		return
	}
	txn, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errMappings...)
		return
	}
	httpx.JSON(w, http.StatusOK, transactionResponse(txn))
}

func (h *Handler) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := transactionID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transaction id")
		return
	}
	reasons, err := h.service.DeleteTransaction(r.Context(), id)
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !reasons.Empty() {
		httpx.JSON(w, http.StatusConflict, map[string]any{"reasons_not_to_delete": reasons})
		return
	}
	httpx.RespondError(w, err, errMappings...)
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	id, err := transactionID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transaction id")
		return
	}
	events, err := h.service.Events(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errMappings...)
		return
	}
	payload := make([]map[string]any, 0, len(events))
	for _, event := range events {
		payload = append(payload, eventResponse(event))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"events": payload})
}

type registerEventRequest struct {
	Type    string `json:"type" validate:"required,oneof=fee payment dispute cancel"`
	SubType string `json:"subtype"`
	Amount  string `json:"amount" validate:"required"`
	Note    string `json:"note"`
}

func (h *Handler) registerEvent(w http.ResponseWriter, r *http.Request) {
	id, err := transactionID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transaction id")
		return
	}
	var req registerEventRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "amount is not a decimal")
		return
	}

	event, err := h.service.RegisterEvent(r.Context(), RegisterEventInput{
		TransactionID: id,
		Type:          EventType(req.Type),
		SubType:       req.SubType,
		Amount:        amount,
		Note:          req.Note,
	})
	if err != nil {
		httpx.RespondError(w, err, errMappings...)
		return
	}
	httpx.JSON(w, http.StatusCreated, eventResponse(event))
}

func (h *Handler) links(w http.ResponseWriter, r *http.Request) {
	id, err := transactionID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transaction id")
		return
	}
	links, err := h.service.LinksTo(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err, errMappings...)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"links": links})
}

func (h *Handler) reasonsNotToDelete(w http.ResponseWriter, r *http.Request) {
	id, err := transactionID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid transaction id")
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

func transactionResponse(txn Transaction) map[string]any {
	return map[string]any{
		"id":              txn.ID,
		"type":            txn.Type,
		"status":          txn.Status,
		"patron_id":       txn.PatronID,
		"notification_id": txn.NotificationID,
		"organisation_id": txn.OrganisationID,
		"currency":        txn.Currency,
		"total_amount":    txn.TotalAmount.StringFixed(2),
		"creation_date":   txn.CreationDate,
	}
}

func eventResponse(event Event) map[string]any {
	return map[string]any{
		"id":             event.ID,
		"transaction_id": event.TransactionID,
		"type":           event.Type,
		"subtype":        event.SubType,
		"amount":         event.Amount.StringFixed(2),
		"note":           event.Note,
		"created_at":     event.CreatedAt,
	}
}
