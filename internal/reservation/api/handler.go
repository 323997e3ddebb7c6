package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-ledger/internal/auth"
	"ms-ledger/internal/logger"
	"ms-ledger/internal/models"
	"ms-ledger/internal/reservation"
	"ms-ledger/internal/sse"
	"ms-ledger/internal/utils"
)

type Handler struct {
	Reservations *reservation.Manager
	Hub          *sse.Hub
	Logger       *logger.Logger
	KeepAlive    time.Duration
}

func NewHandler(manager *reservation.Manager, hub *sse.Hub, log *logger.Logger) *Handler {
	return &Handler{
		Reservations: manager,
		Hub:          hub,
		Logger:       log,
		KeepAlive:    30 * time.Second,
	}
}

// RegisterRoutes mounts the authenticated reservation routes under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/events/{eventId}/reservations", h.Redeem)
	r.Get("/events/{eventId}/reservations", h.ListByEvent)
	r.Get("/events/{eventId}/elements/{elementId}/reservation", h.GetByElement)
	r.Get("/me/reservations", h.ListMine)
	r.Delete("/reservations/{reservationId}", h.Cancel)
}

// RegisterStreamRoutes mounts the public event stream under /api.
func (h *Handler) RegisterStreamRoutes(r chi.Router) {
	r.Get("/events/{eventId}/stream", h.Stream)
}

type redeemRequest struct {
	ElementID string `json:"element_id"`
	Code      string `json:"code"`
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	userID := auth.UserID(r.Context())

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("Redeem: event=%s element=%s user=%s", eventID, req.ElementID, userID))

	res, err := h.Reservations.Redeem(r.Context(), eventID, req.ElementID, req.Code, userID)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("Redeem rejected for %s: %v", userID, err))
		utils.WriteError(w, "Could not reserve element", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Element reserved", res)
}

func (h *Handler) ListByEvent(w http.ResponseWriter, r *http.Request) {
	list, err := h.Reservations.ListByEvent(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		utils.WriteError(w, "Could not list reservations", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Event reservations", list)
}

// GetByElement answers without data when the element is free.
func (h *Handler) GetByElement(w http.ResponseWriter, r *http.Request) {
	res, err := h.Reservations.GetByElement(r.Context(), chi.URLParam(r, "eventId"), chi.URLParam(r, "elementId"))
	if err != nil {
		utils.WriteError(w, "Could not load reservation", err)
		return
	}
	if res == nil {
		utils.WriteSuccess(w, http.StatusOK, "Element is free", nil)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Element is reserved", res)
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	includeCancelled := r.URL.Query().Get("all") == "true"
	list, err := h.Reservations.ListByUser(r.Context(), auth.UserID(r.Context()), includeCancelled)
	if err != nil {
		utils.WriteError(w, "Could not list reservations", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Your reservations", list)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	reservationID := chi.URLParam(r, "reservationId")

	res, err := h.Reservations.Cancel(r.Context(), reservationID, id)
	if err != nil {
		utils.WriteError(w, "Could not cancel reservation", err)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("Cancel: reservation %s by %s", reservationID, id.UserID))
	utils.WriteSuccess(w, http.StatusOK, "Reservation cancelled", res)
}

func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	h.Hub.Serve(w, r, models.EventChannel(chi.URLParam(r, "eventId")), h.Logger, h.KeepAlive)
}
