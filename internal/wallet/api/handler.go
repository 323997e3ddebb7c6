package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"ms-ledger/internal/auth"
	"ms-ledger/internal/logger"
	"ms-ledger/internal/models"
	"ms-ledger/internal/qr"
	"ms-ledger/internal/sse"
	"ms-ledger/internal/utils"
	"ms-ledger/internal/wallet"
)

const defaultHistoryLimit = 50

type Handler struct {
	Wallets   *wallet.WalletService
	QR        *qr.Codec
	Hub       *sse.Hub
	Logger    *logger.Logger
	KeepAlive time.Duration
}

func NewHandler(wallets *wallet.WalletService, codec *qr.Codec, hub *sse.Hub, log *logger.Logger) *Handler {
	return &Handler{
		Wallets:   wallets,
		QR:        codec,
		Hub:       hub,
		Logger:    log,
		KeepAlive: 30 * time.Second,
	}
}

// RegisterRoutes mounts the authenticated wallet routes under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/wallets/resolve-qr", h.ResolveQR)
	r.Get("/wallets/{code}", h.GetWallet)
	r.Get("/wallets/{code}/transactions", h.ListTransactions)
	r.Post("/wallets/{code}/debit", h.Debit)
	// The stream carries balances, so it sits behind the same bearer check.
	r.Get("/wallets/{code}/stream", h.Stream)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireOrganizer)
		r.Post("/wallets", h.CreateWallet)
		r.Post("/wallets/{code}/credit", h.Credit)
		r.Put("/wallets/{code}/status", h.UpdateStatus)
		r.Put("/wallets/{code}/element", h.BindElement)
		r.Get("/wallets/{code}/reconcile", h.Reconcile)
		r.Get("/wallets/{code}/qr", h.QRCode)
		r.Get("/events/{eventId}/wallets", h.ListByEvent)
		r.Get("/events/{eventId}/summary", h.EventSummary)
	})
}

type createWalletRequest struct {
	Code           string          `json:"code"`
	InitialCredit  decimal.Decimal `json:"initial_credit"`
	Currency       string          `json:"currency"`
	ExpiresAt      string          `json:"expires_at"`
	BoundElementID string          `json:"bound_element_id"`
}

func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req createWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	spec := models.WalletSpec{
		Code:           req.Code,
		InitialCredit:  req.InitialCredit,
		Currency:       req.Currency,
		BoundElementID: req.BoundElementID,
	}
	if req.ExpiresAt != "" {
		expiresAt, err := utils.ParseTimestamp(req.ExpiresAt)
		if err != nil {
			utils.WriteError(w, "Invalid expires_at", fmt.Errorf("%w: %v", models.ErrInvalidExpiry, err))
			return
		}
		spec.ExpiresAt = &expiresAt
	}

	created, err := h.Wallets.CreateWallet(r.Context(), spec)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("CreateWallet failed: %v", err))
		utils.WriteError(w, "Could not create wallet", err)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("CreateWallet: %s created by %s", created.Code, auth.UserID(r.Context())))
	utils.WriteSuccess(w, http.StatusCreated, "Wallet created", created)
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	view, err := h.Wallets.Balance(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		utils.WriteError(w, "Wallet not available", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Wallet balance", view)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid limit", err.Error()))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid offset", "offset must be a non-negative integer"))
		return
	}

	code := chi.URLParam(r, "code")
	txs, err := h.Wallets.History(r.Context(), code, limit, offset)
	if err != nil {
		utils.WriteError(w, "Could not load transactions", err)
		return
	}
	total, err := h.Wallets.HistorySize(r.Context(), code)
	if err != nil {
		utils.WriteError(w, "Could not load transactions", err)
		return
	}
	// Total entries regardless of limit/offset, so clients can page
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	utils.WriteSuccess(w, http.StatusOK, "Transactions", txs)
}

type ledgerRequest struct {
	Amount         decimal.Decimal        `json:"amount"`
	Type           models.TransactionType `json:"type"`
	OrderID        string                 `json:"order_id"`
	Source         string                 `json:"source"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Notes          string                 `json:"notes"`
}

func decodeLedgerRequest(r *http.Request) (ledgerRequest, error) {
	var req ledgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	return req, nil
}

func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLedgerRequest(r)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	res, err := h.Wallets.Debit(r.Context(), chi.URLParam(r, "code"), req.Amount, models.DebitOptions{
		OrderID:        req.OrderID,
		Source:         req.Source,
		IdempotencyKey: req.IdempotencyKey,
		Notes:          req.Notes,
	})
	if err != nil {
		utils.WriteError(w, "Debit rejected", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, ledgerMessage("Debit", res), res)
}

func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLedgerRequest(r)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if req.Type == "" {
		req.Type = models.TransactionCredit
	}

	res, err := h.Wallets.Credit(r.Context(), chi.URLParam(r, "code"), req.Amount, req.Type, models.CreditOptions{
		OrderID:        req.OrderID,
		Source:         req.Source,
		IdempotencyKey: req.IdempotencyKey,
		Notes:          req.Notes,
	})
	if err != nil {
		utils.WriteError(w, "Credit rejected", err)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("Credit: %s %s on %s by %s", req.Type, req.Amount.StringFixed(2), res.Wallet.Code, auth.UserID(r.Context())))
	utils.WriteSuccess(w, http.StatusOK, ledgerMessage("Credit", res), res)
}

func ledgerMessage(op string, res *models.LedgerResult) string {
	if res.Replayed {
		return op + " already applied"
	}
	return op + " applied"
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.WalletStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	updated, err := h.Wallets.UpdateStatus(r.Context(), chi.URLParam(r, "code"), req.Status)
	if err != nil {
		utils.WriteError(w, "Status change rejected", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Wallet status updated", updated)
}

func (h *Handler) BindElement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ElementID string `json:"element_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	bound, err := h.Wallets.BindElement(r.Context(), chi.URLParam(r, "code"), req.ElementID)
	if err != nil {
		utils.WriteError(w, "Could not bind wallet", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Wallet bound", bound)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Wallets.Reconcile(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		utils.WriteError(w, "Could not reconcile wallet", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Reconciliation", rec)
}

func (h *Handler) QRCode(w http.ResponseWriter, r *http.Request) {
	if h.QR == nil {
		utils.WriteJSON(w, http.StatusNotImplemented, utils.ErrorResponse("QR vouchers disabled", "QR_SECRET_KEY not configured"))
		return
	}
	wal, err := h.Wallets.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		utils.WriteError(w, "Wallet not available", err)
		return
	}

	png, err := h.QR.PNG(wal.Code)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("QR for %s failed: %v", wal.Code, err))
		utils.WriteError(w, "Could not render QR code", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) ResolveQR(w http.ResponseWriter, r *http.Request) {
	if h.QR == nil {
		utils.WriteJSON(w, http.StatusNotImplemented, utils.ErrorResponse("QR vouchers disabled", "QR_SECRET_KEY not configured"))
		return
	}
	var req struct {
		Payload string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	code, err := h.QR.Resolve(req.Payload)
	if err != nil {
		h.Logger.LogSecurity("QR_REJECTED", fmt.Sprintf("Unreadable voucher from %s", auth.UserID(r.Context())))
		utils.WriteError(w, "Invalid voucher", err)
		return
	}
	view, err := h.Wallets.Balance(r.Context(), code)
	if err != nil {
		utils.WriteError(w, "Wallet not available", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Voucher resolved", view)
}

func (h *Handler) ListByEvent(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.Wallets.ListByEvent(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		utils.WriteError(w, "Could not list wallets", err)
		return
	}
	views := make([]models.BalanceView, 0, len(wallets))
	for i := range wallets {
		views = append(views, models.NewBalanceView(&wallets[i]))
	}
	utils.WriteSuccess(w, http.StatusOK, "Event wallets", views)
}

func (h *Handler) EventSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Wallets.SummaryForEvent(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		utils.WriteError(w, "Could not summarise event", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Event spend summary", summary)
}

func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	wal, err := h.Wallets.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		utils.WriteError(w, "Wallet not available", err)
		return
	}
	h.Hub.Serve(w, r, models.WalletChannel(wal.Code), h.Logger, h.KeepAlive)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}
