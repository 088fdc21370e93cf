package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pagcore/internal/model"
)

var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagcore_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagcore_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Service is the money-moving surface, implemented by service.Core.
type Service interface {
	CreatePayment(ctx context.Context, req model.PaymentRequest) (*model.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	Cancel(ctx context.Context, id string) (*model.Transaction, error)
	Reverse(ctx context.Context, id string) (*model.Transaction, error)
	RegisterReceipt(ctx context.Context, req model.ReceiptRequest) (*model.Transaction, error)
}

// Admin is the configuration and read surface, implemented by
// repository.Store.
type Admin interface {
	CreateAccount(ctx context.Context, acc *model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	DeactivateAccount(ctx context.Context, id string) error
	ListMovements(ctx context.Context, accountID string, limit int) ([]model.BalanceMovement, error)
	ListTransactionsByAccount(ctx context.Context, accountID string, limit int) ([]model.Transaction, error)

	CreateScheduledTransfer(ctx context.Context, st *model.ScheduledTransfer) error
	ListScheduledTransfers(ctx context.Context, clientID string) ([]model.ScheduledTransfer, error)
	CancelScheduledTransfer(ctx context.Context, id string) error

	CreateRecurringPayment(ctx context.Context, rp *model.RecurringPayment) error
	ListRecurringPayments(ctx context.Context, clientID string) ([]model.RecurringPayment, error)
	DeactivateRecurring(ctx context.Context, id string) error

	CreateSplitRule(ctx context.Context, rule *model.SplitRule) error
	ListSplitRules(ctx context.Context, clientID string) ([]model.SplitRule, error)
	ListSplitsByParent(ctx context.Context, parentTransactionID string) ([]model.SplitTransaction, error)

	UpsertEndpoint(ctx context.Context, ep *model.WebhookEndpoint) error
	ListDeliveries(ctx context.Context, clientID string, limit int) ([]model.WebhookDelivery, error)
}

type Handler struct {
	svc   Service
	admin Admin
}

func NewHandler(svc Service, admin Admin) *Handler {
	return &Handler{svc: svc, admin: admin}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /accounts", h.CreateAccount)
	mux.HandleFunc("GET /accounts/{id}", h.GetAccount)
	mux.HandleFunc("DELETE /accounts/{id}", h.CloseAccount)
	mux.HandleFunc("GET /accounts/{id}/movements", h.ListMovements)
	mux.HandleFunc("GET /accounts/{id}/transactions", h.ListTransactions)

	mux.HandleFunc("POST /payments", h.CreatePayment)
	mux.HandleFunc("POST /receipts", h.RegisterReceipt)
	mux.HandleFunc("GET /transactions/{id}", h.GetTransaction)
	mux.HandleFunc("POST /transactions/{id}/cancel", h.CancelTransaction)
	mux.HandleFunc("POST /transactions/{id}/reverse", h.ReverseTransaction)
	mux.HandleFunc("GET /transactions/{id}/splits", h.ListSplits)

	mux.HandleFunc("POST /scheduled-transfers", h.CreateScheduledTransfer)
	mux.HandleFunc("GET /scheduled-transfers", h.ListScheduledTransfers)
	mux.HandleFunc("POST /scheduled-transfers/{id}/cancel", h.CancelScheduledTransfer)

	mux.HandleFunc("POST /recurring-payments", h.CreateRecurringPayment)
	mux.HandleFunc("GET /recurring-payments", h.ListRecurringPayments)
	mux.HandleFunc("POST /recurring-payments/{id}/cancel", h.CancelRecurringPayment)

	mux.HandleFunc("POST /split-rules", h.CreateSplitRule)
	mux.HandleFunc("GET /split-rules", h.ListSplitRules)

	mux.HandleFunc("PUT /webhook-endpoints", h.ConfigureWebhookEndpoint)
	mux.HandleFunc("GET /webhook-deliveries", h.ListWebhookDeliveries)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/payments"))
	defer timer.ObserveDuration()

	var req model.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "INVALID_JSON", "POST", "/payments")
		return
	}
	// Header form takes precedence over the body field.
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	txn, err := h.svc.CreatePayment(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err, "POST", "/payments")
		return
	}
	h.respondJSON(w, http.StatusCreated, txn, "POST", "/payments")
}

func (h *Handler) RegisterReceipt(w http.ResponseWriter, r *http.Request) {
	var req model.ReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "INVALID_JSON", "POST", "/receipts")
		return
	}
	txn, err := h.svc.RegisterReceipt(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err, "POST", "/receipts")
		return
	}
	h.respondJSON(w, http.StatusCreated, txn, "POST", "/receipts")
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.svc.GetTransaction(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, err, "GET", "/transactions/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, txn, "GET", "/transactions/{id}")
}

func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.svc.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, err, "POST", "/transactions/{id}/cancel")
		return
	}
	h.respondJSON(w, http.StatusOK, txn, "POST", "/transactions/{id}/cancel")
}

func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.svc.Reverse(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, err, "POST", "/transactions/{id}/reverse")
		return
	}
	h.respondJSON(w, http.StatusCreated, txn, "POST", "/transactions/{id}/reverse")
}

func (h *Handler) ListSplits(w http.ResponseWriter, r *http.Request) {
	splits, err := h.admin.ListSplitsByParent(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, err, "GET", "/transactions/{id}/splits")
		return
	}
	h.respondJSON(w, http.StatusOK, splits, "GET", "/transactions/{id}/splits")
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var acc model.Account
	if err := json.NewDecoder(r.Body).Decode(&acc); err != nil {
		h.respondError(w, http.StatusBadRequest, "INVALID_JSON", "POST", "/accounts")
		return
	}
	if acc.ClientID == "" {
		h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "POST", "/accounts")
		return
	}
	if err := h.admin.CreateAccount(r.Context(), &acc); err != nil {
		h.respondServiceError(w, err, "POST", "/accounts")
		return
	}
	h.respondJSON(w, http.StatusCreated, acc, "POST", "/accounts")
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.admin.GetAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, err, "GET", "/accounts/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, acc, "GET", "/accounts/{id}")
}

func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeactivateAccount(r.Context(), r.PathValue("id")); err != nil {
		h.respondServiceError(w, err, "DELETE", "/accounts/{id}")
		return
	}
	h.respondJSON(w, http.StatusNoContent, nil, "DELETE", "/accounts/{id}")
}

func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := h.admin.ListMovements(r.Context(), r.PathValue("id"), queryLimit(r))
	if err != nil {
		h.respondServiceError(w, err, "GET", "/accounts/{id}/movements")
		return
	}
	h.respondJSON(w, http.StatusOK, movements, "GET", "/accounts/{id}/movements")
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.admin.ListTransactionsByAccount(r.Context(), r.PathValue("id"), queryLimit(r))
	if err != nil {
		h.respondServiceError(w, err, "GET", "/accounts/{id}/transactions")
		return
	}
	h.respondJSON(w, http.StatusOK, txns, "GET", "/accounts/{id}/transactions")
}

func (h *Handler) CreateScheduledTransfer(w http.ResponseWriter, r *http.Request) {
	var st model.ScheduledTransfer
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		h.respondError(w, http.StatusBadRequest, "INVALID_JSON", "POST", "/scheduled-transfers")
		return
	}
	if st.ClientID == "" || st.AccountID == "" || st.Amount <= 0 || st.ScheduledAt.IsZero() {
		h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "POST", "/scheduled-transfers")
		return
	}
	if err := st.Target.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "POST", "/scheduled-transfers")
		return
	}
	if err := h.admin.CreateScheduledTransfer(r.Context(), &st); err != nil {
		h.respondServiceError(w, err, "POST", "/scheduled-transfers")
		return
	}
	h.respondJSON(w, http.StatusCreated, st, "POST", "/scheduled-transfers")
}

func (h *Handler) ListScheduledTransfers(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "GET", "/scheduled-transfers")
		return
	}
	out, err := h.admin.ListScheduledTransfers(r.Context(), clientID)
	if err != nil {
		h.respondServiceError(w, err, "GET", "/scheduled-transfers")
		return
	}
	h.respondJSON(w, http.StatusOK, out, "GET", "/scheduled-transfers")
}

func (h *Handler) CancelScheduledTransfer(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.CancelScheduledTransfer(r.Context(), r.PathValue("id")); err != nil {
		h.respondServiceError(w, err, "POST", "/scheduled-transfers/{id}/cancel")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"}, "POST", "/scheduled-transfers/{id}/cancel")
}

func (h *Handler) CreateRecurringPayment(w http.ResponseWriter, r *http.Request) {
	var rp model.RecurringPayment
	if err := json.NewDecoder(r.Body).Decode(&rp); err != nil {
		h.respondError(w, http.StatusBadRequest, "INVALID_JSON", "POST", "/recurring-payments")
		return
	}
	if rp.ClientID == "" || rp.AccountID == "" || rp.Amount <= 0 ||
		rp.StartAt.IsZero() || !rp.Frequency.Valid() || rp.Target.Validate() != nil {
		h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "POST", "/recurring-payments")
		return
	}
	if err := h.admin.CreateRecurringPayment(r.Context(), &rp); err != nil {
		h.respondServiceError(w, err, "POST", "/recurring-payments")
		return
	}
	h.respondJSON(w, http.StatusCreated, rp, "POST", "/recurring-payments")
}

func (h *Handler) ListRecurringPayments(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "GET", "/recurring-payments")
		return
	}
	out, err := h.admin.ListRecurringPayments(r.Context(), clientID)
	if err != nil {
		h.respondServiceError(w, err, "GET", "/recurring-payments")
		return
	}
	h.respondJSON(w, http.StatusOK, out, "GET", "/recurring-payments")
}

func (h *Handler) CancelRecurringPayment(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeactivateRecurring(r.Context(), r.PathValue("id")); err != nil {
		h.respondServiceError(w, err, "POST", "/recurring-payments/{id}/cancel")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"}, "POST", "/recurring-payments/{id}/cancel")
}

func (h *Handler) CreateSplitRule(w http.ResponseWriter, r *http.Request) {
	var rule model.SplitRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		h.respondError(w, http.StatusBadRequest, "INVALID_JSON", "POST", "/split-rules")
		return
	}
	if err := h.admin.CreateSplitRule(r.Context(), &rule); err != nil {
		h.respondServiceError(w, err, "POST", "/split-rules")
		return
	}
	h.respondJSON(w, http.StatusCreated, rule, "POST", "/split-rules")
}

func (h *Handler) ListSplitRules(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "GET", "/split-rules")
		return
	}
	out, err := h.admin.ListSplitRules(r.Context(), clientID)
	if err != nil {
		h.respondServiceError(w, err, "GET", "/split-rules")
		return
	}
	h.respondJSON(w, http.StatusOK, out, "GET", "/split-rules")
}

func (h *Handler) ConfigureWebhookEndpoint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID string `json:"client_id"`
		URL      string `json:"url"`
		Secret   string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "INVALID_JSON", "PUT", "/webhook-endpoints")
		return
	}
	if req.ClientID == "" || req.URL == "" || req.Secret == "" {
		h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "PUT", "/webhook-endpoints")
		return
	}
	ep := &model.WebhookEndpoint{ClientID: req.ClientID, URL: req.URL, Secret: req.Secret}
	if err := h.admin.UpsertEndpoint(r.Context(), ep); err != nil {
		h.respondServiceError(w, err, "PUT", "/webhook-endpoints")
		return
	}
	h.respondJSON(w, http.StatusOK, ep, "PUT", "/webhook-endpoints")
}

func (h *Handler) ListWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "GET", "/webhook-deliveries")
		return
	}
	out, err := h.admin.ListDeliveries(r.Context(), clientID, queryLimit(r))
	if err != nil {
		h.respondServiceError(w, err, "GET", "/webhook-deliveries")
		return
	}
	h.respondJSON(w, http.StatusOK, out, "GET", "/webhook-deliveries")
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			return n
		}
	}
	return 100
}

// respondServiceError maps the error taxonomy onto HTTP statuses and stable
// error codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error, method, endpoint string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		h.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", method, endpoint)
	case errors.Is(err, model.ErrInsufficientFunds):
		h.respondError(w, http.StatusBadRequest, "INSUFFICIENT_FUNDS", method, endpoint)
	case errors.Is(err, model.ErrDailyLimitExceeded):
		h.respondError(w, http.StatusBadRequest, "DAILY_LIMIT_EXCEEDED", method, endpoint)
	case errors.Is(err, model.ErrAccountInactive):
		h.respondError(w, http.StatusUnprocessableEntity, "ACCOUNT_INACTIVE", method, endpoint)
	case errors.Is(err, model.ErrAccountNotFound), errors.Is(err, model.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "NOT_FOUND", method, endpoint)
	case errors.Is(err, model.ErrInvalidTransition):
		h.respondError(w, http.StatusConflict, "ILLEGAL_TRANSITION", method, endpoint)
	default:
		h.respondError(w, http.StatusInternalServerError, "INTERNAL", method, endpoint)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, code string, method, endpoint string) {
	h.respondJSON(w, status, map[string]string{"error": code}, method, endpoint)
}
