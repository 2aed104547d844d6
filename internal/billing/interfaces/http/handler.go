package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gridpay-cloud/internal/audit"
	"gridpay-cloud/internal/auth"
	billapp "gridpay-cloud/internal/billing/application"
	billing "gridpay-cloud/internal/billing/domain"
	"gridpay-cloud/internal/gateway"
)

// Handler provides the payments and bills APIs.
type Handler struct {
	orders     *billapp.OrderService
	reconciler *billapp.Reconciler
	bills      billing.BillRepository
	payments   billing.PaymentRepository
	keyID      string
	audits     audit.Logger
	logger     *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(
	orders *billapp.OrderService,
	reconciler *billapp.Reconciler,
	bills billing.BillRepository,
	payments billing.PaymentRepository,
	keyID string,
	audits audit.Logger,
	logger *log.Logger,
) (*Handler, error) {
	if orders == nil || reconciler == nil || bills == nil || payments == nil {
		return nil, errors.New("billing handler: nil dependency")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		orders:     orders,
		reconciler: reconciler,
		bills:      bills,
		payments:   payments,
		keyID:      keyID,
		audits:     audits,
		logger:     logger,
	}, nil
}

// ServeHTTP routes payments and bills endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/payments/order" && r.Method == http.MethodPost:
		h.handleCreateOrder(w, r)
	case r.URL.Path == "/api/v1/payments/verify" && r.Method == http.MethodPost:
		h.handleVerify(w, r)
	case r.URL.Path == "/api/v1/payments/failure" && r.Method == http.MethodPost:
		h.handleFailure(w, r)
	case r.URL.Path == "/api/v1/payments/key" && r.Method == http.MethodGet:
		h.handleKey(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/payments/") && r.Method == http.MethodGet:
		h.handleGetPayment(w, r)
	case r.URL.Path == "/api/v1/bills" && r.Method == http.MethodGet:
		h.handleListBills(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/bills/") && r.Method == http.MethodGet:
		h.handleGetBill(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BillID   string `json:"bill_id"`
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	amount := decimal.Zero
	if req.Amount != "" {
		parsed, err := decimal.NewFromString(req.Amount)
		if err != nil {
			http.Error(w, "invalid amount", http.StatusBadRequest)
			return
		}
		amount = parsed
	}

	out, err := h.orders.CreateOrder(r.Context(), billapp.CreateOrderInput{
		UserID:   userID,
		BillID:   req.BillID,
		Amount:   amount,
		Currency: req.Currency,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.auditAction(r, "payment.order_created", "order", out.OrderID, req.BillID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"order_id": out.OrderID,
		"amount":   out.AmountMinor,
		"currency": out.Currency,
		"receipt":  out.Receipt,
		"bill_id":  out.BillID,
		"key_id":   h.keyID,
	})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BillID           string `json:"bill_id"`
		GatewayOrderID   string `json:"gateway_order_id"`
		GatewayPaymentID string `json:"gateway_payment_id"`
		GatewaySignature string `json:"gateway_signature"`
		Contact          string `json:"contact"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	outcome, err := h.reconciler.ConfirmCheckout(r.Context(), billapp.ConfirmCheckoutInput{
		UserID:           userID,
		BillID:           req.BillID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		GatewaySignature: req.GatewaySignature,
		Contact:          req.Contact,
		ClientIP:         audit.ClientIP(r),
		UserAgent:        r.UserAgent(),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.auditAction(r, "payment.verified", "payment", outcome.Payment.ID, req.BillID)
	writeJSON(w, http.StatusOK, map[string]any{
		"payment_id":   outcome.Payment.ID,
		"status":       outcome.Payment.Status,
		"bill_id":      outcome.Payment.BillID,
		"bill_updated": outcome.BillUpdated,
		"replayed":     outcome.Replayed,
	})
}

func (h *Handler) handleFailure(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BillID           string `json:"bill_id"`
		GatewayOrderID   string `json:"gateway_order_id"`
		GatewayPaymentID string `json:"gateway_payment_id"`
		Reason           string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	payment, err := h.reconciler.RecordFailure(r.Context(), billapp.FailureInput{
		UserID:           userID,
		BillID:           req.BillID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Reason:           req.Reason,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payment_id": payment.ID,
		"status":     payment.Status,
	})
}

// handleKey returns the public checkout key id. The signing secret never
// appears in any response.
func (h *Handler) handleKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"key_id": h.keyID})
}

func (h *Handler) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := strings.TrimPrefix(r.URL.Path, "/api/v1/payments/")
	if paymentID == "" || strings.Contains(paymentID, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	payment, err := h.payments.GetByID(r.Context(), paymentID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	role := auth.RoleFromContext(r.Context())
	if payment.UserID != userID && !auth.RoleAtLeast(role, auth.RoleOperator) {
		h.respondError(w, billing.ErrPaymentNotFound)
		return
	}
	writeJSON(w, http.StatusOK, paymentView(payment))
}

func (h *Handler) handleListBills(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	bills, err := h.bills.ListByUser(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(bills))
	for _, bill := range bills {
		views = append(views, billView(bill))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGetBill(w http.ResponseWriter, r *http.Request) {
	billID := strings.TrimPrefix(r.URL.Path, "/api/v1/bills/")
	if billID == "" || strings.Contains(billID, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	bill, err := h.bills.GetByID(r.Context(), billID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	role := auth.RoleFromContext(r.Context())
	if bill.UserID != userID && !auth.RoleAtLeast(role, auth.RoleOperator) {
		h.respondError(w, billing.ErrBillNotFound)
		return
	}
	writeJSON(w, http.StatusOK, billView(bill))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrVerificationFailed):
		http.Error(w, "signature verification failed", http.StatusUnprocessableEntity)
	case errors.Is(err, billing.ErrOrderMismatch):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, billing.ErrMissingField),
		errors.Is(err, billing.ErrInvalidAmount),
		errors.Is(err, billing.ErrInvalidBillMonth),
		errors.Is(err, billing.ErrBillNotPayable):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, billing.ErrBillNotFound),
		errors.Is(err, billing.ErrPaymentNotFound),
		errors.Is(err, billing.ErrOrderNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		if ge, ok := gateway.AsError(err); ok {
			http.Error(w, ge.Message, http.StatusBadGateway)
			return
		}
		h.logger.Printf("billing handler error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) auditAction(r *http.Request, action, resourceType, resourceID, billID string) {
	if h.audits == nil {
		return
	}
	err := h.audits.Log(r.Context(), audit.Entry{
		Actor:        auth.UserIDFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		BillID:       billID,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		h.logger.Printf("audit write failed action=%s err=%v", action, err)
	}
}

func billView(bill *billing.Bill) map[string]any {
	return map[string]any{
		"id":              bill.ID,
		"bill_number":     bill.BillNumber,
		"service_number":  bill.ServiceNumber,
		"bill_month":      bill.BillMonth.String(),
		"period_start":    bill.PeriodStart.Format(time.RFC3339),
		"period_end":      bill.PeriodEnd.Format(time.RFC3339),
		"due_date":        bill.DueDate.Format(time.RFC3339),
		"units_consumed":  bill.UnitsConsumed,
		"energy_charge":   bill.Charges.EnergyCharge.String(),
		"fixed_charge":    bill.Charges.FixedCharge.String(),
		"tax":             bill.Charges.Tax.String(),
		"other_charges":   bill.Charges.OtherCharges.String(),
		"total_amount":    bill.TotalAmount.String(),
		"currency":        bill.Currency,
		"status":          bill.Status,
		"paid_payment_id": bill.PaidPaymentID,
	}
}

func paymentView(payment *billing.Payment) map[string]any {
	view := map[string]any{
		"id":                 payment.ID,
		"bill_id":            payment.BillID,
		"amount":             payment.Amount.String(),
		"currency":           payment.Currency,
		"status":             payment.Status,
		"method":             payment.Method,
		"gateway_order_id":   payment.GatewayOrderID,
		"gateway_payment_id": payment.GatewayPaymentID,
		"created_at":         payment.CreatedAt.Format(time.RFC3339),
	}
	if !payment.PaidAt.IsZero() {
		view["paid_at"] = payment.PaidAt.Format(time.RFC3339)
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
