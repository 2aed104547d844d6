package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	billapp "gridpay-cloud/internal/billing/application"
	"gridpay-cloud/internal/gateway"
)

// maxWebhookBody caps webhook payload size.
const maxWebhookBody = 1 << 20

// WebhookHandler receives gateway webhook deliveries. It authenticates with
// the body HMAC, not the JWT middleware; the path is exempt from auth.
type WebhookHandler struct {
	service *billapp.WebhookService
	secret  []byte
	logger  *log.Logger
}

// NewWebhookHandler constructs a webhook handler.
func NewWebhookHandler(service *billapp.WebhookService, secret []byte, logger *log.Logger) (*WebhookHandler, error) {
	if service == nil {
		return nil, errors.New("webhook handler: nil service")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook handler: empty secret")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &WebhookHandler{service: service, secret: secret, logger: logger}, nil
}

// ServeHTTP handles POST /webhooks/gateway. The signature is checked over the
// raw request bytes before any decoding; re-serialized JSON would not match.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Gateway-Signature")
	if !gateway.VerifyWebhook(rawBody, signature, h.secret) {
		h.logger.Printf("webhook signature rejected ip=%s", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	eventID := r.Header.Get("X-Gateway-Event-Id")
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if eventID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	if err := h.service.HandleEvent(r.Context(), eventID, envelope.Event, rawBody); err != nil {
		// The failure is recorded on the event row; bill settlement does not
		// depend on redelivery, the sweep picks up recorded payments.
		h.logger.Printf("webhook processing failed event=%s type=%s err=%v", eventID, envelope.Event, err)
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
