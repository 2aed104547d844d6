package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"gridpay-cloud/internal/audit"
	"gridpay-cloud/internal/auth"
	billapp "gridpay-cloud/internal/billing/application"
	billingrepo "gridpay-cloud/internal/billing/infrastructure/postgres"
	billinghttp "gridpay-cloud/internal/billing/interfaces/http"
	"gridpay-cloud/internal/eventing"
	"gridpay-cloud/internal/eventing/eventbus"
	eventingrepo "gridpay-cloud/internal/eventing/infrastructure/postgres"
	"gridpay-cloud/internal/gateway"
	"gridpay-cloud/internal/observability/metrics"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(billapp.PaymentRecorded{})
	registry.Register(billapp.PaymentFailed{})
	registry.Register(billapp.BillPaid{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, baseBus)

	billRepo := billingrepo.NewBillRepository(db)
	paymentRepo := billingrepo.NewPaymentRepository(db)
	gatewayOrderRepo := billingrepo.NewGatewayOrderRepository(db)
	webhookStore := billingrepo.NewWebhookEventStore(db)

	eventing.Subscribe(baseBus, eventbus.EventTypeOf[billapp.PaymentRecorded](), "billing.settlement",
		billapp.NewPaymentRecordedHandler(billRepo, publisher, logger), processedStore)
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[billapp.BillPaid](), "billing.log", func(ctx context.Context, event any) error {
		evt, ok := event.(billapp.BillPaid)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		logger.Printf("bill paid: bill=%s payment=%s path=%s", evt.BillID, evt.PaymentID, evt.Path)
		return nil
	}, processedStore)
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[billapp.BillPaid](), "billing.audit", func(ctx context.Context, event any) error {
		evt, ok := event.(billapp.BillPaid)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		return auditRepo.Log(ctx, audit.Entry{
			Actor:        evt.UserID,
			Action:       "bill.paid",
			ResourceType: "bill",
			ResourceID:   evt.BillID,
			BillID:       evt.BillID,
		})
	}, processedStore)

	gatewayClient, err := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayKeyID, cfg.GatewayKeySecret)
	if err != nil {
		logger.Fatalf("gateway client error: %v", err)
	}

	orderService, err := billapp.NewOrderService(gatewayClient, billRepo, gatewayOrderRepo, logger)
	if err != nil {
		logger.Fatalf("order service error: %v", err)
	}
	reconciler, err := billapp.NewReconciler(
		billRepo, paymentRepo, gatewayOrderRepo, []byte(cfg.GatewayKeySecret), publisher, logger,
		billapp.WithGatewayClient(gatewayClient),
		billapp.WithAuditLogger(auditRepo),
	)
	if err != nil {
		logger.Fatalf("reconciler error: %v", err)
	}
	webhookService, err := billapp.NewWebhookService(webhookStore, paymentRepo, billRepo, publisher, logger)
	if err != nil {
		logger.Fatalf("webhook service error: %v", err)
	}

	sweepCfg, err := billapp.LoadSweepConfig()
	if err != nil {
		logger.Fatalf("sweep config error: %v", err)
	}
	sweeper, err := billapp.NewSweeper(paymentRepo, billRepo, dispatcher, publisher, sweepCfg, logger)
	if err != nil {
		logger.Fatalf("sweeper error: %v", err)
	}
	go sweeper.Start(context.Background())

	billingHandler, err := billinghttp.NewHandler(orderService, reconciler, billRepo, paymentRepo, gatewayClient.KeyID(), auditRepo, logger)
	if err != nil {
		logger.Fatalf("billing handler error: %v", err)
	}
	webhookHandler, err := billinghttp.NewWebhookHandler(webhookService, []byte(cfg.GatewayWebhookSecret), logger)
	if err != nil {
		logger.Fatalf("webhook handler error: %v", err)
	}

	// The checkout key id is public; the frontend loads it before any login.
	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics", "/api/v1/payments/key"}, []string{"/webhooks/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/payments/", billingHandler)
	mux.Handle("/api/v1/payments/order", billingHandler)
	mux.Handle("/api/v1/payments/verify", billingHandler)
	mux.Handle("/api/v1/bills", billingHandler)
	mux.Handle("/api/v1/bills/", billingHandler)
	mux.Handle("/webhooks/gateway", webhookHandler)
	mux.HandleFunc("/api/v1/reconcile/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		reconciled, err := sweeper.RunOnce(r.Context())
		if err != nil {
			logger.Printf("manual sweep error: %v", err)
			http.Error(w, "sweep failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"reconciled": reconciled})
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":             "ok",
			"gateway_configured": cfg.GatewayKeyID != "",
		})
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL          string
	HTTPAddr             string
	GatewayBaseURL       string
	GatewayKeyID         string
	GatewayKeySecret     string
	GatewayWebhookSecret string
	JWTSecret            string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:          getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:             getenvDefault("HTTP_ADDR", ":8080"),
		GatewayBaseURL:       getenvDefault("GATEWAY_BASE_URL", ""),
		GatewayKeyID:         getenvDefault("GATEWAY_KEY_ID", ""),
		GatewayKeySecret:     getenvDefault("GATEWAY_KEY_SECRET", ""),
		GatewayWebhookSecret: getenvDefault("GATEWAY_WEBHOOK_SECRET", ""),
		JWTSecret:            getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.GatewayBaseURL == "" || cfg.GatewayKeyID == "" || cfg.GatewayKeySecret == "" {
		log.Fatal("GATEWAY_BASE_URL, GATEWAY_KEY_ID and GATEWAY_KEY_SECRET are required")
	}
	if cfg.GatewayWebhookSecret == "" {
		log.Fatal("GATEWAY_WEBHOOK_SECRET is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
