package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	billapp "gridpay-cloud/internal/billing/application"
	billingrepo "gridpay-cloud/internal/billing/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// reconcile runs one reconciliation sweep against the database: every
// successful payment whose bill is still unpaid gets its bill settled.
// The server runs the same sweep on a timer; this tool is for operators.

type config struct {
	dbURL string
	batch int
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	db, err := sql.Open("pgx", cfg.dbURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "db ping:", err)
		os.Exit(2)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	billRepo := billingrepo.NewBillRepository(db)
	paymentRepo := billingrepo.NewPaymentRepository(db)

	sweeper, err := billapp.NewSweeper(paymentRepo, billRepo, nil, nil, billapp.SweepConfig{BatchSize: cfg.batch}, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sweeper:", err)
		os.Exit(2)
	}

	reconciled, err := sweeper.RunOnce(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sweep:", err)
		os.Exit(1)
	}
	fmt.Printf("reconciled %d bill(s)\n", reconciled)
}

func parseFlags() (config, error) {
	var cfg config
	flag.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN")
	flag.IntVar(&cfg.batch, "batch", 100, "max payments to reconcile per run")
	flag.Parse()

	if cfg.dbURL == "" {
		return cfg, errors.New("missing --db or DATABASE_URL/PG_DSN")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
