package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	billing "gridpay-cloud/internal/billing/domain"
	billingrepo "gridpay-cloud/internal/billing/infrastructure/postgres"

	"github.com/shopspring/decimal"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// seed_bills inserts demo bills for a set of users, one bill per month per
// user, walking backwards from the start month. Useful for local testing of
// the payment flow without an upstream billing feed.

type config struct {
	dsn        string
	userPrefix string
	userCount  int
	months     int
	startMonth string
	currency   string
}

func main() {
	cfg := parseConfig()
	if cfg.dsn == "" {
		log.Fatal("PG_DSN or DATABASE_URL is required")
	}
	if cfg.userCount <= 0 {
		log.Fatal("user-count must be > 0")
	}
	if cfg.months <= 0 {
		log.Fatal("months must be > 0")
	}

	start, err := parseStartMonth(cfg.startMonth)
	if err != nil {
		log.Fatalf("invalid start-month: %v", err)
	}

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	repo := billingrepo.NewBillRepository(db)
	total := 0
	for u := 1; u <= cfg.userCount; u++ {
		userID := fmt.Sprintf("%s%04d", cfg.userPrefix, u)
		for m := 0; m < cfg.months; m++ {
			bill, err := buildBill(userID, u, start.AddDate(0, -m, 0), cfg.currency)
			if err != nil {
				log.Fatalf("build bill user=%s: %v", userID, err)
			}
			if err := repo.Insert(ctx, bill); err != nil {
				log.Fatalf("insert bill %s: %v", bill.BillNumber, err)
			}
			total++
		}
		log.Printf("seeded bills user %s (%d/%d)", userID, u, cfg.userCount)
	}
	log.Printf("seeded %d bill(s)", total)
}

func buildBill(userID string, userIdx int, monthStart time.Time, currency string) (*billing.Bill, error) {
	month, err := billing.NewBillMonth(monthStart)
	if err != nil {
		return nil, err
	}

	base := float64((userIdx % 10) + 1)
	units := base*80 + float64(monthStart.Month())*3
	previous := base * 1000
	energy := decimal.NewFromFloat(units * 8).Round(2)
	fixed := decimal.NewFromInt(150)
	tax := energy.Add(fixed).Mul(decimal.NewFromFloat(0.09)).Round(2)
	other := decimal.NewFromInt(25)

	charges := billing.ChargeBreakdown{
		EnergyCharge: energy,
		FixedCharge:  fixed,
		Tax:          tax,
		OtherCharges: other,
	}
	periodEnd := monthStart.AddDate(0, 1, 0).Add(-time.Second)

	return &billing.Bill{
		ID:            fmt.Sprintf("bill-%s-%s", userID, month.String()),
		UserID:        userID,
		BillNumber:    fmt.Sprintf("EB-%s-%s", month.String(), userID),
		ServiceNumber: fmt.Sprintf("SVC%06d", userIdx),
		BillMonth:     month,
		PeriodStart:   monthStart,
		PeriodEnd:     periodEnd,
		DueDate:       monthStart.AddDate(0, 1, 14),
		MeterPrevious: previous,
		MeterCurrent:  previous + units,
		UnitsConsumed: units,
		Charges:       charges,
		TotalAmount:   charges.Sum(),
		Currency:      currency,
		Status:        billing.BillStatusUnpaid,
	}, nil
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "db", envOrDefault("DATABASE_URL", envOrDefault("PG_DSN", "")), "Postgres DSN")
	flag.StringVar(&cfg.userPrefix, "user-prefix", envOrDefault("USER_PREFIX", "user-demo-"), "user id prefix")
	flag.IntVar(&cfg.userCount, "user-count", envOrInt("USER_COUNT", 5), "number of users to seed")
	flag.IntVar(&cfg.months, "months", envOrInt("MONTHS", 3), "number of months per user")
	flag.StringVar(&cfg.startMonth, "start-month", envOrDefault("START_MONTH", ""), "newest month to seed (YYYY-MM)")
	flag.StringVar(&cfg.currency, "currency", envOrDefault("CURRENCY", "INR"), "bill currency")
	flag.Parse()
	return cfg
}

func parseStartMonth(value string) (time.Time, error) {
	if value == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	}
	parsed, err := time.Parse("2006-01", value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
