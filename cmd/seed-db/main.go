// seed-db applies migrations and loads baseline plans and demo coupons so a
// fresh environment can take checkouts immediately.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/mesafoods/checkout/internal/domain/billing"
	"github.com/mesafoods/checkout/internal/domain/coupon"
	"github.com/mesafoods/checkout/internal/storage/postgres"
)

type planJSON struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	MonthlyPrice decimal.Decimal `json:"monthly_price"`
	YearlyPrice  decimal.Decimal `json:"yearly_price"`
	Active       bool            `json:"active"`
}

func main() {
	var (
		databaseURL string
		plansFile   string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&plansFile, "plans-file", "db/seed/plans.json", "path to plans JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, plansFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, plansFile string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedPlans(ctx, postgres.NewPlanRepository(pool), plansFile); err != nil {
		return errors.Wrap(err, "seed plans")
	}

	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

func seedPlans(ctx context.Context, repo *postgres.PlanRepository, plansFile string) error {
	slog.Info("reading plans file", slog.String("path", plansFile))

	data, err := os.ReadFile(plansFile)
	if err != nil {
		return errors.Wrap(err, "read plans file")
	}

	var plans []planJSON
	if err := json.Unmarshal(data, &plans); err != nil {
		return errors.Wrap(err, "parse plans JSON")
	}

	for _, p := range plans {
		if err := repo.Upsert(ctx, &billing.Plan{
			ID:           p.ID,
			Name:         p.Name,
			MonthlyPrice: p.MonthlyPrice,
			YearlyPrice:  p.YearlyPrice,
			Active:       p.Active,
		}); err != nil {
			return err
		}
	}

	slog.Info("plans seeded", slog.Int("count", len(plans)))
	return nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository) error {
	until := time.Now().UTC().AddDate(1, 0, 0)
	demo := []*coupon.Coupon{
		{Code: "WELCOME5", Discount: decimal.RequireFromString("5.00"), Active: true},
		{Code: "LAUNCH10", Discount: decimal.RequireFromString("10.00"), Active: true, ValidUntil: &until},
	}

	for _, c := range demo {
		if err := repo.Upsert(ctx, c); err != nil {
			return err
		}
	}

	slog.Info("coupons seeded", slog.Int("count", len(demo)))
	return nil
}
