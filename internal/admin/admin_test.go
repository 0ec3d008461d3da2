package admin

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"socialboost/internal/apperr"
	"socialboost/internal/ledger"
	"socialboost/internal/logging"
	"socialboost/internal/repo"
	"socialboost/migrations"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newTestAdmin(t *testing.T) (*Service, *repo.SQLiteRepository, *ledger.Service) {
	t.Helper()
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "admin.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	led := ledger.New(store, logging.Discard(), nil, ledger.Config{SignupBonus: decimal.NewFromInt(35)})
	return New(store, led, logging.Discard()), store, led
}

func TestStats(t *testing.T) {
	svc, store, led := newTestAdmin(t)
	ctx := context.Background()

	acct, err := led.OpenAccount(ctx, repo.Account{})
	if err != nil {
		t.Fatalf("open account: %v", err)
	}
	if _, err := led.OpenAccount(ctx, repo.Account{}); err != nil {
		t.Fatalf("open account: %v", err)
	}
	service, err := store.UpsertService(ctx, repo.Service{Platform: "instagram", Name: "Seguidores", PricePer1000Minor: 10000, MinQuantity: 1, MaxQuantity: 1000, DailyLimit: 1000, IsActive: true})
	if err != nil {
		t.Fatalf("upsert service: %v", err)
	}
	for _, o := range []struct {
		status string
		total  int64
	}{{repo.OrderPending, 500}, {repo.OrderPending, 700}, {repo.OrderCompleted, 1250}, {repo.OrderCancelled, 900}} {
		if _, err := store.InsertOrder(ctx, repo.Order{ID: uuid.NewString(), AccountID: acct.ID, ServiceID: service.ID, Quantity: 10, Link: "https://x", TotalPriceMinor: o.total, Status: o.status}); err != nil {
			t.Fatalf("insert order: %v", err)
		}
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Accounts != 2 || stats.Orders != 4 || stats.PendingOrders != 2 {
		t.Fatalf("unexpected counts %+v", stats)
	}
	if !stats.Revenue.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("revenue must count completed orders only, got %s", stats.Revenue)
	}
}

func TestSetBlocked(t *testing.T) {
	svc, _, led := newTestAdmin(t)
	ctx := context.Background()
	acct, err := led.OpenAccount(ctx, repo.Account{})
	if err != nil {
		t.Fatalf("open account: %v", err)
	}

	if err := svc.SetBlocked(ctx, acct.ID, true); err != nil {
		t.Fatalf("block: %v", err)
	}
	got, _ := led.GetAccount(ctx, acct.ID)
	if !got.IsBlocked {
		t.Fatal("expected account to be blocked")
	}
	if err := svc.SetBlocked(ctx, uuid.NewString(), true); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAdjust(t *testing.T) {
	svc, _, led := newTestAdmin(t)
	ctx := context.Background()
	acct, err := led.OpenAccount(ctx, repo.Account{})
	if err != nil {
		t.Fatalf("open account: %v", err)
	}

	res, err := svc.Adjust(ctx, acct.ID, decimal.NewFromInt(-10), "  correção de teste ")
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if !res.NewBalance.Equal(decimal.NewFromInt(25)) || res.Transaction.Description != "correção de teste" {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := svc.Adjust(ctx, acct.ID, decimal.Zero, ""); err == nil {
		t.Fatal("zero adjustment must be rejected")
	} else if _, ok := apperr.AsValidation(err); !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.Adjust(ctx, acct.ID, decimal.NewFromInt(-100), ""); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}
