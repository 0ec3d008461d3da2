// Package admin implements the operator dashboard actions.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"socialboost/internal/ledger"
	"socialboost/internal/money"
	"socialboost/internal/repo"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Store is the read side of the dashboard plus the block flag.
type Store interface {
	CountAccounts(ctx context.Context) (int64, error)
	CountOrders(ctx context.Context, status string) (int64, error)
	SumOrderRevenue(ctx context.Context, status string) (int64, error)
	SetAccountBlocked(ctx context.Context, id string, blocked bool) error
}

// Ledger is the subset of the ledger used for manual adjustments.
type Ledger interface {
	GetAccount(ctx context.Context, accountID string) (*repo.Account, error)
	Adjust(ctx context.Context, accountID string, amount decimal.Decimal, description string) (ledger.Result, error)
}

// Stats is the dashboard summary.
type Stats struct {
	Accounts      int64           `json:"totalUsers"`
	Orders        int64           `json:"totalOrders"`
	PendingOrders int64           `json:"pendingOrders"`
	Revenue       decimal.Decimal `json:"totalRevenue"`
}

// Service runs admin actions.
type Service struct {
	store  Store
	ledger Ledger
	logger *slog.Logger
}

func New(store Store, l Ledger, logger *slog.Logger) *Service {
	return &Service{store: store, ledger: l, logger: logger.With("component", "admin")}
}

// Stats runs the four dashboard queries concurrently. Revenue counts completed orders only.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var counts repo.DashboardCounts
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		counts.Accounts, err = s.store.CountAccounts(gctx)
		return err
	})
	g.Go(func() (err error) {
		counts.Orders, err = s.store.CountOrders(gctx, "")
		return err
	})
	g.Go(func() (err error) {
		counts.PendingOrders, err = s.store.CountOrders(gctx, repo.OrderPending)
		return err
	})
	g.Go(func() (err error) {
		counts.RevenueMinor, err = s.store.SumOrderRevenue(gctx, repo.OrderCompleted)
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, fmt.Errorf("load dashboard stats: %w", err)
	}
	return Stats{
		Accounts:      counts.Accounts,
		Orders:        counts.Orders,
		PendingOrders: counts.PendingOrders,
		Revenue:       money.FromMinor(counts.RevenueMinor),
	}, nil
}

// SetBlocked toggles the block flag. Blocked accounts cannot place orders.
func (s *Service) SetBlocked(ctx context.Context, accountID string, blocked bool) error {
	if _, err := s.ledger.GetAccount(ctx, accountID); err != nil {
		return err
	}
	if err := s.store.SetAccountBlocked(ctx, accountID, blocked); err != nil {
		return fmt.Errorf("set account blocked: %w", err)
	}
	s.logger.Info("account block flag changed", "account_id", accountID, "blocked", blocked)
	return nil
}

// Adjust credits (positive) or debits (negative) the account with a manual entry.
func (s *Service) Adjust(ctx context.Context, accountID string, amount decimal.Decimal, description string) (ledger.Result, error) {
	res, err := s.ledger.Adjust(ctx, accountID, amount, strings.TrimSpace(description))
	if err != nil {
		return ledger.Result{}, err
	}
	s.logger.Info("manual balance adjustment",
		"account_id", accountID,
		"amount", amount.StringFixed(2),
		"transaction_id", res.Transaction.ID,
		"balance", res.NewBalance.StringFixed(2),
	)
	return res, nil
}
