package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"socialboost/internal/logging"
	"socialboost/migrations"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestPostgresLedgerIntegration runs the ledger queries against a real Postgres.
func TestPostgresLedgerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, dbURL := startPostgresContainer(t, ctx)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}()

	r, err := New(ctx, dbURL, "public", logging.Discard())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer r.Close()

	if err := r.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Migrations must be re-runnable on every boot.
	if err := r.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate twice: %v", err)
	}

	acct, err := r.InsertAccount(ctx, Account{DisplayName: strPtr("Bruno")})
	if err != nil {
		t.Fatalf("insert account: %v", err)
	}
	if _, _, err := r.ApplyLedgerEntry(ctx, LedgerEntry{AccountID: acct.ID, AmountMinor: 15000, Type: TxDeposit}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := r.ApplyLedgerEntry(ctx, LedgerEntry{AccountID: acct.ID, AmountMinor: -10000, Type: TxOrderPayment})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInsufficientFunds):
				failures++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || failures != 1 {
		t.Fatalf("expected one success and one failure, got %d/%d", successes, failures)
	}

	got, err := r.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	sum, err := r.SumWalletTransactions(ctx, acct.ID)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if got.BalanceMinor != sum || sum != 5000 {
		t.Fatalf("balance %d does not match sum %d", got.BalanceMinor, sum)
	}

	order := seedOrder(t, r, acct.ID)
	cancel := LedgerEntry{
		AccountID:   acct.ID,
		AmountMinor: order.TotalPriceMinor,
		Type:        TxRefund,
		OrderRef:    &order.ID,
		Transition:  &OrderTransition{OrderID: order.ID, From: []string{OrderPending, OrderProcessing}, To: OrderCancelled},
	}
	if _, _, err := r.ApplyLedgerEntry(ctx, cancel); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, _, err := r.ApplyLedgerEntry(ctx, cancel); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on repeated cancel, got %v", err)
	}

	if _, err := r.GetAccount(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
	}
}

func startPostgresContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get postgres host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get postgres port: %v", err)
	}

	return container, fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())
}
