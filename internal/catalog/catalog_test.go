package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"socialboost/internal/apperr"
	"socialboost/internal/logging"
	"socialboost/internal/repo"
	"socialboost/migrations"

	"github.com/shopspring/decimal"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "catalog.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(store, nil, logging.Discard())
}

func TestFilterByQueryPrefersName(t *testing.T) {
	items := []Service{
		{ID: "a", Platform: "instagram", Name: "Seguidores Instagram", PricePer1000: decimal.NewFromInt(100)},
		{ID: "b", Platform: "instagram", Name: "Gostos Instagram", PricePer1000: decimal.NewFromInt(50)},
		{ID: "c", Platform: "tiktok", Name: "Seguidores TikTok", PricePer1000: decimal.NewFromInt(80)},
	}

	matches := filterServices(items, Filter{Query: "seguidores instagram"})
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	if matches[0].ID != "a" {
		t.Fatalf("expected a first, got %s", matches[0].ID)
	}

	onlyTikTok := filterServices(items, Filter{Platform: "TikTok", Query: "seguidores"})
	if len(onlyTikTok) != 1 || onlyTikTok[0].ID != "c" {
		t.Fatalf("platform filter failed: %+v", onlyTikTok)
	}
}

func TestFilterWithoutQuerySortsByPlatformThenPrice(t *testing.T) {
	items := []Service{
		{ID: "t", Platform: "tiktok", PricePer1000: decimal.NewFromInt(10)},
		{ID: "i2", Platform: "instagram", PricePer1000: decimal.NewFromInt(90)},
		{ID: "i1", Platform: "instagram", PricePer1000: decimal.NewFromInt(20)},
	}
	res := filterServices(items, Filter{Limit: 2})
	if len(res) != 2 || res[0].ID != "i1" || res[1].ID != "i2" {
		t.Fatalf("unexpected order %+v", res)
	}
}

func TestUpsertValidatesAndListsActive(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	_, err := cat.Upsert(ctx, Service{Name: "X", Platform: "instagram", PricePer1000: decimal.NewFromInt(10), MinQuantity: 100, MaxQuantity: 50})
	if _, ok := apperr.AsValidation(err); !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = cat.Upsert(ctx, Service{Name: "X", Platform: "instagram", PricePer1000: decimal.RequireFromString("1000000000.01"), MinQuantity: 1, MaxQuantity: 10})
	if _, ok := apperr.AsValidation(err); !ok {
		t.Fatalf("expected validation error for oversized price, got %v", err)
	}

	active, err := cat.Upsert(ctx, Service{Name: "Seguidores", Platform: "Instagram", PricePer1000: decimal.RequireFromString("100.50"), MinQuantity: 100, MaxQuantity: 10000, IsActive: true})
	if err != nil {
		t.Fatalf("upsert active: %v", err)
	}
	if active.Platform != "instagram" || !active.PricePer1000.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("unexpected stored service %+v", active)
	}
	if _, err := cat.Upsert(ctx, Service{Name: "Inactivo", Platform: "tiktok", PricePer1000: decimal.NewFromInt(10), MinQuantity: 1, MaxQuantity: 10}); err != nil {
		t.Fatalf("upsert inactive: %v", err)
	}

	list, err := cat.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != active.ID {
		t.Fatalf("expected only the active service, got %+v", list)
	}

	got, err := cat.Get(ctx, active.ID)
	if err != nil || got.Name != "Seguidores" {
		t.Fatalf("get: %+v %v", got, err)
	}
	if _, err := cat.Get(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}

	n, err := cat.Reload(ctx)
	if err != nil || n != 1 {
		t.Fatalf("reload: %d %v", n, err)
	}
}
