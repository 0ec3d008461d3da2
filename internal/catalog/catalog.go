package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"socialboost/internal/apperr"
	"socialboost/internal/cache"
	"socialboost/internal/money"
	"socialboost/internal/repo"

	"github.com/shopspring/decimal"
)

const (
	activeCacheKey   = "catalog:services:active"
	defaultCacheTTL  = 5 * time.Minute
	defaultListLimit = 100
)

// ErrServiceNotFound is returned for unknown service ids.
var ErrServiceNotFound = errors.New("service not found")

// Store is the catalog persistence.
type Store interface {
	UpsertService(ctx context.Context, svc repo.Service) (*repo.Service, error)
	GetService(ctx context.Context, id string) (*repo.Service, error)
	ListActiveServices(ctx context.Context) ([]repo.Service, error)
}

// Service is the API view of a catalog entry.
type Service struct {
	ID            string          `json:"id"`
	Platform      string          `json:"platform"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	PricePer1000  decimal.Decimal `json:"pricePer1000"`
	MinQuantity   int64           `json:"minQuantity"`
	MaxQuantity   int64           `json:"maxQuantity"`
	DailyLimit    int64           `json:"dailyLimit"`
	EstimatedTime string          `json:"estimatedTime,omitempty"`
	IsActive      bool            `json:"isActive"`
}

// Catalog serves the active service list from Redis, falling back to the store.
type Catalog struct {
	store  Store
	cache  *cache.Redis
	logger *slog.Logger
	ttl    time.Duration
}

// New builds the catalog. redis may be nil.
func New(store Store, redis *cache.Redis, logger *slog.Logger) *Catalog {
	return &Catalog{
		store:  store,
		cache:  redis,
		logger: logger.With("component", "catalog"),
		ttl:    defaultCacheTTL,
	}
}

// Active returns every active service, cached.
func (c *Catalog) Active(ctx context.Context) ([]Service, error) {
	var cached []Service
	ok, err := c.cache.GetJSON(ctx, activeCacheKey, &cached)
	if err != nil {
		c.logger.Warn("read catalog cache failed", "error", err)
	} else if ok {
		return cached, nil
	}
	return c.load(ctx)
}

// List filters the active services by platform and free text query.
func (c *Catalog) List(ctx context.Context, f Filter) ([]Service, error) {
	items, err := c.Active(ctx)
	if err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	return filterServices(items, f), nil
}

// Get reads a service straight from the store, bypassing the cache.
func (c *Catalog) Get(ctx context.Context, id string) (*Service, error) {
	svc, err := c.store.GetService(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrServiceNotFound
		}
		return nil, fmt.Errorf("get service: %w", err)
	}
	out := fromRepo(*svc)
	return &out, nil
}

// Upsert validates and stores a service, then drops the cached list.
func (c *Catalog) Upsert(ctx context.Context, in Service) (*Service, error) {
	row, err := toRepo(in)
	if err != nil {
		return nil, err
	}
	saved, err := c.store.UpsertService(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("upsert service: %w", err)
	}
	c.invalidate(ctx)
	c.logger.Info("service saved", "service_id", saved.ID, "platform", saved.Platform, "active", saved.IsActive)
	out := fromRepo(*saved)
	return &out, nil
}

// Reload drops the cached list and repopulates it from the store.
func (c *Catalog) Reload(ctx context.Context) (int, error) {
	c.invalidate(ctx)
	items, err := c.load(ctx)
	if err != nil {
		return 0, err
	}
	c.logger.Info("catalog cache reloaded", "services", len(items))
	return len(items), nil
}

func (c *Catalog) load(ctx context.Context) ([]Service, error) {
	rows, err := c.store.ListActiveServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	items := make([]Service, 0, len(rows))
	for _, row := range rows {
		items = append(items, fromRepo(row))
	}
	if err := c.cache.SetJSON(ctx, activeCacheKey, items, c.ttl); err != nil {
		c.logger.Warn("set catalog cache failed", "error", err)
	}
	return items, nil
}

func (c *Catalog) invalidate(ctx context.Context) {
	if err := c.cache.Delete(ctx, activeCacheKey); err != nil {
		c.logger.Warn("invalidate catalog cache failed", "error", err)
	}
}

func toRepo(in Service) (repo.Service, error) {
	name := strings.TrimSpace(in.Name)
	platform := strings.ToLower(strings.TrimSpace(in.Platform))
	switch {
	case name == "":
		return repo.Service{}, apperr.Validation("name", "nome do serviço é obrigatório")
	case platform == "":
		return repo.Service{}, apperr.Validation("platform", "plataforma é obrigatória")
	case !in.PricePer1000.IsPositive():
		return repo.Service{}, apperr.Validation("pricePer1000", "o preço por 1000 deve ser positivo")
	case !money.InRange(in.PricePer1000):
		return repo.Service{}, apperr.Validation("pricePer1000", "o preço por 1000 excede o máximo de "+money.Format(money.MaxAmount))
	case in.MinQuantity < 1:
		return repo.Service{}, apperr.Validation("minQuantity", "quantidade mínima deve ser pelo menos 1")
	case in.MaxQuantity < in.MinQuantity:
		return repo.Service{}, apperr.Validation("maxQuantity", "quantidade máxima não pode ser inferior à mínima")
	}
	daily := in.DailyLimit
	if daily <= 0 {
		daily = in.MaxQuantity
	}
	return repo.Service{
		ID:                in.ID,
		Platform:          platform,
		Name:              name,
		Description:       optional(in.Description),
		PricePer1000Minor: money.ToMinor(in.PricePer1000),
		MinQuantity:       in.MinQuantity,
		MaxQuantity:       in.MaxQuantity,
		DailyLimit:        daily,
		EstimatedTime:     optional(in.EstimatedTime),
		IsActive:          in.IsActive,
	}, nil
}

func fromRepo(s repo.Service) Service {
	out := Service{
		ID:           s.ID,
		Platform:     s.Platform,
		Name:         s.Name,
		PricePer1000: money.FromMinor(s.PricePer1000Minor),
		MinQuantity:  s.MinQuantity,
		MaxQuantity:  s.MaxQuantity,
		DailyLimit:   s.DailyLimit,
		IsActive:     s.IsActive,
	}
	if s.Description != nil {
		out.Description = *s.Description
	}
	if s.EstimatedTime != nil {
		out.EstimatedTime = *s.EstimatedTime
	}
	return out
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
