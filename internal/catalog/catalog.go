// Package catalog provides read-mostly cached reference data: the services
// and stylists a booking can be composed from. The cache is shared across
// conversations and refreshed on a bounded interval.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Service is one bookable salon service.
type Service struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DurationMin int    `json:"duration_min"`
	PriceCents  int    `json:"price_cents"`
}

// Stylist is one bookable staff member.
type Stylist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Source loads the reference data from wherever it lives.
type Source interface {
	Load(ctx context.Context) ([]Service, []Stylist, error)
}

// Catalog caches services and stylists behind a read-write lock.
type Catalog struct {
	mu       sync.RWMutex
	services []Service
	stylists []Stylist
	source   Source
}

// New creates a catalog and performs the initial load.
func New(ctx context.Context, source Source) (*Catalog, error) {
	c := &Catalog{source: source}
	if err := c.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("initial catalog load failed: %w", err)
	}
	return c, nil
}

// Refresh reloads the cache from the source. On failure the previous cache
// stays in place.
func (c *Catalog) Refresh(ctx context.Context) error {
	services, stylists, err := c.source.Load(ctx)
	if err != nil {
		slog.Error("catalog.Refresh failed, keeping previous data", "error", err)
		return err
	}
	c.mu.Lock()
	c.services = services
	c.stylists = stylists
	c.mu.Unlock()
	slog.Debug("catalog.Refresh succeeded", "services", len(services), "stylists", len(stylists))
	return nil
}

// StartRefresh refreshes the cache on the given interval until ctx is done.
func (c *Catalog) StartRefresh(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					slog.Warn("catalog periodic refresh failed", "error", err)
				}
			}
		}
	}()
}

// Services returns a copy of the cached services.
func (c *Catalog) Services() []Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Service, len(c.services))
	copy(out, c.services)
	return out
}

// Stylists returns a copy of the cached stylists.
func (c *Catalog) Stylists() []Stylist {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Stylist, len(c.stylists))
	copy(out, c.stylists)
	return out
}

// ServiceByID looks up a service by identifier.
func (c *Catalog) ServiceByID(id string) (Service, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.services {
		if s.ID == id {
			return s, true
		}
	}
	return Service{}, false
}

// StylistByID looks up a stylist by identifier.
func (c *Catalog) StylistByID(id string) (Stylist, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.stylists {
		if s.ID == id {
			return s, true
		}
	}
	return Stylist{}, false
}

// ServiceByName finds a service by case-insensitive name containment.
func (c *Catalog) ServiceByName(name string) (Service, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return Service{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.services {
		if strings.Contains(strings.ToLower(s.Name), needle) {
			return s, true
		}
	}
	return Service{}, false
}

// StylistByName finds a stylist by case-insensitive name containment.
func (c *Catalog) StylistByName(name string) (Stylist, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return Stylist{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.stylists {
		if strings.Contains(strings.ToLower(s.Name), needle) {
			return s, true
		}
	}
	return Stylist{}, false
}

// TotalDurationMin sums the duration of the given service identifiers.
// Unknown identifiers are skipped.
func (c *Catalog) TotalDurationMin(serviceIDs []string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, id := range serviceIDs {
		for _, s := range c.services {
			if s.ID == id {
				total += s.DurationMin
				break
			}
		}
	}
	return total
}

// StaticSource serves a fixed in-process catalog. Used for development and
// as the default until a database-backed source is wired in.
type StaticSource struct {
	ServiceList []Service
	StylistList []Stylist
}

// Load returns the static lists.
func (s StaticSource) Load(ctx context.Context) ([]Service, []Stylist, error) {
	return s.ServiceList, s.StylistList, nil
}

// DefaultSource returns the built-in salon catalog.
func DefaultSource() StaticSource {
	return StaticSource{
		ServiceList: []Service{
			{ID: "svc-cut", Name: "Corte de pelo", DurationMin: 45, PriceCents: 2500},
			{ID: "svc-color", Name: "Coloración", DurationMin: 90, PriceCents: 6500},
			{ID: "svc-highlights", Name: "Mechas", DurationMin: 120, PriceCents: 8500},
			{ID: "svc-blowdry", Name: "Peinado", DurationMin: 30, PriceCents: 2000},
			{ID: "svc-treatment", Name: "Tratamiento capilar", DurationMin: 60, PriceCents: 4000},
		},
		StylistList: []Stylist{
			{ID: "sty-maria", Name: "María"},
			{ID: "sty-carmen", Name: "Carmen"},
			{ID: "sty-lucia", Name: "Lucía"},
		},
	}
}
