// Package pricing holds the in-memory model pricing snapshot.
//
// The cache is process-wide mutable state replaced wholesale on reload: a
// copy-on-write map behind an atomic pointer, never mutated in place.
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Source supplies the active pricing version's rows.
type Source interface {
	ActivePricing(ctx context.Context) (version string, multipliers map[string]float64, err error)
}

type snapshot struct {
	version     string
	multipliers map[string]float64
}

// Cache maps model alias to credit multiplier for the active pricing version.
type Cache struct {
	current atomic.Pointer[snapshot]
	source  Source
}

// NewCache creates an empty cache (multiplier 1.0 for every alias) bound to
// the given source. Call Reload to populate it.
func NewCache(source Source) *Cache {
	c := &Cache{source: source}
	c.current.Store(&snapshot{version: "", multipliers: map[string]float64{}})
	return c
}

// NewStaticCache creates a cache with fixed multipliers; used in tests and
// when no pricing store is configured.
func NewStaticCache(version string, multipliers map[string]float64) *Cache {
	c := &Cache{}
	copied := make(map[string]float64, len(multipliers))
	for k, v := range multipliers {
		copied[k] = v
	}
	c.current.Store(&snapshot{version: version, multipliers: copied})
	return c
}

// Multiplier returns the multiplier for a model alias, 1.0 when unknown.
func (c *Cache) Multiplier(alias string) float64 {
	snap := c.current.Load()
	if m, ok := snap.multipliers[alias]; ok {
		return m
	}
	return 1.0
}

// Version returns the active pricing version label.
func (c *Cache) Version() string {
	return c.current.Load().version
}

// Reload swaps in a fresh snapshot from the source. Readers are never
// blocked; a failed reload leaves the previous snapshot in place.
func (c *Cache) Reload(ctx context.Context) error {
	if c.source == nil {
		return fmt.Errorf("pricing cache has no source")
	}

	version, multipliers, err := c.source.ActivePricing(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active pricing: %w", err)
	}

	copied := make(map[string]float64, len(multipliers))
	for k, v := range multipliers {
		copied[k] = v
	}

	c.current.Store(&snapshot{version: version, multipliers: copied})
	slog.Info("pricing cache reloaded", "version", version, "models", len(copied))
	return nil
}
