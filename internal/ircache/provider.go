package ircache

import (
	"context"
	"fmt"
	"os"

	"specforge/internal/ir"
	"specforge/internal/logging"
)

// Provider is the upstream IR provider: given a requirements document it
// returns the canonical ApplicationIR, optionally bypassing a stale cache.
type Provider interface {
	IR(ctx context.Context, specPath string, forceRefresh bool) (*ir.ApplicationIR, error)
}

// CachingProvider builds IRs from requirements documents and serves repeat
// requests from the cache. A nil cache degrades to building every time.
type CachingProvider struct {
	cache *Cache
}

// NewProvider creates a caching IR provider.
func NewProvider(cache *Cache) *CachingProvider {
	return &CachingProvider{cache: cache}
}

// IR returns the ApplicationIR for the requirements document at specPath.
// forceRefresh bypasses the cache deliberately and overwrites the entry.
func (p *CachingProvider) IR(ctx context.Context, specPath string, forceRefresh bool) (*ir.ApplicationIR, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read requirements: %w", err)
	}
	key := ir.CacheKey(content)

	if p.cache != nil && !forceRefresh {
		if cached := p.cache.Get(key); cached != nil {
			return cached, nil
		}
	}
	if forceRefresh && p.cache != nil {
		p.cache.Invalidate(key)
	}

	app, err := ir.BuildIR(content)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if err := p.cache.Put(key, app); err != nil {
			logging.Get(logging.CategoryCache).Warn("failed to cache IR %s: %v", key, err)
		}
	}
	return app, nil
}
