package auth

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// KeyLookup resolves a view API key to its owner, empty when unknown.
type KeyLookup interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

// KeyValidator checks X-API-Key values for the view API: static keys first,
// then a local cache, then the optional lookup.
type KeyValidator struct {
	staticKeys map[string]bool
	cache      *cache.Cache
	lookup     KeyLookup
}

func NewKeyValidator(keys []string, lookup KeyLookup, ttl time.Duration) *KeyValidator {
	staticKeys := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k != "" {
			staticKeys[k] = true
		}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &KeyValidator{
		staticKeys: staticKeys,
		cache:      cache.New(ttl, 2*ttl),
		lookup:     lookup,
	}
}

// Enabled reports whether any key source is configured. With none, the view
// API is open.
func (v *KeyValidator) Enabled() bool {
	return len(v.staticKeys) > 0 || v.lookup != nil
}

func (v *KeyValidator) Validate(ctx context.Context, apiKey string) bool {
	if apiKey == "" {
		return false
	}
	if v.staticKeys[apiKey] {
		return true
	}
	if _, ok := v.cache.Get(apiKey); ok {
		return true
	}
	if v.lookup == nil {
		return false
	}

	owner, err := v.lookup.GetAPIKey(ctx, apiKey)
	if err != nil || owner == "" {
		return false
	}
	v.cache.SetDefault(apiKey, owner)
	return true
}
