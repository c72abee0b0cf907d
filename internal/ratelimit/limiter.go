package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// RateLimiter bounds how often calls for a given key (an operation type) may start.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// Limits holds calls-per-second budgets. PerKey overrides Default for the
// keys it names; keys are compared lower-cased.
type Limits struct {
	Default int
	PerKey  map[string]int
}

// For returns the budget that applies to key.
func (l Limits) For(key string) int {
	if limit, ok := l.PerKey[NormalizeKey(key)]; ok {
		return limit
	}
	return l.Default
}

func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// ParseOverrides reads a "key=limit,key=limit" list. Empty input yields nil.
func ParseOverrides(raw string) (map[string]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	out := make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		key = NormalizeKey(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid rate limit override %q", pair)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("invalid rate limit for %q: %q", key, value)
		}
		out[key] = limit
	}
	return out, nil
}
