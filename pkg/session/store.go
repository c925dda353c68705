// Package session maps session tokens to the sender awaiting a reply.
package session

import (
	"context"
	"fmt"
	"time"

	"chatrelay/pkg/config"
)

// Store holds session token -> sender entries with bounded capacity and a TTL.
type Store interface {
	// Put records sender for token, evicting the oldest entry when full.
	Put(ctx context.Context, token string, sender string) error
	// Take returns and removes the sender stored for token.
	Take(ctx context.Context, token string) (string, bool, error)
	// Len reports the number of live entries.
	Len(ctx context.Context) (int, error)
	Close() error
}

// Open builds the store selected by cfg.Backend.
func Open(cfg config.SessionsConfig) (Store, error) {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second

	switch cfg.Backend {
	case "", config.SessionBackendMemory:
		return NewMemoryStore(cfg.Capacity, ttl), nil
	case config.SessionBackendBadger:
		store, err := OpenBadgerStore(cfg.Path, cfg.Capacity, ttl)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported session backend %q", cfg.Backend)
	}
}
