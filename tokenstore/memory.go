// Package tokenstore provides the TokenStore implementations the SDK ships
// with: a volatile in-memory store and a durable Bun/SQLite-backed store,
// plus the durable variant of the secondary identity cache.
package tokenstore

import (
	"context"
	"sync"

	auth "github.com/merkos-302/chabaduniverse-auth-sub000"
)

// Memory is a volatile TokenStore. Values live for the process lifetime and
// every operation is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	token   string
	refresh string
}

// NewMemory returns an empty volatile store.
func NewMemory() *Memory {
	return &Memory{}
}

var _ auth.TokenStore = (*Memory)(nil)

func (m *Memory) GetToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, nil
}

func (m *Memory) SetToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *Memory) RemoveToken(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

func (m *Memory) GetRefreshToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refresh, nil
}

func (m *Memory) SetRefreshToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh = token
	return nil
}

func (m *Memory) RemoveRefreshToken(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh = ""
	return nil
}
