package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"booking-inbox/client/shared/redis"
)

// Persister keeps the identity across process restarts
type Persister interface {
	Load(ctx context.Context) (Identity, bool, error)
	Save(ctx context.Context, identity Identity) error
	Clear(ctx context.Context) error
}

// MemoryPersister keeps the identity in memory only
type MemoryPersister struct {
	mu       sync.Mutex
	identity *Identity
}

// NewMemoryPersister creates an empty in-memory persister
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

func (p *MemoryPersister) Load(_ context.Context) (Identity, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.identity == nil {
		return Identity{}, false, nil
	}
	return *p.identity, true, nil
}

func (p *MemoryPersister) Save(_ context.Context, identity Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity = &identity
	return nil
}

func (p *MemoryPersister) Clear(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity = nil
	return nil
}

// FilePersister stores the identity as JSON in a user-private file
type FilePersister struct {
	path string
	mu   sync.Mutex
}

// NewFilePersister creates a persister writing to path
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

func (p *FilePersister) Load(_ context.Context) (Identity, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, fmt.Errorf("read session file: %w", err)
	}

	var identity Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return Identity{}, false, fmt.Errorf("decode session file: %w", err)
	}
	return identity, true, nil
}

func (p *FilePersister) Save(_ context.Context, identity Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return os.Rename(tmp, p.path)
}

func (p *FilePersister) Clear(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := os.Remove(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// KeyValue is the part of the redis client the persister needs
type KeyValue interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, key string) error
}

var _ KeyValue = (*redis.Client)(nil)

// RedisPersister stores the identity under one redis key that expires with the token
type RedisPersister struct {
	client KeyValue
	key    string
}

// NewRedisPersister creates a redis-backed persister
func NewRedisPersister(client KeyValue, key string) *RedisPersister {
	return &RedisPersister{client: client, key: key}
}

func (p *RedisPersister) Load(ctx context.Context) (Identity, bool, error) {
	raw, err := p.client.Get(ctx, p.key)
	if errors.Is(err, redis.ErrNil) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, fmt.Errorf("load session from redis: %w", err)
	}

	var identity Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return Identity{}, false, fmt.Errorf("decode session from redis: %w", err)
	}
	return identity, true, nil
}

func (p *RedisPersister) Save(ctx context.Context, identity Identity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return err
	}

	var ttl time.Duration
	if !identity.ExpiresAt.IsZero() {
		ttl = time.Until(identity.ExpiresAt)
		if ttl <= 0 {
			return ErrTokenExpired
		}
	}
	return p.client.Set(ctx, p.key, data, ttl)
}

func (p *RedisPersister) Clear(ctx context.Context) error {
	return p.client.Del(ctx, p.key)
}
