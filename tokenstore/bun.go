package tokenstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	auth "github.com/merkos-302/chabaduniverse-auth-sub000"
)

const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
)

type tokenRecord struct {
	bun.BaseModel `bun:"table:auth_tokens,alias:tok"`

	Key       string    `bun:"key,pk"`
	Value     string    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// Bun is a durable TokenStore backed by a Bun database, usually SQLite on
// the client. Persisted values outlive the process; reconciling them with
// in-memory state on startup is the Manager's job, not the store's.
type Bun struct {
	db  *bun.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) a SQLite database suitable for NewBun.
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, err
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// NewBun creates the backing table when missing and returns the store.
func NewBun(ctx context.Context, db *bun.DB) (*Bun, error) {
	if _, err := db.NewCreateTable().
		Model((*tokenRecord)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return nil, err
	}
	return &Bun{db: db, now: time.Now}, nil
}

var _ auth.TokenStore = (*Bun)(nil)

func (b *Bun) GetToken(ctx context.Context) (string, error) {
	return b.get(ctx, keyAccessToken)
}

func (b *Bun) SetToken(ctx context.Context, token string) error {
	return b.set(ctx, keyAccessToken, token)
}

func (b *Bun) RemoveToken(ctx context.Context) error {
	return b.remove(ctx, keyAccessToken)
}

func (b *Bun) GetRefreshToken(ctx context.Context) (string, error) {
	return b.get(ctx, keyRefreshToken)
}

func (b *Bun) SetRefreshToken(ctx context.Context, token string) error {
	return b.set(ctx, keyRefreshToken, token)
}

func (b *Bun) RemoveRefreshToken(ctx context.Context) error {
	return b.remove(ctx, keyRefreshToken)
}

func (b *Bun) get(ctx context.Context, key string) (string, error) {
	rec := new(tokenRecord)
	err := b.db.NewSelect().
		Model(rec).
		Where("key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rec.Value, nil
}

func (b *Bun) set(ctx context.Context, key, value string) error {
	rec := &tokenRecord{
		Key:       key,
		Value:     value,
		UpdatedAt: b.now(),
	}
	_, err := b.db.NewInsert().
		Model(rec).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (b *Bun) remove(ctx context.Context, key string) error {
	_, err := b.db.NewDelete().
		Model((*tokenRecord)(nil)).
		Where("key = ?", key).
		Exec(ctx)
	return err
}

type identityRecord struct {
	bun.BaseModel `bun:"table:secondary_identities,alias:sid"`

	Key       string    `bun:"key,pk"`
	Payload   string    `bun:"payload,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
}

// BunIdentityCache is the durable variant of the secondary identity cache,
// sharing a database with the Bun token store. Expired and corrupted entries
// read as absent and are deleted in place.
type BunIdentityCache struct {
	db  *bun.DB
	ttl time.Duration
	now func() time.Time
}

// NewBunIdentityCache creates the backing table when missing.
func NewBunIdentityCache(ctx context.Context, db *bun.DB, ttl time.Duration) (*BunIdentityCache, error) {
	if _, err := db.NewCreateTable().
		Model((*identityRecord)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return nil, err
	}
	return &BunIdentityCache{db: db, ttl: ttl, now: time.Now}, nil
}

var _ auth.IdentityCache = (*BunIdentityCache)(nil)

func (c *BunIdentityCache) Get(ctx context.Context, key string) (*auth.SecondaryIdentity, error) {
	rec := new(identityRecord)
	err := c.db.NewSelect().
		Model(rec).
		Where("key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if !rec.ExpiresAt.After(c.now()) {
		_ = c.Remove(ctx, key)
		return nil, nil
	}

	identity := new(auth.SecondaryIdentity)
	if err := json.Unmarshal([]byte(rec.Payload), identity); err != nil {
		// Corrupted entries are dropped, never surfaced.
		_ = c.Remove(ctx, key)
		return nil, nil
	}
	return identity, nil
}

func (c *BunIdentityCache) Put(ctx context.Context, key string, identity auth.SecondaryIdentity) error {
	payload, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	rec := &identityRecord{
		Key:       key,
		Payload:   string(payload),
		ExpiresAt: c.now().Add(c.ttl),
	}
	_, err = c.db.NewInsert().
		Model(rec).
		On("CONFLICT (key) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	return err
}

func (c *BunIdentityCache) Remove(ctx context.Context, key string) error {
	_, err := c.db.NewDelete().
		Model((*identityRecord)(nil)).
		Where("key = ?", key).
		Exec(ctx)
	return err
}
