package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/pkg/model"
)

// ErrNotFound is returned when a key has no cached value.
var ErrNotFound = errors.New("store: not found")

const (
	sessionKey     = "wikifolio:session"
	priceKeyPrefix = "wikifolio:price:"
)

// Store defines the contract for the adapter's cache and database handles.
type Store interface {
	LoadSession(ctx context.Context) (string, time.Time, bool, error)
	SaveSession(ctx context.Context, cookie string, expiresAt time.Time) error
	ClearSession(ctx context.Context) error
	SavePriceSnapshot(ctx context.Context, price model.PriceEvent, ttl time.Duration) error
	GetPriceSnapshot(ctx context.Context, symbol string) (*model.PriceEvent, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	HealthCheck(ctx context.Context) error
	Close() error
}

type HybridStore struct {
	redis  *redis.Client
	PG     *pgxpool.Pool
	logger *zap.Logger
}

var _ Store = (*HybridStore)(nil)

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid creates a Redis-first store. The Postgres pool is optional and
// only opened when pgURL is set; it backs the order journal.
func NewHybrid(redisAddr string, redisDB int, redisPass, pgURL string, pgPoolConfig PGPoolConfig, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		DB:       redisDB,
		Password: redisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &HybridStore{redis: rdb, PG: pgPool, logger: logger}, nil
}

// NewFromClient wraps an existing redis client, without Postgres.
func NewFromClient(rdb *redis.Client, logger *zap.Logger) *HybridStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridStore{redis: rdb, logger: logger}
}

type sessionRecord struct {
	Cookie    string    `json:"cookie"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoadSession returns the persisted session cookie. ok is false when nothing
// is stored or the stored session has already expired.
func (s *HybridStore) LoadSession(ctx context.Context) (string, time.Time, bool, error) {
	var rec sessionRecord
	if err := s.GetJSON(ctx, sessionKey, &rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", time.Time{}, false, nil
		}
		return "", time.Time{}, false, err
	}
	if rec.Cookie == "" || !time.Now().Before(rec.ExpiresAt) {
		return "", time.Time{}, false, nil
	}
	return rec.Cookie, rec.ExpiresAt, true, nil
}

// SaveSession persists the cookie until it expires.
func (s *HybridStore) SaveSession(ctx context.Context, cookie string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return s.ClearSession(ctx)
	}
	if err := s.SetJSON(ctx, sessionKey, sessionRecord{Cookie: cookie, ExpiresAt: expiresAt.UTC()}, ttl); err != nil {
		s.logger.Error("store.session_save_failed", zap.Error(err))
		return err
	}
	return nil
}

// ClearSession drops the persisted session.
func (s *HybridStore) ClearSession(ctx context.Context) error {
	return s.redis.Del(ctx, sessionKey).Err()
}

// SavePriceSnapshot caches the latest price of a wikifolio by symbol.
func (s *HybridStore) SavePriceSnapshot(ctx context.Context, price model.PriceEvent, ttl time.Duration) error {
	if price.Symbol == "" {
		return fmt.Errorf("price snapshot without symbol")
	}
	return s.SetJSON(ctx, priceKeyPrefix+price.Symbol, price, ttl)
}

// GetPriceSnapshot returns the cached price, or ErrNotFound.
func (s *HybridStore) GetPriceSnapshot(ctx context.Context, symbol string) (*model.PriceEvent, error) {
	var price model.PriceEvent
	if err := s.GetJSON(ctx, priceKeyPrefix+symbol, &price); err != nil {
		return nil, err
	}
	return &price, nil
}

func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
