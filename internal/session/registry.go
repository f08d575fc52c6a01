// Package session holds the Redis-backed session registry: opaque token ->
// account snapshot, plus a per-account index so every session of an identity
// can be dropped at once when it gets suspended or deleted.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hearthos/service-accounts-go/internal/account/entity"
)

const (
	sessionKeyPrefix = "session:"
	indexKeySuffix   = ":sessions"
	indexKeyPrefix   = "account:"
)

func sessionKey(token string) string { return sessionKeyPrefix + token }
func indexKey(accountUUID string) string {
	return indexKeyPrefix + accountUUID + indexKeySuffix
}

// Config for the registry connection and session lifetime.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// ConfigFromEnv reads registry config from environment variables.
func ConfigFromEnv() Config {
	cfg := Config{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		TTL:      24 * time.Hour,
	}
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DB = n
		}
	}
	if v := os.Getenv("SESSION_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TTL = time.Duration(n) * time.Hour
		}
	}
	return cfg
}

// Registry is the token -> account snapshot map. It stores whatever snapshot
// it is given and is never consulted for permission decisions.
type Registry struct {
	client *redis.Client
	logger *zap.SugaredLogger
	ttl    time.Duration
}

func NewRegistry(client *redis.Client, logger *zap.SugaredLogger, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Registry{client: client, logger: logger, ttl: ttl}
}

// Create stores a snapshot under a fresh opaque token and indexes the token
// under the account identity.
func (r *Registry) Create(ctx context.Context, acct *entity.Account) (string, error) {
	data, err := json.Marshal(acct)
	if err != nil {
		return "", err
	}
	token := uuid.NewString()
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(token), data, r.ttl)
	pipe.SAdd(ctx, indexKey(acct.UUID), token)
	pipe.Expire(ctx, indexKey(acct.UUID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

// Find returns the snapshot for a token, or (nil, nil) when the token is
// unknown or expired.
func (r *Registry) Find(ctx context.Context, token string) (*entity.Account, error) {
	data, err := r.client.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var acct entity.Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Refresh replaces the snapshot of an existing session, extending its
// lifetime. Refreshing a vanished token is a no-op.
func (r *Registry) Refresh(ctx context.Context, token string, acct *entity.Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	// XX: only touch tokens that still exist
	err = r.client.SetXX(ctx, sessionKey(token), data, r.ttl).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Delete removes a single session and its index entry.
func (r *Registry) Delete(ctx context.Context, token string) error {
	acct, err := r.Find(ctx, token)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(token))
	if acct != nil {
		pipe.SRem(ctx, indexKey(acct.UUID), token)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// InvalidateAll drops every session of an account identity. After it returns
// no previously issued token for that account authenticates again.
func (r *Registry) InvalidateAll(ctx context.Context, accountUUID string) error {
	tokens, err := r.client.SMembers(ctx, indexKey(accountUUID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	pipe := r.client.TxPipeline()
	for _, token := range tokens {
		pipe.Del(ctx, sessionKey(token))
	}
	pipe.Del(ctx, indexKey(accountUUID))
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	r.logger.Infow("sessions invalidated", "account_uuid", accountUUID, "count", len(tokens))
	return nil
}
