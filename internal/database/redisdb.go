package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/y0ug/detreg/internal/database/models"
	"github.com/y0ug/detreg/pkg/auth"
)

const (
	redisKeyOwner            = "detreg:meta:owner"
	redisKeyReporters        = "detreg:reporters"
	redisKeyDetectionPrefix  = "detreg:detection:"
	redisKeyConfirmed        = "detreg:confirmed"
	redisKeyBlacklistPrefix  = "detreg:blacklist:"
	redisKeyRefreshPrefix    = "detreg:refresh_token:"
	redisKeyProviderTokenPfx = "detreg:provider_tokens:"
)

// RedisDB implements the Database interface using Redis.
// Reporters live in a hash keyed by id, detections in one key each and
// confirmed hashes in a set so counts never need a SCAN.
type RedisDB struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewRedisDB initializes a new RedisDB instance.
func NewRedisDB(cfg *DatabaseConfig, logger *logrus.Logger) (*RedisDB, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	ctx := context.Background()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	return &RedisDB{
		client: rdb,
		logger: logger,
	}, nil
}

// Initialize is a no-op: Redis is schema-less.
func (r *RedisDB) Initialize(ctx context.Context) error {
	return nil
}

// Close closes the Redis client connection.
func (r *RedisDB) Close(ctx context.Context) error {
	return r.client.Close()
}

// -----------------------
// Registry
// -----------------------

func (r *RedisDB) SetOwner(ctx context.Context, owner string) error {
	return r.client.Set(ctx, redisKeyOwner, owner, 0).Err()
}

func (r *RedisDB) GetOwner(ctx context.Context) (string, error) {
	owner, err := r.client.Get(ctx, redisKeyOwner).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrOwnerNotSet
		}
		return "", err
	}
	return owner, nil
}

// AddReporter stores the reporter with HSETNX so an existing entry is kept.
func (r *RedisDB) AddReporter(ctx context.Context, reporter models.Reporter) error {
	data, err := json.Marshal(reporter)
	if err != nil {
		return fmt.Errorf("failed to marshal Reporter: %w", err)
	}
	return r.client.HSetNX(ctx, redisKeyReporters, reporter.ID, data).Err()
}

func (r *RedisDB) IsReporter(ctx context.Context, id string) (bool, error) {
	return r.client.HExists(ctx, redisKeyReporters, id).Result()
}

func (r *RedisDB) ListReporters(ctx context.Context) ([]models.Reporter, error) {
	vals, err := r.client.HGetAll(ctx, redisKeyReporters).Result()
	if err != nil {
		return nil, err
	}
	reporters := make([]models.Reporter, 0, len(vals))
	for id, val := range vals {
		var rep models.Reporter
		if err := json.Unmarshal([]byte(val), &rep); err != nil {
			r.logger.WithError(err).Warnf("ListReporters: failed to unmarshal reporter %s", id)
			continue
		}
		reporters = append(reporters, rep)
	}
	sort.Slice(reporters, func(i, j int) bool {
		if reporters[i].AddedAt.Equal(reporters[j].AddedAt) {
			return reporters[i].ID < reporters[j].ID
		}
		return reporters[i].AddedAt.Before(reporters[j].AddedAt)
	})
	return reporters, nil
}

// PutDetection writes the detection and its confirmed-set membership in one transaction.
func (r *RedisDB) PutDetection(ctx context.Context, detection models.Detection) error {
	data, err := json.Marshal(detection)
	if err != nil {
		return fmt.Errorf("failed to marshal Detection: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisKeyDetectionPrefix+detection.FileHash, data, 0)
		if detection.IsConfirmed {
			pipe.SAdd(ctx, redisKeyConfirmed, detection.FileHash)
		} else {
			pipe.SRem(ctx, redisKeyConfirmed, detection.FileHash)
		}
		return nil
	})
	return err
}

func (r *RedisDB) GetDetection(ctx context.Context, fileHash string) (models.Detection, error) {
	var d models.Detection

	val, err := r.client.Get(ctx, redisKeyDetectionPrefix+fileHash).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return d, ErrDetectionNotFound
		}
		return d, err
	}

	if err := json.Unmarshal([]byte(val), &d); err != nil {
		return models.Detection{}, fmt.Errorf("failed to unmarshal Detection: %w", err)
	}
	return d, nil
}

func (r *RedisDB) GetTotalDetections(ctx context.Context) (int, error) {
	total := 0
	iter := r.client.Scan(ctx, 0, redisKeyDetectionPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		total++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *RedisDB) GetTotalConfirmed(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, redisKeyConfirmed).Result()
	return int(n), err
}

func (r *RedisDB) GetTotalReporters(ctx context.Context) (int, error) {
	n, err := r.client.HLen(ctx, redisKeyReporters).Result()
	return int(n), err
}

// -----------------------
// Tokens
// -----------------------

// AddBlacklistedToken adds a token string to the blacklist with its expiration time.
func (r *RedisDB) AddBlacklistedToken(ctx context.Context, tokenString string, exp int64) error {
	ttl := time.Until(time.Unix(exp, 0))
	if ttl <= 0 {
		// Token already expired; no need to blacklist
		return nil
	}
	return r.client.Set(ctx, redisKeyBlacklistPrefix+tokenString, "1", ttl).Err()
}

// IsTokenBlacklisted checks if a token is in the blacklist.
func (r *RedisDB) IsTokenBlacklisted(ctx context.Context, tokenString string) (bool, error) {
	exists, err := r.client.Exists(ctx, redisKeyBlacklistPrefix+tokenString).Result()
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

type redisRefreshToken struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StoreRefreshToken saves a refresh token with associated user and expiration.
func (r *RedisDB) StoreRefreshToken(ctx context.Context, token string, userID string, expiresAt time.Time) error {
	encoded, err := json.Marshal(redisRefreshToken{UserID: userID, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("invalid expiration time for refresh token")
	}

	return r.client.Set(ctx, redisKeyRefreshPrefix+token, encoded, ttl).Err()
}

// ValidateRefreshToken checks if a refresh token is valid and not expired.
// Returns the associated userID if valid.
func (r *RedisDB) ValidateRefreshToken(ctx context.Context, token string) (string, error) {
	val, err := r.client.Get(ctx, redisKeyRefreshPrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("refresh token not found")
		}
		return "", err
	}

	var data redisRefreshToken
	if err := json.Unmarshal([]byte(val), &data); err != nil {
		return "", fmt.Errorf("failed to unmarshal refresh token data: %w", err)
	}

	if time.Now().After(data.ExpiresAt) {
		if err := r.RevokeRefreshToken(ctx, token); err != nil {
			r.logger.WithError(err).Error("ValidateRefreshToken: failed to revoke expired token")
		}
		return "", fmt.Errorf("refresh token expired")
	}

	return data.UserID, nil
}

// RevokeRefreshToken removes a refresh token from the database.
func (r *RedisDB) RevokeRefreshToken(ctx context.Context, token string) error {
	return r.client.Del(ctx, redisKeyRefreshPrefix+token).Err()
}

// StoreProviderTokens stores the provider's tokens for a user.
func (r *RedisDB) StoreProviderTokens(ctx context.Context, userID, provider string, tokens auth.ProviderTokens) error {
	encoded, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to marshal ProviderTokens: %w", err)
	}
	// Without a refresh token the entry is useless once the access token expires.
	var ttl time.Duration
	if tokens.RefreshToken == "" && !tokens.ExpiresAt.IsZero() {
		ttl = time.Until(tokens.ExpiresAt)
		if ttl <= 0 {
			return fmt.Errorf("invalid expiration time for provider tokens")
		}
	}
	key := redisKeyProviderTokenPfx + string(generateProviderKey(provider, userID))
	return r.client.Set(ctx, key, encoded, ttl).Err()
}

// GetProviderTokens retrieves the provider's tokens for a user.
func (r *RedisDB) GetProviderTokens(ctx context.Context, userID, provider string) (auth.ProviderTokens, error) {
	var tokens auth.ProviderTokens

	key := redisKeyProviderTokenPfx + string(generateProviderKey(provider, userID))
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return tokens, fmt.Errorf("provider tokens not found for user %s and provider %s", userID, provider)
		}
		return tokens, err
	}

	if err := json.Unmarshal([]byte(val), &tokens); err != nil {
		return tokens, fmt.Errorf("failed to unmarshal ProviderTokens: %w", err)
	}

	return tokens, nil
}

// UpdateProviderTokens updates the provider's tokens for a user.
func (r *RedisDB) UpdateProviderTokens(ctx context.Context, userID, provider string, tokens auth.ProviderTokens) error {
	return r.StoreProviderTokens(ctx, userID, provider, tokens)
}
