package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/y0ug/detreg/internal/database/models"
	"github.com/y0ug/detreg/pkg/auth"
	"go.etcd.io/bbolt"
)

var (
	bucketMeta              = []byte("Meta")
	bucketReporters         = []byte("Reporters")
	bucketDetections        = []byte("Detections")
	bucketBlacklistedTokens = []byte("BlacklistedTokens")
	bucketRefreshTokens     = []byte("RefreshTokens")
	bucketProviderTokens    = []byte("ProviderTokens")

	keyOwner = []byte("owner")
)

// BoltDB implements the Database interface using bbolt.
type BoltDB struct {
	db     *bbolt.DB
	path   string
	logger *logrus.Logger
}

type boltRefreshToken struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewBoltDB initializes a new BoltDB instance.
func NewBoltDB(path string, logger *logrus.Logger) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	boltDB := &BoltDB{
		db:     db,
		path:   path,
		logger: logger,
	}

	if err := boltDB.Initialize(context.TODO()); err != nil {
		db.Close()
		return nil, err
	}

	return boltDB, nil
}

// Initialize sets up the necessary buckets.
func (b *BoltDB) Initialize(ctx context.Context) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketMeta,
			bucketReporters,
			bucketDetections,
			bucketBlacklistedTokens,
			bucketRefreshTokens,
			bucketProviderTokens,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the BoltDB connection.
func (b *BoltDB) Close(context.Context) error {
	return b.db.Close()
}

func bucket(tx *bbolt.Tx, name []byte) (*bbolt.Bucket, error) {
	bk := tx.Bucket(name)
	if bk == nil {
		return nil, fmt.Errorf("%s bucket does not exist", name)
	}
	return bk, nil
}

func (b *BoltDB) putJSON(name, key []byte, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s entry: %w", name, err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk, err := bucket(tx, name)
		if err != nil {
			return err
		}
		return bk.Put(key, data)
	})
}

// getJSON decodes the value at key into out. found is false when the key is absent.
func (b *BoltDB) getJSON(name, key []byte, out interface{}) (found bool, err error) {
	err = b.db.View(func(tx *bbolt.Tx) error {
		bk, err := bucket(tx, name)
		if err != nil {
			return err
		}
		val := bk.Get(key)
		if val == nil {
			return nil
		}
		found = true
		return json.Unmarshal(val, out)
	})
	return found, err
}

func (b *BoltDB) count(name []byte) (int, error) {
	var total int
	err := b.db.View(func(tx *bbolt.Tx) error {
		bk, err := bucket(tx, name)
		if err != nil {
			return err
		}
		total = bk.Stats().KeyN
		return nil
	})
	return total, err
}

// -----------------------
// Registry
// -----------------------

func (b *BoltDB) SetOwner(ctx context.Context, owner string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk, err := bucket(tx, bucketMeta)
		if err != nil {
			return err
		}
		return bk.Put(keyOwner, []byte(owner))
	})
}

func (b *BoltDB) GetOwner(ctx context.Context) (string, error) {
	var owner string
	err := b.db.View(func(tx *bbolt.Tx) error {
		bk, err := bucket(tx, bucketMeta)
		if err != nil {
			return err
		}
		owner = string(bk.Get(keyOwner))
		return nil
	})
	if err != nil {
		return "", err
	}
	if owner == "" {
		return "", ErrOwnerNotSet
	}
	return owner, nil
}

// AddReporter stores the reporter unless it already exists.
func (b *BoltDB) AddReporter(ctx context.Context, reporter models.Reporter) error {
	data, err := json.Marshal(reporter)
	if err != nil {
		return fmt.Errorf("failed to marshal Reporter: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk, err := bucket(tx, bucketReporters)
		if err != nil {
			return err
		}
		if bk.Get([]byte(reporter.ID)) != nil {
			b.logger.WithField("reporter", reporter.ID).Debug("Reporter already trusted; skipping addition")
			return nil
		}
		return bk.Put([]byte(reporter.ID), data)
	})
}

func (b *BoltDB) IsReporter(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		bk, err := bucket(tx, bucketReporters)
		if err != nil {
			return err
		}
		exists = bk.Get([]byte(id)) != nil
		return nil
	})
	return exists, err
}

func (b *BoltDB) ListReporters(ctx context.Context) ([]models.Reporter, error) {
	reporters := []models.Reporter{}
	err := b.db.View(func(tx *bbolt.Tx) error {
		bk, err := bucket(tx, bucketReporters)
		if err != nil {
			return err
		}
		return bk.ForEach(func(k, v []byte) error {
			var r models.Reporter
			if err := json.Unmarshal(v, &r); err != nil {
				b.logger.WithError(err).Warnf("Failed to unmarshal reporter %s", string(k))
				return nil
			}
			reporters = append(reporters, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(reporters, func(i, j int) bool {
		if !reporters[i].AddedAt.Equal(reporters[j].AddedAt) {
			return reporters[i].AddedAt.Before(reporters[j].AddedAt)
		}
		return reporters[i].ID < reporters[j].ID
	})
	return reporters, nil
}

func (b *BoltDB) PutDetection(ctx context.Context, detection models.Detection) error {
	if err := b.putJSON(bucketDetections, []byte(detection.FileHash), detection); err != nil {
		return fmt.Errorf("failed to store detection in BoltDB: %w", err)
	}
	return nil
}

func (b *BoltDB) GetDetection(ctx context.Context, fileHash string) (models.Detection, error) {
	var d models.Detection
	found, err := b.getJSON(bucketDetections, []byte(fileHash), &d)
	if err != nil {
		return models.Detection{}, err
	}
	if !found {
		return models.Detection{}, ErrDetectionNotFound
	}
	return d, nil
}

func (b *BoltDB) GetTotalDetections(ctx context.Context) (int, error) {
	return b.count(bucketDetections)
}

func (b *BoltDB) GetTotalConfirmed(ctx context.Context) (int, error) {
	var total int
	err := b.db.View(func(tx *bbolt.Tx) error {
		bk, err := bucket(tx, bucketDetections)
		if err != nil {
			return err
		}
		return bk.ForEach(func(k, v []byte) error {
			var d models.Detection
			if err := json.Unmarshal(v, &d); err != nil {
				b.logger.WithError(err).Warnf("Failed to unmarshal detection %s", string(k))
				return nil
			}
			if d.IsConfirmed {
				total++
			}
			return nil
		})
	})
	return total, err
}

func (b *BoltDB) GetTotalReporters(ctx context.Context) (int, error) {
	return b.count(bucketReporters)
}

// -----------------------
// Tokens
// -----------------------

// AddBlacklistedToken adds a token string to the blacklist with its expiration time.
func (b *BoltDB) AddBlacklistedToken(ctx context.Context, tokenString string, exp int64) error {
	if err := b.putJSON(bucketBlacklistedTokens, []byte(tokenString), exp); err != nil {
		return fmt.Errorf("failed to add token to blacklist: %w", err)
	}
	return nil
}

// IsTokenBlacklisted checks if a token is in the blacklist.
// If the token is expired, it removes it from the blacklist.
func (b *BoltDB) IsTokenBlacklisted(ctx context.Context, tokenString string) (bool, error) {
	var exp int64
	found, err := b.getJSON(bucketBlacklistedTokens, []byte(tokenString), &exp)
	if err != nil {
		return false, err
	}
	if !found || exp == 0 {
		return false, nil
	}

	if time.Now().Unix() > exp {
		err = b.db.Update(func(tx *bbolt.Tx) error {
			bk, err := bucket(tx, bucketBlacklistedTokens)
			if err != nil {
				return err
			}
			return bk.Delete([]byte(tokenString))
		})
		if err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}

// StoreRefreshToken saves a refresh token with associated user and expiration.
func (b *BoltDB) StoreRefreshToken(ctx context.Context, token string, userID string, expiresAt time.Time) error {
	return b.putJSON(bucketRefreshTokens, []byte(token), boltRefreshToken{UserID: userID, ExpiresAt: expiresAt})
}

// ValidateRefreshToken checks if a refresh token is valid and not expired.
func (b *BoltDB) ValidateRefreshToken(ctx context.Context, token string) (string, error) {
	var data boltRefreshToken
	found, err := b.getJSON(bucketRefreshTokens, []byte(token), &data)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("refresh token not found")
	}
	if time.Now().After(data.ExpiresAt) {
		if err := b.RevokeRefreshToken(ctx, token); err != nil {
			b.logger.WithError(err).Error("ValidateRefreshToken: failed to revoke expired token")
		}
		return "", fmt.Errorf("refresh token expired")
	}
	return data.UserID, nil
}

// RevokeRefreshToken removes a refresh token from the database.
func (b *BoltDB) RevokeRefreshToken(ctx context.Context, token string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk, err := bucket(tx, bucketRefreshTokens)
		if err != nil {
			return err
		}
		return bk.Delete([]byte(token))
	})
}

// StoreProviderTokens stores the provider's tokens for a user.
func (b *BoltDB) StoreProviderTokens(ctx context.Context, userID string, provider string, tokens auth.ProviderTokens) error {
	if err := b.putJSON(bucketProviderTokens, generateProviderKey(provider, userID), tokens); err != nil {
		return fmt.Errorf("failed to store provider tokens: %w", err)
	}
	return nil
}

// GetProviderTokens retrieves the provider's tokens for a user.
func (b *BoltDB) GetProviderTokens(ctx context.Context, userID string, provider string) (auth.ProviderTokens, error) {
	var tokens auth.ProviderTokens
	found, err := b.getJSON(bucketProviderTokens, generateProviderKey(provider, userID), &tokens)
	if err != nil {
		return tokens, err
	}
	if !found {
		return tokens, fmt.Errorf("provider tokens not found for user %s and provider %s", userID, provider)
	}
	return tokens, nil
}

// UpdateProviderTokens updates the provider's tokens for a user.
func (b *BoltDB) UpdateProviderTokens(ctx context.Context, userID string, provider string, tokens auth.ProviderTokens) error {
	return b.StoreProviderTokens(ctx, userID, provider, tokens)
}
