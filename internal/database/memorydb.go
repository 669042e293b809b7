package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/y0ug/detreg/internal/database/models"
	"github.com/y0ug/detreg/pkg/auth"
)

type refreshEntry struct {
	userID    string
	expiresAt time.Time
}

// MemoryDB is an in-process Database. Nothing survives Close.
type MemoryDB struct {
	mu                sync.RWMutex
	owner             string
	reporters         map[string]models.Reporter
	detections        map[string]models.Detection
	blacklistedTokens map[string]int64
	refreshTokens     map[string]refreshEntry
	providerTokens    map[string]auth.ProviderTokens
}

// NewMemoryDB initializes an empty MemoryDB.
func NewMemoryDB() *MemoryDB {
	m := &MemoryDB{}
	_ = m.Initialize(context.Background())
	return m
}

func (m *MemoryDB) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reporters == nil {
		m.reporters = make(map[string]models.Reporter)
		m.detections = make(map[string]models.Detection)
		m.blacklistedTokens = make(map[string]int64)
		m.refreshTokens = make(map[string]refreshEntry)
		m.providerTokens = make(map[string]auth.ProviderTokens)
	}
	return nil
}

func (m *MemoryDB) Close(context.Context) error {
	return nil
}

func (m *MemoryDB) SetOwner(ctx context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owner = owner
	return nil
}

func (m *MemoryDB) GetOwner(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.owner == "" {
		return "", ErrOwnerNotSet
	}
	return m.owner, nil
}

func (m *MemoryDB) AddReporter(ctx context.Context, reporter models.Reporter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reporters[reporter.ID]; exists {
		return nil
	}
	m.reporters[reporter.ID] = reporter
	return nil
}

func (m *MemoryDB) IsReporter(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.reporters[id]
	return exists, nil
}

func (m *MemoryDB) ListReporters(ctx context.Context) ([]models.Reporter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reporters := make([]models.Reporter, 0, len(m.reporters))
	for _, r := range m.reporters {
		reporters = append(reporters, r)
	}
	sort.SliceStable(reporters, func(i, j int) bool {
		if reporters[i].AddedAt.Equal(reporters[j].AddedAt) {
			return reporters[i].ID < reporters[j].ID
		}
		return reporters[i].AddedAt.Before(reporters[j].AddedAt)
	})
	return reporters, nil
}

func (m *MemoryDB) PutDetection(ctx context.Context, detection models.Detection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections[detection.FileHash] = detection
	return nil
}

func (m *MemoryDB) GetDetection(ctx context.Context, fileHash string) (models.Detection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, exists := m.detections[fileHash]
	if !exists {
		return models.Detection{}, ErrDetectionNotFound
	}
	return d, nil
}

func (m *MemoryDB) GetTotalDetections(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.detections), nil
}

func (m *MemoryDB) GetTotalConfirmed(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, d := range m.detections {
		if d.IsConfirmed {
			total++
		}
	}
	return total, nil
}

func (m *MemoryDB) GetTotalReporters(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.reporters), nil
}

func (m *MemoryDB) AddBlacklistedToken(ctx context.Context, tokenString string, exp int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blacklistedTokens[tokenString] = exp
	return nil
}

// IsTokenBlacklisted checks if a token is in the blacklist, dropping it once expired.
func (m *MemoryDB) IsTokenBlacklisted(ctx context.Context, tokenString string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, exists := m.blacklistedTokens[tokenString]
	if !exists {
		return false, nil
	}
	if exp < time.Now().Unix() {
		delete(m.blacklistedTokens, tokenString)
		return false, nil
	}
	return true, nil
}

func (m *MemoryDB) StoreRefreshToken(ctx context.Context, token string, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshTokens[token] = refreshEntry{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *MemoryDB) ValidateRefreshToken(ctx context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, exists := m.refreshTokens[token]
	if !exists {
		return "", fmt.Errorf("refresh token not found")
	}
	if time.Now().After(entry.expiresAt) {
		delete(m.refreshTokens, token)
		return "", fmt.Errorf("refresh token expired")
	}
	return entry.userID, nil
}

func (m *MemoryDB) RevokeRefreshToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refreshTokens, token)
	return nil
}

func (m *MemoryDB) StoreProviderTokens(ctx context.Context, userID string, provider string, tokens auth.ProviderTokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providerTokens[string(generateProviderKey(provider, userID))] = tokens
	return nil
}

func (m *MemoryDB) GetProviderTokens(ctx context.Context, userID string, provider string) (auth.ProviderTokens, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tokens, exists := m.providerTokens[string(generateProviderKey(provider, userID))]
	if !exists {
		return auth.ProviderTokens{}, fmt.Errorf("provider tokens not found for user %s and provider %s", userID, provider)
	}
	return tokens, nil
}

func (m *MemoryDB) UpdateProviderTokens(ctx context.Context, userID string, provider string, tokens auth.ProviderTokens) error {
	return m.StoreProviderTokens(ctx, userID, provider, tokens)
}
