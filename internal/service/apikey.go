package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/models"
	"github.com/aman-churiwal/ioc-gateway/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	keyPrefix      = "ioc_"
	keyCacheTTL    = 5 * time.Minute
	keyCachePrefix = "apikey:cache:"
)

var ErrInvalidTier = errors.New("invalid tier")

// APIKeyStore is the persistent key table, implemented by repository.APIKeyRepository
type APIKeyStore interface {
	Create(ctx context.Context, apiKey *models.APIKey) error
	FindByHash(ctx context.Context, hash string) (*models.APIKey, error)
	FindByID(ctx context.Context, id string) (*models.APIKey, error)
	List(ctx context.Context) ([]models.APIKey, error)
	Update(ctx context.Context, id string, updates map[string]interface{}) error
	UpdateLastUsed(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id string) error
	CountByTier(ctx context.Context, tier models.Tier) (int64, error)
}

// KeyCache is implemented by storage.RedisClient
type KeyCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type APIKeyService struct {
	repository APIKeyStore
	cache      KeyCache
	logger     *zap.Logger
}

// cache may be nil, in which case every validation reads the store
func NewAPIKeyService(repo APIKeyStore, cache KeyCache, logger *zap.Logger) *APIKeyService {
	return &APIKeyService{
		repository: repo,
		cache:      cache,
		logger:     observability.OrNop(logger),
	}
}

// Create issues a new key for a tenant. The plain key is returned only here.
func (s *APIKeyService) Create(ctx context.Context, name, createdBy string, tier models.Tier) (string, *models.APIKey, error) {
	if !tier.Valid() {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}

	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	key := keyPrefix + base64.RawURLEncoding.EncodeToString(keyBytes)

	apiKey := &models.APIKey{
		KeyHash:   hashKey(key),
		Name:      name,
		CreatedBy: createdBy,
		Tier:      tier,
		IsActive:  true,
	}

	if err := s.repository.Create(ctx, apiKey); err != nil {
		return "", nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return key, apiKey, nil
}

// Validate resolves a presented key to its active record, or nil when unknown
func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	keyHash := hashKey(key)
	cacheKey := keyCachePrefix + keyHash

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey); err == nil && cached != "" {
			var apiKey models.APIKey
			if err := json.Unmarshal([]byte(cached), &apiKey); err == nil {
				return &apiKey, nil
			}
		}
	}

	apiKey, err := s.repository.FindByHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if apiKey == nil {
		return nil, nil
	}

	if s.cache != nil {
		data, _ := json.Marshal(apiKey)
		if err := s.cache.Set(ctx, cacheKey, data, keyCacheTTL); err != nil {
			s.logger.Warn("failed to cache api key", zap.Error(err))
		}
	}

	return apiKey, nil
}

func (s *APIKeyService) Get(ctx context.Context, id string) (*models.APIKey, error) {
	return s.repository.FindByID(ctx, id)
}

// CountByTier counts active keys per tier
func (s *APIKeyService) CountByTier(ctx context.Context) (map[models.Tier]int64, error) {
	counts := make(map[models.Tier]int64, len(models.Tiers()))
	for _, tier := range models.Tiers() {
		n, err := s.repository.CountByTier(ctx, tier)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s keys: %w", tier, err)
		}
		counts[tier] = n
	}
	return counts, nil
}

func (s *APIKeyService) List(ctx context.Context) ([]models.APIKey, error) {
	return s.repository.List(ctx)
}

func (s *APIKeyService) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	if raw, ok := updates["tier"]; ok {
		tier, err := models.ParseTier(fmt.Sprint(raw))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTier, err)
		}
		updates["tier"] = tier
	}

	if err := s.repository.Update(ctx, id, updates); err != nil {
		return err
	}

	// a cached copy would keep the old tier or active flag alive
	_, hasTier := updates["tier"]
	_, hasActive := updates["is_active"]
	if hasTier || hasActive {
		s.invalidateCache(ctx, id)
	}
	return nil
}

func (s *APIKeyService) Delete(ctx context.Context, id string) error {
	s.invalidateCache(ctx, id)
	return s.repository.Delete(ctx, id)
}

// Best effort; callers run it off the request path
func (s *APIKeyService) UpdateLastUsed(ctx context.Context, id uuid.UUID) {
	if err := s.repository.UpdateLastUsed(ctx, id); err != nil {
		s.logger.Debug("failed to update last_used_at", zap.String("key_id", id.String()), zap.Error(err))
	}
}

func (s *APIKeyService) invalidateCache(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}

	apiKey, err := s.repository.FindByID(ctx, id)
	if err != nil || apiKey == nil {
		return
	}

	if err := s.cache.Del(ctx, keyCachePrefix+apiKey.KeyHash); err != nil {
		s.logger.Warn("failed to invalidate api key cache", zap.String("key_id", id), zap.Error(err))
	}
}

func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
