package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/ioc-gateway/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Bearer token identity: the tenant and the tier its quota is charged against
type Claims struct {
	TenantID string      `json:"tenant_id"`
	Tier     models.Tier `json:"tier"`
	jwt.RegisteredClaims
}

type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs an HS256 token for a tenant
func (s *TokenService) Issue(tenantID string, tier models.Tier) (string, time.Time, error) {
	if tenantID == "" {
		return "", time.Time{}, errors.New("tenant id required")
	}
	if !tier.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}

	now := s.now()
	expires := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TenantID: tenantID,
		Tier:     tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
	}
	return signed, expires, nil
}

// Validate checks signature, expiry and the identity claims
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TenantID == "" || !claims.Tier.Valid() {
		return nil, fmt.Errorf("%w: missing tenant or tier", ErrInvalidToken)
	}

	return claims, nil
}
