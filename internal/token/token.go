// Package token mints, validates, and revokes the bearer JWTs callers present to the proxy. A token carries its
// bound group by reference (the gid claim): the resource set itself lives in the scope cache, keyed by group ID, and
// is looked up fresh on every request rather than embedded in the token.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Claims are the JWT claims a minted token carries.
type Claims struct {
	jwt.RegisteredClaims
	GroupID       string `json:"gid"`
	ResourceCount int    `json:"rc"`
}

var (
	ErrMalformed        = errors.New("token malformed")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
	ErrRevoked          = errors.New("token revoked")
)

// Service mints, validates, and revokes bearer tokens.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
	redis      *redis.Client
}

// NewService constructs a token Service. redis is used to track revoked token IDs; it must be reachable for both
// Validate and Revoke to function correctly.
func NewService(signingKey, issuer, audience string, ttl time.Duration, rdb *redis.Client) *Service {
	return &Service{signingKey: []byte(signingKey), issuer: issuer, audience: audience, ttl: ttl, redis: rdb}
}

// Mint issues a new signed token for subject, bound to groupID, carrying resourceCount for observability. It returns
// the signed token string and the token's jti.
func (s *Service) Mint(subject, groupID string, resourceCount int) (string, string, error) {
	jti := uuid.New().String()
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        jti,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		GroupID:       groupID,
		ResourceCount: resourceCount,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", "", fmt.Errorf("sign token: %w", err)
	}
	return signed, jti, nil
}

// Validate parses and verifies tokenString: signature, expiry, issuer/audience, and revocation status. On success it
// returns the validated claims.
func (s *Service) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithAudience(s.audience))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrSignatureInvalid
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if !parsed.Valid || claims.ID == "" {
		return nil, ErrMalformed
	}

	revoked, err := s.redis.Exists(ctx, revokedKey(claims.ID)).Result()
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked > 0 {
		return nil, ErrRevoked
	}

	return claims, nil
}

// Revoke marks tokenString's jti as revoked until its own expiry, after which the revocation entry self-expires and
// is no longer needed. Revoke does not require the token to still be valid for signature purposes beyond parsing its
// claims, but a structurally malformed token cannot be revoked since its jti cannot be recovered.
func (s *Service) Revoke(ctx context.Context, tokenString string) error {
	claims := &Claims{}
	_, _, err := jwt.NewParser().ParseUnverified(tokenString, claims)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return ErrMalformed
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, revokedKey(claims.ID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func revokedKey(jti string) string {
	return "revoked:" + jti
}
