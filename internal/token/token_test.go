package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupService(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *Service) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewService("test-signing-key-at-least-32-bytes!", "graphscopeproxy", "graphscopeproxy-clients", ttl, rdb)
}

func TestMintAndValidateRoundTrip(t *testing.T) {
	t.Parallel()
	_, svc := setupService(t, time.Hour)
	ctx := context.Background()

	signed, jti, err := svc.Mint("api-key-1", "group-1", 12)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if signed == "" || jti == "" {
		t.Fatal("Mint() returned empty token or jti")
	}

	claims, err := svc.Validate(ctx, signed)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.GroupID != "group-1" {
		t.Errorf("GroupID = %q, want %q", claims.GroupID, "group-1")
	}
	if claims.ResourceCount != 12 {
		t.Errorf("ResourceCount = %d, want 12", claims.ResourceCount)
	}
	if claims.ID != jti {
		t.Errorf("claims.ID = %q, want %q", claims.ID, jti)
	}
}

func TestValidateRejectsMalformed(t *testing.T) {
	t.Parallel()
	_, svc := setupService(t, time.Hour)

	_, err := svc.Validate(context.Background(), "not-a-jwt")
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("Validate() error = %v, want ErrMalformed", err)
	}
}

func TestValidateRejectsWrongSignature(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svcA := NewService("signing-key-a-at-least-32-bytes!!", "iss", "aud", time.Hour, rdb)
	svcB := NewService("signing-key-b-at-least-32-bytes!!", "iss", "aud", time.Hour, rdb)

	signed, _, err := svcA.Mint("sub", "group-1", 1)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	_, err = svcB.Validate(context.Background(), signed)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("Validate() error = %v, want ErrSignatureInvalid", err)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	t.Parallel()
	_, svc := setupService(t, -time.Second)
	ctx := context.Background()

	signed, _, err := svc.Mint("sub", "group-1", 1)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	_, err = svc.Validate(ctx, signed)
	if !errors.Is(err, ErrExpired) {
		t.Errorf("Validate() error = %v, want ErrExpired", err)
	}
}

func TestRevokeThenValidateFails(t *testing.T) {
	t.Parallel()
	_, svc := setupService(t, time.Hour)
	ctx := context.Background()

	signed, _, err := svc.Mint("sub", "group-1", 1)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	if err := svc.Revoke(ctx, signed); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	_, err = svc.Validate(ctx, signed)
	if !errors.Is(err, ErrRevoked) {
		t.Errorf("Validate() error = %v, want ErrRevoked", err)
	}
}

func TestRevocationSelfExpires(t *testing.T) {
	t.Parallel()
	mr, svc := setupService(t, 2*time.Second)
	ctx := context.Background()

	signed, jti, err := svc.Mint("sub", "group-1", 1)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if err := svc.Revoke(ctx, signed); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if !mr.Exists(revokedKey(jti)) {
		t.Fatal("revocation key does not exist immediately after Revoke()")
	}

	mr.FastForward(3 * time.Second)
	if mr.Exists(revokedKey(jti)) {
		t.Error("revocation key still exists after its TTL should have elapsed")
	}
}
