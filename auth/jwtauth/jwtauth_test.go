package jwtauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/KennethLeeJE8/datadam-mcp-sub001/auth"
)

const testSecret = "test-secret-please-rotate"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-1",
		"iss": "https://issuer.example.com",
		"aud": "datadam",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
}

func TestSecretValidation(t *testing.T) {
	a, err := NewWithSecret(testSecret, Config{
		Issuer:            "https://issuer.example.com",
		ExpectedAudiences: []string{"datadam"},
	})
	if err != nil {
		t.Fatalf("NewWithSecret: %v", err)
	}
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		info, err := a.CheckAuthentication(ctx, signToken(t, testSecret, baseClaims()))
		if err != nil {
			t.Fatalf("CheckAuthentication: %v", err)
		}
		if want, got := "user-1", info.UserID(); want != got {
			t.Errorf("user id: want %q, got %q", want, got)
		}
		var claims map[string]any
		if err := info.Claims(&claims); err != nil {
			t.Fatalf("Claims: %v", err)
		}
		if claims["iss"] != "https://issuer.example.com" {
			t.Errorf("claims not preserved: %v", claims)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := a.CheckAuthentication(ctx, signToken(t, "other-secret", baseClaims()))
		if !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		claims := baseClaims()
		claims["exp"] = time.Now().Add(-2 * time.Hour).Unix()
		_, err := a.CheckAuthentication(ctx, signToken(t, testSecret, claims))
		if !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("missing exp", func(t *testing.T) {
		claims := baseClaims()
		delete(claims, "exp")
		_, err := a.CheckAuthentication(ctx, signToken(t, testSecret, claims))
		if !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := baseClaims()
		claims["iss"] = "https://evil.example.com"
		_, err := a.CheckAuthentication(ctx, signToken(t, testSecret, claims))
		if !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := baseClaims()
		claims["aud"] = "someone-else"
		_, err := a.CheckAuthentication(ctx, signToken(t, testSecret, claims))
		if !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("audience list intersects", func(t *testing.T) {
		claims := baseClaims()
		claims["aud"] = []string{"other", "datadam"}
		if _, err := a.CheckAuthentication(ctx, signToken(t, testSecret, claims)); err != nil {
			t.Fatalf("CheckAuthentication: %v", err)
		}
	})

	t.Run("missing sub", func(t *testing.T) {
		claims := baseClaims()
		delete(claims, "sub")
		_, err := a.CheckAuthentication(ctx, signToken(t, testSecret, claims))
		if !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := a.CheckAuthentication(ctx, "")
		if !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := a.CheckAuthentication(ctx, "not.a.jwt")
		if !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized, got %v", err)
		}
	})
}

func TestAlgorithmConfusionRejected(t *testing.T) {
	a, err := NewWithSecret(testSecret, Config{})
	if err != nil {
		t.Fatal(err)
	}

	// alg=none must never be accepted.
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, baseClaims())
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.CheckAuthentication(context.Background(), signed); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("alg=none accepted: %v", err)
	}
}

func TestConstructorValidation(t *testing.T) {
	if _, err := NewWithSecret("", Config{}); err == nil {
		t.Error("empty secret accepted")
	}
	if _, err := NewWithJWKS(context.Background(), "", Config{}); err == nil {
		t.Error("empty jwks uri accepted")
	}
}

func TestClockSkewLeeway(t *testing.T) {
	a, err := NewWithSecret(testSecret, Config{Leeway: 5 * time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	claims := baseClaims()
	claims["exp"] = time.Now().Add(-time.Minute).Unix()
	if _, err := a.CheckAuthentication(context.Background(), signToken(t, testSecret, claims)); err != nil {
		t.Fatalf("token within leeway rejected: %v", err)
	}
}
