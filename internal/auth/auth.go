// Package auth verifies bearer tokens on the mutating routes of the
// operational HTTP surface. Public keys are loaded from a PEM file; when no
// keys are configured and dev bypass is enabled, requests pass through.
package auth

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates Authorization: Bearer tokens against a set of trusted
// public keys.
type Verifier struct {
	keys          []any // *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey
	devAllowLocal bool
}

// NewVerifier loads trusted public keys from keysFile (PEM blocks holding
// PKIX public keys or certificates). An empty keysFile is allowed only with
// devAllowLocal set.
func NewVerifier(keysFile string, devAllowLocal bool) (*Verifier, error) {
	v := &Verifier{devAllowLocal: devAllowLocal}
	if keysFile == "" {
		if !devAllowLocal {
			return nil, fmt.Errorf("auth: keys file required unless dev bypass is enabled")
		}
		return v, nil
	}
	if err := v.loadKeys(keysFile); err != nil {
		return nil, fmt.Errorf("auth: load keys: %w", err)
	}
	return v, nil
}

func (v *Verifier) loadKeys(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			cert, certErr := x509.ParseCertificate(block.Bytes)
			if certErr != nil {
				continue // skip unknown blocks
			}
			key = cert.PublicKey
		}
		v.keys = append(v.keys, key)
	}

	if len(v.keys) == 0 {
		return fmt.Errorf("no valid public keys found in %s", path)
	}
	return nil
}

// VerifyRequest checks the request's bearer token. In dev bypass mode
// requests without any configured keys are accepted.
func (v *Verifier) VerifyRequest(r *http.Request) error {
	if len(v.keys) == 0 && v.devAllowLocal {
		return nil
	}

	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return fmt.Errorf("missing bearer token")
	}
	tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

	var lastErr error
	for _, key := range v.keys {
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{"RS256", "ES256", "EdDSA"}))
		if err == nil && token.Valid {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("invalid token: %w", lastErr)
}

// Middleware rejects requests that fail VerifyRequest with 401.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.VerifyRequest(r); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
