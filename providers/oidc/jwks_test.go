package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// jwksHandler serves a JWKS document for the given keys and counts fetches.
func jwksHandler(t *testing.T, keys map[string]*rsa.PublicKey, fetches *atomic.Int64) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if fetches != nil {
			fetches.Add(1)
		}
		doc := jwksDocument{}
		for kid, pub := range keys {
			doc.Keys = append(doc.Keys, jwk{
				Kty: "RSA",
				Kid: kid,
				Use: "sig",
				Alg: "RS256",
				N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}
}

func generateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() error = %v", err)
	}
	return key
}

func TestKeySet_Key(t *testing.T) {
	priv := generateRSAKey(t)
	server := httptest.NewServer(jwksHandler(t, map[string]*rsa.PublicKey{"key-1": &priv.PublicKey}, nil))
	defer server.Close()

	ks := NewKeySet(server.URL, server.Client())

	got, err := ks.Key(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	if got.N.Cmp(priv.PublicKey.N) != 0 || got.E != priv.PublicKey.E {
		t.Error("Key() returned a different key than the JWKS published")
	}
}

func TestKeySet_Key_UnknownKid(t *testing.T) {
	priv := generateRSAKey(t)
	server := httptest.NewServer(jwksHandler(t, map[string]*rsa.PublicKey{"key-1": &priv.PublicKey}, nil))
	defer server.Close()

	ks := NewKeySet(server.URL, server.Client())

	_, err := ks.Key(context.Background(), "no-such-kid")
	if err == nil {
		t.Error("Key() should fail for a kid the JWKS does not publish")
	}
}

func TestKeySet_Key_CachesAcrossCalls(t *testing.T) {
	priv := generateRSAKey(t)
	var fetches atomic.Int64
	server := httptest.NewServer(jwksHandler(t, map[string]*rsa.PublicKey{"key-1": &priv.PublicKey}, &fetches))
	defer server.Close()

	ks := NewKeySet(server.URL, server.Client())

	for i := 0; i < 5; i++ {
		if _, err := ks.Key(context.Background(), "key-1"); err != nil {
			t.Fatalf("Key() call %d error = %v", i, err)
		}
	}

	if got := fetches.Load(); got != 1 {
		t.Errorf("JWKS fetched %d times, want 1 (cache miss only on first call)", got)
	}
}

func TestKeySet_Key_RefetchesAfterTTL(t *testing.T) {
	priv := generateRSAKey(t)
	var fetches atomic.Int64
	server := httptest.NewServer(jwksHandler(t, map[string]*rsa.PublicKey{"key-1": &priv.PublicKey}, &fetches))
	defer server.Close()

	ks := NewKeySet(server.URL, server.Client())
	ks.SetTTL(1 * time.Nanosecond)

	if _, err := ks.Key(context.Background(), "key-1"); err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := ks.Key(context.Background(), "key-1"); err != nil {
		t.Fatalf("Key() error = %v", err)
	}

	if got := fetches.Load(); got != 2 {
		t.Errorf("JWKS fetched %d times, want 2 after TTL expiry", got)
	}
}

func TestKeySet_Key_ServesStaleOnFetchFailure(t *testing.T) {
	priv := generateRSAKey(t)
	var fail atomic.Bool
	var fetches atomic.Int64
	handler := jwksHandler(t, map[string]*rsa.PublicKey{"key-1": &priv.PublicKey}, &fetches)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		handler(w, r)
	}))
	defer server.Close()

	ks := NewKeySet(server.URL, server.Client())
	ks.SetTTL(1 * time.Nanosecond)

	if _, err := ks.Key(context.Background(), "key-1"); err != nil {
		t.Fatalf("Key() error = %v", err)
	}

	fail.Store(true)
	time.Sleep(time.Millisecond)

	key, err := ks.Key(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("Key() should fall back to the cached key when refetch fails, got error = %v", err)
	}
	if key == nil {
		t.Fatal("Key() returned nil key")
	}
}

func TestKeySet_Key_FetchFailureWithoutCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	ks := NewKeySet(server.URL, server.Client())

	if _, err := ks.Key(context.Background(), "key-1"); err == nil {
		t.Error("Key() should fail when the JWKS cannot be fetched and nothing is cached")
	}
}

func TestKeySet_SkipsNonRSAKeys(t *testing.T) {
	priv := generateRSAKey(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc := jwksDocument{Keys: []jwk{
			{Kty: "EC", Kid: "ec-key"},
			{Kty: "RSA", Kid: "bad-key", N: "!!not-base64!!", E: "AQAB"},
			{
				Kty: "RSA",
				Kid: "good-key",
				N:   base64.RawURLEncoding.EncodeToString(priv.PublicKey.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(priv.PublicKey.E)).Bytes()),
			},
		}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	defer server.Close()

	ks := NewKeySet(server.URL, server.Client())

	if _, err := ks.Key(context.Background(), "good-key"); err != nil {
		t.Errorf("Key() should find the valid RSA key, got error = %v", err)
	}
	if _, err := ks.Key(context.Background(), "ec-key"); err == nil {
		t.Error("Key() should not return EC keys")
	}
	if _, err := ks.Key(context.Background(), "bad-key"); err == nil {
		t.Error("Key() should not return keys with a malformed modulus")
	}
}
