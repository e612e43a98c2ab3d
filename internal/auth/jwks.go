package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

var ErrUnknownKey = errors.New("unknown_signing_key")

type JWKSet struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// PublicKey converts an RSA JWK back into a usable key.
func (k JWK) PublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	exponent := new(big.Int).SetBytes(e)
	if len(n) == 0 || !exponent.IsInt64() || exponent.Int64() <= 1 {
		return nil, errors.New("invalid_public_key")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exponent.Int64())}, nil
}

// RemoteKeySet fetches and caches the identity provider's published signing
// keys. Keys are refetched once the cache is older than refresh, or when an
// unknown kid shows up and the last fetch is older than minRefetch.
type RemoteKeySet struct {
	url        string
	httpClient *http.Client
	refresh    time.Duration
	minRefetch time.Duration

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func NewRemoteKeySet(url string, refresh time.Duration, httpClient *http.Client) *RemoteKeySet {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if refresh <= 0 {
		refresh = time.Hour
	}
	return &RemoteKeySet{
		url:        url,
		httpClient: httpClient,
		refresh:    refresh,
		minRefetch: 30 * time.Second,
	}
}

func (s *RemoteKeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	age := time.Since(s.fetchedAt)
	key, ok := s.lookup(kid)
	if ok && age < s.refresh {
		return key, nil
	}
	if s.keys == nil || age >= s.refresh || age >= s.minRefetch {
		if err := s.fetch(ctx); err != nil {
			if ok {
				return key, nil
			}
			return nil, err
		}
		key, ok = s.lookup(kid)
	}
	if !ok {
		return nil, ErrUnknownKey
	}
	return key, nil
}

func (s *RemoteKeySet) lookup(kid string) (*rsa.PublicKey, bool) {
	if kid == "" && len(s.keys) == 1 {
		for _, key := range s.keys {
			return key, true
		}
	}
	key, ok := s.keys[kid]
	return key, ok
}

func (s *RemoteKeySet) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}
	var set JWKSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		key, err := jwk.PublicKey()
		if err != nil {
			continue
		}
		keys[jwk.Kid] = key
	}
	s.keys = keys
	s.fetchedAt = time.Now()
	return nil
}
