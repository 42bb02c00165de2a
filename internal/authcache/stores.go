package authcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTCredentialStore validates bearer tokens locally as HS256 JWTs. It is the
// authoritative validator when the deployment shares a signing secret with
// the API issuing the tokens.
type JWTCredentialStore struct {
	secret []byte
}

func NewJWTCredentialStore(secret string) *JWTCredentialStore {
	return &JWTCredentialStore{secret: []byte(secret)}
}

type tokenClaims struct {
	Roles  []string `json:"roles,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

func (s *JWTCredentialStore) Validate(_ context.Context, credential string) (TokenRecord, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return TokenRecord{}, ErrAuthFailed
	}

	record := TokenRecord{
		TokenID: claims.ID,
		UserID:  claims.Subject,
		Roles:   claims.Roles,
		Scopes:  claims.Scopes,
	}
	if claims.ExpiresAt != nil {
		record.ExpiresAt = claims.ExpiresAt.Time
	}
	return record, nil
}

// FallbackStore tries each store in order. A store's ErrAuthFailed passes the
// credential on to the next one, so locally signed JWTs and opaque API tokens
// can share one validation path.
type FallbackStore struct {
	stores []CredentialStore
}

func NewFallbackStore(stores ...CredentialStore) *FallbackStore {
	return &FallbackStore{stores: stores}
}

func (s *FallbackStore) Validate(ctx context.Context, credential string) (TokenRecord, error) {
	for _, store := range s.stores {
		record, err := store.Validate(ctx, credential)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, ErrAuthFailed) {
			return TokenRecord{}, err
		}
	}
	return TokenRecord{}, ErrAuthFailed
}

// HTTPCredentialStore delegates validation to the platform API's token
// introspection endpoint.
type HTTPCredentialStore struct {
	url    string
	client *http.Client
}

func NewHTTPCredentialStore(url string, timeout time.Duration) *HTTPCredentialStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPCredentialStore{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPCredentialStore) Validate(ctx context.Context, credential string) (TokenRecord, error) {
	body, err := json.Marshal(map[string]string{"token": credential})
	if err != nil {
		return TokenRecord{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return TokenRecord{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return TokenRecord{}, fmt.Errorf("token introspection: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var record TokenRecord
		if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
			return TokenRecord{}, fmt.Errorf("token introspection: decode response: %w", err)
		}
		if record.UserID == "" {
			return TokenRecord{}, ErrAuthFailed
		}
		return record, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return TokenRecord{}, ErrAuthFailed
	default:
		return TokenRecord{}, fmt.Errorf("token introspection: unexpected status %d", resp.StatusCode)
	}
}
