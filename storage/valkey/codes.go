package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/giantswarm/auth-core/storage"
)

// authorizationCodeJSON is the wire representation of an authorization code.
// Field names are shared with the redemption Lua script.
type authorizationCodeJSON struct {
	Code                string `json:"code"`
	UserID              string `json:"user_id"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	Resource            string `json:"resource,omitempty"`
	CreatedAt           int64  `json:"created_at"`
	ExpiresAt           int64  `json:"expires_at"`
	Used                bool   `json:"used"`
}

func toAuthorizationCodeJSON(code *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:                code.Code,
		UserID:              code.UserID,
		ClientID:            code.ClientID,
		RedirectURI:         code.RedirectURI,
		Scope:               code.Scope,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		Resource:            code.Resource,
		CreatedAt:           code.CreatedAt.Unix(),
		ExpiresAt:           code.ExpiresAt.Unix(),
		Used:                code.Used,
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	if j == nil {
		return nil
	}
	return &storage.AuthorizationCode{
		Code:                j.Code,
		UserID:              j.UserID,
		ClientID:            j.ClientID,
		RedirectURI:         j.RedirectURI,
		Scope:               j.Scope,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		Resource:            j.Resource,
		CreatedAt:           time.Unix(j.CreatedAt, 0),
		ExpiresAt:           time.Unix(j.ExpiresAt, 0),
		Used:                j.Used,
	}
}

// SaveAuthorizationCode persists a newly issued code with a TTL matching its
// expiry, so Valkey reclaims stale codes without an explicit sweep.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	data, err := json.Marshal(toAuthorizationCodeJSON(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	ttl := calculateTTL(code.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}

	key := s.codeKey(code.Code)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code", "client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode retrieves a code without consuming it.
// For the actual exchange use RedeemAuthorizationCode.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.codeKey(code)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	authCode := fromAuthorizationCodeJSON(&j)

	// TTL should handle this, but double-check.
	if time.Now().After(authCode.ExpiresAt) {
		return nil, storage.ErrAuthorizationCodeExpired
	}

	return authCode, nil
}

// RedeemAuthorizationCode atomically checks the code is live and unused and
// marks it used, via a Lua script so only ONE concurrent redemption can
// succeed across all server instances.
func (s *Store) RedeemAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaRedeemAuthorizationCode).
			Numkeys(1).
			Key(s.codeKey(code)).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic code redemption: %w", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrAuthorizationCodeNotFound
	case result == "EXPIRED":
		return nil, storage.ErrAuthorizationCodeExpired
	case strings.HasPrefix(result, "ALREADY_USED:"):
		// Parse the code data to return for reuse detection.
		codeData := strings.TrimPrefix(result, "ALREADY_USED:")
		var j authorizationCodeJSON
		if err := json.Unmarshal([]byte(codeData), &j); err != nil {
			return nil, fmt.Errorf("%w: failed to parse reused code", storage.ErrAuthorizationCodeUsed)
		}
		return fromAuthorizationCodeJSON(&j), storage.ErrAuthorizationCodeUsed
	}

	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse authorization code: %w", err)
	}

	s.logger.Debug("Marked authorization code as used", "client_id", j.ClientID)

	redeemed := fromAuthorizationCodeJSON(&j)
	redeemed.Used = true
	return redeemed, nil
}

// DeleteAuthorizationCode removes a code.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.codeKey(code)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return nil
}

// CleanupExpiredCodes is a no-op: codes carry a native TTL and Valkey
// reclaims them on expiry.
func (s *Store) CleanupExpiredCodes(ctx context.Context) (int, error) {
	return 0, nil
}
