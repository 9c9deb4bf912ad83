package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/passport/internal/platform/httpx"
	"github.com/odyssey-erp/passport/internal/shared"
)

// ErrInvalidToken is returned for unknown, expired or revoked tokens.
var ErrInvalidToken = fmt.Errorf("auth: invalid token: %w", shared.ErrUnauthorized)

// Token is an issued bearer credential. Value is only known at issue time.
type Token struct {
	Value     string    `json:"token"`
	ID        string    `json:"-"`
	UserID    int64     `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

type tokenPayload struct {
	TokenID   string    `json:"token_id"`
	UserID    int64     `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenStore keeps opaque bearer tokens in Redis. Only a SHA-256 digest of the
// token is stored; a per-user set indexes digests for bulk revocation.
type TokenStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(client *redis.Client, prefix string, ttl time.Duration) *TokenStore {
	return &TokenStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

// TTL returns the token lifetime.
func (s *TokenStore) TTL() time.Duration {
	return s.ttl
}

// Issue creates a token for the user.
func (s *TokenStore) Issue(ctx context.Context, userID int64) (Token, error) {
	secret, err := randomSecret()
	if err != nil {
		return Token{}, err
	}
	now := s.now().UTC()
	tok := Token{
		Value:     s.prefix + secret,
		ID:        uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(s.ttl),
	}
	data, err := json.Marshal(tokenPayload{TokenID: tok.ID, UserID: userID, IssuedAt: now, ExpiresAt: tok.ExpiresAt})
	if err != nil {
		return Token{}, err
	}
	digest := digestOf(tok.Value)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tokenKey(digest), data, s.ttl)
		pipe.SAdd(ctx, userTokensKey(userID), digest)
		pipe.Expire(ctx, userTokensKey(userID), s.ttl)
		return nil
	})
	if err != nil {
		return Token{}, fmt.Errorf("auth: store token: %w", err)
	}
	return tok, nil
}

// Verify resolves a presented token into a principal.
func (s *TokenStore) Verify(ctx context.Context, value string) (shared.Principal, error) {
	if value == "" || !strings.HasPrefix(value, s.prefix) {
		return shared.Principal{}, ErrInvalidToken
	}
	payload, err := s.load(ctx, digestOf(value))
	if err != nil {
		return shared.Principal{}, err
	}
	return shared.Principal{UserID: payload.UserID, TokenID: payload.TokenID}, nil
}

// Revoke deletes one token. Revoking an unknown token is not an error.
func (s *TokenStore) Revoke(ctx context.Context, value string) error {
	digest := digestOf(value)
	payload, err := s.load(ctx, digest)
	if errors.Is(err, ErrInvalidToken) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, tokenKey(digest))
		pipe.SRem(ctx, userTokensKey(payload.UserID), digest)
		return nil
	})
	return err
}

// RevokeAll deletes every token of the user and reports how many were live.
func (s *TokenStore) RevokeAll(ctx context.Context, userID int64) (int, error) {
	digests, err := s.client.SMembers(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(digests)+1)
	for _, d := range digests {
		keys = append(keys, tokenKey(d))
	}
	var deleted *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(digests) > 0 {
			deleted = pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, userTokensKey(userID))
		return nil
	})
	if err != nil {
		return 0, err
	}
	if deleted == nil {
		return 0, nil
	}
	return int(deleted.Val()), nil
}

func (s *TokenStore) load(ctx context.Context, digest string) (tokenPayload, error) {
	raw, err := s.client.Get(ctx, tokenKey(digest)).Bytes()
	if errors.Is(err, redis.Nil) {
		return tokenPayload{}, ErrInvalidToken
	}
	if err != nil {
		return tokenPayload{}, fmt.Errorf("auth: load token: %w", err)
	}
	var payload tokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return tokenPayload{}, ErrInvalidToken
	}
	if !payload.ExpiresAt.IsZero() && s.now().After(payload.ExpiresAt) {
		return tokenPayload{}, ErrInvalidToken
	}
	return payload, nil
}

// Authenticate is the bearer middleware. It stores the principal and the raw
// token in the request context, answering 401 when either is missing or invalid.
func (s *TokenStore) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value := bearerToken(r)
		if value == "" {
			httpx.RespondError(w, ErrInvalidToken)
			return
		}
		principal, err := s.Verify(r.Context(), value)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		ctx := shared.ContextWithPrincipal(r.Context(), principal)
		ctx = context.WithValue(ctx, rawTokenKey{}, value)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type rawTokenKey struct{}

// TokenFromContext returns the bearer token presented with the request.
func TokenFromContext(ctx context.Context) string {
	v, _ := ctx.Value(rawTokenKey{}).(string)
	return v
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func digestOf(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func tokenKey(digest string) string {
	return "auth:token:" + digest
}

func userTokensKey(userID int64) string {
	return "auth:user-tokens:" + strconv.FormatInt(userID, 10)
}
