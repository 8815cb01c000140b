// Package auth identifies callers of the administrative endpoints.
package auth

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// FirebaseJWKSURL serves the public keys that sign Firebase ID tokens.
const FirebaseJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

// ErrNoCredentials is returned when a request carries no Authorization header.
var ErrNoCredentials = errors.New("auth: no credentials")

// Caller is an authenticated user.
type Caller struct {
	UID   string
	Email string
}

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (*Caller, error)
}

type firebaseClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// FirebaseVerifier validates Firebase ID tokens against Google's JWKS.
type FirebaseVerifier struct {
	httpClient *http.Client
	keyByKID   map[string]*rsa.PublicKey
	expires    time.Time
	jwksURL    string
	projectID  string
	cacheTTL   time.Duration
	mu         sync.RWMutex
}

// NewFirebaseVerifier creates a verifier for ID tokens issued to projectID.
func NewFirebaseVerifier(projectID string) *FirebaseVerifier {
	return &FirebaseVerifier{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		keyByKID:   map[string]*rsa.PublicKey{},
		jwksURL:    FirebaseJWKSURL,
		projectID:  projectID,
		cacheTTL:   time.Hour,
	}
}

// Authenticate validates the request's bearer token.
func (v *FirebaseVerifier) Authenticate(r *http.Request) (*Caller, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return nil, ErrNoCredentials
	}
	token, ok := bearerToken(header)
	if !ok {
		return nil, errors.New("invalid Authorization header format")
	}
	return v.Verify(r.Context(), token)
}

// Verify validates a Firebase ID token and returns its caller.
func (v *FirebaseVerifier) Verify(ctx context.Context, tokenString string) (*Caller, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer("https://securetoken.google.com/"+v.projectID),
		jwt.WithAudience(v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(30*time.Second),
	)

	var claims firebaseClaims
	token, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || strings.TrimSpace(kid) == "" {
			return nil, errors.New("missing kid in token")
		}
		return v.publicKey(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("verify token: invalid")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("verify token: subject claim missing")
	}

	return &Caller{
		UID:   claims.Subject,
		Email: strings.ToLower(strings.TrimSpace(claims.Email)),
	}, nil
}

func bearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func (v *FirebaseVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key := v.cachedKey(kid); key != nil {
		return key, nil
	}
	if err := v.refreshKeys(ctx); err != nil {
		return nil, err
	}
	if key := v.cachedKey(kid); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("key not found for kid %s", kid)
}

func (v *FirebaseVerifier) cachedKey(kid string) *rsa.PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if time.Now().After(v.expires) {
		return nil
	}
	return v.keyByKID[kid]
}

func (v *FirebaseVerifier) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := map[string]*rsa.PublicKey{}
	for _, key := range payload.Keys {
		if key.Kid == "" || key.Kty != "RSA" || key.N == "" || key.E == "" {
			continue
		}
		pub, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			continue
		}
		keys[key.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("no usable RSA keys in JWKS")
	}

	v.mu.Lock()
	v.keyByKID = keys
	v.expires = time.Now().Add(v.cacheTTL)
	v.mu.Unlock()
	return nil
}

func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}
	if exp == 0 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(exp),
	}, nil
}

// StaticToken authenticates a single shared bearer token. It is meant for
// local development where no Firebase project exists.
type StaticToken struct {
	token string
}

// NewStaticToken creates an authenticator accepting exactly token.
func NewStaticToken(token string) *StaticToken {
	return &StaticToken{token: token}
}

// Authenticate accepts the configured token as the local admin.
func (s *StaticToken) Authenticate(r *http.Request) (*Caller, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return nil, ErrNoCredentials
	}
	token, ok := bearerToken(header)
	if !ok || s.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		return nil, errors.New("invalid token")
	}
	return &Caller{UID: "local-admin"}, nil
}
