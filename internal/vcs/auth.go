package vcs

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type authenticator interface {
	token(ctx context.Context) (string, error)
}

type tokenAuth string

func (t tokenAuth) token(context.Context) (string, error) { return string(t), nil }

const (
	appJWTLifetime = 9 * time.Minute
	// GitHub rejects app JWTs issued in the future; backdate to absorb clock drift.
	appJWTBackdate = 60 * time.Second
	tokenRefreshAt = time.Minute
)

// appAuth exchanges a signed app JWT for an installation access token and
// caches it until shortly before expiry.
type appAuth struct {
	client         *Client
	appID          string
	installationID string
	key            *rsa.PrivateKey

	mu        sync.Mutex
	cached    string
	expiresAt time.Time
}

func newAppAuth(c *Client, appID, installationID, privateKeyPEM string) (*appAuth, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse github app private key: %w", err)
	}
	return &appAuth{client: c, appID: appID, installationID: installationID, key: key}, nil
}

// appJWT signs the short-lived RS256 token identifying the app itself.
func (a *appAuth) appJWT() (string, error) {
	now := a.client.now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-appJWTBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign app jwt: %w", err)
	}
	return signed, nil
}

type installationToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *appAuth) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cached != "" && a.client.now().Add(tokenRefreshAt).Before(a.expiresAt) {
		return a.cached, nil
	}

	appToken, err := a.appJWT()
	if err != nil {
		return "", err
	}
	exchange := &exchangeAuth{bearer: appToken}
	var out installationToken
	path := fmt.Sprintf("/app/installations/%s/access_tokens", a.installationID)
	if err := a.client.withAuth(exchange).do(ctx, "create installation token", http.MethodPost, path, nil, &out); err != nil {
		return "", err
	}
	a.cached = out.Token
	a.expiresAt = out.ExpiresAt
	return a.cached, nil
}

type exchangeAuth struct{ bearer string }

func (e *exchangeAuth) token(context.Context) (string, error) { return e.bearer, nil }

// withAuth returns a shallow copy of c using auth for its requests.
func (c *Client) withAuth(auth authenticator) *Client {
	cp := *c
	cp.auth = auth
	return &cp
}
