package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/giantswarm/dbfleet/internal/policy"
)

// Identity headers trusted from the session gateway. The gateway terminates
// the session cookie and forwards the resolved identity.
const (
	HeaderUser = "X-Forwarded-User"
	HeaderRole = "X-Forwarded-Role"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   policy.Role
}

// Authenticator resolves the caller identity for a request. Authentication
// itself happens upstream; implementations only extract and validate what
// the gateway forwarded.
type Authenticator interface {
	Authenticate(r *http.Request) (Principal, error)
}

// PasswordVerifier re-checks a user's password against the external auth
// store before dangerous statements run.
type PasswordVerifier interface {
	Verify(ctx context.Context, userID, password string) error
}

// Authentication errors.
var (
	ErrNoIdentity  = errors.New("no forwarded identity")
	ErrInvalidRole = errors.New("invalid role")
	ErrBadPassword = errors.New("password verification failed")
	ErrNoVerifier  = errors.New("no password verifier configured")
)

// HeaderAuthenticator trusts the identity headers set by the gateway.
type HeaderAuthenticator struct{}

// Authenticate implements Authenticator.
func (HeaderAuthenticator) Authenticate(r *http.Request) (Principal, error) {
	user := strings.TrimSpace(r.Header.Get(HeaderUser))
	if user == "" {
		return Principal{}, ErrNoIdentity
	}
	role := policy.Role(strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderRole))))
	if !role.Valid() {
		return Principal{}, ErrInvalidRole
	}
	return Principal{UserID: user, Role: role}, nil
}

// GatewayVerifier re-checks passwords against the session gateway's verify
// endpoint. Any non-200 response counts as a failed verification.
type GatewayVerifier struct {
	URL    string
	Client *http.Client
}

// Verify implements PasswordVerifier.
func (v *GatewayVerifier) Verify(ctx context.Context, userID, password string) error {
	body, err := json.Marshal(map[string]string{"userId": userID, "password": password})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ErrBadPassword
	}
	return nil
}

type principalKey struct{}

// withPrincipal stores the principal on the request context.
func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// principalFrom reads the principal the auth middleware stored.
func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
