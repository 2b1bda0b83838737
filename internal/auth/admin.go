// Package auth guards the back-office routes with HS256 bearer tokens issued
// to store administrators.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/alkahf/storefront/internal/common"
)

// RoleAdmin is the role claim value required on admin routes.
const RoleAdmin = "admin"

const rolesClaim = "roles"

var errNoSecret = errors.New("auth: signing secret not configured")

// Guard validates admin bearer tokens.
type Guard struct {
	Secret    []byte
	Issuer    string
	ClockSkew time.Duration
	Role      string
	Now       func() time.Time
}

func (g Guard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g Guard) role() string {
	if g.Role != "" {
		return g.Role
	}
	return RoleAdmin
}

// Require rejects requests without a valid admin token and stores the token
// subject on the request context.
func (g Guard) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearer(r)
		if raw == "" {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		tok, err := g.Parse(raw)
		if err != nil {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		if !hasRole(tok, g.role()) {
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "insufficient permissions", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithAdminSubject(r.Context(), tok.Subject())))
	})
}

// Parse verifies the signature and registered claims of raw.
func (g Guard) Parse(raw string) (jwt.Token, error) {
	if len(g.Secret) == 0 {
		return nil, errNoSecret
	}
	alg, err := tokenAlgorithm(raw)
	if err != nil {
		return nil, err
	}
	if alg != jwa.HS256 {
		return nil, fmt.Errorf("auth: unexpected token algorithm %s", alg)
	}
	tok, err := jwt.ParseString(raw, jwt.WithKey(jwa.HS256, g.Secret), jwt.WithValidate(false))
	if err != nil {
		return nil, err
	}
	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(g.now)),
	}
	if g.ClockSkew > 0 {
		opts = append(opts, jwt.WithAcceptableSkew(g.ClockSkew))
	}
	if g.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.Issuer))
	}
	if err := jwt.Validate(tok, opts...); err != nil {
		return nil, err
	}
	if tok.Subject() == "" {
		return nil, errors.New("auth: token without subject")
	}
	return tok, nil
}

// Issue signs an admin token for subject valid for ttl.
func (g Guard) Issue(subject string, ttl time.Duration) (string, error) {
	if len(g.Secret) == 0 {
		return "", errNoSecret
	}
	now := g.now()
	b := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(ttl)).
		Claim(rolesClaim, []string{g.role()})
	if g.Issuer != "" {
		b = b.Issuer(g.Issuer)
	}
	tok, err := b.Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, g.Secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func tokenAlgorithm(raw string) (jwa.SignatureAlgorithm, error) {
	msg, err := jws.ParseString(raw)
	if err != nil {
		return "", err
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return "", errors.New("auth: expected exactly one signature")
	}
	headers := sigs[0].ProtectedHeaders()
	if headers == nil || headers.Algorithm() == "" {
		return "", errors.New("auth: token missing algorithm")
	}
	if headers.Algorithm() == jwa.NoSignature {
		return "", errors.New("auth: token uses none algorithm")
	}
	return headers.Algorithm(), nil
}

func hasRole(tok jwt.Token, role string) bool {
	v, ok := tok.Get(rolesClaim)
	if !ok {
		return false
	}
	switch roles := v.(type) {
	case []any:
		return slices.ContainsFunc(roles, func(r any) bool {
			s, ok := r.(string)
			return ok && s == role
		})
	case []string:
		return slices.Contains(roles, role)
	case string:
		return roles == role
	}
	return false
}

func bearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
