package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID     string
	Role       string
	ProviderID string
}

func (id Identity) IsAdmin() bool { return id.Role == auth.RoleAdmin }

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity).(Identity)
	return v, ok
}

func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

// Verifier turns a bearer token into claims.
type Verifier struct {
	Secret string
	JWKS   *auth.JWKSClient
}

func (v Verifier) Verify(token string) (*auth.Claims, error) {
	if v.JWKS != nil {
		header, err := auth.ParseHeader(token)
		if err != nil {
			return nil, err
		}
		if header.Alg == "RS256" && header.Kid != "" {
			pub, err := v.JWKS.Get(header.Kid)
			if err != nil {
				return nil, err
			}
			return auth.VerifyRS256(token, pub)
		}
	}
	if v.Secret == "" {
		return nil, auth.ErrInvalidToken
	}
	return auth.ParseAndVerifyHS256(token, v.Secret)
}

// WithIdentity requires a valid bearer token and stores the caller identity in
// the request context.
func WithIdentity(v Verifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			claims, err := v.Verify(token)
			if err != nil {
				if errors.Is(err, auth.ErrInactiveAccount) {
					http.Error(w, "account is not active", http.StatusForbidden)
					return
				}
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			id := Identity{UserID: claims.Sub, Role: claims.Role, ProviderID: claims.ProviderID}
			if slot, ok := r.Context().Value(ctxKeyAccessUser).(*string); ok {
				*slot = id.UserID
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}
