package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/deposit-settlement/internal/api/problem"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const (
	userContextKey  contextKey = "user_id"
	traceContextKey contextKey = "trace_id"

	tokenLeeway = 30 * time.Second
)

var (
	jwtSecret   []byte
	jwtIssuer   string
	jwtAudience string

	errMissingHeader = errors.New("authorization header required")
	errNotBearer     = errors.New("invalid token format")
	errBadSubject    = errors.New("invalid token claims")
)

// authClaims carries the profile id in user_id; sub is accepted as a
// fallback and must agree when both are present.
type authClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func SetJWTSecret(secret string) {
	if secret == "" {
		return
	}
	jwtSecret = []byte(secret)
}

func SetJWTValidation(issuer, audience string) {
	jwtIssuer = strings.TrimSpace(issuer)
	jwtAudience = strings.TrimSpace(audience)
}

// JWTSecret returns a copy of the HMAC key, for tests that mint tokens.
func JWTSecret() []byte {
	clone := make([]byte, len(jwtSecret))
	copy(clone, jwtSecret)
	return clone
}

func JWTIssuer() string   { return jwtIssuer }
func JWTAudience() string { return jwtAudience }

// AuthMiddleware verifies the HS256 bearer token and stores the caller's
// profile id in the request context. Tokens are minted by the identity
// provider; this service never issues them.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(jwtSecret) == 0 {
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), http.StatusText(http.StatusInternalServerError), "auth is not configured")
			return
		}

		userID, err := authenticate(r.Header.Get("Authorization"))
		if err != nil {
			typ, detail := "auth/invalid-token", "Invalid token"
			switch {
			case errors.Is(err, errMissingHeader):
				typ, detail = "auth/authorization-header-required", "Authorization header required"
			case errors.Is(err, errNotBearer):
				typ, detail = "auth/invalid-token-format", "Invalid token format"
			case errors.Is(err, errBadSubject):
				typ, detail = "auth/invalid-token-claims", "Invalid token claims"
			}
			problem.Write(w, r, http.StatusUnauthorized, problem.Type(typ), http.StatusText(http.StatusUnauthorized), detail)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), userID)))
	})
}

func authenticate(header string) (uuid.UUID, error) {
	if header == "" {
		return uuid.Nil, errMissingHeader
	}
	scheme, tokenString, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenString) == "" {
		return uuid.Nil, errNotBearer
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(tokenLeeway),
	}
	if jwtIssuer != "" {
		opts = append(opts, jwt.WithIssuer(jwtIssuer))
	}
	if jwtAudience != "" {
		opts = append(opts, jwt.WithAudience(jwtAudience))
	}

	claims := &authClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenString), claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return jwtSecret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("parse token: %w", err)
	}

	subject := claims.UserID
	if subject == "" {
		subject = claims.Subject
	}
	if claims.Subject != "" && claims.Subject != subject {
		return uuid.Nil, errBadSubject
	}
	userID, err := uuid.Parse(subject)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, errBadSubject
	}
	return userID, nil
}

// UserFromContext returns the authenticated profile id.
func UserFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	v, ok := ctx.Value(userContextKey).(uuid.UUID)
	return v, ok
}

// UserIDFromContext returns the authenticated profile id as a string, or ""
// for anonymous requests.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := UserFromContext(ctx); ok {
		return id.String()
	}
	return ""
}

func ContextWithUser(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userContextKey, userID)
}

func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceContextKey).(string); ok {
		return v
	}
	return ""
}
