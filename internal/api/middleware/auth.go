package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ayo6706/transfer-orchestrator/internal/api/problem"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	principalContextKey contextKey = "principal"
	traceContextKey     contextKey = "trace_id"
)

var jwtSecret []byte
var jwtIssuer string
var jwtAudience string

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   string
}

type authClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
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

func JWTSecret() []byte {
	clone := make([]byte, len(jwtSecret))
	copy(clone, jwtSecret)
	return clone
}

// AuthMiddleware validates the HS256 bearer token and stores the Principal in the context.
// user_id is taken from the token, falling back to sub; when both are present they must agree.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := bearerToken(r.Header.Get("Authorization"))
		switch {
		case r.Header.Get("Authorization") == "":
			unauthorized(w, r, "auth/authorization-header-required", "Authorization header required")
			return
		case !ok:
			unauthorized(w, r, "auth/invalid-token-format", "Invalid token format")
			return
		case len(jwtSecret) == 0:
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), http.StatusText(http.StatusInternalServerError), "auth is not configured")
			return
		}

		claims, err := parseClaims(tokenString)
		if err != nil {
			unauthorized(w, r, "auth/invalid-token", "Invalid token")
			return
		}
		principal, ok := claims.principal()
		if !ok {
			unauthorized(w, r, "auth/invalid-token-claims", "Invalid token claims")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalContextKey, principal)))
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func parseClaims(tokenString string) (*authClaims, error) {
	claims := &authClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if jwtIssuer != "" {
		opts = append(opts, jwt.WithIssuer(jwtIssuer))
	}
	if jwtAudience != "" {
		opts = append(opts, jwt.WithAudience(jwtAudience))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return jwtSecret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	return claims, nil
}

func (c *authClaims) principal() (Principal, bool) {
	userID := c.UserID
	if userID == "" {
		userID = c.Subject
	}
	if userID == "" || (c.Subject != "" && c.Subject != userID) {
		return Principal{}, false
	}
	return Principal{UserID: userID, Role: c.Role}, true
}

func unauthorized(w http.ResponseWriter, r *http.Request, slug, detail string) {
	problem.Write(w, r, http.StatusUnauthorized, problem.Type(slug), http.StatusText(http.StatusUnauthorized), detail)
}

// RequireRole rejects callers whose token does not carry requiredRole.
func RequireRole(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserRoleFromContext(r.Context()) != requiredRole {
				problem.Write(w, r, http.StatusForbidden, problem.Type("auth/insufficient-permissions"), http.StatusText(http.StatusForbidden), "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

func UserIDFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.UserID
}

func UserRoleFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.Role
}

// TraceIDFromContext returns the request id assigned by TraceMiddleware.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceContextKey).(string); ok {
		return v
	}
	return ""
}
