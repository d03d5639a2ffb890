package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// ContextKey is a type for context keys
type ContextKey string

// ClaimsKey is the context key for JWT claims
const ClaimsKey ContextKey = "claims"

// ErrMissingToken is returned when a request carries no bearer token.
var ErrMissingToken = errors.New("missing authentication token")

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Middleware authenticates requests against a JWTService.
type Middleware struct {
	jwtService *JWTService
}

// NewMiddleware creates auth middleware for service.
func NewMiddleware(service *JWTService) *Middleware {
	return &Middleware{jwtService: service}
}

// Authenticate validates the bearer token and stores the claims on the
// request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractToken(r)
		if err != nil {
			sendError(w, http.StatusUnauthorized, "MissingToken", "Authorization header required")
			return
		}

		claims, err := m.jwtService.ValidateAccessToken(token)
		if err != nil {
			sendError(w, http.StatusUnauthorized, "InvalidToken", "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequireRole rejects requests whose claims do not carry role. Admins pass
// every role check.
func (m *Middleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaims(r)
			if !ok || (claims.Role != role && claims.Role != RoleAdmin) {
				sendError(w, http.StatusForbidden, "InsufficientPermissions", "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ExtractToken reads the token from the "token" query parameter, used by
// browsers opening websockets, or from a bearer Authorization header.
func ExtractToken(r *http.Request) (string, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}

	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) == 2 && parts[0] == "Bearer" && parts[1] != "" {
		return parts[1], nil
	}
	return "", ErrMissingToken
}

// WithClaims returns a context carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetClaims extracts JWT claims from request context
func GetClaims(r *http.Request) (*Claims, bool) {
	claims, ok := r.Context().Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetUserID extracts user ID from request context
func GetUserID(r *http.Request) (int64, bool) {
	claims, ok := GetClaims(r)
	if !ok {
		return 0, false
	}
	return claims.UserID, true
}

func sendError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   code,
		Message: message,
		Code:    code,
	})
}
