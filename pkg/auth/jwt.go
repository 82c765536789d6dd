package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/antibyte/looplang/pkg/configuration"
	"github.com/antibyte/looplang/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Used only when neither the environment nor the configuration has a secret
	defaultJWTSecret       = "fallback_secret_change_in_production"
	defaultTokenExpiration = 24
	defaultIssuer          = "looplang"

	// SecretEnvVar overrides [JWT] secret_key.
	SecretEnvVar = "LOOPLANG_JWT_SECRET"

	// TokenCookie is the cookie ExtractTokenFromRequest falls back to.
	TokenCookie = "looplang_token"
)

var (
	ErrNoToken      = errors.New("no token found in request")
	ErrInvalidToken = errors.New("invalid token")
)

// getJWTSecret prefers the environment over the configuration file.
func getJWTSecret() string {
	if envSecret := os.Getenv(SecretEnvVar); envSecret != "" {
		return envSecret
	}

	secret := configuration.GetString("JWT", "secret_key", "")
	if secret == "" {
		logger.SecurityWarn("Using fallback JWT secret - set %s for production!", SecretEnvVar)
		return defaultJWTSecret
	}
	return secret
}

func getTokenExpiration() time.Duration {
	hours := configuration.GetInt("JWT", "token_expiration_hours", defaultTokenExpiration)
	return time.Duration(hours) * time.Hour
}

func getIssuer() string {
	return configuration.GetString("JWT", "issuer", defaultIssuer)
}

// SessionClaims authorize a client to attach to one interpreter session.
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// GenerateSessionToken signs a token for sessionID.
func GenerateSessionToken(sessionID string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(getTokenExpiration())),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    getIssuer(),
			Subject:   "session",
			ID:        sessionID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(getJWTSecret()))
	if err != nil {
		return "", fmt.Errorf("token could not be signed: %w", err)
	}
	logger.AuthInfo("Session token generated for session ID: %s", sessionID)
	return signedToken, nil
}

// ValidateSessionToken checks signature, expiry and issuer and returns the claims.
func ValidateSessionToken(tokenString string) (*SessionClaims, error) {
	secretKey := getJWTSecret()

	token, err := jwt.ParseWithClaims(
		tokenString,
		&SessionClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing algorithm: %v", token.Header["alg"])
			}
			return []byte(secretKey), nil
		},
		jwt.WithIssuer(getIssuer()),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: no session in claims", ErrInvalidToken)
	}
	return claims, nil
}

// ExtractTokenFromRequest looks in the Authorization header (Bearer), then the
// token cookie, then the "token" query parameter. Browsers cannot set headers
// on a WebSocket handshake, hence the query parameter.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1], nil
		}
		return "", fmt.Errorf("invalid authorization header format")
	}

	if cookie, err := r.Cookie(TokenCookie); err == nil {
		return cookie.Value, nil
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrNoToken
}

// RequireSessionToken rejects requests without a valid session token and
// stores the claims in the request context.
func RequireSessionToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next(w, r)
			return
		}
		tokenString, err := ExtractTokenFromRequest(r)
		if err != nil {
			logger.AuthWarn("No token in request from %s: %v", r.RemoteAddr, err)
			http.Error(w, "Unauthorized: token missing", http.StatusUnauthorized)
			return
		}

		claims, err := ValidateSessionToken(tokenString)
		if err != nil {
			logger.AuthWarn("Rejected token from %s: %v", r.RemoteAddr, err)
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}

		next(w, r.WithContext(AddClaimsToContext(r.Context(), claims)))
	}
}
