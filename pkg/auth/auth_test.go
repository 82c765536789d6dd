package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestGenerateSessionID tests session ID generation
func TestGenerateSessionID(t *testing.T) {
	sessionID1 := generateSessionID()
	sessionID2 := generateSessionID()

	if sessionID1 == "" {
		t.Error("Session ID should not be empty")
	}
	if sessionID1 == sessionID2 {
		t.Error("Session IDs should be unique")
	}
	if len(sessionID1) != 36 {
		t.Errorf("Session ID should be a UUID, got %q", sessionID1)
	}
}

// TestJWTTokenGeneration tests JWT token creation and validation
func TestJWTTokenGeneration(t *testing.T) {
	sessionID := "test-session-123"

	token, err := GenerateSessionToken(sessionID)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if token == "" {
		t.Error("Generated token should not be empty")
	}

	claims, err := ValidateSessionToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if claims.SessionID != sessionID {
		t.Errorf("Expected session ID %s, got %s", sessionID, claims.SessionID)
	}
	if claims.Issuer != defaultIssuer {
		t.Errorf("Expected issuer %s, got %s", defaultIssuer, claims.Issuer)
	}
}

func signClaims(t *testing.T, claims SessionClaims, secret string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}

// TestRejectedTokens covers tokens that are well formed but must not be accepted
func TestRejectedTokens(t *testing.T) {
	now := time.Now()
	valid := func() SessionClaims {
		return SessionClaims{
			SessionID: "s-1",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				IssuedAt:  jwt.NewNumericDate(now),
				Issuer:    defaultIssuer,
			},
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))

	noExpiry := valid()
	noExpiry.ExpiresAt = nil

	wrongIssuer := valid()
	wrongIssuer.Issuer = "someone-else"

	noSession := valid()
	noSession.SessionID = ""

	testCases := []struct {
		name  string
		token string
	}{
		{"expired", signClaims(t, expired, getJWTSecret())},
		{"no expiry", signClaims(t, noExpiry, getJWTSecret())},
		{"wrong issuer", signClaims(t, wrongIssuer, getJWTSecret())},
		{"no session", signClaims(t, noSession, getJWTSecret())},
		{"wrong secret", signClaims(t, valid(), "some other secret")},
		{"empty", ""},
		{"garbage", "invalid.token.here"},
		{"incomplete", "eyJ0eXAiOiJKV1QiLCJhbGciOiJIUzI1NiJ9"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateSessionToken(tc.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

// TestSecretFromEnvironment checks that the environment wins over configuration
func TestSecretFromEnvironment(t *testing.T) {
	t.Setenv(SecretEnvVar, "from-env")
	if got := getJWTSecret(); got != "from-env" {
		t.Errorf("Expected secret from environment, got %q", got)
	}

	token, err := GenerateSessionToken("env-session")
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv(SecretEnvVar, "rotated")
	if _, err := ValidateSessionToken(token); err == nil {
		t.Error("Token signed with the old secret should be rejected")
	}
}

// TestSessionCreationHandler tests the session creation endpoint
func TestSessionCreationHandler(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/session", nil)
	w := httptest.NewRecorder()
	HandleCreateSession(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if !response.Success || response.SessionID == "" || response.Token == "" {
		t.Fatalf("Unexpected response %+v", response)
	}

	claims, err := ValidateSessionToken(response.Token)
	if err != nil {
		t.Fatalf("Issued token should be valid: %v", err)
	}
	if claims.SessionID != response.SessionID {
		t.Errorf("Token is for %s, response says %s", claims.SessionID, response.SessionID)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != TokenCookie || cookies[0].Value != response.Token {
		t.Errorf("Expected token cookie, got %v", cookies)
	}
}

func TestSessionCreationRequiresPost(t *testing.T) {
	w := httptest.NewRecorder()
	HandleCreateSession(w, httptest.NewRequest("GET", "/api/session", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	HandleCreateSession(w, httptest.NewRequest("OPTIONS", "/api/session", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Preflight should succeed, got %d", w.Code)
	}
}

// TestTokenValidationHandler tests the token validation endpoint
func TestTokenValidationHandler(t *testing.T) {
	sessionID := "test-session-validate"
	token, err := GenerateSessionToken(sessionID)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	testCases := []struct {
		name         string
		prepare      func(r *http.Request)
		expectedCode int
	}{
		{"header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: TokenCookie, Value: token}) }, http.StatusOK},
		{"no token", func(r *http.Request) {}, http.StatusUnauthorized},
		{"invalid token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer invalid.token.here") }, http.StatusUnauthorized},
		{"malformed header", func(r *http.Request) { r.Header.Set("Authorization", token) }, http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/session/validate", nil)
			tc.prepare(req)
			w := httptest.NewRecorder()
			HandleTokenValidation(w, req)

			if w.Code != tc.expectedCode {
				t.Fatalf("Expected status %d, got %d", tc.expectedCode, w.Code)
			}
			if tc.expectedCode != http.StatusOK {
				return
			}
			var response SessionResponse
			if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
				t.Fatalf("Failed to parse response: %v", err)
			}
			if response.SessionID != sessionID {
				t.Errorf("Expected session ID %s, got %s", sessionID, response.SessionID)
			}
		})
	}
}

// TestLogoutHandler tests the logout endpoint
func TestLogoutHandler(t *testing.T) {
	w := httptest.NewRecorder()
	HandleLogout(w, httptest.NewRequest("POST", "/api/session/logout", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	found := false
	for _, cookie := range w.Header()["Set-Cookie"] {
		if strings.Contains(cookie, TokenCookie) && strings.Contains(cookie, "Max-Age=0") {
			found = true
		}
	}
	if !found {
		t.Errorf("Logout should clear %s cookie, got %v", TokenCookie, w.Header()["Set-Cookie"])
	}
}

// TestExtractTokenFromRequest tests token extraction from different sources
func TestExtractTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=from-query", nil)
	if token, err := ExtractTokenFromRequest(req); err != nil || token != "from-query" {
		t.Errorf("Query: got %q, %v", token, err)
	}

	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: "from-cookie"})
	if token, err := ExtractTokenFromRequest(req); err != nil || token != "from-cookie" {
		t.Errorf("Cookie should win over query: got %q, %v", token, err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", "from-header"))
	if token, err := ExtractTokenFromRequest(req); err != nil || token != "from-header" {
		t.Errorf("Header should win over cookie: got %q, %v", token, err)
	}

	empty := httptest.NewRequest("GET", "/ws", nil)
	if token, err := ExtractTokenFromRequest(empty); !errors.Is(err, ErrNoToken) || token != "" {
		t.Errorf("Expected ErrNoToken, got %q, %v", token, err)
	}
}

// TestRequireSessionToken checks that the middleware passes claims downstream
func TestRequireSessionToken(t *testing.T) {
	token, err := GenerateSessionToken("mw-session")
	if err != nil {
		t.Fatal(err)
	}

	var seen string
	handler := RequireSessionToken(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaimsFromContext(r.Context())
		if !ok {
			t.Error("Claims missing from context")
			return
		}
		sid, _ := GetSessionIDFromContext(r.Context())
		if sid != claims.SessionID {
			t.Errorf("Session ID %q does not match claims %q", sid, claims.SessionID)
		}
		seen = sid
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/ws?token="+token, nil))
	if seen != "mw-session" {
		t.Errorf("Handler saw session %q", seen)
	}

	w = httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/ws", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
}

// BenchmarkTokenValidation benchmarks token validation performance
func BenchmarkTokenValidation(b *testing.B) {
	token, err := GenerateSessionToken("benchmark-session")
	if err != nil {
		b.Fatalf("Failed to generate token: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ValidateSessionToken(token); err != nil {
			b.Fatalf("Failed to validate token: %v", err)
		}
	}
}
