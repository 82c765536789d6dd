package auth

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/antibyte/looplang/pkg/logger"
)

// SessionResponse is the JSON body of the session endpoints.
type SessionResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

func setCORSHeaders(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Content-Type", "application/json")
}

func tokenCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     TokenCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// HandleCreateSession issues a new session ID together with a token for it.
// The interpreter session itself is created when the WebSocket connects.
func HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "POST, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		logger.AuthWarn("Invalid method for session creation: %s", r.Method)
		respondWithError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := generateSessionID()
	token, err := GenerateSessionToken(sessionID)
	if err != nil {
		logger.AuthError("Failed to generate token for session %s: %v", sessionID, err)
		respondWithError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	cookie := tokenCookie(token, int(getTokenExpiration().Seconds()))
	cookie.Secure = r.TLS != nil
	http.SetCookie(w, cookie)

	logger.AuthInfo("New session created: %s for IP: %s", sessionID, getClientIP(r))
	json.NewEncoder(w).Encode(SessionResponse{
		Success:   true,
		Token:     token,
		SessionID: sessionID,
		Message:   "Session created successfully",
	})
}

// HandleTokenValidation reports the session a token belongs to.
func HandleTokenValidation(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "GET, POST, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	tokenString, err := ExtractTokenFromRequest(r)
	if err != nil {
		logger.AuthWarn("No token found in validation request: %v", err)
		respondWithError(w, "Token not found", http.StatusUnauthorized)
		return
	}
	claims, err := ValidateSessionToken(tokenString)
	if err != nil {
		logger.AuthWarn("Token validation failed: %v", err)
		respondWithError(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(SessionResponse{
		Success:   true,
		SessionID: claims.SessionID,
		Message:   "Token valid",
	})
}

// HandleLogout clears the token cookie.
func HandleLogout(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "POST, OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	http.SetCookie(w, tokenCookie("", -1))
	logger.AuthInfo("Token cookie cleared for %s", getClientIP(r))
	json.NewEncoder(w).Encode(SessionResponse{
		Success: true,
		Message: "Logout successful",
	})
}

func generateSessionID() string {
	return uuid.New().String()
}

// getClientIP prefers proxy headers over RemoteAddr.
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

func respondWithError(w http.ResponseWriter, message string, statusCode int) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(SessionResponse{
		Success: false,
		Message: message,
	})
}
