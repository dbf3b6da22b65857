package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antibyte/brainterm/pkg/configuration"
	"github.com/antibyte/brainterm/pkg/logger"
	"github.com/antibyte/brainterm/pkg/store"
)

// SessionResolver looks up the username bound to a session, if any.
// The terminal handler implements this.
type SessionResolver interface {
	SessionUsername(sessionID string) string
}

var (
	sessionResolver SessionResolver
	userStore       *store.Store
)

// SetSessionResolver sets the session resolver for use in auth handlers
func SetSessionResolver(resolver SessionResolver) {
	sessionResolver = resolver
}

// SetStore sets the user store for use in the registration handler
func SetStore(s *store.Store) {
	userStore = s
}

// LoginRequest definiert die Struktur für Login-Anfragen
type LoginRequest struct {
	SessionID string `json:"sessionId"`
}

// RegisterRequest definiert die Struktur für Registrierungs-Anfragen
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse definiert die Struktur für Login-Antworten
type LoginResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

// SessionResponse definiert die Struktur für Session-Antworten
type SessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

// setCORSHeaders sets the shared CORS headers for the auth endpoints
func setCORSHeaders(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Content-Type", "application/json")
}

// HandleLogin verarbeitet Login-Anfragen und generiert JWT-Tokens
func HandleLogin(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "POST, OPTIONS")

	// Handle OPTIONS (Preflight) request
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Nur POST-Anfragen akzeptieren
	if r.Method != "POST" {
		logger.AuthWarn("Invalid method for login: %s", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Request Body parsen
	var loginReq LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&loginReq); err != nil {
		logger.AuthWarn("Invalid JSON in login request: %v", err)
		respondWithError(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	// Session-ID validieren
	if loginReq.SessionID == "" {
		logger.AuthWarn("Missing session ID in login request")
		respondWithError(w, "Session ID required", http.StatusBadRequest)
		return
	}

	// Issue a user token when the session is bound to an authenticated user,
	// otherwise a guest token.
	var token string
	var err error
	username := ""
	if sessionResolver != nil {
		username = sessionResolver.SessionUsername(loginReq.SessionID)
	}
	if username != "" && username != "guest" {
		token, err = GenerateUserToken(loginReq.SessionID, username)
		if err != nil {
			logger.AuthError("Failed to generate user JWT token for session %s (user: %s): %v", loginReq.SessionID, username, err)
			respondWithError(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}
		logger.AuthInfo("Generated user token for authenticated user: %s (session: %s)", username, loginReq.SessionID)
	} else {
		token, err = GenerateGuestToken(loginReq.SessionID)
		if err != nil {
			logger.AuthError("Failed to generate guest JWT token for session %s: %v", loginReq.SessionID, err)
			respondWithError(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}
		logger.AuthInfo("Generated guest token for session: %s", loginReq.SessionID)
	}

	// Cookie setzen für automatische Übertragung
	cookie := &http.Cookie{
		Name:     "guest_token",
		Value:    token,
		Path:     "/",
		MaxAge:   int(getTokenExpiration().Seconds()),
		HttpOnly: true,  // XSS-Schutz
		Secure:   false, // In Produktion auf true setzen bei HTTPS
		SameSite: http.SameSiteLaxMode,
	}
	http.SetCookie(w, cookie)

	// Erfolgreiche Antwort
	response := LoginResponse{
		Success:   true,
		Token:     token,
		SessionID: loginReq.SessionID,
		Message:   "Login successful",
	}

	logger.AuthInfo("JWT token generated for session: %s", loginReq.SessionID)
	json.NewEncoder(w).Encode(response)
}

// HandleRegister legt einen neuen Benutzer an
func HandleRegister(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "POST, OPTIONS")

	// Handle OPTIONS request
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != "POST" {
		logger.AuthWarn("Invalid method for registration: %s", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !configuration.GetBool("Authentication", "enable_registration", true) {
		respondWithError(w, "Registration is disabled", http.StatusForbidden)
		return
	}
	if userStore == nil {
		respondWithError(w, "Registration not available", http.StatusServiceUnavailable)
		return
	}

	var registerReq RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&registerReq); err != nil {
		logger.AuthWarn("Invalid JSON in registration request: %v", err)
		respondWithError(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	username := strings.TrimSpace(registerReq.Username)
	if msg := ValidateCredentials(username, registerReq.Password); msg != "" {
		respondWithError(w, msg, http.StatusBadRequest)
		return
	}

	// Registration rate limiting per IP
	clientIP := getClientIP(r)
	window := configuration.GetDuration("Security", "rate_limit_window", time.Minute)
	if count, err := userStore.CountRecentRegistrations(clientIP, window); err == nil && count >= 3 {
		logger.SecurityWarn("Registration rate limit hit for IP %s", clientIP)
		respondWithError(w, "Too many registration attempts, try again later", http.StatusTooManyRequests)
		return
	}
	userStore.RecordRegistrationAttempt(clientIP)

	if err := userStore.CreateUser(username, registerReq.Password, clientIP); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			respondWithError(w, "Username already taken", http.StatusConflict)
			return
		}
		logger.AuthError("Failed to create user '%s': %v", username, err)
		respondWithError(w, "Registration failed", http.StatusInternalServerError)
		return
	}

	logger.AuthInfo("Registered new user '%s' from IP %s", username, clientIP)
	json.NewEncoder(w).Encode(LoginResponse{
		Success: true,
		Message: "Registration successful",
	})
}

// ValidateCredentials checks username and password against the configured
// length limits. Returns an empty string when both are acceptable.
func ValidateCredentials(username, password string) string {
	minUser := configuration.GetInt("Authentication", "min_username_length", 3)
	maxUser := configuration.GetInt("Authentication", "max_username_length", 20)
	minPass := configuration.GetInt("Authentication", "min_password_length", 6)
	maxPass := configuration.GetInt("Authentication", "max_password_length", 100)

	if len(username) < minUser || len(username) > maxUser {
		return fmt.Sprintf("Username must be between %d and %d characters", minUser, maxUser)
	}
	for _, r := range username {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_') {
			return "Username may only contain letters, digits and underscores"
		}
	}
	if len(password) < minPass || len(password) > maxPass {
		return fmt.Sprintf("Password must be between %d and %d characters", minPass, maxPass)
	}
	return ""
}

// HandleTokenValidation validiert ein JWT-Token
func HandleTokenValidation(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "GET, POST, OPTIONS")

	// Handle OPTIONS request
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Token aus Request extrahieren
	tokenString, err := ExtractTokenFromRequest(r)
	if err != nil {
		logger.AuthWarn("No token found in validation request: %v", err)
		respondWithError(w, "Token not found", http.StatusUnauthorized)
		return
	}

	// Token validieren (Gast- oder Benutzertoken)
	claims, isUserToken, err := ValidateToken(tokenString)
	if err != nil {
		logger.AuthWarn("Token validation failed: %v", err)
		respondWithError(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	// Extract SessionID based on token type
	var sessionID string
	if isUserToken {
		if userClaims, ok := claims.(*UserClaims); ok {
			sessionID = userClaims.SessionID
		} else {
			logger.AuthError("Failed to cast user claims")
			respondWithError(w, "Invalid token format", http.StatusInternalServerError)
			return
		}
	} else {
		if guestClaims, ok := claims.(*GuestClaims); ok {
			sessionID = guestClaims.SessionID
		} else {
			logger.AuthError("Failed to cast guest claims")
			respondWithError(w, "Invalid token format", http.StatusInternalServerError)
			return
		}
	}

	// Erfolgreiche Validierung
	response := LoginResponse{
		Success:   true,
		SessionID: sessionID,
		Message:   "Token valid",
	}

	logger.AuthInfo("Token validated for session: %s", sessionID)
	json.NewEncoder(w).Encode(response)
}

// HandleLogout löscht das JWT-Token Cookie
func HandleLogout(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "POST, OPTIONS")

	// Handle OPTIONS request
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Cookie löschen
	cookie := &http.Cookie{
		Name:     "guest_token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // Sofort löschen
		HttpOnly: true,
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
	}
	http.SetCookie(w, cookie)

	// Erfolgreiche Antwort
	response := LoginResponse{
		Success: true,
		Message: "Logout successful",
	}

	logger.AuthInfo("User logged out, token cookie cleared")
	json.NewEncoder(w).Encode(response)
}

// HandleCreateSession creates a new guest session and returns the session ID
func HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "POST, OPTIONS")

	// Handle OPTIONS request
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Only accept POST requests
	if r.Method != "POST" {
		logger.AuthWarn("Invalid method for session creation: %s", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Get client IP address
	clientIP := getClientIP(r)
	// Generate new session ID
	sessionID := uuid.NewString()

	// Return session ID to client
	response := SessionResponse{
		Success:   true,
		SessionID: sessionID,
		Message:   "Session created successfully",
	}

	logger.AuthInfo("New guest session created: %s for IP: %s", sessionID, clientIP)
	json.NewEncoder(w).Encode(response)
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first (for load balancers/proxies)
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		return forwarded
	}

	// Check X-Real-IP header
	realIP := r.Header.Get("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	// Fall back to RemoteAddr
	return r.RemoteAddr
}

// respondWithError sendet eine Fehlerantwort als JSON
func respondWithError(w http.ResponseWriter, message string, statusCode int) {
	w.WriteHeader(statusCode)
	response := LoginResponse{
		Success: false,
		Message: message,
	}
	json.NewEncoder(w).Encode(response)
}
