package terminal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antibyte/brainterm/pkg/auth"
	"github.com/antibyte/brainterm/pkg/catalog"
	"github.com/antibyte/brainterm/pkg/configuration"
	"github.com/antibyte/brainterm/pkg/logger"
	"github.com/antibyte/brainterm/pkg/shared"
	"github.com/antibyte/brainterm/pkg/shell"
	"github.com/antibyte/brainterm/pkg/store"
)

// TerminalHandler verwaltet WebSocket-Verbindungen und die Shell-Sessions
type TerminalHandler struct {
	store   *store.Store
	catalog *catalog.Catalog

	shells       map[string]*shell.Shell // SessionID -> Shell
	lastActivity map[string]time.Time    // SessionID -> letzte Eingabe
	clients      map[*Client]bool
	mutex        sync.RWMutex

	upgrader websocket.Upgrader

	// Rate-Limiting für Session-Erstellung
	sessionRequests map[string][]time.Time // IP -> Zeitstempel der Anfragen
	bannedIPs       map[string]time.Time   // IP -> Zeitpunkt der Sperre
	rateLimitMutex  sync.Mutex

	// Sicherheits-Komponenten
	clientManager     *ClientManager
	jsonValidator     *JSONValidator
	securityValidator *SecurityValidator
}

// Client repräsentiert einen verbundenen WebSocket-Client
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	handler   *TerminalHandler
	ipAddress string
	cols      int
	rows      int
	lastPong  time.Time
	sessionID string
	shutdown  chan struct{}
}

// TerminalRequest repräsentiert eine Anfrage vom Client
type TerminalRequest struct {
	IsConfig  bool   `json:"isConfig,omitempty"`
	Content   string `json:"content,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Type      int    `json:"type,omitempty"`
	Key       string `json:"key,omitempty"` // Einzeltaste für Programmeingabe
}

// NewTerminalHandler erstellt einen neuen TerminalHandler. Store und Catalog
// dürfen nil sein, die betroffenen Shell-Befehle melden das dann selbst.
func NewTerminalHandler(st *store.Store, cat *catalog.Catalog) *TerminalHandler {
	h := &TerminalHandler{
		store:             st,
		catalog:           cat,
		shells:            make(map[string]*shell.Shell),
		lastActivity:      make(map[string]time.Time),
		clients:           make(map[*Client]bool),
		sessionRequests:   make(map[string][]time.Time),
		bannedIPs:         make(map[string]time.Time),
		clientManager:     NewClientManager(),
		jsonValidator:     NewJSONValidator(),
		securityValidator: NewSecurityValidator(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  configuration.GetInt("WebSocket", "read_buffer_size", 16384),
			WriteBufferSize: configuration.GetInt("WebSocket", "write_buffer_size", 16384),
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					logger.SecurityWarn("WebSocket request without Origin header rejected")
					return false
				}

				allowedOriginsStr := configuration.GetString("WebSocket", "allowed_origins", "http://localhost:8080,http://127.0.0.1:8080")
				for _, allowed := range strings.Split(allowedOriginsStr, ",") {
					allowed = strings.TrimSpace(allowed)
					if allowed == "*" || origin == allowed {
						return true
					}
				}

				logger.SecurityWarn("WebSocket request from disallowed origin rejected: %s", origin)
				return false
			},
		},
	}

	// Hintergrund-Routinen: Shell-Ausgaben, Ping-Überwachung, Session-Reaper
	go h.processShellOutputs()
	go h.pingClients()
	go h.cleanupSessions()

	return h
}

// HandleWebSocket verarbeitet eingehende WebSocket-Verbindungen
func (h *TerminalHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ipAddress := clientIP(r)

	logger.Info(logger.AreaTerminal, "New WebSocket connection attempt from %s", ipAddress)

	if h.isIPBanned(ipAddress) {
		logger.SecurityWarn("Connection from banned IP rejected: %s", ipAddress)
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	maxClients := configuration.GetInt("System", "max_concurrent_sessions", 50)
	if h.clientManager.GetClientCount() >= maxClients {
		logger.SecurityWarn("Maximum number of clients reached, connection rejected: %s", ipAddress)
		http.Error(w, "Server overloaded", http.StatusServiceUnavailable)
		return
	}

	maxPerIP := configuration.GetInt("Security", "max_sessions_per_ip", 5)
	if h.clientManager.CountByIP(ipAddress) >= maxPerIP {
		logger.SecurityWarn("Too many connections from IP %s, connection rejected", ipAddress)
		http.Error(w, "Too many connections", http.StatusTooManyRequests)
		return
	}

	if !h.validateConnectionToken(r) {
		logger.SecurityWarn("Missing or invalid token in WebSocket request from %s", ipAddress)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WebSocketError("WebSocket upgrade failed for %s: %v", ipAddress, err)
		return
	}

	client := &Client{
		conn:      conn,
		send:      make(chan []byte, getMaxChannelBuffer()),
		handler:   h,
		ipAddress: ipAddress,
		cols:      80,
		rows:      24,
		lastPong:  time.Now(),
		shutdown:  make(chan struct{}),
	}

	if err := h.handleClientSession(client, r); err != nil {
		logger.SecurityWarn("Session handling failed for %s: %v", ipAddress, err)
		conn.Close()
		return
	}
	if client.sessionID == "" {
		logger.Error(logger.AreaTerminal, "Client session ID is empty after session handling for %s", ipAddress)
		conn.Close()
		return
	}

	h.clientManager.AddClient(client.sessionID, client)
	h.mutex.Lock()
	h.clients[client] = true
	h.mutex.Unlock()

	logger.Info(logger.AreaTerminal, "Session %s established for %s", client.sessionID, ipAddress)

	go client.readPump()
	go client.writePump()

	// Begrüßung asynchron senden, damit der Verbindungsaufbau nicht blockiert
	go func() {
		time.Sleep(100 * time.Millisecond)

		sessionMsg := shared.Message{
			Type:      shared.MessageTypeSession,
			SessionID: client.sessionID,
		}
		if jsonMsg, err := json.Marshal(sessionMsg); err == nil {
			client.Send(jsonMsg)
		}

		h.SendMessagesToClient(client, h.getShell(client.sessionID).Greeting())

		userCount := h.getOnlineUserCount()
		countText := fmt.Sprintf("%d USERS ONLINE", userCount)
		if userCount == 1 {
			countText = "1 USER ONLINE"
		}
		client.sendText(countText)
	}()
}

// handleClientSession ordnet der Verbindung eine Session zu: per JWT-Token,
// per bekannter Session-ID oder als neue Gast-Session.
func (h *TerminalHandler) handleClientSession(client *Client, r *http.Request) error {
	// ExtractTokenFromRequest prüft Header, Cookie und Query-Parameter
	tokenString, tokenErr := auth.ExtractTokenFromRequest(r)
	if tokenErr != nil {
		tokenString = ""
	}

	if tokenString != "" {
		claims, isUserToken, err := auth.ValidateToken(tokenString)
		if err == nil {
			var sessionID, username string
			if isUserToken {
				userClaims := claims.(*auth.UserClaims)
				sessionID = userClaims.SessionID
				username = userClaims.Username
			} else {
				guestClaims := claims.(*auth.GuestClaims)
				sessionID = guestClaims.SessionID
			}

			if err := h.securityValidator.ValidateSessionID(sessionID); err != nil {
				logger.SecurityWarn("Invalid session ID in token from %s: %v", client.ipAddress, err)
				return h.createGuestSession(client)
			}

			client.sessionID = sessionID
			sh := h.getShell(sessionID)
			if username != "" && sh.Username() == "" {
				// Login-Zustand aus dem signierten Token wiederherstellen
				sh.RestoreUser(username)
			}
			logger.Info(logger.AreaSession, "Session %s resumed via token for %s", sessionID, client.ipAddress)
			return nil
		}
		logger.Warn(logger.AreaAuth, "Token validation failed for %s: %v", client.ipAddress, err)
	}

	// Kein gültiges Token: bekannte Session-ID übernehmen oder Gast-Session anlegen
	requestedSessionID := r.Header.Get("X-Session-ID")
	if requestedSessionID == "" {
		requestedSessionID = r.URL.Query().Get("sessionId")
	}

	if requestedSessionID != "" {
		if err := h.securityValidator.ValidateSessionID(requestedSessionID); err != nil {
			logger.SecurityWarn("Invalid session ID format from %s: %v", client.ipAddress, err)
			return h.createGuestSession(client)
		}
		if h.hasShell(requestedSessionID) {
			client.sessionID = requestedSessionID
			logger.Info(logger.AreaSession, "Existing session %s adopted for %s", requestedSessionID, client.ipAddress)
			return nil
		}
		logger.SecurityWarn("Unknown session %s requested from %s", requestedSessionID, client.ipAddress)
	}

	return h.createGuestSession(client)
}

// createGuestSession erstellt eine neue Gast-Session mit Rate-Limiting
func (h *TerminalHandler) createGuestSession(client *Client) error {
	if !h.checkAndUpdateSessionRateLimit(client.ipAddress) {
		return errors.New("session creation rate limit exceeded")
	}

	sessionID := uuid.NewString()
	client.sessionID = sessionID
	h.getShell(sessionID)

	logger.Info(logger.AreaSession, "New guest session created: %s for IP %s", sessionID, client.ipAddress)
	return nil
}

// getShell liefert die Shell einer Session und legt sie bei Bedarf an
func (h *TerminalHandler) getShell(sessionID string) *shell.Shell {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if sh, exists := h.shells[sessionID]; exists {
		return sh
	}
	sh := shell.New(sessionID, h.store, h.catalog)
	h.shells[sessionID] = sh
	h.lastActivity[sessionID] = time.Now()
	logger.Debug(logger.AreaSession, "Shell created for session %s", sessionID)
	return sh
}

func (h *TerminalHandler) hasShell(sessionID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, exists := h.shells[sessionID]
	return exists
}

// touchActivity merkt sich die letzte Eingabe einer Session für den Reaper
func (h *TerminalHandler) touchActivity(sessionID string) {
	h.mutex.Lock()
	h.lastActivity[sessionID] = time.Now()
	h.mutex.Unlock()
}

// SessionUsername liefert den angemeldeten Benutzer einer Session, oder einen
// leeren String für Gäste und unbekannte Sessions.
func (h *TerminalHandler) SessionUsername(sessionID string) string {
	h.mutex.RLock()
	sh, exists := h.shells[sessionID]
	h.mutex.RUnlock()
	if !exists {
		return ""
	}
	return sh.Username()
}

// checkAndUpdateSessionRateLimit prüft ob eine IP zu viele Sessions anfordert
func (h *TerminalHandler) checkAndUpdateSessionRateLimit(ipAddress string) bool {
	h.rateLimitMutex.Lock()
	defer h.rateLimitMutex.Unlock()
	now := time.Now()
	ipBanDuration := configuration.GetDuration("Terminal", "ip_ban_duration", 24*time.Hour)

	// Prüfe, ob die IP bereits gesperrt ist
	if banTime, banned := h.bannedIPs[ipAddress]; banned {
		if now.Sub(banTime) < ipBanDuration {
			logger.SecurityWarn("IP %s is still banned (%v remaining)", ipAddress, ipBanDuration-now.Sub(banTime))
			return false
		}
		// Ban ist abgelaufen
		delete(h.bannedIPs, ipAddress)
		delete(h.sessionRequests, ipAddress)
		logger.SecurityInfo("Ban for IP %s expired", ipAddress)
	}

	window := configuration.GetDuration("Terminal", "session_request_time_window", time.Minute)
	maxRequests := configuration.GetInt("Terminal", "max_session_requests_per_minute", 3)

	// Anfragen außerhalb des Zeitfensters verwerfen
	cutoff := now.Add(-window)
	validRequests := make([]time.Time, 0)
	for _, reqTime := range h.sessionRequests[ipAddress] {
		if reqTime.After(cutoff) {
			validRequests = append(validRequests, reqTime)
		}
	}

	if len(validRequests) >= maxRequests {
		h.bannedIPs[ipAddress] = now
		delete(h.sessionRequests, ipAddress)
		logger.SecurityWarn("IP %s banned for too many session requests (%d in %v)", ipAddress, len(validRequests), window)
		return false
	}

	validRequests = append(validRequests, now)
	h.sessionRequests[ipAddress] = validRequests
	return true
}

// isIPBanned prüft ob eine IP gesperrt ist
func (h *TerminalHandler) isIPBanned(ipAddress string) bool {
	h.rateLimitMutex.Lock()
	defer h.rateLimitMutex.Unlock()

	banTime, banned := h.bannedIPs[ipAddress]
	if !banned {
		return false
	}

	ipBanDuration := configuration.GetDuration("Terminal", "ip_ban_duration", 24*time.Hour)
	if time.Since(banTime) >= ipBanDuration {
		delete(h.bannedIPs, ipAddress)
		delete(h.sessionRequests, ipAddress)
		return false
	}
	return true
}

// validateConnectionToken prüft das Verbindungstoken. Lokale Verbindungen
// dürfen im Entwicklungsbetrieb ohne Token verbinden.
func (h *TerminalHandler) validateConnectionToken(r *http.Request) bool {
	tokenString, err := auth.ExtractTokenFromRequest(r)
	if err == nil && tokenString != "" {
		if _, _, err := auth.ValidateToken(tokenString); err == nil {
			return true
		}
		logger.Warn(logger.AreaAuth, "Invalid connection token from %s", r.RemoteAddr)
	}

	return isLocalRequest(r)
}

func isLocalRequest(r *http.Request) bool {
	return strings.HasPrefix(r.Host, "localhost:") ||
		strings.HasPrefix(r.Host, "127.0.0.1:") ||
		strings.HasPrefix(r.RemoteAddr, "127.0.0.1:") ||
		strings.HasPrefix(r.RemoteAddr, "[::1]:")
}

// clientIP ermittelt die Client-IP unter Berücksichtigung von Proxy-Headern
func clientIP(r *http.Request) string {
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		parts := strings.Split(forwardedFor, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

// Send sendet eine Nachricht an den Client über den send-Kanal. Blockiert
// höchstens kurz und räumt tote Clients asynchron ab.
func (c *Client) Send(message []byte) {
	c.handler.mutex.RLock()
	_, clientExists := c.handler.clients[c]
	c.handler.mutex.RUnlock()
	if !clientExists {
		return
	}

	select {
	case c.send <- message:
	case <-time.After(100 * time.Millisecond):
		logger.Warn(logger.AreaTerminal, "Send timeout for client %s, scheduling cleanup", c.conn.RemoteAddr())
		go c.handler.cleanupClient(c)
	}
}

// SendMessagesToClient sendet eine Reihe von Nachrichten an einen Client
func (h *TerminalHandler) SendMessagesToClient(client *Client, messages []shared.Message) {
	if len(messages) == 0 {
		return
	}

	exit := false
	for _, message := range messages {
		message.SessionID = client.sessionID
		jsonMsg, err := json.Marshal(message)
		if err != nil {
			logger.Error(logger.AreaTerminal, "Error marshalling message: %v", err)
			continue
		}
		client.Send(jsonMsg)

		if message.Type == shared.MessageTypeMode && message.Mode == "exit" {
			exit = true
		}
	}

	if exit {
		// Kurz warten, damit der writePump den Abschied noch ausliefert
		go func() {
			time.Sleep(100 * time.Millisecond)
			h.endSession(client)
		}()
	}
}

// endSession beendet die Session eines Clients vollständig: Shell schließen,
// Client trennen. Wird bei EXIT/BYE verwendet.
func (h *TerminalHandler) endSession(client *Client) {
	sessionID := client.sessionID

	h.mutex.Lock()
	if sh, exists := h.shells[sessionID]; exists {
		sh.Close()
		delete(h.shells, sessionID)
		delete(h.lastActivity, sessionID)
	}
	h.mutex.Unlock()

	h.cleanupClient(client)
	logger.Info(logger.AreaSession, "Session %s ended", sessionID)
}

// processShellOutputs leitet Programm-Ausgaben aller Shells an die Clients
// weiter. Das Polling hält die Kanäle gedrosselt: volle Kanäle bremsen das
// erzeugende Programm, bis hier wieder gelesen wird.
func (h *TerminalHandler) processShellOutputs() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		h.mutex.RLock()
		shells := make(map[string]*shell.Shell, len(h.shells))
		for sessionID, sh := range h.shells {
			shells[sessionID] = sh
		}
		h.mutex.RUnlock()

		for sessionID, sh := range shells {
			h.drainShellOutput(sessionID, sh)
		}
	}
}

// drainShellOutput verarbeitet pro Zyklus höchstens 100 Nachrichten einer
// Session, damit eine laute Session die anderen nicht verhungern lässt.
func (h *TerminalHandler) drainShellOutput(sessionID string, sh *shell.Shell) {
	for processed := 0; processed < 100; processed++ {
		select {
		case msg := <-sh.OutputChannel():
			msg.SessionID = sessionID
			if err := h.clientManager.SendToClient(sessionID, msg); err != nil {
				// Kein verbundener Client: Ausgabe verwerfen
				logger.Debug(logger.AreaTerminal, "Dropping output for session %s: %v", sessionID, err)
			}
		default:
			return
		}
	}
}

// pingClients trennt Clients, die nicht mehr auf Pings antworten
func (h *TerminalHandler) pingClients() {
	ticker := time.NewTicker(50 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		h.mutex.RLock()
		clientsToCheck := make([]*Client, 0, len(h.clients))
		for client := range h.clients {
			clientsToCheck = append(clientsToCheck, client)
		}
		h.mutex.RUnlock()

		staleAfter := getPongWait() + 40*time.Second
		for _, client := range clientsToCheck {
			if time.Since(client.lastPong) > staleAfter {
				logger.Warn(logger.AreaWebSocket, "No pong from client %s for more than %v, disconnecting", client.conn.RemoteAddr(), staleAfter)
				h.cleanupClient(client)
			}
		}
	}
}

// cleanupSessions räumt Shells ohne Client und ohne Aktivität ab
func (h *TerminalHandler) cleanupSessions() {
	interval := configuration.GetDuration("System", "session_cleanup_interval", 10*time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		h.reapIdleSessions()
	}
}

func (h *TerminalHandler) reapIdleSessions() {
	maxInactive := configuration.GetDuration("System", "max_inactive_time", 30*time.Minute)
	now := time.Now()

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for sessionID, sh := range h.shells {
		if h.clientManager.HasClient(sessionID) {
			continue
		}
		if last, ok := h.lastActivity[sessionID]; ok && now.Sub(last) < maxInactive {
			continue
		}
		// Schließen bricht auch ein auf Eingabe wartendes Programm ab
		sh.Close()
		delete(h.shells, sessionID)
		delete(h.lastActivity, sessionID)
		logger.Info(logger.AreaSession, "Idle session %s reaped", sessionID)
	}
}

// cleanupClient bereinigt die Ressourcen eines getrennten Clients. Die Shell
// der Session bleibt für eine Wiederverbindung bestehen, bis der Reaper sie
// abräumt.
func (h *TerminalHandler) cleanupClient(client *Client) {
	h.mutex.Lock()
	if _, exists := h.clients[client]; !exists {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	h.mutex.Unlock()

	h.clientManager.RemoveClient(client.sessionID)

	select {
	case <-client.shutdown:
	default:
		close(client.shutdown)
	}

	if client.conn != nil {
		client.conn.Close()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error(logger.AreaTerminal, "Panic during send channel close for client %s: %v", client.conn.RemoteAddr(), r)
		}
	}()
	close(client.send)

	logger.Info(logger.AreaTerminal, "Client %s disconnected (session %s)", client.ipAddress, client.sessionID)
}

// getOnlineUserCount zählt die einzigartigen online Benutzer
func (h *TerminalHandler) getOnlineUserCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	uniqueUsers := make(map[string]bool)
	for client := range h.clients {
		if client.sessionID == "" {
			continue
		}
		username := ""
		if sh, exists := h.shells[client.sessionID]; exists {
			username = sh.Username()
		}
		if username != "" {
			uniqueUsers[username] = true
		} else {
			uniqueUsers["guest_"+client.sessionID] = true
		}
	}
	return len(uniqueUsers)
}
