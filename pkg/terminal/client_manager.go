package terminal

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/antibyte/brainterm/pkg/configuration"
	"github.com/antibyte/brainterm/pkg/logger"
	"github.com/antibyte/brainterm/pkg/shared"
)

// RateLimitInfo speichert Rate-Limiting-Informationen pro IP
type RateLimitInfo struct {
	requests  int
	lastReset time.Time
}

// ClientManager verwaltet Client-Verbindungen mit Session-IDs
type ClientManager struct {
	clients    map[string]*Client        // sessionID -> Client
	rateLimits map[string]*RateLimitInfo // ipAddress -> RateLimitInfo
	mu         sync.RWMutex
}

// NewClientManager erstellt einen neuen ClientManager
func NewClientManager() *ClientManager {
	return &ClientManager{
		clients:    make(map[string]*Client),
		rateLimits: make(map[string]*RateLimitInfo),
	}
}

// AddClient fügt einen neuen Client hinzu
func (cm *ClientManager) AddClient(sessionID string, client *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.clients[sessionID] = client
	logger.Debug(logger.AreaTerminal, "Client added for session %s", sessionID)
}

// RemoveClient entfernt einen Client. Der send-Channel wird hier NICHT
// geschlossen, das übernimmt die Client-Bereinigung im Handler.
func (cm *ClientManager) RemoveClient(sessionID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if client, exists := cm.clients[sessionID]; exists && client != nil {
		delete(cm.clients, sessionID)
		logger.Debug(logger.AreaTerminal, "Client removed for session %s", sessionID)
	}
}

// SendToClient sendet eine Nachricht an den Client einer Session
func (cm *ClientManager) SendToClient(sessionID string, message shared.Message) error {
	cm.mu.RLock()
	client, exists := cm.clients[sessionID]
	cm.mu.RUnlock()
	if !exists {
		return fmt.Errorf("client not found for session %s", sessionID)
	}

	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %v", err)
	}

	select {
	case client.send <- jsonData:
		return nil
	case <-time.After(time.Second):
		logger.Warn(logger.AreaTerminal, "Send timeout for session %s", sessionID)
		return fmt.Errorf("send timeout")
	}
}

// GetClientCount gibt die Anzahl der verbundenen Clients zurück
func (cm *ClientManager) GetClientCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// CountByIP zählt die verbundenen Clients einer IP-Adresse
func (cm *ClientManager) CountByIP(ipAddress string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	count := 0
	for _, client := range cm.clients {
		if client.ipAddress == ipAddress {
			count++
		}
	}
	return count
}

// HasClient prüft, ob ein Client für die Session existiert
func (cm *ClientManager) HasClient(sessionID string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	_, exists := cm.clients[sessionID]
	return exists
}

// CheckRateLimit prüft das Nachrichten-Rate-Limit für eine IP-Adresse
func (cm *ClientManager) CheckRateLimit(ipAddress string) error {
	maxRequests := configuration.GetInt("Security", "rate_limit_messages", 60)
	window := configuration.GetDuration("Security", "rate_limit_window", time.Minute)

	cm.mu.Lock()
	defer cm.mu.Unlock()

	now := time.Now()
	if _, exists := cm.rateLimits[ipAddress]; !exists {
		cm.rateLimits[ipAddress] = &RateLimitInfo{requests: 0, lastReset: now}
	}

	rateLimit := cm.rateLimits[ipAddress]
	if now.Sub(rateLimit.lastReset) > window {
		rateLimit.requests = 0
		rateLimit.lastReset = now
	}
	rateLimit.requests++

	if rateLimit.requests > maxRequests {
		logger.SecurityWarn("Rate limit exceeded for IP %s: %d requests in the last %v", ipAddress, rateLimit.requests, window)
		return fmt.Errorf("rate limit exceeded: too many requests from %s", ipAddress)
	}

	return nil
}
