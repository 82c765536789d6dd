package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/antibyte/looplang/pkg/logger"
)

var (
	ErrTooManySessions = errors.New("too many active sessions")
	ErrSessionInUse    = errors.New("session already has a connection")
)

// connectionsPerMinute is the handshake budget of a single IP address.
const connectionsPerMinute = 30

// RateLimitInfo counts handshakes per IP in a one minute window.
type RateLimitInfo struct {
	requests  int
	lastReset time.Time
}

// ClientManager tracks the connected clients by session ID.
type ClientManager struct {
	clients     map[string]*Client
	rateLimits  map[string]*RateLimitInfo
	maxSessions int
	mu          sync.RWMutex
}

// NewClientManager allows up to maxSessions concurrent clients; 0 means no limit.
func NewClientManager(maxSessions int) *ClientManager {
	return &ClientManager{
		clients:     make(map[string]*Client),
		rateLimits:  make(map[string]*RateLimitInfo),
		maxSessions: maxSessions,
	}
}

// AddClient registers client under sessionID. A session can be attached to
// one connection at a time.
func (cm *ClientManager) AddClient(sessionID string, client *Client) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.clients[sessionID]; exists {
		return fmt.Errorf("%w: %s", ErrSessionInUse, sessionID)
	}
	if cm.maxSessions > 0 && len(cm.clients) >= cm.maxSessions {
		return fmt.Errorf("%w (limit %d)", ErrTooManySessions, cm.maxSessions)
	}
	cm.clients[sessionID] = client
	logger.ServerDebug("Client added for session %s (%d active)", sessionID, len(cm.clients))
	return nil
}

// RemoveClient drops sessionID if it still belongs to client.
func (cm *ClientManager) RemoveClient(sessionID string, client *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if current, exists := cm.clients[sessionID]; exists && current == client {
		delete(cm.clients, sessionID)
		logger.ServerDebug("Client removed for session %s (%d active)", sessionID, len(cm.clients))
	}
}

// GetClientCount returns the number of connected clients.
func (cm *ClientManager) GetClientCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// HasClient reports whether sessionID is connected.
func (cm *ClientManager) HasClient(sessionID string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	_, exists := cm.clients[sessionID]
	return exists
}

// CloseAll disconnects every client.
func (cm *ClientManager) CloseAll() {
	cm.mu.RLock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, c := range cm.clients {
		clients = append(clients, c)
	}
	cm.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

// CheckRateLimit fails once ipAddress opened too many connections in the
// current minute.
func (cm *ClientManager) CheckRateLimit(ipAddress string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	now := time.Now()
	rateLimit, exists := cm.rateLimits[ipAddress]
	if !exists {
		rateLimit = &RateLimitInfo{lastReset: now}
		cm.rateLimits[ipAddress] = rateLimit
	}
	if now.Sub(rateLimit.lastReset) > time.Minute {
		rateLimit.requests = 0
		rateLimit.lastReset = now
	}

	rateLimit.requests++
	if rateLimit.requests > connectionsPerMinute {
		logger.SecurityWarn("Rate limit exceeded for IP %s: %d connections in last minute", ipAddress, rateLimit.requests)
		return fmt.Errorf("rate limit exceeded: too many connections from %s", ipAddress)
	}
	return nil
}
