package middleware

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
	"sync"
)

// ServiceKeyConfig holds service-to-service authentication configuration
type ServiceKeyConfig struct {
	// APIKeys is the list of valid service keys (from configuration)
	APIKeys []string

	// GuardPaths are the only paths this middleware protects; all other
	// requests pass through untouched
	GuardPaths []string
}

// ServiceKeyMiddleware protects service-to-service endpoints with static
// API keys. Unlike the JWT middleware it guards an allow-list of paths
// instead of skipping one: everything outside GuardPaths is ignored. An
// empty key list disables the check entirely.
type ServiceKeyMiddleware struct {
	config   *ServiceKeyConfig
	mu       sync.RWMutex
	guardMap map[string]bool
}

// NewServiceKeyMiddleware creates a new service key middleware
func NewServiceKeyMiddleware(config *ServiceKeyConfig) *ServiceKeyMiddleware {
	m := &ServiceKeyMiddleware{
		config:   config,
		guardMap: make(map[string]bool),
	}

	for _, path := range config.GuardPaths {
		m.guardMap[path] = true
	}

	return m
}

// Wrap wraps an http.Handler with service key authentication
func (m *ServiceKeyMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		apiKeys := m.config.APIKeys
		m.mu.RUnlock()

		// No keys configured: service auth disabled
		if len(apiKeys) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		if !m.isGuarded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := m.extractAPIKey(r)
		if apiKey == "" {
			m.unauthorized(w, "Missing API key")
			return
		}

		if !m.validateAPIKey(apiKey, apiKeys) {
			log.Printf("ServiceKeyMiddleware: Invalid API key attempt from %s", r.RemoteAddr)
			m.unauthorized(w, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isGuarded checks if the path requires a service key
func (m *ServiceKeyMiddleware) isGuarded(path string) bool {
	if m.guardMap[path] {
		return true
	}

	// Prefix matches for paths like /api/notifications/*
	for guardPath := range m.guardMap {
		if strings.HasSuffix(guardPath, "*") {
			prefix := strings.TrimSuffix(guardPath, "*")
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
	}

	return false
}

// extractAPIKey extracts the API key from the request
// Supports: Authorization header (Bearer/ApiKey), X-API-Key header
func (m *ServiceKeyMiddleware) extractAPIKey(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer ")
		}
		if strings.HasPrefix(authHeader, "ApiKey ") {
			return strings.TrimPrefix(authHeader, "ApiKey ")
		}
	}

	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return apiKey
	}

	return ""
}

// validateAPIKey validates an API key against the list of valid keys
// Uses constant-time comparison to prevent timing attacks
func (m *ServiceKeyMiddleware) validateAPIKey(provided string, validKeys []string) bool {
	for _, valid := range validKeys {
		if subtle.ConstantTimeCompare([]byte(provided), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}

// unauthorized sends an unauthorized response
func (m *ServiceKeyMiddleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer realm=\"API\"")
	w.WriteHeader(http.StatusUnauthorized)
	if _, err := w.Write([]byte(`{"error":"` + message + `"}`)); err != nil {
		log.Printf("Failed to write error response: %v", err)
	}
}

// SetKeys replaces the valid key list
func (m *ServiceKeyMiddleware) SetKeys(keys []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.APIKeys = keys
}
