package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/hydro-core/internal/auth"
)

// defaultTicketTTL is how long a WebSocket ticket is valid when not configured.
const defaultTicketTTL = 60 * time.Second

// ctxKeyClaims is the context key for the verified token claims.
const ctxKeyClaims contextKey = "claims"

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and carry the claims of the token that requested them.
type ticketStore struct {
	ttl     time.Duration
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

type ticketEntry struct {
	claims    *auth.Claims
	expiresAt time.Time
}

func newTicketStore(ttl time.Duration) *ticketStore {
	if ttl <= 0 {
		ttl = defaultTicketTTL
	}
	return &ticketStore{
		ttl:     ttl,
		tickets: make(map[string]ticketEntry),
	}
}

// issue creates a ticket for claims.
func (ts *ticketStore) issue(claims *auth.Claims) string {
	ticket := generateTicket()
	ts.mu.Lock()
	ts.tickets[ticket] = ticketEntry{claims: claims, expiresAt: time.Now().Add(ts.ttl)}
	ts.mu.Unlock()
	return ticket
}

// redeem checks a ticket and consumes it (single-use).
func (ts *ticketStore) redeem(ticket string) (*auth.Claims, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.tickets[ticket]
	if !ok {
		return nil, false
	}
	delete(ts.tickets, ticket)

	if !time.Now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.claims, true
}

// cleanExpired removes expired tickets.
func (ts *ticketStore) cleanExpired() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	for ticket, entry := range ts.tickets {
		if now.After(entry.expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// cleanTicketsLoop removes expired tickets periodically until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tickets.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickets.cleanExpired()
		}
	}
}

// authMiddleware validates the bearer token on protected routes and stores
// its claims in the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeUnauthorized(w, "bearer token required")
			return
		}

		claims, err := auth.ParseToken(token, s.secCfg.JWT.Secret, s.secCfg.JWT.Issuer)
		if err != nil {
			s.logger.Debug("token rejected", "error", err, "request_id", r.Context().Value(ctxKeyRequestID))
			writeUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// claimsFromContext returns the verified claims, or nil outside authMiddleware.
func claimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(ctxKeyClaims).(*auth.Claims) //nolint:errcheck // nil when absent
	return claims
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the JWT in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	ticket := s.tickets.issue(claimsFromContext(r.Context()))

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(s.tickets.ttl.Seconds()),
	})
}
