// Package http exposes the ledger over a JSON API.
//
// Every request is scoped to the user named in the X-User-ID header; the
// server itself holds no session state. Mutating endpoints are rate limited
// per client IP.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"buste/internal/cache"
	applog "buste/internal/log"
	"buste/internal/services"
	"buste/internal/storage"
)

// reconcileTTL bounds how stale a cached reconciliation snapshot may get
// when a write slips past the invalidation (e.g. a worker-side distribution).
const reconcileTTL = 30 * time.Second

// Server wires the ledger services into an http.Server with rate limiting,
// security headers and request logging.
type Server struct {
	http.Server

	store       storage.Store
	ledger      *services.LedgerService
	distributor *services.Distributor
	matcher     *services.RuleMatcher

	rateLimiter      *rateLimiter
	reconcileCache   *cache.LRU[services.ReconcileResult]
	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

// rateLimiter tracks request counts per client IP over a sliding minute.
type rateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientInfo
	stop     chan struct{}
	stopOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients: make(map[string]*clientInfo),
		stop:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// cleanup periodically drops clients that have gone quiet so the map does
// not grow without bound.
func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := time.Now().Add(-10 * time.Minute)
			for ip, client := range rl.clients {
				if client.lastRequest.Before(cutoff) {
					delete(rl.clients, ip)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

func (rl *rateLimiter) stopCleanup() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// allow reports whether the client is within its request budget.
func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]

	if !exists {
		rl.clients[clientIP] = &clientInfo{
			lastRequest: now,
			requests:    1,
		}
		return true
	}

	// Reset counter if more than 1 minute has passed
	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Allow up to 60 requests per minute
	client.requests++
	client.lastRequest = now

	return client.requests <= 60
}

// NewServer configures all routes, returning a ready-to-run http.Server.
func NewServer(addr string, store storage.Store, ledger *services.LedgerService, distributor *services.Distributor, matcher *services.RuleMatcher) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		store:            store,
		ledger:           ledger,
		distributor:      distributor,
		matcher:          matcher,
		rateLimiter:      newRateLimiter(),
		reconcileCache:   cache.NewLRU[services.ReconcileResult](500, reconcileTTL),
		stopCacheCleanup: make(chan struct{}),
	}

	go s.startCacheCleanup()

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("POST /accounts", s.withMiddleware(s.handleCreateAccount))
	mux.HandleFunc("GET /accounts", s.withMiddleware(s.handleListAccounts))
	mux.HandleFunc("GET /accounts/{id}/transactions", s.withMiddleware(s.handleListTransactions))

	mux.HandleFunc("POST /envelopes", s.withMiddleware(s.handleCreateEnvelope))
	mux.HandleFunc("GET /envelopes", s.withMiddleware(s.handleListEnvelopes))
	mux.HandleFunc("POST /envelopes/{id}/allocate", s.withMiddleware(s.handleAllocate))

	mux.HandleFunc("POST /transactions", s.withMiddleware(s.handleCreateTransaction))
	mux.HandleFunc("POST /transactions/{id}/approve", s.withMiddleware(s.handleApprove))
	mux.HandleFunc("POST /transactions/{id}/reject", s.withMiddleware(s.handleReject))
	mux.HandleFunc("POST /transactions/{id}/reverse", s.withMiddleware(s.handleReverse))
	mux.HandleFunc("POST /transactions/{id}/envelope", s.withMiddleware(s.handleCorrectEnvelope))
	mux.HandleFunc("POST /transactions/{id}/resolve-duplicate", s.withMiddleware(s.handleResolveDuplicate))
	mux.HandleFunc("POST /transactions/{id}/labels", s.withMiddleware(s.handleAttachLabel))
	mux.HandleFunc("GET /transactions/{id}/labels", s.withMiddleware(s.handleListLabels))

	mux.HandleFunc("POST /rules", s.withMiddleware(s.handleCreateRule))
	mux.HandleFunc("POST /labels", s.withMiddleware(s.handleCreateLabel))

	mux.HandleFunc("POST /templates", s.withMiddleware(s.handleCreateTemplate))
	mux.HandleFunc("POST /templates/{id}/process", s.withMiddleware(s.handleProcessTemplate))

	mux.HandleFunc("GET /reconciliation", s.withMiddleware(s.handleReconcile))

	return s
}

// startCacheCleanup periodically purges expired reconciliation snapshots.
func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if purged := s.reconcileCache.Purge(); purged > 0 {
				slog.Debug("Purged expired cache entries", "count", purged)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// withMiddleware adds security headers, rate limiting and request logging.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Extract client IP (considering proxies)
		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := uuid.New().String()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			applog.FieldComponent, applog.ComponentHTTP,
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldClientIP, clientIP,
			applog.FieldUserAgent, r.Header.Get("User-Agent"))

		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				applog.FieldComponent, applog.ComponentRateLimit,
				applog.FieldClientIP, clientIP,
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		slog.InfoContext(ctx, "Request completed",
			applog.FieldComponent, applog.ComponentHTTP,
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldStatusCode, rw.statusCode,
			applog.FieldDuration, duration.Milliseconds(),
			applog.FieldClientIP, clientIP)
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Shutdown stops the background goroutines and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.stopCacheCleanup)
		s.rateLimiter.stopCleanup()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
