package server

import (
	"context"
	"log"
	"time"
)

const (
	retentionInterval = time.Hour
	limiterInterval   = time.Minute
)

// StartWorkers launches all background goroutines. Call with a cancellable
// context for graceful shutdown.
func (s *Server) StartWorkers(ctx context.Context) {
	if s.cfg.Audit.Retention > 0 {
		go s.runRetention(ctx)
	}
	if s.limiter != nil {
		go s.runLimiterCleanup(ctx)
	}
}

// --- Audit Retention Worker ---

// runRetention periodically deletes activity logs older than the configured
// retention (every hour).
func (s *Server) runRetention(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(retentionInterval):
			n := s.purgeExpiredLogs()
			if n > 0 {
				log.Printf("[worker] purged %d activity logs past retention", n)
			}
		}
	}
}

// purgeExpiredLogs deletes entries older than the retention window. Returns
// the number of entries removed.
func (s *Server) purgeExpiredLogs() int64 {
	if s.cfg.Audit.Retention <= 0 {
		return 0
	}
	n, err := s.audit.Purge(s.now().Add(-s.cfg.Audit.Retention))
	if err != nil {
		log.Printf("[worker] purge activity logs: %v", err)
		return 0
	}
	return n
}

// --- Rate Limiter Cleanup Worker ---

// runLimiterCleanup drops expired rate-limit windows (every minute).
func (s *Server) runLimiterCleanup(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(limiterInterval):
			s.cleanupLimiter()
		}
	}
}

func (s *Server) cleanupLimiter() int {
	if s.limiter == nil {
		return 0
	}
	return s.limiter.Cleanup()
}
