package service

import (
	"sync"
	"time"
)

// SendRateLimiter frena rafagas de envios por remitente. Es una proteccion
// anti-flood de ventana corta, independiente de la cuota mensual de negocio.
type SendRateLimiter interface {
	Allow(senderID string) bool
}

type sendRateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	hits   map[string][]time.Time
}

// NewSendRateLimiter crea un limiter en memoria por remitente.
func NewSendRateLimiter(window time.Duration, max int) SendRateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	return &sendRateLimiter{
		window: window,
		max:    max,
		hits:   make(map[string][]time.Time),
	}
}

func (l *sendRateLimiter) Allow(senderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	cutoff := now.Add(-l.window)
	entries := l.hits[senderID]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.hits[senderID] = kept
		return false
	}
	kept = append(kept, now)
	l.hits[senderID] = kept
	return true
}
