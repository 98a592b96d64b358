// Package ratelimit throttles requests per operation class and client using
// fixed-size windows backed by a shared counter store. When the store is
// unreachable the limiter downgrades to process-local counters instead of
// failing requests closed; in a multi-instance deployment the local counters
// only approximate the intended limit, which is an accepted degradation.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"driftsend/internal/logging"
)

// Class is the operation class being limited.
type Class string

const (
	ClassCreate   Class = "create"
	ClassDownload Class = "download"
	ClassDelete   Class = "delete"
)

// Decision is the outcome of a limit check. RetryAfter is set when the
// request is rejected and tells the client when the window resets.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// CounterStore atomically increments the counter for key within the window
// starting at windowStart and returns the updated count.
type CounterStore interface {
	Incr(ctx context.Context, key string, windowStart time.Time) (int64, error)
}

// Limiter enforces per-(class, client) caps over a fixed window.
type Limiter struct {
	store  CounterStore
	log    logging.Logger
	window time.Duration
	caps   map[Class]int64

	mu        sync.Mutex
	local     map[string]*localWindow
	downUntil time.Time
}

type localWindow struct {
	start time.Time
	count int64
}

// New builds a Limiter. caps maps each class to the number of requests
// allowed per window; a class missing from caps is never limited.
func New(store CounterStore, log logging.Logger, window time.Duration, caps map[Class]int64) *Limiter {
	l := &Limiter{
		store:  store,
		log:    log,
		window: window,
		caps:   caps,
		local:  make(map[string]*localWindow),
	}
	go l.pruneLoop()
	return l
}

// Allow checks and consumes one request for the given class and client.
// It never returns an error: store failures fall back to local counting.
func (l *Limiter) Allow(ctx context.Context, class Class, clientID string) Decision {
	cap, limited := l.caps[class]
	if !limited || cap <= 0 {
		return Decision{Allowed: true}
	}

	now := time.Now()
	windowStart := now.Truncate(l.window)
	key := fmt.Sprintf("%s:%s:%d", class, clientID, windowStart.Unix())

	count, err := l.store.Incr(ctx, key, windowStart)
	if err != nil {
		l.noteDowngrade(ctx, err)
		count = l.incrLocal(key, windowStart)
	}

	if count > cap {
		return Decision{RetryAfter: windowStart.Add(l.window).Sub(now)}
	}
	return Decision{Allowed: true}
}

// noteDowngrade logs the fallback at most once per window so an outage does
// not flood the log.
func (l *Limiter) noteDowngrade(ctx context.Context, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if now.Before(l.downUntil) {
		return
	}
	l.downUntil = now.Add(l.window)
	l.log.Warn(ctx, "rate limit store unreachable, using local counters", "error", err)
}

func (l *Limiter) incrLocal(key string, windowStart time.Time) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.local[key]
	if !ok || !w.start.Equal(windowStart) {
		w = &localWindow{start: windowStart}
		l.local[key] = w
	}
	w.count++
	return w.count
}

func (l *Limiter) pruneLoop() {
	for {
		time.Sleep(5 * time.Minute)
		l.pruneLocal(time.Now().Add(-2 * l.window))
	}
}

func (l *Limiter) pruneLocal(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.local {
		if w.start.Before(cutoff) {
			delete(l.local, key)
		}
	}
}
