package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"driftsend/internal/logging"
)

type fakeStore struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (f *fakeStore) Incr(ctx context.Context, key string, windowStart time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = make(map[string]int64)
	}
	f.counts[key]++
	return f.counts[key], nil
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestAllow_UnderCap(t *testing.T) {
	l := New(&fakeStore{}, testLogger(), time.Minute, map[Class]int64{ClassCreate: 3})
	for i := 0; i < 3; i++ {
		if d := l.Allow(context.Background(), ClassCreate, "c1"); !d.Allowed {
			t.Fatalf("request %d under cap rejected", i+1)
		}
	}
}

func TestAllow_OverCapSetsRetryAfter(t *testing.T) {
	l := New(&fakeStore{}, testLogger(), time.Minute, map[Class]int64{ClassCreate: 2})
	l.Allow(context.Background(), ClassCreate, "c1")
	l.Allow(context.Background(), ClassCreate, "c1")

	d := l.Allow(context.Background(), ClassCreate, "c1")
	if d.Allowed {
		t.Fatalf("request over cap allowed")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("retry-after out of range: %v", d.RetryAfter)
	}
}

func TestAllow_SeparateClientsAndClasses(t *testing.T) {
	l := New(&fakeStore{}, testLogger(), time.Minute, map[Class]int64{ClassCreate: 1, ClassDownload: 1})
	if d := l.Allow(context.Background(), ClassCreate, "a"); !d.Allowed {
		t.Fatalf("first request for a rejected")
	}
	if d := l.Allow(context.Background(), ClassCreate, "b"); !d.Allowed {
		t.Fatalf("different client shares a counter")
	}
	if d := l.Allow(context.Background(), ClassDownload, "a"); !d.Allowed {
		t.Fatalf("different class shares a counter")
	}
}

func TestAllow_UnlimitedClass(t *testing.T) {
	l := New(&fakeStore{}, testLogger(), time.Minute, map[Class]int64{ClassCreate: 1})
	for i := 0; i < 100; i++ {
		if d := l.Allow(context.Background(), ClassDelete, "c"); !d.Allowed {
			t.Fatalf("unconfigured class must never be limited")
		}
	}
}

func TestAllow_FallsBackToLocalOnStoreError(t *testing.T) {
	l := New(&fakeStore{err: errors.New("store down")}, testLogger(), time.Minute, map[Class]int64{ClassCreate: 2})

	// Requests must keep being served, counted locally, and still capped.
	if d := l.Allow(context.Background(), ClassCreate, "c1"); !d.Allowed {
		t.Fatalf("fallback must not fail closed")
	}
	if d := l.Allow(context.Background(), ClassCreate, "c1"); !d.Allowed {
		t.Fatalf("second request under cap rejected in fallback")
	}
	if d := l.Allow(context.Background(), ClassCreate, "c1"); d.Allowed {
		t.Fatalf("fallback must still enforce the cap")
	}
}

func TestPruneLocal(t *testing.T) {
	l := New(&fakeStore{err: errors.New("down")}, testLogger(), time.Minute, map[Class]int64{ClassCreate: 1})
	l.Allow(context.Background(), ClassCreate, "c1")

	l.pruneLocal(time.Now().Add(time.Hour))
	l.mu.Lock()
	n := len(l.local)
	l.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected local windows pruned, %d left", n)
	}
}

func TestPostgresStore_Incr(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	q := regexp.MustCompile(`(?s)INSERT\s+INTO\s+rate_limits.*ON\s+CONFLICT\s*\(key\).*RETURNING\s+count`).String()
	win := time.Now().Truncate(time.Minute)
	mock.ExpectQuery(q).
		WithArgs("create:c1:123", win).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	count, err := NewPostgresStore(db).Incr(context.Background(), "create:c1:123", win)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 4 {
		t.Fatalf("want count 4, got %d", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
