package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"costrologer/internal/core"
	"costrologer/internal/jobs"
	"costrologer/internal/notify"
	"costrologer/internal/storage"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *storage.Repository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "services.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func mustMoney(t *testing.T, s string) core.Money {
	t.Helper()
	m, err := core.ParseMoney(s)
	require.NoError(t, err)
	return m
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []notify.Email
	fails map[string]bool
}

func (f *fakeNotifier) Send(_ context.Context, email notify.Email) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails[email.To] {
		return "", errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, email)
	return "msg-1", nil
}

type fakePublisher struct {
	events []jobs.ProcessingEvent
	failOn string
}

func (f *fakePublisher) Publish(_ context.Context, e jobs.ProcessingEvent) error {
	if e.TransactionID == f.failOn {
		return errors.New("broker down")
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type recordingThrottle struct {
	keys  []string
	delay time.Duration
}

func (r *recordingThrottle) Reserve(key string) time.Duration {
	r.keys = append(r.keys, key)
	return r.delay
}

type stubDueLister struct {
	due []core.Transaction
	now time.Time
}

func (s *stubDueLister) ListDueRecurring(_ context.Context, now time.Time) ([]core.Transaction, error) {
	s.now = now
	return s.due, nil
}
