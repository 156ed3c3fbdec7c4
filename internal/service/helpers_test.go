package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"realtime_chat/internal/config"
	"realtime_chat/internal/connectivity"
	"realtime_chat/internal/docstore"
	"realtime_chat/internal/domain"
	"realtime_chat/internal/repository"
	"realtime_chat/pkg/logger"
)

type testEnv struct {
	store   *docstore.MemoryStore
	redis   *miniredis.Miniredis
	repos   *repository.Repositories
	monitor *connectivity.Monitor
	cfg     *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := docstore.NewMemory(nil, logger.NewNop())
	t.Cleanup(func() { _ = store.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		JWT: config.JWTConfig{
			AccessSecret:  "access-secret",
			RefreshSecret: "refresh-secret",
			AccessTTL:     time.Minute,
			RefreshTTL:    time.Hour,
			VerifyTTL:     time.Hour,
			Issuer:        "realtime-chat",
		},
		Chat: config.ChatConfig{MaxMessageLength: 100, WriteTimeout: time.Second},
		Auth: config.AuthConfig{MinPasswordLength: 8, PhoneCodeTTL: time.Minute, PhoneCodeMaxAttempts: 3},
		Media: config.MediaConfig{MaxBytes: 1 << 20, UploadTimeout: time.Second},
	}

	return &testEnv{
		store:   store,
		redis:   mr,
		repos:   repository.NewRepositories(store, rdb, logger.NewNop()),
		monitor: connectivity.NewMonitor(true),
		cfg:     cfg,
	}
}

func (e *testEnv) chat() ChatService {
	return NewChatService(e.repos.Chat, NewAuditService(e.repos.Audit, logger.NewNop()), ContextIdentity(), e.monitor, ChatOptions{
		MaxMessageLength: e.cfg.Chat.MaxMessageLength,
		WriteTimeout:     e.cfg.Chat.WriteTimeout,
	}, logger.NewNop())
}

func (e *testEnv) createUser(t *testing.T, id, name string) *domain.Profile {
	t.Helper()
	profile := &domain.Profile{ID: id, DisplayName: name}
	require.NoError(t, e.repos.User.Create(context.Background(), profile, nil))
	return profile
}

func as(userID string) context.Context {
	return WithUserID(context.Background(), userID)
}

// snapshots collects subscription deliveries.
type snapshots struct {
	mu  sync.Mutex
	got []*domain.Snapshot
	ch  chan struct{}
}

func newSnapshots() *snapshots {
	return &snapshots{ch: make(chan struct{}, 100)}
}

func (s *snapshots) add(snap *domain.Snapshot) {
	s.mu.Lock()
	s.got = append(s.got, snap)
	s.mu.Unlock()
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *snapshots) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func (s *snapshots) last() *domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.got) == 0 {
		return nil
	}
	return s.got[len(s.got)-1]
}

// waitFor blocks until the latest snapshot satisfies cond.
func (s *snapshots) waitFor(t *testing.T, cond func(*domain.Snapshot) bool) *domain.Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if snap := s.last(); snap != nil && cond(snap) {
			return snap
		}
		select {
		case <-s.ch:
		case <-deadline:
			t.Fatalf("condition not met, last snapshot: %+v", s.last())
			return nil
		}
	}
}
