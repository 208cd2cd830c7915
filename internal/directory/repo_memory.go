package directory

import (
	"context"
	"sync"
	"time"
)

// MemoryLookup is an in-memory directory for tests.

type MemoryLookup struct {
	mu       sync.Mutex
	profiles map[string]Profile
	online   map[string]bool
	lastSeen map[string]time.Time
}

func NewMemoryLookup() *MemoryLookup {
	return &MemoryLookup{
		profiles: map[string]Profile{},
		online:   map[string]bool{},
		lastSeen: map[string]time.Time{},
	}
}

// Put seeds a user.
func (l *MemoryLookup) Put(identity, displayName, role string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.profiles[identity] = Profile{Identity: identity, DisplayName: displayName, Role: role}
}

func (l *MemoryLookup) Profile(ctx context.Context, identity string) (Profile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profileLocked(identity)
}

func (l *MemoryLookup) profileLocked(identity string) (Profile, error) {
	p, ok := l.profiles[identity]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (l *MemoryLookup) IsAdmin(ctx context.Context, identity string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, err := l.profileLocked(identity)
	if err != nil {
		return false, err
	}
	return isAdminRole(p.Role), nil
}

func (l *MemoryLookup) DisplayName(ctx context.Context, identity string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, err := l.profileLocked(identity)
	if err != nil {
		return "", err
	}
	return p.DisplayName, nil
}

func (l *MemoryLookup) IsReachable(ctx context.Context, identity string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.profiles[identity]; !ok {
		return false, ErrNotFound
	}
	return l.online[identity], nil
}

func (l *MemoryLookup) SetLiveness(ctx context.Context, identity string, online bool, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.online[identity] = online
	l.lastSeen[identity] = at
	return nil
}

// LastSeen exposes the recorded timestamp for assertions.
func (l *MemoryLookup) LastSeen(identity string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.lastSeen[identity]
	return t, ok
}
