package storage

import (
    "sync"
    "time"

    . "github.com/forensix/evidencedb/error"
    "github.com/forensix/evidencedb/util"
)

type lease struct {
    token uint64
    expires time.Time
}

// LockManager implements the row level lease locks exposed through the
// client protocol. A lease is advisory: it does not block local reads or
// writes, it only arbitrates between client sessions that choose to lock.
// Expired leases are reclaimed lazily on the next operation for their row.
type LockManager struct {
    mu sync.Mutex
    leases map[string]lease
    clock func() time.Time
}

func NewLockManager() *LockManager {
    return &LockManager{
        leases: make(map[string]lease),
        clock: time.Now,
    }
}

// Lock acquires a lease on a row for the given duration and returns the
// lease token needed to extend or release it.
func (lockManager *LockManager) Lock(key string, duration time.Duration) (uint64, error) {
    lockManager.mu.Lock()
    defer lockManager.mu.Unlock()

    now := lockManager.clock()

    if current, ok := lockManager.leases[key]; ok && current.expires.After(now) {
        return 0, ELockHeld
    }

    token := util.UUID64()
    lockManager.leases[key] = lease{ token: token, expires: now.Add(duration) }

    return token, nil
}

// Extend pushes out the expiry of a held lease.
func (lockManager *LockManager) Extend(key string, token uint64, duration time.Duration) error {
    lockManager.mu.Lock()
    defer lockManager.mu.Unlock()

    now := lockManager.clock()
    current, ok := lockManager.leases[key]

    if !ok || current.token != token || !current.expires.After(now) {
        return ENoSuchLock
    }

    current.expires = now.Add(duration)
    lockManager.leases[key] = current

    return nil
}

func (lockManager *LockManager) Unlock(key string, token uint64) error {
    lockManager.mu.Lock()
    defer lockManager.mu.Unlock()

    current, ok := lockManager.leases[key]

    if !ok || current.token != token {
        return ENoSuchLock
    }

    delete(lockManager.leases, key)

    return nil
}
