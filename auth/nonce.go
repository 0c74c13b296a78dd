package auth

import (
    "crypto/rand"
    "encoding/hex"
    "sync"
    "time"
)

const (
    DefaultNonceCapacity int = 10000
    DefaultNonceLease time.Duration = time.Minute * 10
    nonceSizeBytes int = 16
)

// NonceRegistry issues single use challenge values for the handshake
// protocol. Its size is bounded: once the registry is full, new nonces can
// only be issued after entries older than the lease window are pruned, so
// an adversary flooding handshakes cannot grow it without limit.
type NonceRegistry struct {
    mu sync.Mutex
    capacity int
    lease time.Duration
    nonces map[string]time.Time
    clock func() time.Time
}

func NewNonceRegistry(capacity int, lease time.Duration) *NonceRegistry {
    if capacity <= 0 {
        capacity = DefaultNonceCapacity
    }

    if lease <= 0 {
        lease = DefaultNonceLease
    }

    return &NonceRegistry{
        capacity: capacity,
        lease: lease,
        nonces: make(map[string]time.Time),
        clock: time.Now,
    }
}

func (registry *NonceRegistry) prune(now time.Time) {
    for nonce, issued := range registry.nonces {
        if now.Sub(issued) > registry.lease {
            delete(registry.nonces, nonce)
        }
    }
}

// NewNonce generates and records a fresh nonce. It returns false if the
// registry is at capacity and pruning expired entries did not free space.
func (registry *NonceRegistry) NewNonce() (string, bool) {
    registry.mu.Lock()
    defer registry.mu.Unlock()

    now := registry.clock()

    if len(registry.nonces) >= registry.capacity {
        registry.prune(now)
    }

    if len(registry.nonces) >= registry.capacity {
        return "", false
    }

    randomBytes := make([]byte, nonceSizeBytes)

    if _, err := rand.Read(randomBytes); err != nil {
        return "", false
    }

    nonce := hex.EncodeToString(randomBytes)
    registry.nonces[nonce] = now

    return nonce, true
}

// GetNonce removes and returns the nonce if it is present and unexpired.
// Every validation path calls this exactly once, so a captured token can
// never be replayed.
func (registry *NonceRegistry) GetNonce(nonce string) bool {
    registry.mu.Lock()
    defer registry.mu.Unlock()

    issued, ok := registry.nonces[nonce]

    if !ok {
        return false
    }

    delete(registry.nonces, nonce)

    return registry.clock().Sub(issued) <= registry.lease
}

func (registry *NonceRegistry) Len() int {
    registry.mu.Lock()
    defer registry.mu.Unlock()

    return len(registry.nonces)
}
