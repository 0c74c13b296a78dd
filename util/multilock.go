package util

import (
    "sync"
)

type refCountedLock struct {
    mu sync.Mutex
    refs int
}

// MultiLock provides a mutex per partitioning key. Locks for distinct
// keys never contend with each other. A lock entry only occupies memory
// while at least one caller holds or waits on it.
type MultiLock struct {
    mapMutex sync.Mutex
    locks map[string]*refCountedLock
}

func NewMultiLock() *MultiLock {
    return &MultiLock{
        locks: make(map[string]*refCountedLock),
    }
}

func (multiLock *MultiLock) Lock(partitioningKey []byte) {
    multiLock.mapMutex.Lock()

    lock, ok := multiLock.locks[string(partitioningKey)]

    if !ok {
        lock = &refCountedLock{}
        multiLock.locks[string(partitioningKey)] = lock
    }

    lock.refs++
    multiLock.mapMutex.Unlock()

    lock.mu.Lock()
}

func (multiLock *MultiLock) Unlock(partitioningKey []byte) {
    multiLock.mapMutex.Lock()
    defer multiLock.mapMutex.Unlock()

    lock, ok := multiLock.locks[string(partitioningKey)]

    if !ok {
        return
    }

    lock.refs--

    if lock.refs == 0 {
        delete(multiLock.locks, string(partitioningKey))
    }

    lock.mu.Unlock()
}
