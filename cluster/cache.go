package cluster

import (
    "sync"
    "sync/atomic"

    . "github.com/forensix/evidencedb/error"
    "github.com/forensix/evidencedb/partition"
)

// TableCache is a regular node's copy of the partition table. It is an
// immutable snapshot swapped by atomic pointer replacement: readers never
// block writers and may observe a table at most one version stale, which
// is safe by the commit phase ordering.
type TableCache struct {
    writeMu sync.Mutex
    current atomic.Value
    meta *MetaStore
}

func NewTableCache(meta *MetaStore) (*TableCache, error) {
    cache := &TableCache{
        meta: meta,
    }

    table, err := meta.LoadTable()

    if err != nil {
        return nil, err
    }

    if table != nil {
        cache.current.Store(table)
    }

    return cache, nil
}

// Table returns the current snapshot or nil before the first adoption.
func (cache *TableCache) Table() *partition.Table {
    table, _ := cache.current.Load().(*partition.Table)

    return table
}

// Adopt persists and installs a newer table. Tables whose version does not
// strictly increase are rejected, which guards against reordered or
// replayed distribution messages.
func (cache *TableCache) Adopt(table *partition.Table) error {
    cache.writeMu.Lock()
    defer cache.writeMu.Unlock()

    if err := table.Validate(); err != nil {
        return err
    }

    current := cache.Table()

    if current != nil && table.Version <= current.Version {
        return EStaleTable
    }

    if err := cache.meta.SaveTable(table); err != nil {
        return err
    }

    cache.current.Store(table)

    return nil
}
