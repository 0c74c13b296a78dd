package cluster

import (
    "github.com/forensix/evidencedb/partition"
    "github.com/forensix/evidencedb/storage"
)

var tableKey = []byte("partitionTable")
var transactionKey = []byte("rebalanceTransaction")

// MetaStore persists the small amount of cluster state that must survive a
// process restart: the current partition table and, between the start of a
// rebalance commit and its completion, the transaction record.
type MetaStore struct {
    driver storage.StorageDriver
}

func NewMetaStore(driver storage.StorageDriver) *MetaStore {
    return &MetaStore{
        driver: driver,
    }
}

func (metaStore *MetaStore) SaveTable(table *partition.Table) error {
    return metaStore.driver.Batch(storage.NewBatch().Put(tableKey, table.ToJSON()))
}

// LoadTable returns the persisted table or nil if none has been stored yet.
func (metaStore *MetaStore) LoadTable() (*partition.Table, error) {
    values, err := metaStore.driver.Get([][]byte{ tableKey })

    if err != nil {
        return nil, err
    }

    if values[0] == nil {
        return nil, nil
    }

    return partition.TableFromJSON(values[0])
}

func (metaStore *MetaStore) SaveTransaction(encoded []byte) error {
    return metaStore.driver.Batch(storage.NewBatch().Put(transactionKey, encoded))
}

// LoadTransaction returns the persisted transaction record or nil if no
// commit was in flight when the process last stopped.
func (metaStore *MetaStore) LoadTransaction() ([]byte, error) {
    values, err := metaStore.driver.Get([][]byte{ transactionKey })

    if err != nil {
        return nil, err
    }

    return values[0], nil
}

func (metaStore *MetaStore) DeleteTransaction() error {
    return metaStore.driver.Batch(storage.NewBatch().Delete(transactionKey))
}
