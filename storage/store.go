package storage

import (
    "encoding/json"
    "sync/atomic"
)

// Record is the unit of storage: a value plus the timestamp assigned by
// the writer. Records are stored under their key in the record section of
// the local database.
type Record struct {
    Key string `json:"key"`
    Value []byte `json:"value"`
    Timestamp uint64 `json:"timestamp"`
}

func (record *Record) SizeBytes() uint64 {
    return uint64(len(record.Key) + len(record.Value))
}

func (record *Record) ToJSON() []byte {
    encoded, _ := json.Marshal(record)

    return encoded
}

func RecordFromJSON(encoded []byte) (*Record, error) {
    var record Record

    if err := json.Unmarshal(encoded, &record); err != nil {
        return nil, err
    }

    return &record, nil
}

// RecordStore is the node local data set. It wraps a storage driver that is
// already scoped to the record keyspace and keeps a running operation count
// used for load telemetry.
type RecordStore struct {
    driver StorageDriver
    load uint64
}

func NewRecordStore(driver StorageDriver) *RecordStore {
    return &RecordStore{
        driver: driver,
    }
}

func (store *RecordStore) Put(record *Record) error {
    atomic.AddUint64(&store.load, 1)

    return store.driver.Batch(NewBatch().Put([]byte(record.Key), record.ToJSON()))
}

func (store *RecordStore) Get(key string) (*Record, error) {
    atomic.AddUint64(&store.load, 1)

    values, err := store.driver.Get([][]byte{ []byte(key) })

    if err != nil {
        return nil, err
    }

    if values[0] == nil {
        return nil, nil
    }

    return RecordFromJSON(values[0])
}

func (store *RecordStore) Delete(key string) error {
    atomic.AddUint64(&store.load, 1)

    return store.driver.Batch(NewBatch().Delete([]byte(key)))
}

// ApplyBatch writes a set of record puts and deletes atomically.
func (store *RecordStore) ApplyBatch(batch *Batch) error {
    return store.driver.Batch(batch)
}

type RecordIterator struct {
    iterator StorageIterator
    record *Record
    err error
}

func (it *RecordIterator) Next() bool {
    if !it.iterator.Next() {
        it.record = nil
        it.err = it.iterator.Error()

        return false
    }

    record, err := RecordFromJSON(it.iterator.Value())

    if err != nil {
        it.record = nil
        it.err = err
        it.iterator.Release()

        return false
    }

    it.record = record

    return true
}

func (it *RecordIterator) Record() *Record {
    return it.record
}

func (it *RecordIterator) Release() {
    it.iterator.Release()
}

func (it *RecordIterator) Error() error {
    return it.err
}

// Scan iterates all records whose key starts with prefix. An empty prefix
// iterates the whole data set.
func (store *RecordStore) Scan(prefix string) (*RecordIterator, error) {
    atomic.AddUint64(&store.load, 1)

    iterator, err := store.driver.GetMatches([][]byte{ []byte(prefix) })

    if err != nil {
        return nil, err
    }

    return &RecordIterator{ iterator: iterator }, nil
}

// Iterator walks every record in the store. Used by the rebalance executor
// to rehash the local data set under a proposed table.
func (store *RecordStore) Iterator() (*RecordIterator, error) {
    iterator, err := store.driver.GetMatches([][]byte{ []byte{} })

    if err != nil {
        return nil, err
    }

    return &RecordIterator{ iterator: iterator }, nil
}

// TakeLoad returns the operation count accumulated since the last call and
// resets it.
func (store *RecordStore) TakeLoad() uint64 {
    return atomic.SwapUint64(&store.load, 0)
}

// ComputeState walks the data set and returns its total size in bytes and
// the number of stored records.
func (store *RecordStore) ComputeState() (uint64, uint64, error) {
    iterator, err := store.Iterator()

    if err != nil {
        return 0, 0, err
    }

    defer iterator.Release()

    var sizeBytes uint64
    var numComponents uint64

    for iterator.Next() {
        sizeBytes += iterator.Record().SizeBytes()
        numComponents++
    }

    if iterator.Error() != nil {
        return 0, 0, iterator.Error()
    }

    return sizeBytes, numComponents, nil
}
