package storage

const (
    PUT = iota
    DEL = iota
)

type StorageIterator interface {
    Next() bool
    Prefix() []byte
    Key() []byte
    Value() []byte
    Release()
    Error() error
}

// StorageDriver is the narrow interface the rest of the system consumes the
// local ordered key value store through. Implementations must provide
// consistent snapshot iteration.
type StorageDriver interface {
    Open() error
    Close() error
    Recover() error
    Compact() error
    Get([][]byte) ([][]byte, error)
    GetMatches([][]byte) (StorageIterator, error)
    GetRange([]byte, []byte) (StorageIterator, error)
    Batch(*Batch) error
}

type Op struct {
    OpType int `json:"type"`
    OpKey []byte `json:"key"`
    OpValue []byte `json:"value"`
}

func (op *Op) IsDelete() bool {
    return op.OpType == DEL
}

func (op *Op) IsPut() bool {
    return op.OpType == PUT
}

func (op *Op) Key() []byte {
    return op.OpKey
}

func (op *Op) Value() []byte {
    return op.OpValue
}

type Batch struct {
    BatchOps map[string]Op `json:"ops"`
}

func NewBatch() *Batch {
    return &Batch{ make(map[string]Op) }
}

func (batch *Batch) Size() int {
    return len(batch.BatchOps)
}

func (batch *Batch) Put(key []byte, value []byte) *Batch {
    batch.BatchOps[string(key)] = Op{ PUT, key, value }

    return batch
}

func (batch *Batch) Delete(key []byte) *Batch {
    batch.BatchOps[string(key)] = Op{ DEL, key, nil }

    return batch
}

func (batch *Batch) Ops() map[string]Op {
    return batch.BatchOps
}
