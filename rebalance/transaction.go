package rebalance

import (
    "encoding/json"

    "github.com/google/uuid"

    "github.com/forensix/evidencedb/partition"
)

type Phase string

const (
    PhaseProposed Phase = "PROPOSED"
    PhaseSized Phase = "SIZED"
    PhaseCopied Phase = "COPIED"
    PhaseCommitted Phase = "COMMITTED"
    PhaseAborted Phase = "ABORTED"
)

// Transaction is one instance of the rebalance protocol. The coordinator
// creates it, drives it through its phases and persists it to stable
// storage before the commit phase begins so that a crash mid commit can be
// recovered. The proposed target table is authoritative throughout; nodes
// never adjust their own boundaries.
type Transaction struct {
    ID string `json:"id"`
    Phase Phase `json:"phase"`
    TargetTable *partition.Table `json:"targetTable"`
    MovingBytesPerNode []uint64 `json:"movingBytesPerNode"`
}

func NewTransaction(targetTable *partition.Table) *Transaction {
    return &Transaction{
        ID: uuid.New().String(),
        Phase: PhaseProposed,
        TargetTable: targetTable,
        MovingBytesPerNode: make([]uint64, targetTable.NumNodes),
    }
}

func (transaction *Transaction) TotalMovingBytes() uint64 {
    var total uint64

    for _, movingBytes := range transaction.MovingBytesPerNode {
        total += movingBytes
    }

    return total
}

func (transaction *Transaction) ToJSON() []byte {
    encoded, _ := json.Marshal(transaction)

    return encoded
}

func TransactionFromJSON(encoded []byte) (*Transaction, error) {
    var transaction Transaction

    if err := json.Unmarshal(encoded, &transaction); err != nil {
        return nil, err
    }

    return &transaction, nil
}
