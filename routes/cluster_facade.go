package routes

import (
    "io"
    "time"

    "github.com/forensix/evidencedb/auth"
    "github.com/forensix/evidencedb/partition"
    "github.com/forensix/evidencedb/rebalance"
    "github.com/forensix/evidencedb/storage"
)

// ClusterFacade is the surface the HTTP endpoints dispatch into. The node
// package provides the implementation; tests substitute their own.
type ClusterFacade interface {
    // authentication
    NewNonce() (string, bool)
    ValidateServerToken(token auth.Token) bool
    ValidateClientToken(token auth.Token) (string, bool)

    // roles and tables
    IsCoordinator() bool
    Table() *partition.Table
    AdoptTable(table *partition.Table) error

    // coordinator: membership
    RegisterNode(address string, port int) (*partition.NodeRecord, []byte, error)
    ReportState(index uint64, state partition.NodeState) (*partition.Table, error)
    AddNode(address string, port int, checkOnly bool) (*partition.NodeRecord, error)
    RemoveNode(index uint64, checkOnly bool) error

    // coordinator: rebalance protocol driver
    ProposeRebalance(targetTable *partition.Table, even bool) (*rebalance.Transaction, error)
    SizeRebalance() (*rebalance.Transaction, error)
    CopyRebalance() error
    CommitRebalance() (*partition.Table, error)
    AbortRebalance() error
    RecoverRebalance(transactionID string) (*partition.Table, error)
    RebalanceStatus() *rebalance.Transaction

    // regular node: rebalance participant
    PrepareRebalance(transaction *rebalance.Transaction) error
    ComputeMovingBytes(transaction *rebalance.Transaction) (uint64, error)
    CopyRecords(transaction *rebalance.Transaction) error
    CommitLocal(transaction *rebalance.Transaction) (partition.NodeState, error)
    AbortLocal(transactionID string) error
    ReceiveCopyStream(transactionID string, reader io.Reader) error

    // data plane
    Get(key string) (*storage.Record, error)
    Put(record *storage.Record) error
    Delete(key string) error
    Scan(prefix string) ([]*storage.Record, error)
    Lock(key string, duration time.Duration) (uint64, error)
    ExtendLock(key string, token uint64, duration time.Duration) error
    Unlock(key string, token uint64) error
}
