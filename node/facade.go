package node

import (
    "io"
    "time"

    "github.com/forensix/evidencedb/auth"
    . "github.com/forensix/evidencedb/error"
    "github.com/forensix/evidencedb/partition"
    "github.com/forensix/evidencedb/rebalance"
    "github.com/forensix/evidencedb/storage"
)

// routes.ClusterFacade implementation. Coordinator only operations return
// ENotMaster on a regular node; the participant operations work on every
// node since the coordinator stores records like any other.

func (node *ClusterNode) NewNonce() (string, bool) {
    return node.ctx.Nonces.NewNonce()
}

func (node *ClusterNode) ValidateServerToken(token auth.Token) bool {
    return node.ctx.Nonces.ValidateServerToken(token, node.config.ClusterUsername, node.config.ClusterPassword)
}

func (node *ClusterNode) ValidateClientToken(token auth.Token) (string, bool) {
    return node.ctx.Nonces.ValidateClientToken(token, node.ctx.Credentials())
}

func (node *ClusterNode) IsCoordinator() bool {
    return node.config.Coordinator
}

func (node *ClusterNode) Table() *partition.Table {
    if node.config.Coordinator {
        return node.controller.Table()
    }

    return node.tableCache.Table()
}

func (node *ClusterNode) AdoptTable(table *partition.Table) error {
    if node.config.Coordinator {
        // the coordinator's table only ever advances through its own
        // controller. Syncs pushed at it are at best redundant.
        return EStaleTable
    }

    return node.tableCache.Adopt(table)
}

func (node *ClusterNode) RegisterNode(address string, port int) (*partition.NodeRecord, []byte, error) {
    if !node.config.Coordinator {
        return nil, nil, ENotMaster
    }

    nodeRecord, err := node.controller.RegisterNode(address, port)

    if err != nil {
        return nil, nil, err
    }

    credentialBlob, err := auth.Encrypt(node.ctx.Credentials(), node.config.ClusterUsername, node.config.ClusterPassword)

    if err != nil {
        return nil, nil, err
    }

    node.recordReport(nodeRecord.Index)

    return nodeRecord, credentialBlob, nil
}

func (node *ClusterNode) ReportState(index uint64, state partition.NodeState) (*partition.Table, error) {
    if !node.config.Coordinator {
        return nil, ENotMaster
    }

    if err := node.controller.UpdateNodeState(index, state); err != nil {
        return nil, err
    }

    node.recordReport(index)

    return node.controller.Table(), nil
}

func (node *ClusterNode) AddNode(address string, port int, checkOnly bool) (*partition.NodeRecord, error) {
    if !node.config.Coordinator {
        return nil, ENotMaster
    }

    if checkOnly {
        if !node.controller.AllRegistered() || node.controller.RebalanceOpen() {
            return nil, EClusterUnreachable
        }

        table := node.controller.Table()

        return &partition.NodeRecord{
            Index: table.NumNodes,
            Address: address,
            Port: port,
            Interval: partition.Interval{ Start: partition.MaxRange, End: partition.MaxRange },
        }, nil
    }

    return node.controller.AddNode(address, port)
}

func (node *ClusterNode) RemoveNode(index uint64, checkOnly bool) error {
    if !node.config.Coordinator {
        return ENotMaster
    }

    if checkOnly {
        return node.controller.CheckRemoveNode(index)
    }

    return node.controller.RemoveNode(index)
}

func (node *ClusterNode) ProposeRebalance(targetTable *partition.Table, even bool) (*rebalance.Transaction, error) {
    if !node.config.Coordinator {
        return nil, ENotMaster
    }

    if even {
        current := node.controller.Table()

        if current == nil {
            return nil, ENotAllowed
        }

        targetTable = partition.EvenSplit(current)
    }

    if targetTable == nil {
        return nil, ERequest
    }

    return node.director.Propose(targetTable)
}

func (node *ClusterNode) SizeRebalance() (*rebalance.Transaction, error) {
    if !node.config.Coordinator {
        return nil, ENotMaster
    }

    return node.director.Size()
}

func (node *ClusterNode) CopyRebalance() error {
    if !node.config.Coordinator {
        return ENotMaster
    }

    return node.director.Copy()
}

func (node *ClusterNode) CommitRebalance() (*partition.Table, error) {
    if !node.config.Coordinator {
        return nil, ENotMaster
    }

    return node.director.Commit()
}

func (node *ClusterNode) AbortRebalance() error {
    if !node.config.Coordinator {
        return ENotMaster
    }

    return node.director.Abort()
}

func (node *ClusterNode) RecoverRebalance(transactionID string) (*partition.Table, error) {
    if !node.config.Coordinator {
        return nil, ENotMaster
    }

    return node.director.Recover(transactionID)
}

func (node *ClusterNode) RebalanceStatus() *rebalance.Transaction {
    if !node.config.Coordinator {
        return nil
    }

    return node.director.Active()
}

func (node *ClusterNode) PrepareRebalance(transaction *rebalance.Transaction) error {
    return node.executor.Prepare(transaction)
}

func (node *ClusterNode) ComputeMovingBytes(transaction *rebalance.Transaction) (uint64, error) {
    return node.executor.ComputeMovingBytes(transaction)
}

func (node *ClusterNode) CopyRecords(transaction *rebalance.Transaction) error {
    return node.executor.Copy(transaction, node.interClusterClient)
}

func (node *ClusterNode) CommitLocal(transaction *rebalance.Transaction) (partition.NodeState, error) {
    return node.executor.Commit(transaction)
}

func (node *ClusterNode) AbortLocal(transactionID string) error {
    return node.executor.Abort(transactionID)
}

func (node *ClusterNode) ReceiveCopyStream(transactionID string, reader io.Reader) error {
    return node.executor.Receive(transactionID, reader)
}

func (node *ClusterNode) Get(key string) (*storage.Record, error) {
    return node.ctx.Store.Get(key)
}

func (node *ClusterNode) Put(record *storage.Record) error {
    return node.ctx.Store.Put(record)
}

func (node *ClusterNode) Delete(key string) error {
    return node.ctx.Store.Delete(key)
}

func (node *ClusterNode) Scan(prefix string) ([]*storage.Record, error) {
    iter, err := node.ctx.Store.Scan(prefix)

    if err != nil {
        return nil, err
    }

    defer iter.Release()

    records := make([]*storage.Record, 0)

    for iter.Next() {
        records = append(records, iter.Record())
    }

    if iter.Error() != nil {
        return nil, EStorage
    }

    return records, nil
}

func (node *ClusterNode) Lock(key string, duration time.Duration) (uint64, error) {
    return node.ctx.Locks.Lock(key, duration)
}

func (node *ClusterNode) ExtendLock(key string, token uint64, duration time.Duration) error {
    return node.ctx.Locks.Extend(key, token, duration)
}

func (node *ClusterNode) Unlock(key string, token uint64) error {
    return node.ctx.Locks.Unlock(key, token)
}
