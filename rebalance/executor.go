package rebalance

import (
    "io"
    "sync"

    . "github.com/forensix/evidencedb/error"
    . "github.com/forensix/evidencedb/logging"
    "github.com/forensix/evidencedb/cluster"
    "github.com/forensix/evidencedb/metrics"
    "github.com/forensix/evidencedb/partition"
    "github.com/forensix/evidencedb/storage"
    "github.com/forensix/evidencedb/util"
)

var (
    CopyBatchSize = 1000
)

// TableHolder abstracts over the coordinator's membership controller and a
// regular node's table cache: both hand out immutable snapshots and accept
// wholesale replacements.
type TableHolder interface {
    Table() *partition.Table
    Adopt(table *partition.Table) error
}

// CopyTransport opens an outbound copy connection to a destination node.
// Closing the returned writer completes the request and surfaces any
// error reported by the destination.
type CopyTransport interface {
    OpenCopyStream(node *partition.NodeRecord, transactionID string) (io.WriteCloser, error)
}

// Executor is the node local side of the rebalance protocol. It rehashes
// the local data set under a proposed table, streams moving records to
// their destinations, stages incoming records outside the live data set
// and applies the commit mutations in their required order.
type Executor struct {
    mu sync.Mutex
    ctx *cluster.ClusterContext
    tables TableHolder
    localIndex uint64
    active *Transaction

    // stagingLocks serializes staging writers against the commit that
    // merges and clears the staging area, per transaction id. A copy
    // stream that is still draining when the commit arrives finishes
    // before the merge starts.
    stagingLocks *util.MultiLock
}

func NewExecutor(ctx *cluster.ClusterContext, tables TableHolder, localIndex uint64) *Executor {
    return &Executor{
        ctx: ctx,
        tables: tables,
        localIndex: localIndex,
        stagingLocks: util.NewMultiLock(),
    }
}

func (executor *Executor) SetLocalIndex(index uint64) {
    executor.mu.Lock()
    defer executor.mu.Unlock()

    executor.localIndex = index
}

func (executor *Executor) LocalIndex() uint64 {
    executor.mu.Lock()
    defer executor.mu.Unlock()

    return executor.localIndex
}

// Prepare admits a proposed transaction as this node's single active one.
func (executor *Executor) Prepare(transaction *Transaction) error {
    if err := transaction.TargetTable.Validate(); err != nil {
        return err
    }

    current := executor.tables.Table()

    if current != nil && transaction.TargetTable.Version <= current.Version {
        return EStaleTable
    }

    executor.mu.Lock()
    defer executor.mu.Unlock()

    if executor.active != nil && executor.active.ID != transaction.ID {
        return EAlreadyRebalancing
    }

    executor.active = transaction

    Log.Infof("Prepared for rebalance transaction %s targeting table version %d", transaction.ID, transaction.TargetTable.Version)

    return nil
}

func (executor *Executor) activeTransaction() *Transaction {
    executor.mu.Lock()
    defer executor.mu.Unlock()

    return executor.active
}

func (executor *Executor) checkTransaction(transactionID string) error {
    active := executor.activeTransaction()

    if active == nil || active.ID != transactionID {
        return EWrongTransaction
    }

    return nil
}

// ComputeMovingBytes rehashes every locally stored record under the target
// table and sums the sizes of those whose destination is another node.
func (executor *Executor) ComputeMovingBytes(transaction *Transaction) (uint64, error) {
    if err := executor.checkTransaction(transaction.ID); err != nil {
        return 0, err
    }

    iterator, err := executor.ctx.Store.Iterator()

    if err != nil {
        return 0, err
    }

    defer iterator.Release()

    localIndex := executor.LocalIndex()
    var movingBytes uint64

    for iterator.Next() {
        record := iterator.Record()
        destination, err := transaction.TargetTable.Route(record.Key)

        if err != nil {
            return 0, err
        }

        if destination.Index != localIndex {
            movingBytes += record.SizeBytes()
        }
    }

    if iterator.Error() != nil {
        return 0, iterator.Error()
    }

    return movingBytes, nil
}

// Copy streams every moving record to its destination node, one connection
// per destination, compressed in transit.
func (executor *Executor) Copy(transaction *Transaction, transport CopyTransport) error {
    if err := executor.checkTransaction(transaction.ID); err != nil {
        return err
    }

    iterator, err := executor.ctx.Store.Iterator()

    if err != nil {
        return err
    }

    defer iterator.Release()

    localIndex := executor.LocalIndex()
    streams := make(map[uint64]*OutgoingStream)
    connections := make(map[uint64]io.WriteCloser)

    closeAll := func() {
        for _, connection := range connections {
            connection.Close()
        }
    }

    var movedRecords uint64
    var movedBytes uint64

    for iterator.Next() {
        record := iterator.Record()
        destination, err := transaction.TargetTable.Route(record.Key)

        if err != nil {
            closeAll()

            return err
        }

        if destination.Index == localIndex {
            continue
        }

        stream, ok := streams[destination.Index]

        if !ok {
            connection, err := transport.OpenCopyStream(destination, transaction.ID)

            if err != nil {
                closeAll()

                return err
            }

            connections[destination.Index] = connection
            stream = NewOutgoingStream(connection, transaction.ID, destination.Index)
            streams[destination.Index] = stream
        }

        if err := stream.WriteRecord(record); err != nil {
            closeAll()

            return err
        }

        movedRecords++
        movedBytes += record.SizeBytes()
    }

    if iterator.Error() != nil {
        closeAll()

        return iterator.Error()
    }

    for destinationIndex, stream := range streams {
        if err := stream.Close(); err != nil {
            closeAll()

            return err
        }

        if err := connections[destinationIndex].Close(); err != nil {
            return err
        }

        delete(connections, destinationIndex)
    }

    metrics.RecordRebalanceMove(movedRecords, movedBytes)

    Log.Infof("Streamed %d records (%d bytes) to %d destination nodes for transaction %s", movedRecords, movedBytes, len(streams), transaction.ID)

    return nil
}

// Receive consumes an incoming copy stream into the staging area for the
// transaction. Staged records are keyed by the transaction id and are not
// visible to reads until commit.
func (executor *Executor) Receive(transactionID string, reader io.Reader) error {
    if err := executor.checkTransaction(transactionID); err != nil {
        return err
    }

    executor.stagingLocks.Lock([]byte(transactionID))
    defer executor.stagingLocks.Unlock([]byte(transactionID))

    staging := executor.ctx.StagingDriver(transactionID)
    stream := NewIncomingStream(reader)
    batch := storage.NewBatch()
    localIndex := executor.LocalIndex()

    for {
        header, record, err := stream.NextRecord()

        if err == io.EOF {
            break
        }

        if err != nil {
            return err
        }

        if header.TransactionID != transactionID || header.DestinationIndex != localIndex {
            return EWrongTransaction
        }

        batch.Put([]byte(record.Key), record.ToJSON())

        if batch.Size() >= CopyBatchSize {
            if err := staging.Batch(batch); err != nil {
                return err
            }

            batch = storage.NewBatch()
        }
    }

    if batch.Size() > 0 {
        return staging.Batch(batch)
    }

    return nil
}

func (executor *Executor) mergeStaged(transaction *Transaction) error {
    staging := executor.ctx.StagingDriver(transaction.ID)
    iterator, err := staging.GetMatches([][]byte{ []byte{} })

    if err != nil {
        return err
    }

    defer iterator.Release()

    batch := storage.NewBatch()

    for iterator.Next() {
        record, err := storage.RecordFromJSON(iterator.Value())

        if err != nil {
            return EIntegrityMismatch
        }

        batch.Put([]byte(record.Key), record.ToJSON())

        if batch.Size() >= CopyBatchSize {
            if err := executor.ctx.Store.ApplyBatch(batch); err != nil {
                return err
            }

            batch = storage.NewBatch()
        }
    }

    if iterator.Error() != nil {
        return iterator.Error()
    }

    if batch.Size() > 0 {
        return executor.ctx.Store.ApplyBatch(batch)
    }

    return nil
}

func (executor *Executor) deleteMoved(transaction *Transaction) error {
    iterator, err := executor.ctx.Store.Iterator()

    if err != nil {
        return err
    }

    defer iterator.Release()

    localIndex := executor.LocalIndex()
    batch := storage.NewBatch()

    for iterator.Next() {
        record := iterator.Record()
        destination, err := transaction.TargetTable.Route(record.Key)

        if err != nil {
            return err
        }

        if destination.Index == localIndex {
            continue
        }

        batch.Delete([]byte(record.Key))

        if batch.Size() >= CopyBatchSize {
            if err := executor.ctx.Store.ApplyBatch(batch); err != nil {
                return err
            }

            batch = storage.NewBatch()
        }
    }

    if iterator.Error() != nil {
        return iterator.Error()
    }

    if batch.Size() > 0 {
        return executor.ctx.Store.ApplyBatch(batch)
    }

    return nil
}

func (executor *Executor) clearStaging(transactionID string) error {
    staging := executor.ctx.StagingDriver(transactionID)
    iterator, err := staging.GetMatches([][]byte{ []byte{} })

    if err != nil {
        return err
    }

    defer iterator.Release()

    batch := storage.NewBatch()

    for iterator.Next() {
        key := make([]byte, len(iterator.Key()))
        copy(key, iterator.Key())
        batch.Delete(key)

        if batch.Size() >= CopyBatchSize {
            if err := staging.Batch(batch); err != nil {
                return err
            }

            batch = storage.NewBatch()
        }
    }

    if iterator.Error() != nil {
        return iterator.Error()
    }

    if batch.Size() > 0 {
        return staging.Batch(batch)
    }

    return nil
}

// Commit applies the transaction's mutations in their required order:
// merge staged records into the live data set, then delete the source
// copies of moved records, then adopt the target table. Each step is a no
// op when it has already been applied, so a recovered commit can re-issue
// the whole sequence safely. A crash between steps always leaves every
// record present on its new owner. A commit for a transaction other than
// the active one is refused; with no transaction active it is accepted,
// since a restarted node has lost its active slot but must still honor a
// recovered commit.
func (executor *Executor) Commit(transaction *Transaction) (partition.NodeState, error) {
    executor.mu.Lock()

    if executor.active != nil && executor.active.ID != transaction.ID {
        executor.mu.Unlock()

        return partition.NodeState{}, EWrongTransaction
    }

    executor.mu.Unlock()

    executor.stagingLocks.Lock([]byte(transaction.ID))
    defer executor.stagingLocks.Unlock([]byte(transaction.ID))

    if err := executor.mergeStaged(transaction); err != nil {
        return partition.NodeState{}, err
    }

    if err := executor.deleteMoved(transaction); err != nil {
        return partition.NodeState{}, err
    }

    if err := executor.tables.Adopt(transaction.TargetTable); err != nil && err != EStaleTable {
        return partition.NodeState{}, err
    }

    if err := executor.clearStaging(transaction.ID); err != nil {
        return partition.NodeState{}, err
    }

    executor.mu.Lock()
    executor.active = nil
    executor.mu.Unlock()

    sizeBytes, numComponents, err := executor.ctx.Store.ComputeState()

    if err != nil {
        return partition.NodeState{}, err
    }

    var avgComponentSize uint64

    if numComponents > 0 {
        avgComponentSize = sizeBytes / numComponents
    }

    Log.Infof("Committed rebalance transaction %s, now holding %d records (%d bytes)", transaction.ID, numComponents, sizeBytes)

    return partition.NodeState{
        Status: partition.StatusAvailable,
        SizeBytes: sizeBytes,
        NumComponents: numComponents,
        AvgComponentSize: avgComponentSize,
    }, nil
}

// Abort clears the active transaction. Anything already staged under the
// transaction id is deliberately left in place; it sits outside the live
// data set and is reclaimed if the same id is ever committed.
func (executor *Executor) Abort(transactionID string) error {
    executor.mu.Lock()
    defer executor.mu.Unlock()

    if executor.active != nil && executor.active.ID != transactionID {
        return EWrongTransaction
    }

    executor.active = nil

    return nil
}
