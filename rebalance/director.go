package rebalance

import (
    "sync"

    "golang.org/x/sync/errgroup"

    . "github.com/forensix/evidencedb/error"
    . "github.com/forensix/evidencedb/logging"
    "github.com/forensix/evidencedb/cluster"
    "github.com/forensix/evidencedb/metrics"
    "github.com/forensix/evidencedb/partition"
)

// NodeClient is the coordinator's view of one cluster node during a
// rebalance. The coordinator itself participates through the same
// interface over loopback.
type NodeClient interface {
    Ping(node *partition.NodeRecord) error
    Propose(node *partition.NodeRecord, transaction *Transaction) error
    Size(node *partition.NodeRecord, transaction *Transaction) (uint64, error)
    Copy(node *partition.NodeRecord, transaction *Transaction) error
    Commit(node *partition.NodeRecord, transaction *Transaction) (partition.NodeState, error)
    Abort(node *partition.NodeRecord, transactionID string) error
    Sync(node *partition.NodeRecord, table *partition.Table) error
}

// Director drives rebalance transactions from the coordinator. It owns the
// cluster's single active transaction slot: a second proposal while one
// transaction is open always fails with EAlreadyRebalancing.
type Director struct {
    mu sync.Mutex
    active *Transaction
    controller *cluster.Controller
    meta *cluster.MetaStore
    client NodeClient
}

func NewDirector(controller *cluster.Controller, meta *cluster.MetaStore, client NodeClient) *Director {
    return &Director{
        controller: controller,
        meta: meta,
        client: client,
    }
}

// Active returns the open transaction, if any.
func (director *Director) Active() *Transaction {
    director.mu.Lock()
    defer director.mu.Unlock()

    return director.active
}

// LoadPending installs a transaction record persisted by an interrupted
// commit into the active slot so that new proposals are refused until the
// operator drives it to completion with Recover.
func (director *Director) LoadPending() (*Transaction, error) {
    encoded, err := director.meta.LoadTransaction()

    if err != nil {
        return nil, err
    }

    if encoded == nil {
        return nil, nil
    }

    transaction, err := TransactionFromJSON(encoded)

    if err != nil {
        return nil, err
    }

    director.mu.Lock()
    director.active = transaction
    director.mu.Unlock()

    metrics.SetRebalanceActive(true)

    return transaction, nil
}

func (director *Director) fanOut(table *partition.Table, operation func(node *partition.NodeRecord) error) error {
    var group errgroup.Group

    for _, nodeRecord := range table.Nodes {
        node := nodeRecord
        group.Go(func() error {
            return operation(node)
        })
    }

    return group.Wait()
}

// Propose validates a target table against the current one, checks that
// every node is reachable and records the transaction as the cluster's
// single active one.
func (director *Director) Propose(targetTable *partition.Table) (*Transaction, error) {
    if !director.controller.AllRegistered() {
        return nil, EClusterUnreachable
    }

    current := director.controller.Table()

    if err := targetTable.Validate(); err != nil {
        return nil, err
    }

    if targetTable.NumNodes != current.NumNodes || targetTable.Version != current.Version + 1 {
        return nil, EStaleTable
    }

    director.mu.Lock()

    if director.active != nil {
        director.mu.Unlock()

        return nil, EAlreadyRebalancing
    }

    transaction := NewTransaction(targetTable)
    director.active = transaction
    director.mu.Unlock()

    metrics.SetRebalanceActive(true)

    if err := director.fanOut(targetTable, func(node *partition.NodeRecord) error {
        return director.client.Ping(node)
    }); err != nil {
        director.abortLocally(transaction)

        return nil, EUnreachableNodes
    }

    if err := director.fanOut(targetTable, func(node *partition.NodeRecord) error {
        return director.client.Propose(node, transaction)
    }); err != nil {
        director.abortEverywhere(transaction)

        return nil, EUnreachableNodes
    }

    Log.Infof("Proposed rebalance transaction %s targeting table version %d", transaction.ID, targetTable.Version)

    return transaction, nil
}

// Size asks every node how many bytes it would have to move under the
// proposed table. Any node failure aborts the whole transaction.
func (director *Director) Size() (*Transaction, error) {
    transaction := director.Active()

    if transaction == nil {
        return nil, ENoRebalance
    }

    if transaction.Phase != PhaseProposed {
        return nil, ENotAllowed
    }

    var sizesMu sync.Mutex

    if err := director.fanOut(transaction.TargetTable, func(node *partition.NodeRecord) error {
        movingBytes, err := director.client.Size(node, transaction)

        if err != nil {
            return err
        }

        sizesMu.Lock()
        transaction.MovingBytesPerNode[node.Index] = movingBytes
        sizesMu.Unlock()

        return nil
    }); err != nil {
        director.abortEverywhere(transaction)

        return nil, EUnreachableNodes
    }

    transaction.Phase = PhaseSized

    Log.Infof("Sized rebalance transaction %s: %d bytes moving in total", transaction.ID, transaction.TotalMovingBytes())

    return transaction, nil
}

// Copy instructs every node to stream its moving records to their
// destinations. On failure the transaction is aborted; anything already
// staged remains on the destination nodes, invisible to reads.
func (director *Director) Copy() error {
    transaction := director.Active()

    if transaction == nil {
        return ENoRebalance
    }

    if transaction.Phase != PhaseSized {
        return ENotAllowed
    }

    if err := director.fanOut(transaction.TargetTable, func(node *partition.NodeRecord) error {
        return director.client.Copy(node, transaction)
    }); err != nil {
        Log.Errorf("Copy phase of transaction %s failed: %v", transaction.ID, err)
        director.abortEverywhere(transaction)

        return EUnreachableNodes
    }

    transaction.Phase = PhaseCopied

    Log.Infof("Copy phase of rebalance transaction %s complete", transaction.ID)

    return nil
}

// Commit persists the transaction record, then drives every node through
// its commit sequence and publishes the resulting table. If any node fails
// the transaction is left in place as a recovery candidate rather than
// rolled back; partially committed state must never be discarded silently.
func (director *Director) Commit() (*partition.Table, error) {
    transaction := director.Active()

    if transaction == nil {
        return nil, ENoRebalance
    }

    if transaction.Phase != PhaseCopied {
        return nil, ENotAllowed
    }

    if err := director.meta.SaveTransaction(transaction.ToJSON()); err != nil {
        return nil, err
    }

    return director.driveCommit(transaction)
}

func (director *Director) driveCommit(transaction *Transaction) (*partition.Table, error) {
    published := transaction.TargetTable.Clone()
    var statesMu sync.Mutex

    if err := director.fanOut(transaction.TargetTable, func(node *partition.NodeRecord) error {
        state, err := director.client.Commit(node, transaction)

        if err != nil {
            return err
        }

        statesMu.Lock()
        published.Node(node.Index).State = state
        statesMu.Unlock()

        return nil
    }); err != nil {
        Log.Criticalf("Commit phase of transaction %s failed: %v. The transaction record has been kept; resolve with 'recover %s'", transaction.ID, err, transaction.ID)

        return nil, ENotCommitted
    }

    // registration is connection state owned by the controller, not part
    // of the transaction's target. The published table carries whatever
    // the controller currently knows.
    current := director.controller.Table()

    for _, nodeRecord := range published.Nodes {
        if currentRecord := current.Node(nodeRecord.Index); currentRecord != nil {
            nodeRecord.Registered = currentRecord.Registered
        }
    }

    if err := director.controller.Adopt(published); err != nil && err != EStaleTable {
        return nil, err
    }

    if err := director.meta.DeleteTransaction(); err != nil {
        return nil, err
    }

    if err := director.fanOut(published, func(node *partition.NodeRecord) error {
        return director.client.Sync(node, published)
    }); err != nil {
        // nodes that missed the push adopt the table with their next
        // state report
        Log.Warningf("Unable to push table version %d to every node: %v", published.Version, err)
    }

    transaction.Phase = PhaseCommitted
    director.mu.Lock()
    director.active = nil
    director.mu.Unlock()

    metrics.SetRebalanceActive(false)

    Log.Infof("Committed rebalance transaction %s, published table version %d", transaction.ID, published.Version)

    return published, nil
}

// Abort cancels a transaction that has not yet moved any data.
func (director *Director) Abort() error {
    transaction := director.Active()

    if transaction == nil {
        return ENoRebalance
    }

    if transaction.Phase != PhaseProposed && transaction.Phase != PhaseSized {
        return ENotAllowed
    }

    director.abortEverywhere(transaction)

    Log.Infof("Aborted rebalance transaction %s", transaction.ID)

    return nil
}

func (director *Director) abortLocally(transaction *Transaction) {
    transaction.Phase = PhaseAborted
    director.mu.Lock()

    if director.active == transaction {
        director.active = nil
    }

    director.mu.Unlock()
    metrics.SetRebalanceActive(false)
}

func (director *Director) abortEverywhere(transaction *Transaction) {
    director.fanOut(transaction.TargetTable, func(node *partition.NodeRecord) error {
        if err := director.client.Abort(node, transaction.ID); err != nil {
            Log.Warningf("Node %d did not acknowledge abort of transaction %s: %v", node.Index, transaction.ID, err)
        }

        return nil
    })

    director.abortLocally(transaction)
}

// Recover loads the transaction record persisted by an interrupted commit,
// re-validates that the whole cluster is reachable and re-drives the
// commit phase to completion. Commit is idempotent on every node, so
// re-issuing it in full is safe.
func (director *Director) Recover(transactionID string) (*partition.Table, error) {
    encoded, err := director.meta.LoadTransaction()

    if err != nil {
        return nil, err
    }

    if encoded == nil {
        return nil, ETransactionNotFound
    }

    transaction, err := TransactionFromJSON(encoded)

    if err != nil {
        return nil, err
    }

    if transaction.ID != transactionID {
        return nil, ETransactionNotFound
    }

    director.mu.Lock()
    director.active = transaction
    director.mu.Unlock()

    metrics.SetRebalanceActive(true)

    if err := director.fanOut(transaction.TargetTable, func(node *partition.NodeRecord) error {
        return director.client.Ping(node)
    }); err != nil {
        return nil, EUnreachableNodes
    }

    Log.Infof("Recovering rebalance transaction %s", transaction.ID)

    return director.driveCommit(transaction)
}
