package cluster

import (
    "sync"

    . "github.com/forensix/evidencedb/error"
    . "github.com/forensix/evidencedb/logging"
    "github.com/forensix/evidencedb/partition"
)

// Controller owns cluster membership on the coordinator. It holds the
// authoritative partition table and the registration flags of every node,
// and is the only component that ever produces a new table version outside
// of a rebalance commit. Every mutation swaps in a fresh clone; a table
// the controller has handed out is never written to again.
type Controller struct {
    mu sync.Mutex
    table *partition.Table
    meta *MetaStore
    rebalancing func() bool
}

// NewController loads the persisted table if one exists. Bootstrap must be
// called before any other operation when the returned controller has no
// table yet.
func NewController(meta *MetaStore) (*Controller, error) {
    table, err := meta.LoadTable()

    if err != nil {
        return nil, err
    }

    if table != nil {
        // registration never survives a coordinator restart. Nodes
        // re-register when their connection is re-established.
        for _, nodeRecord := range table.Nodes {
            nodeRecord.Registered = false
        }
    }

    return &Controller{
        table: table,
        meta: meta,
    }, nil
}

func (controller *Controller) HasTable() bool {
    controller.mu.Lock()
    defer controller.mu.Unlock()

    return controller.table != nil
}

// SetRebalanceCheck installs the callback that tells the controller
// whether a rebalance transaction is currently open. Wired to the
// director at coordinator startup.
func (controller *Controller) SetRebalanceCheck(check func() bool) {
    controller.mu.Lock()
    defer controller.mu.Unlock()

    controller.rebalancing = check
}

// RebalanceOpen reports whether a rebalance transaction is open. Topology
// changes are refused while one is: a committing transaction publishes a
// table version derived from the membership it was proposed against, and
// a membership change in between would claim that version for itself.
func (controller *Controller) RebalanceOpen() bool {
    controller.mu.Lock()
    check := controller.rebalancing
    controller.mu.Unlock()

    return check != nil && check()
}

// Bootstrap creates the initial equal width split across numNodes nodes
// and claims index 0 for the coordinator itself.
func (controller *Controller) Bootstrap(numNodes uint64, coordinatorAddress string, coordinatorPort int) error {
    controller.mu.Lock()
    defer controller.mu.Unlock()

    if numNodes == 0 {
        return ENotAllowed
    }

    if controller.table != nil {
        return ENotAllowed
    }

    table := partition.InitialSplit(numNodes)
    coordinator := table.Nodes[0]
    coordinator.Address = coordinatorAddress
    coordinator.Port = coordinatorPort
    coordinator.Registered = true
    coordinator.State.Status = partition.StatusAvailable

    if err := controller.meta.SaveTable(table); err != nil {
        return err
    }

    controller.table = table

    Log.Infof("Bootstrapped cluster with %d nodes, coordinator at %s:%d", numNodes, coordinatorAddress, coordinatorPort)

    return nil
}

// Table returns an immutable snapshot of the current table.
func (controller *Controller) Table() *partition.Table {
    controller.mu.Lock()
    defer controller.mu.Unlock()

    return controller.table
}

func findByEndpoint(table *partition.Table, address string, port int) *partition.NodeRecord {
    for _, nodeRecord := range table.Nodes {
        if nodeRecord.Address == address && nodeRecord.Port == port {
            return nodeRecord
        }
    }

    return nil
}

// RegisterNode admits a node into the cluster, associating it with either
// the record already holding its endpoint or the first unclaimed record.
// The caller has already validated the node's token.
func (controller *Controller) RegisterNode(address string, port int) (*partition.NodeRecord, error) {
    controller.mu.Lock()
    defer controller.mu.Unlock()

    if controller.table == nil {
        return nil, ENotAllowed
    }

    table := controller.table.Clone()
    nodeRecord := findByEndpoint(table, address, port)

    if nodeRecord == nil {
        for _, candidate := range table.Nodes {
            if candidate.Address == "" && !candidate.IsCoordinator() {
                nodeRecord = candidate

                break
            }
        }
    }

    if nodeRecord == nil {
        return nil, ENotAllowed
    }

    if nodeRecord.Registered {
        return nil, EAlreadyRegistered
    }

    nodeRecord.Address = address
    nodeRecord.Port = port
    nodeRecord.Registered = true
    nodeRecord.State.Status = partition.StatusAvailable

    if err := controller.meta.SaveTable(table); err != nil {
        return nil, err
    }

    controller.table = table

    Log.Infof("Registered node %d at %s:%d", nodeRecord.Index, address, port)

    nodeCopy := *nodeRecord

    return &nodeCopy, nil
}

// DeregisterNode marks a node as disconnected. Idempotent.
func (controller *Controller) DeregisterNode(index uint64) {
    controller.mu.Lock()
    defer controller.mu.Unlock()

    if controller.table == nil {
        return
    }

    nodeRecord := controller.table.Node(index)

    if nodeRecord == nil || !nodeRecord.Registered {
        return
    }

    table := controller.table.Clone()
    nodeRecord = table.Node(index)
    nodeRecord.Registered = false
    nodeRecord.State.Status = partition.StatusOffline
    controller.table = table

    Log.Warningf("Deregistered node %d at %s:%d", nodeRecord.Index, nodeRecord.Address, nodeRecord.Port)
}

// AllRegistered is the precondition for every topology change: it holds
// only when every node is currently registered.
func (controller *Controller) AllRegistered() bool {
    controller.mu.Lock()
    defer controller.mu.Unlock()

    if controller.table == nil {
        return false
    }

    for _, nodeRecord := range controller.table.Nodes {
        if !nodeRecord.Registered {
            return false
        }
    }

    return true
}

// AddNode appends a record with an empty interval at the next free index.
// The new node owns no key space until a rebalance assigns it some.
func (controller *Controller) AddNode(address string, port int) (*partition.NodeRecord, error) {
    if !controller.AllRegistered() {
        return nil, EClusterUnreachable
    }

    if controller.RebalanceOpen() {
        return nil, EClusterUnreachable
    }

    controller.mu.Lock()
    defer controller.mu.Unlock()

    if findByEndpoint(controller.table, address, port) != nil {
        return nil, EAlreadyRegistered
    }

    table := controller.table.Clone()
    nodeRecord := &partition.NodeRecord{
        Index: uint64(len(table.Nodes)),
        Address: address,
        Port: port,
        Interval: partition.Interval{ Start: partition.MaxRange, End: partition.MaxRange },
        State: partition.NodeState{ Status: partition.StatusOffline },
    }

    table.Nodes = append(table.Nodes, nodeRecord)
    table.NumNodes++
    table.Version = controller.table.Version + 1

    if err := controller.meta.SaveTable(table); err != nil {
        return nil, err
    }

    controller.table = table

    Log.Infof("Added node %d at %s:%d with an empty interval", nodeRecord.Index, address, port)

    nodeCopy := *nodeRecord

    return &nodeCopy, nil
}

// CheckRemoveNode runs the same validations as RemoveNode without
// changing anything. Lets an operator confirm a removal is safe first.
func (controller *Controller) CheckRemoveNode(index uint64) error {
    if !controller.AllRegistered() {
        return EClusterUnreachable
    }

    if controller.RebalanceOpen() {
        return EClusterUnreachable
    }

    controller.mu.Lock()
    defer controller.mu.Unlock()

    nodeRecord := controller.table.Node(index)

    if nodeRecord == nil {
        return ENoSuchNode
    }

    if nodeRecord.IsCoordinator() {
        return ENotAllowed
    }

    if !nodeRecord.Interval.IsEmpty() {
        return EIntervalNotEmpty
    }

    return nil
}

// RemoveNode drops a node whose interval has been drained to empty by a
// prior rebalance and re-indexes the remaining nodes contiguously.
func (controller *Controller) RemoveNode(index uint64) error {
    if !controller.AllRegistered() {
        return EClusterUnreachable
    }

    if controller.RebalanceOpen() {
        return EClusterUnreachable
    }

    controller.mu.Lock()
    defer controller.mu.Unlock()

    nodeRecord := controller.table.Node(index)

    if nodeRecord == nil {
        return ENoSuchNode
    }

    if nodeRecord.IsCoordinator() {
        return ENotAllowed
    }

    if !nodeRecord.Interval.IsEmpty() {
        return EIntervalNotEmpty
    }

    table := controller.table.Clone()
    nodes := make([]*partition.NodeRecord, 0, len(table.Nodes) - 1)

    for _, candidate := range table.Nodes {
        if candidate.Index == index {
            continue
        }

        if candidate.Index > index {
            candidate.Index--
        }

        nodes = append(nodes, candidate)
    }

    table.Nodes = nodes
    table.NumNodes--
    table.Version = controller.table.Version + 1

    if err := controller.meta.SaveTable(table); err != nil {
        return err
    }

    controller.table = table

    Log.Infof("Removed node %d, %d nodes remain", index, table.NumNodes)

    return nil
}

// UpdateNodeState records telemetry reported by a node. State is not part
// of routing, so the table version does not change.
func (controller *Controller) UpdateNodeState(index uint64, state partition.NodeState) error {
    controller.mu.Lock()
    defer controller.mu.Unlock()

    if controller.table == nil {
        return ENotAllowed
    }

    nodeRecord := controller.table.Node(index)

    if nodeRecord == nil {
        return ENoSuchNode
    }

    if !nodeRecord.Registered {
        return ENotRegistered
    }

    table := controller.table.Clone()
    table.Node(index).State = state
    controller.table = table

    return nil
}

// Adopt installs the table produced by a committed rebalance transaction.
// The version must strictly increase.
func (controller *Controller) Adopt(table *partition.Table) error {
    controller.mu.Lock()
    defer controller.mu.Unlock()

    if controller.table != nil && table.Version <= controller.table.Version {
        return EStaleTable
    }

    if err := table.Validate(); err != nil {
        return err
    }

    if err := controller.meta.SaveTable(table); err != nil {
        return err
    }

    controller.table = table

    return nil
}
