package node

import (
    "sync"
    "time"

    "github.com/forensix/evidencedb/auth"
    "github.com/forensix/evidencedb/cluster"
    "github.com/forensix/evidencedb/clusterio"
    . "github.com/forensix/evidencedb/error"
    . "github.com/forensix/evidencedb/logging"
    "github.com/forensix/evidencedb/metrics"
    "github.com/forensix/evidencedb/partition"
    "github.com/forensix/evidencedb/rebalance"
    "github.com/forensix/evidencedb/routes"
    "github.com/forensix/evidencedb/server"
    "github.com/forensix/evidencedb/storage"
)

const (
    DefaultNonceCapacity = 1024
    DefaultNonceLease = time.Minute
    DefaultReportInterval = time.Second * 10
    // a registered node that misses this many consecutive state reports
    // is deregistered by the coordinator.
    DefaultMissedReportLimit = 3
)

const registerRetryInterval = time.Second * 5

type ClusterNodeConfig struct {
    StoragePath string
    // Host and Port are the endpoint this node advertises to its peers.
    Host string
    Port int
    Server *server.Server
    Coordinator bool
    CoordinatorAddress string
    CoordinatorPort int
    ClusterUsername string
    ClusterPassword string
    // ClientCredentials is the credential set distributed to nodes at
    // registration. Coordinator only.
    ClientCredentials auth.CredentialSet
    // BootstrapNodes sizes the initial partition table when the
    // coordinator starts with an empty store. Coordinator only.
    BootstrapNodes uint64
    NonceCapacity int
    NonceLease time.Duration
    ReportInterval time.Duration
    MissedReportLimit int
}

// ClusterNode is one process of the cluster. It owns the local store and
// the rebalance executor on every node; on the coordinator it additionally
// owns the membership controller and the rebalance director. It implements
// routes.ClusterFacade, which is how the HTTP layer reaches it.
type ClusterNode struct {
    config ClusterNodeConfig
    storageDriver storage.StorageDriver
    ctx *cluster.ClusterContext
    controller *cluster.Controller
    director *rebalance.Director
    tableCache *cluster.TableCache
    executor *rebalance.Executor
    interClusterClient *clusterio.Client
    coordinator *partition.NodeRecord
    lastReports map[uint64]time.Time
    lastReportsMu sync.Mutex
    shutdown chan int
    wg sync.WaitGroup
    stopOnce sync.Once
}

func New(config ClusterNodeConfig) *ClusterNode {
    if config.NonceCapacity <= 0 {
        config.NonceCapacity = DefaultNonceCapacity
    }

    if config.NonceLease <= 0 {
        config.NonceLease = DefaultNonceLease
    }

    if config.ReportInterval <= 0 {
        config.ReportInterval = DefaultReportInterval
    }

    if config.MissedReportLimit <= 0 {
        config.MissedReportLimit = DefaultMissedReportLimit
    }

    return &ClusterNode{
        config: config,
        storageDriver: storage.NewLevelDBStorageDriver(config.StoragePath, nil),
        interClusterClient: clusterio.NewClient(clusterio.ClientConfig{
            Username: config.ClusterUsername,
            Password: config.ClusterPassword,
        }),
        coordinator: &partition.NodeRecord{
            Address: config.CoordinatorAddress,
            Port: config.CoordinatorPort,
        },
        lastReports: make(map[uint64]time.Time),
        shutdown: make(chan int),
    }
}

func (node *ClusterNode) openStorageDriver() error {
    err := node.storageDriver.Open()

    if err == nil {
        return nil
    }

    if err != storage.ECorrupted {
        Log.Criticalf("Local node unable to open storage driver: %v", err.Error())

        return err
    }

    Log.Error("Database is corrupted. Attempting automatic recovery now...")

    if err := node.storageDriver.Recover(); err != nil {
        Log.Criticalf("Unable to recover corrupted database. Reason: %v", err.Error())

        return EStorage
    }

    Log.Info("Database recovery successful")

    return nil
}

// Start initializes the node and serves until Stop is called. It blocks
// for the lifetime of the process.
func (node *ClusterNode) Start() error {
    if err := node.openStorageDriver(); err != nil {
        return err
    }

    recordDriver := storage.NewPrefixedStorageDriver([]byte{ storage.RecordStoragePrefix }, node.storageDriver)
    metaDriver := storage.NewPrefixedStorageDriver([]byte{ storage.MetaStoragePrefix }, node.storageDriver)
    metaStore := cluster.NewMetaStore(metaDriver)

    node.ctx = &cluster.ClusterContext{
        CoordinatorUsername: node.config.ClusterUsername,
        CoordinatorPassword: node.config.ClusterPassword,
        Nonces: auth.NewNonceRegistry(node.config.NonceCapacity, node.config.NonceLease),
        Meta: metaStore,
        Store: storage.NewRecordStore(recordDriver),
        Locks: storage.NewLockManager(),
        StagingDriver: func(transactionID string) storage.StorageDriver {
            prefix := append([]byte{ storage.StagingStoragePrefix }, []byte(transactionID)...)

            return storage.NewPrefixedStorageDriver(prefix, node.storageDriver)
        },
    }

    if node.config.Coordinator {
        if err := node.startCoordinator(metaStore); err != nil {
            return err
        }
    } else {
        if err := node.startRegularNode(metaStore); err != nil {
            return err
        }
    }

    node.attachEndpoints()

    defer node.Stop()

    return node.config.Server.Start()
}

func (node *ClusterNode) startCoordinator(metaStore *cluster.MetaStore) error {
    controller, err := cluster.NewController(metaStore)

    if err != nil {
        Log.Criticalf("Coordinator unable to load partition table: %v", err.Error())

        return err
    }

    node.controller = controller

    if !controller.HasTable() {
        if node.config.BootstrapNodes == 0 {
            Log.Critical("Coordinator has no partition table and no bootstrap node count was given")

            return ENotAllowed
        }

        if err := controller.Bootstrap(node.config.BootstrapNodes, node.config.Host, node.config.Port); err != nil {
            return err
        }
    }

    node.director = rebalance.NewDirector(controller, metaStore, node.interClusterClient)
    controller.SetRebalanceCheck(func() bool {
        return node.director.Active() != nil
    })
    node.executor = rebalance.NewExecutor(node.ctx, controller, 0)
    node.ctx.SetCredentials(node.config.ClientCredentials)

    pending, err := node.director.LoadPending()

    if err != nil {
        Log.Criticalf("Coordinator unable to load pending rebalance transaction: %v", err.Error())

        return err
    }

    if pending != nil {
        Log.Warningf("Rebalance transaction %s was interrupted by a crash. Resolve it with 'recover %s' once all nodes have re-registered", pending.ID, pending.ID)
    }

    node.wg.Add(1)
    go node.runReaper()

    return nil
}

func (node *ClusterNode) startRegularNode(metaStore *cluster.MetaStore) error {
    tableCache, err := cluster.NewTableCache(metaStore)

    if err != nil {
        Log.Criticalf("Local node unable to load partition table: %v", err.Error())

        return err
    }

    node.tableCache = tableCache
    node.executor = rebalance.NewExecutor(node.ctx, tableCache, 0)

    node.wg.Add(1)
    go node.runAgent()

    return nil
}

func (node *ClusterNode) attachEndpoints() {
    router := node.config.Server.Router()

    (&routes.ClusterEndpoint{ ClusterFacade: node }).Attach(router)
    (&routes.RebalanceEndpoint{ ClusterFacade: node }).Attach(router)
    (&routes.NodesEndpoint{ ClusterFacade: node }).Attach(router)
    (&routes.ClientEndpoint{ ClusterFacade: node }).Attach(router)
}

// localState snapshots this node's telemetry for a state report.
func (node *ClusterNode) localState() partition.NodeState {
    sizeBytes, numComponents, err := node.ctx.Store.ComputeState()

    if err != nil {
        Log.Warningf("Local node unable to compute its storage state: %v", err.Error())
    }

    load := node.ctx.Store.TakeLoad()
    state := partition.NodeState{
        Status: partition.StatusAvailable,
        SizeBytes: sizeBytes,
        Load: load,
        NumComponents: numComponents,
    }

    if numComponents > 0 {
        state.AvgComponentSize = sizeBytes / numComponents
    }

    metrics.RecordNodeState(sizeBytes, numComponents, load)

    return state
}

// runAgent is the regular node's lifecycle loop: register with the
// coordinator, then report state on an interval, re-registering whenever
// the coordinator stops recognizing us.
func (node *ClusterNode) runAgent() {
    defer node.wg.Done()

    for {
        index, ok := node.register()

        if !ok {
            return
        }

        if !node.report(index) {
            return
        }
    }
}

// register loops until registration succeeds or the node shuts down. The
// second return value is false on shutdown.
func (node *ClusterNode) register() (uint64, bool) {
    for {
        index, credentialBlob, err := node.interClusterClient.Register(node.coordinator, node.config.Port)

        if err == nil {
            credentials, err := auth.Decrypt(credentialBlob, node.config.ClusterUsername, node.config.ClusterPassword)

            if err != nil {
                Log.Criticalf("Local node received a credential blob it could not decrypt: %v", err.Error())
            } else {
                node.ctx.SetCredentials(credentials)
                node.executor.SetLocalIndex(index)

                Log.Infof("Local node registered with the coordinator as node %d", index)

                return index, true
            }
        } else {
            Log.Warningf("Local node unable to register with coordinator at %s:%d: %v. Retrying in %v", node.coordinator.Address, node.coordinator.Port, err.Error(), registerRetryInterval)
        }

        select {
        case <-node.shutdown:
            return 0, false
        case <-time.After(registerRetryInterval):
        }
    }
}

// report sends periodic state reports, adopting whatever table the
// coordinator returns. It returns true when the registration was lost and
// the agent should register again, false on shutdown.
func (node *ClusterNode) report(index uint64) bool {
    ticker := time.NewTicker(node.config.ReportInterval)
    defer ticker.Stop()

    for {
        select {
        case <-node.shutdown:
            return false
        case <-ticker.C:
        }

        table, err := node.interClusterClient.ReportState(node.coordinator, index, node.localState())

        if err != nil {
            if dbError, ok := err.(DBerror); ok && (dbError.Code() == ENotRegistered.Code() || dbError.Code() == ENoSuchNode.Code()) {
                Log.Warningf("Coordinator no longer recognizes this node. Re-registering...")

                return true
            }

            Log.Warningf("Local node unable to report state to coordinator: %v", err.Error())

            continue
        }

        if table != nil {
            if err := node.tableCache.Adopt(table); err != nil && err != EStaleTable {
                Log.Warningf("Local node unable to adopt partition table version %d: %v", table.Version, err.Error())
            }
        }
    }
}

// runReaper deregisters nodes that stop reporting. Registration on the
// coordinator only ever claims to know which nodes were recently alive;
// topology changes and rebalances require all nodes registered, so a
// silent node must lose its registration rather than wedge the cluster.
func (node *ClusterNode) runReaper() {
    defer node.wg.Done()

    interval := node.config.ReportInterval
    ticker := time.NewTicker(interval)
    defer ticker.Stop()

    for {
        select {
        case <-node.shutdown:
            return
        case <-ticker.C:
        }

        deadline := time.Duration(node.config.MissedReportLimit) * interval
        now := time.Now()
        table := node.controller.Table()

        if table == nil {
            continue
        }

        node.lastReportsMu.Lock()

        for _, nodeRecord := range table.Nodes {
            if !nodeRecord.Registered || nodeRecord.IsCoordinator() {
                continue
            }

            lastReport, ok := node.lastReports[nodeRecord.Index]

            if !ok {
                // grace period starts at the first reaper pass that
                // sees the node registered.
                node.lastReports[nodeRecord.Index] = now

                continue
            }

            if now.Sub(lastReport) > deadline {
                Log.Warningf("Node %d has not reported for %v. Deregistering it", nodeRecord.Index, now.Sub(lastReport))

                node.controller.DeregisterNode(nodeRecord.Index)
                delete(node.lastReports, nodeRecord.Index)
            }
        }

        node.lastReportsMu.Unlock()
    }
}

func (node *ClusterNode) recordReport(index uint64) {
    node.lastReportsMu.Lock()
    defer node.lastReportsMu.Unlock()

    node.lastReports[index] = time.Now()
}

func (node *ClusterNode) Stop() {
    node.stopOnce.Do(func() {
        close(node.shutdown)
        node.config.Server.Stop()
        node.wg.Wait()
        node.storageDriver.Close()
    })
}
