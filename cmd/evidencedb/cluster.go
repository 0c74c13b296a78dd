package main

import (
    "fmt"
    "io/ioutil"
    "os"
    "strconv"

    "github.com/olekukonko/tablewriter"

    "github.com/forensix/evidencedb/clusterio"
    "github.com/forensix/evidencedb/partition"
    "github.com/forensix/evidencedb/shared"
)

func init() {
    registerCommand("overview", clusterOverview, overviewUsage)
    registerCommand("addnode", clusterAddNode, addNodeUsage)
    registerCommand("removenode", clusterRemoveNode, removeNodeUsage)
    registerCommand("rebalance", clusterRebalance, rebalanceUsage)
    registerCommand("abort", clusterAbort, abortUsage)
    registerCommand("recover", clusterRecover, recoverUsage)
}

var overviewUsage string =
`Usage: evidencedb overview -conf=[config file]
    Print the cluster's partition table and per node state.
`

var addNodeUsage string =
`Usage: evidencedb addnode -conf=[config file] -host=[host] -port=[port] [-check]
    Add a node to the cluster with an empty hash interval. Use -check to
    validate without applying.
`

var removeNodeUsage string =
`Usage: evidencedb removenode -conf=[config file] -node=[index] [-check]
    Remove a node whose interval has been drained to empty. Use -check to
    validate without applying.
`

var rebalanceUsage string =
`Usage: evidencedb rebalance -conf=[config file] (-even | -target=[table file])
    Run a full rebalance transaction: propose, size, copy, commit.
`

var abortUsage string =
`Usage: evidencedb abort -conf=[config file]
    Abort the active rebalance transaction. Only possible before any data
    has been copied.
`

var recoverUsage string =
`Usage: evidencedb recover -conf=[config file] -transaction=[id]
    Re-drive the commit of a rebalance transaction that was interrupted by
    a crash.
`

func adminClient() *clusterio.AdminClient {
    var serverConfig shared.YAMLServerConfig

    if err := serverConfig.LoadFromFile(*optConfigFile); err != nil {
        fmt.Fprintf(os.Stderr, "Unable to load config file: %s\n", err.Error())
        os.Exit(1)
    }

    coordinatorHost := serverConfig.CoordinatorHost
    coordinatorPort := serverConfig.CoordinatorPort

    if serverConfig.Coordinator {
        coordinatorHost = serverConfig.Host
        coordinatorPort = serverConfig.Port
    }

    client := clusterio.NewClient(clusterio.ClientConfig{
        Username: serverConfig.Cluster.Username,
        Password: serverConfig.Cluster.Password,
    })

    return clusterio.NewAdminClient(client, coordinatorHost, coordinatorPort)
}

func printTable(table *partition.Table) {
    writer := tablewriter.NewWriter(os.Stdout)
    writer.SetHeader([]string{ "Node", "Address", "Interval", "Status", "Registered", "Size", "Records", "Load" })

    for _, nodeRecord := range table.Nodes {
        interval := fmt.Sprintf("[%016x, %016x)", nodeRecord.Interval.Start, nodeRecord.Interval.End)

        if nodeRecord.Interval.IsEmpty() {
            interval = "(empty)"
        }

        writer.Append([]string{
            strconv.FormatUint(nodeRecord.Index, 10),
            fmt.Sprintf("%s:%d", nodeRecord.Address, nodeRecord.Port),
            interval,
            nodeRecord.State.Status,
            strconv.FormatBool(nodeRecord.Registered),
            strconv.FormatUint(nodeRecord.State.SizeBytes, 10),
            strconv.FormatUint(nodeRecord.State.NumComponents, 10),
            strconv.FormatUint(nodeRecord.State.Load, 10),
        })
    }

    fmt.Printf("Partition table version %d with %d nodes\n", table.Version, table.NumNodes)
    writer.Render()
}

func clusterOverview() {
    table, err := adminClient().Overview()

    if err != nil {
        fmt.Fprintf(os.Stderr, "Unable to fetch cluster overview: %s\n", err.Error())
        os.Exit(1)
    }

    printTable(table)
}

func clusterAddNode() {
    if len(*optHost) == 0 || *optPort == 0 {
        fmt.Fprintf(os.Stderr, "Both -host and -port are required\n")
        os.Exit(1)
    }

    nodeRecord, err := adminClient().AddNode(*optHost, *optPort, *optCheck)

    if err != nil {
        fmt.Fprintf(os.Stderr, "Unable to add node: %s\n", err.Error())
        os.Exit(1)
    }

    if *optCheck {
        fmt.Printf("Node at %s:%d can be added as node %d\n", *optHost, *optPort, nodeRecord.Index)

        return
    }

    fmt.Printf("Added node %d at %s:%d. It owns no key space until a rebalance assigns it some\n", nodeRecord.Index, *optHost, *optPort)
}

func clusterRemoveNode() {
    _, err := adminClient().RemoveNode(*optNode, *optCheck)

    if err != nil {
        fmt.Fprintf(os.Stderr, "Unable to remove node %d: %s\n", *optNode, err.Error())
        os.Exit(1)
    }

    if *optCheck {
        fmt.Printf("Node %d can be removed\n", *optNode)

        return
    }

    fmt.Printf("Removed node %d\n", *optNode)
}

func loadTargetTable() *partition.Table {
    encoded, err := ioutil.ReadFile(*optTargetFile)

    if err != nil {
        fmt.Fprintf(os.Stderr, "Unable to read target table file: %s\n", err.Error())
        os.Exit(1)
    }

    table, err := partition.TableFromJSON(encoded)

    if err != nil {
        fmt.Fprintf(os.Stderr, "Unable to parse target table file: %s\n", err.Error())
        os.Exit(1)
    }

    return table
}

func clusterRebalance() {
    if !*optEven && len(*optTargetFile) == 0 {
        fmt.Fprintf(os.Stderr, "Either -even or -target must be given\n")
        os.Exit(1)
    }

    var targetTable *partition.Table

    if !*optEven {
        targetTable = loadTargetTable()
    }

    admin := adminClient()

    transaction, err := admin.ProposeRebalance(targetTable, *optEven)

    if err != nil {
        fmt.Fprintf(os.Stderr, "Unable to propose rebalance: %s\n", err.Error())
        os.Exit(1)
    }

    fmt.Printf("Proposed rebalance transaction %s\n", transaction.ID)

    transaction, err = admin.SizeRebalance()

    if err != nil {
        fmt.Fprintf(os.Stderr, "Unable to size rebalance: %s\n", err.Error())
        os.Exit(1)
    }

    fmt.Printf("Transaction %s will move %d bytes\n", transaction.ID, transaction.TotalMovingBytes())

    if _, err := admin.CopyRebalance(); err != nil {
        fmt.Fprintf(os.Stderr, "Unable to copy records: %s\n", err.Error())
        os.Exit(1)
    }

    fmt.Printf("Records copied. Committing...\n")

    table, err := admin.CommitRebalance()

    if err != nil {
        fmt.Fprintf(os.Stderr, "Unable to commit rebalance: %s\nThe transaction record is preserved. Re-drive it with: evidencedb recover -transaction=%s\n", err.Error(), transaction.ID)
        os.Exit(1)
    }

    fmt.Printf("Rebalance committed\n")
    printTable(table)
}

func clusterAbort() {
    if err := adminClient().AbortRebalance(); err != nil {
        fmt.Fprintf(os.Stderr, "Unable to abort rebalance: %s\n", err.Error())
        os.Exit(1)
    }

    fmt.Printf("Rebalance aborted\n")
}

func clusterRecover() {
    if len(*optTransaction) == 0 {
        fmt.Fprintf(os.Stderr, "A -transaction id is required\n")
        os.Exit(1)
    }

    table, err := adminClient().RecoverRebalance(*optTransaction)

    if err != nil {
        fmt.Fprintf(os.Stderr, "Unable to recover transaction %s: %s\n", *optTransaction, err.Error())
        os.Exit(1)
    }

    fmt.Printf("Transaction %s committed\n", *optTransaction)
    printTable(table)
}
