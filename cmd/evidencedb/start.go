package main

import (
    "fmt"
    "os"
    "time"

    . "github.com/forensix/evidencedb/logging"
    "github.com/forensix/evidencedb/node"
    "github.com/forensix/evidencedb/server"
    "github.com/forensix/evidencedb/shared"
)

func init() {
    registerCommand("start", startServer, startUsage)
}

var startUsage string =
`Usage: evidencedb start -conf=[config file]
    Run a database node with the given configuration.
`

func startServer() {
    var serverConfig shared.YAMLServerConfig

    if err := serverConfig.LoadFromFile(*optConfigFile); err != nil {
        fmt.Fprintf(os.Stderr, "Unable to load config file: %s\n", err.Error())
        os.Exit(1)
    }

    if len(serverConfig.LogLevel) != 0 {
        SetLoggingLevel(serverConfig.LogLevel)
    }

    httpServer := server.NewServer(server.ServerConfig{
        Host: serverConfig.Host,
        Port: serverConfig.Port,
        MaxConnections: serverConfig.MaxConnections,
        TLSCertificate: serverConfig.TLS.Certificate,
        TLSKey: serverConfig.TLS.Key,
        EnableProfiling: serverConfig.EnableProfiling,
    })

    clusterNode := node.New(node.ClusterNodeConfig{
        StoragePath: serverConfig.DBFile,
        Host: serverConfig.Host,
        Port: serverConfig.Port,
        Server: httpServer,
        Coordinator: serverConfig.Coordinator,
        CoordinatorAddress: serverConfig.CoordinatorHost,
        CoordinatorPort: serverConfig.CoordinatorPort,
        ClusterUsername: serverConfig.Cluster.Username,
        ClusterPassword: serverConfig.Cluster.Password,
        ClientCredentials: serverConfig.ClientCredentialSet(),
        BootstrapNodes: serverConfig.BootstrapNodes,
        NonceCapacity: serverConfig.NonceCapacity,
        NonceLease: time.Duration(serverConfig.NonceLeaseSeconds) * time.Second,
        ReportInterval: time.Duration(serverConfig.ReportIntervalSeconds) * time.Second,
        MissedReportLimit: serverConfig.MissedReportLimit,
    })

    if err := clusterNode.Start(); err != nil {
        os.Exit(1)
    }
}
