package main

import (
    "fmt"
)

func init() {
    registerCommand("conf", generateConfig, confUsage)
}

var confUsage string =
`Usage: evidencedb conf > visor.yaml
    Print a template configuration file to standard output.
`

var templateConfig string =
`# The db field specifies the directory where the database files reside on
# disk. If it doesn't exist it will be created.
# **REQUIRED**
db: /var/lib/evidencedb

# The address and port this node listens on and advertises to its peers.
host: 127.0.0.1
port: 9090

# Set coordinator to true on exactly one node per cluster. The coordinator
# owns the partition table, admits nodes into the cluster and drives
# rebalance transactions.
coordinator: false

# Regular nodes point these at the coordinator.
coordinatorHost: 127.0.0.1
coordinatorPort: 9090

# When the coordinator starts with an empty store it creates an initial
# partition table with this many equal hash intervals. Ignored once a
# table exists.
bootstrapNodes: 4

# The shared secret every node in the cluster authenticates with. Servers
# prove knowledge of it through a nonce handshake; it is never sent on the
# wire.
# **REQUIRED**
cluster:
    username: cluster
    password: change-me

# Client principals allowed to open data sessions, with their permission:
# r, w or rw. Only the coordinator lists these; other nodes receive them
# in encrypted form when they register.
clients:
    - username: collector
      password: change-me
      permission: rw

# Authentication nonce pool tuning. A nonce is single use and expires
# after the lease.
nonceCapacity: 1024
nonceLeaseSeconds: 60

# How often a node reports its state to the coordinator, and how many
# consecutive missed reports deregister it.
reportIntervalSeconds: 10
missedReportLimit: 3

# Upper bound on concurrently accepted connections.
maxConnections: 1024

# Uncomment to serve TLS. Both files must be PEM encoded.
#tls:
#    certificate: /etc/evidencedb/server.cert.pem
#    key: /etc/evidencedb/server.key.pem

# One of critical, error, warning, notice, info, debug
logLevel: info
`

func generateConfig() {
    fmt.Print(templateConfig)
}
