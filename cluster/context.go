package cluster

import (
    "sync"

    "github.com/forensix/evidencedb/auth"
    "github.com/forensix/evidencedb/storage"
)

// ClusterContext bundles the state shared by a process's components. It is
// constructed exactly once at process start and passed explicitly; nothing
// in this codebase keeps cluster state in package level variables, which
// keeps crash recovery paths and tests free of hidden globals.
type ClusterContext struct {
    // Credentials of the cluster itself. Nodes authenticate to the
    // coordinator as the cluster, not as individual principals.
    CoordinatorUsername string
    CoordinatorPassword string

    Nonces *auth.NonceRegistry
    Meta *MetaStore
    Store *storage.RecordStore
    Locks *storage.LockManager

    // StagingDriver returns a storage driver scoped to the staging
    // section for one transaction id.
    StagingDriver func(transactionID string) storage.StorageDriver

    credentialsMu sync.RWMutex
    credentials auth.CredentialSet
}

// Credentials returns the currently held client credential set. On a
// regular node this is empty until registration completes.
func (ctx *ClusterContext) Credentials() auth.CredentialSet {
    ctx.credentialsMu.RLock()
    defer ctx.credentialsMu.RUnlock()

    return ctx.credentials
}

func (ctx *ClusterContext) SetCredentials(credentials auth.CredentialSet) {
    ctx.credentialsMu.Lock()
    defer ctx.credentialsMu.Unlock()

    ctx.credentials = credentials
}
