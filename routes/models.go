package routes

import (
    "github.com/forensix/evidencedb/auth"
    "github.com/forensix/evidencedb/partition"
    "github.com/forensix/evidencedb/rebalance"
)

type HandshakeResponse struct {
    Nonce string `json:"nonce"`
}

type RegisterRequest struct {
    Token auth.Token `json:"token"`
    Port int `json:"port"`
}

type RegisterResponse struct {
    Index uint64 `json:"index"`
    Credentials []byte `json:"credentials"`
}

type ReportStateRequest struct {
    Token auth.Token `json:"token"`
    Index uint64 `json:"index"`
    State partition.NodeState `json:"state"`
}

type SyncTableRequest struct {
    Token auth.Token `json:"token"`
    Table *partition.Table `json:"table"`
}

type FetchTableRequest struct {
    Token auth.Token `json:"token"`
}

type ProposeRequest struct {
    Token auth.Token `json:"token"`
    // TargetTable is nil when Even is set; the coordinator derives an
    // equal share target from current membership.
    TargetTable *partition.Table `json:"targetTable"`
    Even bool `json:"even"`
}

type TransactionRequest struct {
    Token auth.Token `json:"token"`
    TransactionID string `json:"transactionId"`
}

// RebalanceRequest carries a full transaction to a node for the internal
// prepare, size, copy and commit calls.
type RebalanceRequest struct {
    Token auth.Token `json:"token"`
    Transaction *rebalance.Transaction `json:"transaction"`
}

type SizeResponse struct {
    MovingBytes uint64 `json:"movingBytes"`
}

type CommitResponse struct {
    State partition.NodeState `json:"state"`
}

type AddNodeRequest struct {
    Token auth.Token `json:"token"`
    Address string `json:"address"`
    Port int `json:"port"`
}

type RemoveNodeRequest struct {
    Token auth.Token `json:"token"`
    Index uint64 `json:"index"`
}
