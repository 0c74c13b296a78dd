package routes

import (
    "encoding/json"
    "net/http"

    "github.com/gorilla/mux"

    . "github.com/forensix/evidencedb/error"
    . "github.com/forensix/evidencedb/logging"
    "github.com/forensix/evidencedb/auth"
)

// CopyStreamTokenHeader carries the JSON encoded server token on copy
// stream uploads. The body of those requests is the raw record stream, so
// the token cannot travel in a request envelope like it does everywhere
// else.
const CopyStreamTokenHeader = "X-Evidencedb-Token"

// RebalanceEndpoint serves both halves of the rebalance protocol: the
// admin operations an operator issues against the coordinator and the
// internal operations the coordinator fans out to every node.
type RebalanceEndpoint struct {
    ClusterFacade ClusterFacade
}

func (rebalanceEndpoint *RebalanceEndpoint) attachInternal(router *mux.Router) {
    facade := rebalanceEndpoint.ClusterFacade

    // Admit a proposed transaction on this node
    router.HandleFunc("/rebalance/prepare", func(w http.ResponseWriter, r *http.Request) {
        var rebalanceRequest RebalanceRequest

        if !decodeBody(w, r, &rebalanceRequest) {
            return
        }

        if !facade.ValidateServerToken(rebalanceRequest.Token) {
            respondError(w, ENotAuthorized)

            return
        }

        if rebalanceRequest.Transaction == nil {
            respondError(w, ERequest)

            return
        }

        if err := facade.PrepareRebalance(rebalanceRequest.Transaction); err != nil {
            Log.Warningf("POST /rebalance/prepare: %v", err)

            respondError(w, err)

            return
        }

        respondJSON(w, rebalanceRequest.Transaction)
    }).Methods("POST")

    // Compute the byte volume this node would move under the target table
    router.HandleFunc("/rebalance/size", func(w http.ResponseWriter, r *http.Request) {
        var rebalanceRequest RebalanceRequest

        if !decodeBody(w, r, &rebalanceRequest) {
            return
        }

        if !facade.ValidateServerToken(rebalanceRequest.Token) {
            respondError(w, ENotAuthorized)

            return
        }

        movingBytes, err := facade.ComputeMovingBytes(rebalanceRequest.Transaction)

        if err != nil {
            Log.Warningf("POST /rebalance/size: %v", err)

            respondError(w, err)

            return
        }

        respondJSON(w, SizeResponse{ MovingBytes: movingBytes })
    }).Methods("POST")

    // Stream this node's moving records to their destinations
    router.HandleFunc("/rebalance/copy", func(w http.ResponseWriter, r *http.Request) {
        var rebalanceRequest RebalanceRequest

        if !decodeBody(w, r, &rebalanceRequest) {
            return
        }

        if !facade.ValidateServerToken(rebalanceRequest.Token) {
            respondError(w, ENotAuthorized)

            return
        }

        if err := facade.CopyRecords(rebalanceRequest.Transaction); err != nil {
            Log.Warningf("POST /rebalance/copy: %v", err)

            respondError(w, err)

            return
        }

        respondJSON(w, rebalanceRequest.Transaction)
    }).Methods("POST")

    // Receive a copy stream from a peer node into the staging area
    router.HandleFunc("/rebalance/records/{transactionID}", func(w http.ResponseWriter, r *http.Request) {
        transactionID := mux.Vars(r)["transactionID"]

        var token auth.Token

        if err := json.Unmarshal([]byte(r.Header.Get(CopyStreamTokenHeader)), &token); err != nil {
            respondError(w, ENotAuthorized)

            return
        }

        if !facade.ValidateServerToken(token) {
            respondError(w, ENotAuthorized)

            return
        }

        if err := facade.ReceiveCopyStream(transactionID, r.Body); err != nil {
            Log.Warningf("POST /rebalance/records/%s: %v", transactionID, err)

            respondError(w, err)

            return
        }

        respondJSON(w, struct{}{})
    }).Methods("POST")

    // Apply the commit sequence on this node
    router.HandleFunc("/rebalance/commit", func(w http.ResponseWriter, r *http.Request) {
        var rebalanceRequest RebalanceRequest

        if !decodeBody(w, r, &rebalanceRequest) {
            return
        }

        if !facade.ValidateServerToken(rebalanceRequest.Token) {
            respondError(w, ENotAuthorized)

            return
        }

        state, err := facade.CommitLocal(rebalanceRequest.Transaction)

        if err != nil {
            Log.Errorf("POST /rebalance/commit: %v", err)

            respondError(w, err)

            return
        }

        respondJSON(w, CommitResponse{ State: state })
    }).Methods("POST")

    // Drop the active transaction on this node
    router.HandleFunc("/rebalance/abort", func(w http.ResponseWriter, r *http.Request) {
        var transactionRequest TransactionRequest

        if !decodeBody(w, r, &transactionRequest) {
            return
        }

        if !facade.ValidateServerToken(transactionRequest.Token) {
            respondError(w, ENotAuthorized)

            return
        }

        if err := facade.AbortLocal(transactionRequest.TransactionID); err != nil {
            Log.Warningf("POST /rebalance/abort: %v", err)

            respondError(w, err)

            return
        }

        respondJSON(w, struct{}{})
    }).Methods("POST")
}

func (rebalanceEndpoint *RebalanceEndpoint) attachAdmin(router *mux.Router) {
    facade := rebalanceEndpoint.ClusterFacade

    requireCoordinator := func(w http.ResponseWriter) bool {
        if !facade.IsCoordinator() {
            respondError(w, ENotMaster)

            return false
        }

        return true
    }

    router.HandleFunc("/cluster/rebalance", func(w http.ResponseWriter, r *http.Request) {
        var proposeRequest ProposeRequest

        if !decodeBody(w, r, &proposeRequest) {
            return
        }

        if !requireCoordinator(w) {
            return
        }

        if !facade.ValidateServerToken(proposeRequest.Token) {
            respondError(w, ENotAuthorized)

            return
        }

        transaction, err := facade.ProposeRebalance(proposeRequest.TargetTable, proposeRequest.Even)

        if err != nil {
            Log.Warningf("POST /cluster/rebalance: %v", err)

            respondError(w, err)

            return
        }

        respondJSON(w, transaction)
    }).Methods("POST")

    router.HandleFunc("/cluster/rebalance/size", func(w http.ResponseWriter, r *http.Request) {
        var transactionRequest TransactionRequest

        if !decodeBody(w, r, &transactionRequest) {
            return
        }

        if !requireCoordinator(w) {
            return
        }

        if !facade.ValidateServerToken(transactionRequest.Token) {
            respondError(w, ENotAuthorized)

            return
        }

        transaction, err := facade.SizeRebalance()

        if err != nil {
            Log.Warningf("POST /cluster/rebalance/size: %v", err)

            respondError(w, err)

            return
        }

        respondJSON(w, transaction)
    }).Methods("POST")

    router.HandleFunc("/cluster/rebalance/copy", func(w http.ResponseWriter, r *http.Request) {
        var transactionRequest TransactionRequest

        if !decodeBody(w, r, &transactionRequest) {
            return
        }

        if !requireCoordinator(w) {
            return
        }

        if !facade.ValidateServerToken(transactionRequest.Token) {
            respondError(w, ENotAuthorized)

            return
        }

        if err := facade.CopyRebalance(); err != nil {
            Log.Warningf("POST /cluster/rebalance/copy: %v", err)

            respondError(w, err)

            return
        }

        respondJSON(w, facade.RebalanceStatus())
    }).Methods("POST")

    router.HandleFunc("/cluster/rebalance/commit", func(w http.ResponseWriter, r *http.Request) {
        var transactionRequest TransactionRequest

        if !decodeBody(w, r, &transactionRequest) {
            return
        }

        if !requireCoordinator(w) {
            return
        }

        if !facade.ValidateServerToken(transactionRequest.Token) {
            respondError(w, ENotAuthorized)

            return
        }

        table, err := facade.CommitRebalance()

        if err != nil {
            Log.Errorf("POST /cluster/rebalance/commit: %v", err)

            respondError(w, err)

            return
        }

        respondJSON(w, table)
    }).Methods("POST")

    router.HandleFunc("/cluster/rebalance/abort", func(w http.ResponseWriter, r *http.Request) {
        var transactionRequest TransactionRequest

        if !decodeBody(w, r, &transactionRequest) {
            return
        }

        if !requireCoordinator(w) {
            return
        }

        if !facade.ValidateServerToken(transactionRequest.Token) {
            respondError(w, ENotAuthorized)

            return
        }

        if err := facade.AbortRebalance(); err != nil {
            Log.Warningf("POST /cluster/rebalance/abort: %v", err)

            respondError(w, err)

            return
        }

        respondJSON(w, struct{}{})
    }).Methods("POST")

    router.HandleFunc("/cluster/rebalance/recover", func(w http.ResponseWriter, r *http.Request) {
        var transactionRequest TransactionRequest

        if !decodeBody(w, r, &transactionRequest) {
            return
        }

        if !requireCoordinator(w) {
            return
        }

        if !facade.ValidateServerToken(transactionRequest.Token) {
            respondError(w, ENotAuthorized)

            return
        }

        table, err := facade.RecoverRebalance(transactionRequest.TransactionID)

        if err != nil {
            Log.Errorf("POST /cluster/rebalance/recover: %v", err)

            respondError(w, err)

            return
        }

        respondJSON(w, table)
    }).Methods("POST")
}

func (rebalanceEndpoint *RebalanceEndpoint) Attach(router *mux.Router) {
    rebalanceEndpoint.attachInternal(router)
    rebalanceEndpoint.attachAdmin(router)
}
