package routes

import (
    "net"
    "net/http"

    "github.com/gorilla/mux"

    . "github.com/forensix/evidencedb/error"
    . "github.com/forensix/evidencedb/logging"
)

// ClusterEndpoint serves the membership and table distribution RPCs.
type ClusterEndpoint struct {
    ClusterFacade ClusterFacade
}

func (clusterEndpoint *ClusterEndpoint) Attach(router *mux.Router) {
    // Obtain a nonce for building the next request's auth token
    router.HandleFunc("/handshake", func(w http.ResponseWriter, r *http.Request) {
        nonce, ok := clusterEndpoint.ClusterFacade.NewNonce()

        if !ok {
            Log.Warningf("GET /handshake: nonce registry is at capacity")

            respondError(w, ENotAllowed)

            return
        }

        respondJSON(w, HandshakeResponse{ Nonce: nonce })
    }).Methods("GET")

    // Register a node with the coordinator
    router.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
        var registerRequest RegisterRequest

        if !decodeBody(w, r, &registerRequest) {
            return
        }

        if !clusterEndpoint.ClusterFacade.IsCoordinator() {
            Log.Warningf("POST /register: this node is not the coordinator")

            respondError(w, ENotMaster)

            return
        }

        if !clusterEndpoint.ClusterFacade.ValidateServerToken(registerRequest.Token) {
            Log.Warningf("POST /register: token rejected")

            respondError(w, ENotAuthorized)

            return
        }

        address, _, err := net.SplitHostPort(r.RemoteAddr)

        if err != nil {
            respondError(w, ERequest)

            return
        }

        nodeRecord, credentials, err := clusterEndpoint.ClusterFacade.RegisterNode(address, registerRequest.Port)

        if err != nil {
            Log.Warningf("POST /register: %v", err)

            respondError(w, err)

            return
        }

        respondJSON(w, RegisterResponse{ Index: nodeRecord.Index, Credentials: credentials })
    }).Methods("POST")

    // Periodic node state report. The response carries the current table
    // so nodes converge on the latest version even if they missed a push.
    router.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
        var reportStateRequest ReportStateRequest

        if !decodeBody(w, r, &reportStateRequest) {
            return
        }

        if !clusterEndpoint.ClusterFacade.IsCoordinator() {
            respondError(w, ENotMaster)

            return
        }

        if !clusterEndpoint.ClusterFacade.ValidateServerToken(reportStateRequest.Token) {
            Log.Warningf("POST /state: token rejected")

            respondError(w, ENotAuthorized)

            return
        }

        table, err := clusterEndpoint.ClusterFacade.ReportState(reportStateRequest.Index, reportStateRequest.State)

        if err != nil {
            Log.Warningf("POST /state: %v", err)

            respondError(w, err)

            return
        }

        respondJSON(w, table)
    }).Methods("POST")

    // Push based table distribution from the coordinator
    router.HandleFunc("/partitiontable/sync", func(w http.ResponseWriter, r *http.Request) {
        var syncTableRequest SyncTableRequest

        if !decodeBody(w, r, &syncTableRequest) {
            return
        }

        if !clusterEndpoint.ClusterFacade.ValidateServerToken(syncTableRequest.Token) {
            Log.Warningf("POST /partitiontable/sync: token rejected")

            respondError(w, ENotAuthorized)

            return
        }

        if syncTableRequest.Table == nil {
            respondError(w, ERequest)

            return
        }

        if err := clusterEndpoint.ClusterFacade.AdoptTable(syncTableRequest.Table); err != nil && err != EStaleTable {
            Log.Warningf("POST /partitiontable/sync: %v", err)

            respondError(w, err)

            return
        }

        respondJSON(w, clusterEndpoint.ClusterFacade.Table())
    }).Methods("POST")

    // Pull the current table
    router.HandleFunc("/partitiontable", func(w http.ResponseWriter, r *http.Request) {
        var fetchTableRequest FetchTableRequest

        if !decodeBody(w, r, &fetchTableRequest) {
            return
        }

        if !clusterEndpoint.ClusterFacade.ValidateServerToken(fetchTableRequest.Token) {
            respondError(w, ENotAuthorized)

            return
        }

        table := clusterEndpoint.ClusterFacade.Table()

        if table == nil {
            respondError(w, ENotAllowed)

            return
        }

        respondJSON(w, table)
    }).Methods("POST")
}
