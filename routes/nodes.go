package routes

import (
    "net/http"

    "github.com/gorilla/mux"

    . "github.com/forensix/evidencedb/error"
    . "github.com/forensix/evidencedb/logging"
)

// NodesEndpoint serves the administrative add and remove node operations,
// each with a dry run "check" variant that validates preconditions without
// changing anything. All of them require a fully registered cluster.
type NodesEndpoint struct {
    ClusterFacade ClusterFacade
}

func (nodesEndpoint *NodesEndpoint) Attach(router *mux.Router) {
    facade := nodesEndpoint.ClusterFacade

    addHandler := func(checkOnly bool) func(http.ResponseWriter, *http.Request) {
        return func(w http.ResponseWriter, r *http.Request) {
            var addNodeRequest AddNodeRequest

            if !decodeBody(w, r, &addNodeRequest) {
                return
            }

            if !facade.IsCoordinator() {
                respondError(w, ENotMaster)

                return
            }

            if !facade.ValidateServerToken(addNodeRequest.Token) {
                respondError(w, ENotAuthorized)

                return
            }

            nodeRecord, err := facade.AddNode(addNodeRequest.Address, addNodeRequest.Port, checkOnly)

            if err != nil {
                Log.Warningf("POST add node %s:%d: %v", addNodeRequest.Address, addNodeRequest.Port, err)

                respondError(w, err)

                return
            }

            respondJSON(w, nodeRecord)
        }
    }

    removeHandler := func(checkOnly bool) func(http.ResponseWriter, *http.Request) {
        return func(w http.ResponseWriter, r *http.Request) {
            var removeNodeRequest RemoveNodeRequest

            if !decodeBody(w, r, &removeNodeRequest) {
                return
            }

            if !facade.IsCoordinator() {
                respondError(w, ENotMaster)

                return
            }

            if !facade.ValidateServerToken(removeNodeRequest.Token) {
                respondError(w, ENotAuthorized)

                return
            }

            if err := facade.RemoveNode(removeNodeRequest.Index, checkOnly); err != nil {
                Log.Warningf("POST remove node %d: %v", removeNodeRequest.Index, err)

                respondError(w, err)

                return
            }

            respondJSON(w, facade.Table())
        }
    }

    router.HandleFunc("/cluster/nodes/check", addHandler(true)).Methods("POST")
    router.HandleFunc("/cluster/nodes", addHandler(false)).Methods("POST")
    router.HandleFunc("/cluster/nodes/removecheck", removeHandler(true)).Methods("POST")
    router.HandleFunc("/cluster/nodes/remove", removeHandler(false)).Methods("POST")

    // Cluster overview for operators; requires a valid server token
    router.HandleFunc("/cluster/overview", func(w http.ResponseWriter, r *http.Request) {
        var fetchTableRequest FetchTableRequest

        if !decodeBody(w, r, &fetchTableRequest) {
            return
        }

        if !facade.IsCoordinator() {
            respondError(w, ENotMaster)

            return
        }

        if !facade.ValidateServerToken(fetchTableRequest.Token) {
            respondError(w, ENotAuthorized)

            return
        }

        respondJSON(w, facade.Table())
    }).Methods("POST")
}
