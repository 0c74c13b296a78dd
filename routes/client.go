package routes

import (
    "net/http"
    "time"

    "github.com/gorilla/mux"
    "github.com/gorilla/websocket"

    . "github.com/forensix/evidencedb/error"
    . "github.com/forensix/evidencedb/logging"
    "github.com/forensix/evidencedb/auth"
    "github.com/forensix/evidencedb/partition"
    "github.com/forensix/evidencedb/storage"
)

// The client data protocol: after a nonce handshake the client opens a
// long lived websocket session, authenticates it once with a token, then
// multiplexes key value commands over it. Command kinds are a closed enum;
// the permission a kind requires is checked before dispatch, never inside
// the handlers.
const (
    OpGet string = "get"
    OpPut string = "put"
    OpDelete string = "delete"
    OpScan string = "scan"
    OpLock string = "lock"
    OpExtendLock string = "extendLock"
    OpUnlock string = "unlock"
    // OpTable lets a session download the partition table so client
    // libraries can route commands to owner nodes themselves.
    OpTable string = "table"
)

type ClientStartRequest struct {
    Token auth.Token `json:"token"`
}

type ClientCommand struct {
    ID uint64 `json:"id"`
    Op string `json:"op"`
    Key string `json:"key"`
    Value []byte `json:"value"`
    Timestamp uint64 `json:"timestamp"`
    Prefix string `json:"prefix"`
    LockToken uint64 `json:"lockToken"`
    DurationMillis uint64 `json:"durationMillis"`
}

type ClientResponse struct {
    ID uint64 `json:"id"`
    Ok bool `json:"ok"`
    Error *DBerror `json:"error,omitempty"`
    Record *storage.Record `json:"record,omitempty"`
    Records []*storage.Record `json:"records,omitempty"`
    LockToken uint64 `json:"lockToken,omitempty"`
    Table *partition.Table `json:"table,omitempty"`
}

// requiredPermission returns the permission a command kind needs, or false
// for an unknown kind.
func requiredPermission(op string) (string, bool) {
    switch op {
    case OpGet, OpScan, OpTable:
        return auth.PermissionRead, true
    case OpPut, OpDelete, OpLock, OpExtendLock, OpUnlock:
        return auth.PermissionWrite, true
    default:
        return "", false
    }
}

type ClientEndpoint struct {
    ClusterFacade ClusterFacade
    Upgrader websocket.Upgrader
}

func (clientEndpoint *ClientEndpoint) Attach(router *mux.Router) {
    router.HandleFunc("/client/handshake", func(w http.ResponseWriter, r *http.Request) {
        nonce, ok := clientEndpoint.ClusterFacade.NewNonce()

        if !ok {
            respondError(w, ENotAllowed)

            return
        }

        respondJSON(w, HandshakeResponse{ Nonce: nonce })
    }).Methods("GET")

    router.HandleFunc("/client/session", func(w http.ResponseWriter, r *http.Request) {
        conn, err := clientEndpoint.Upgrader.Upgrade(w, r, nil)

        if err != nil {
            Log.Warningf("GET /client/session: unable to upgrade connection: %v", err)

            return
        }

        defer conn.Close()

        var startRequest ClientStartRequest

        if err := conn.ReadJSON(&startRequest); err != nil {
            return
        }

        permission, ok := clientEndpoint.ClusterFacade.ValidateClientToken(startRequest.Token)

        if !ok {
            Log.Warningf("GET /client/session: client token rejected")

            conn.WriteJSON(ClientResponse{ Error: &ENotAuthorized })

            return
        }

        conn.WriteJSON(ClientResponse{ Ok: true })

        clientEndpoint.serveSession(conn, permission)
    })
}

func (clientEndpoint *ClientEndpoint) serveSession(conn *websocket.Conn, permission string) {
    for {
        var command ClientCommand

        if err := conn.ReadJSON(&command); err != nil {
            return
        }

        response := clientEndpoint.dispatch(&command, permission)

        if err := conn.WriteJSON(response); err != nil {
            return
        }
    }
}

func (clientEndpoint *ClientEndpoint) dispatch(command *ClientCommand, permission string) ClientResponse {
    facade := clientEndpoint.ClusterFacade
    response := ClientResponse{ ID: command.ID }

    fail := func(err error) ClientResponse {
        dbError, ok := err.(DBerror)

        if !ok {
            dbError = EInternal
        }

        response.Error = &dbError

        return response
    }

    required, known := requiredPermission(command.Op)

    if !known {
        return fail(ERequest)
    }

    if !auth.PermissionAllows(permission, required) {
        return fail(ENotAuthorized)
    }

    switch command.Op {
    case OpGet:
        record, err := facade.Get(command.Key)

        if err != nil {
            return fail(err)
        }

        response.Ok = true
        response.Record = record
    case OpPut:
        if command.Key == "" {
            return fail(EEmpty)
        }

        record := &storage.Record{ Key: command.Key, Value: command.Value, Timestamp: command.Timestamp }

        if err := facade.Put(record); err != nil {
            return fail(err)
        }

        response.Ok = true
    case OpDelete:
        if err := facade.Delete(command.Key); err != nil {
            return fail(err)
        }

        response.Ok = true
    case OpScan:
        records, err := facade.Scan(command.Prefix)

        if err != nil {
            return fail(err)
        }

        response.Ok = true
        response.Records = records
    case OpLock:
        lockToken, err := facade.Lock(command.Key, time.Duration(command.DurationMillis) * time.Millisecond)

        if err != nil {
            return fail(err)
        }

        response.Ok = true
        response.LockToken = lockToken
    case OpExtendLock:
        if err := facade.ExtendLock(command.Key, command.LockToken, time.Duration(command.DurationMillis) * time.Millisecond); err != nil {
            return fail(err)
        }

        response.Ok = true
    case OpUnlock:
        if err := facade.Unlock(command.Key, command.LockToken); err != nil {
            return fail(err)
        }

        response.Ok = true
    case OpTable:
        response.Ok = true
        response.Table = facade.Table()
    }

    return response
}
