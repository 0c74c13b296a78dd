package routes

import (
    "encoding/json"
    "io"
    "net/http"

    . "github.com/forensix/evidencedb/error"
)

// statusForError maps taxonomy errors onto HTTP statuses. Anything outside
// the taxonomy crosses the boundary as a generic internal error so callers
// never see implementation details.
func statusForError(err error) int {
    dbError, ok := err.(DBerror)

    if !ok {
        return http.StatusInternalServerError
    }

    switch dbError.Code() {
    case ENotAuthorized.Code():
        return http.StatusUnauthorized
    case ENotMaster.Code(), ENotARegularNode.Code(), ENotRegistered.Code(), ENotAllowed.Code():
        return http.StatusForbidden
    case EAlreadyRegistered.Code(), EAlreadyRebalancing.Code(), EWrongTransaction.Code(), EIntervalNotEmpty.Code(), EStaleTable.Code(), ELockHeld.Code(), ENotCommitted.Code():
        return http.StatusConflict
    case ETransactionNotFound.Code(), ENoSuchNode.Code(), ENoSuchLock.Code(), ENoRebalance.Code():
        return http.StatusNotFound
    case EClusterUnreachable.Code(), EUnreachableNodes.Code():
        return http.StatusServiceUnavailable
    case ERequest.Code(), EIntegrityMismatch.Code(), EEmpty.Code(), ELength.Code():
        return http.StatusBadRequest
    default:
        return http.StatusInternalServerError
    }
}

func respondError(w http.ResponseWriter, err error) {
    dbError, ok := err.(DBerror)

    if !ok {
        dbError = EInternal
    }

    w.Header().Set("Content-Type", "application/json; charset=utf8")
    w.WriteHeader(statusForError(err))
    w.Write(dbError.JSON())
    io.WriteString(w, "\n")
}

func respondJSON(w http.ResponseWriter, body interface{}) {
    encoded, err := json.Marshal(body)

    if err != nil {
        respondError(w, EInternal)

        return
    }

    w.Header().Set("Content-Type", "application/json; charset=utf8")
    w.WriteHeader(http.StatusOK)
    w.Write(encoded)
    io.WriteString(w, "\n")
}

func decodeBody(w http.ResponseWriter, r *http.Request, body interface{}) bool {
    if err := json.NewDecoder(r.Body).Decode(body); err != nil {
        respondError(w, ERequest)

        return false
    }

    return true
}
