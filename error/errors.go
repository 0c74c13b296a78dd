package error

import (
    "encoding/json"
)

// DBerror is the error type returned across package and RPC boundaries.
// The code is stable and appears verbatim in wire responses so that
// clients and operators can react to the specific failure kind.
type DBerror struct {
    DBerrorMsg string `json:"message"`
    DBerrorCode int `json:"code"`
}

func (dbError DBerror) Error() string {
    return dbError.DBerrorMsg
}

func (dbError DBerror) Code() int {
    return dbError.DBerrorCode
}

func (dbError DBerror) JSON() []byte {
    result, _ := json.Marshal(dbError)

    return result
}

func DBerrorFromJSON(encoded []byte) (DBerror, error) {
    var dbError DBerror

    if err := json.Unmarshal(encoded, &dbError); err != nil {
        return DBerror{}, err
    }

    return dbError, nil
}

const (
    eNOT_AUTHORIZED = iota
    eNOT_MASTER = iota
    eNOT_A_REGULAR_NODE = iota
    eNOT_REGISTERED = iota
    eALREADY_REGISTERED = iota
    eALREADY_REBALANCING = iota
    eNO_REBALANCE = iota
    eWRONG_TRANSACTION = iota
    eTRANSACTION_NOT_FOUND = iota
    eNOT_COMMITTED = iota
    eUNREACHABLE_NODES = iota
    eINTERVAL_NOT_EMPTY = iota
    eINTEGRITY_MISMATCH = iota
    eNOT_ALLOWED = iota
    eCLUSTER_UNREACHABLE = iota
    eNO_SUCH_NODE = iota
    eSTORAGE = iota
    eLOCK_HELD = iota
    eNO_SUCH_LOCK = iota
    eEMPTY = iota
    eLENGTH = iota
    eREQUEST = iota
    eSTALE_TABLE = iota
    eINTERNAL = iota
)

var (
    ENotAuthorized         = DBerror{ "Access token was rejected", eNOT_AUTHORIZED }
    ENotMaster             = DBerror{ "This node is not the cluster coordinator", eNOT_MASTER }
    ENotARegularNode       = DBerror{ "This operation can only be applied to a regular node", eNOT_A_REGULAR_NODE }
    ENotRegistered         = DBerror{ "This node has not completed registration", eNOT_REGISTERED }
    EAlreadyRegistered     = DBerror{ "A node at this address is already registered", eALREADY_REGISTERED }
    EAlreadyRebalancing    = DBerror{ "Another rebalance transaction is already in progress", eALREADY_REBALANCING }
    ENoRebalance           = DBerror{ "There is no rebalance transaction in progress", eNO_REBALANCE }
    EWrongTransaction      = DBerror{ "The transaction id does not match the active transaction", eWRONG_TRANSACTION }
    ETransactionNotFound   = DBerror{ "No transaction with that id was found", eTRANSACTION_NOT_FOUND }
    ENotCommitted          = DBerror{ "The node was unable to commit the transaction", eNOT_COMMITTED }
    EUnreachableNodes      = DBerror{ "One or more cluster nodes could not be reached", eUNREACHABLE_NODES }
    EIntervalNotEmpty      = DBerror{ "The node still owns a non-empty hash interval", eINTERVAL_NOT_EMPTY }
    EIntegrityMismatch     = DBerror{ "Integrity check failed", eINTEGRITY_MISMATCH }
    ENotAllowed            = DBerror{ "The operation is not allowed in the current cluster state", eNOT_ALLOWED }
    EClusterUnreachable    = DBerror{ "All cluster nodes must be registered to perform this operation", eCLUSTER_UNREACHABLE }
    ENoSuchNode            = DBerror{ "No node with that index exists in the partition table", eNO_SUCH_NODE }
    EStorage               = DBerror{ "The storage driver experienced an error", eSTORAGE }
    ELockHeld              = DBerror{ "The row is locked by another session", eLOCK_HELD }
    ENoSuchLock            = DBerror{ "No lease with that token exists for the row", eNO_SUCH_LOCK }
    EEmpty                 = DBerror{ "Parameter was empty or nil", eEMPTY }
    ELength                = DBerror{ "Parameter is too long", eLENGTH }
    ERequest               = DBerror{ "The request body was not properly formatted", eREQUEST }
    EStaleTable            = DBerror{ "The partition table version is not newer than the current one", eSTALE_TABLE }
    EInternal              = DBerror{ "An unexpected internal error occurred", eINTERNAL }
)
