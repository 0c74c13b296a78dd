package client

import (
    "encoding/json"
    "fmt"
    "io/ioutil"
    "net/http"
    "sort"
    "sync"
    "time"

    "github.com/gorilla/websocket"

    . "github.com/forensix/evidencedb/error"
    "github.com/forensix/evidencedb/auth"
    "github.com/forensix/evidencedb/partition"
    "github.com/forensix/evidencedb/routes"
    "github.com/forensix/evidencedb/storage"
)

const DefaultSessionTimeout = time.Second * 30

type APIClientConfig struct {
    // SeedAddress and SeedPort point at any live cluster node. The
    // client downloads the partition table from it and routes commands
    // to owner nodes from then on.
    SeedAddress string
    SeedPort int
    Username string
    Password string
    Timeout time.Duration
}

// APIClient is the data plane client. It keeps one authenticated
// websocket session per node, routes each command to the node owning the
// key's hash interval and refreshes its cached partition table whenever a
// session fails.
type APIClient struct {
    config APIClientConfig
    httpClient *http.Client
    dialer *websocket.Dialer

    mu sync.Mutex
    table *partition.Table
    sessions map[uint64]*session
    nextCommandID uint64
}

func New(config APIClientConfig) *APIClient {
    if config.Timeout <= 0 {
        config.Timeout = DefaultSessionTimeout
    }

    return &APIClient{
        config: config,
        httpClient: &http.Client{ Timeout: config.Timeout },
        dialer: &websocket.Dialer{ HandshakeTimeout: config.Timeout },
        sessions: make(map[uint64]*session),
    }
}

// session is one authenticated websocket connection. Commands are
// serialized over it, one request one response.
type session struct {
    mu sync.Mutex
    conn *websocket.Conn
}

func (apiClient *APIClient) openSession(address string, port int) (*session, error) {
    handshakeResponse, err := apiClient.httpClient.Get(fmt.Sprintf("http://%s:%d/client/handshake", address, port))

    if err != nil {
        return nil, err
    }

    body, err := ioutil.ReadAll(handshakeResponse.Body)
    handshakeResponse.Body.Close()

    if err != nil {
        return nil, err
    }

    if handshakeResponse.StatusCode != http.StatusOK {
        if dbError, err := DBerrorFromJSON(body); err == nil {
            return nil, dbError
        }

        return nil, EInternal
    }

    var handshake routes.HandshakeResponse

    if err := json.Unmarshal(body, &handshake); err != nil {
        return nil, err
    }

    conn, _, err := apiClient.dialer.Dial(fmt.Sprintf("ws://%s:%d/client/session", address, port), nil)

    if err != nil {
        return nil, err
    }

    token := auth.NewToken(handshake.Nonce, apiClient.config.Username, apiClient.config.Password)

    if err := conn.WriteJSON(routes.ClientStartRequest{ Token: token }); err != nil {
        conn.Close()

        return nil, err
    }

    var startResponse routes.ClientResponse

    if err := conn.ReadJSON(&startResponse); err != nil {
        conn.Close()

        return nil, err
    }

    if !startResponse.Ok {
        conn.Close()

        if startResponse.Error != nil {
            return nil, *startResponse.Error
        }

        return nil, ENotAuthorized
    }

    return &session{ conn: conn }, nil
}

func (s *session) send(command *routes.ClientCommand) (*routes.ClientResponse, error) {
    s.mu.Lock()
    defer s.mu.Unlock()

    if err := s.conn.WriteJSON(command); err != nil {
        return nil, err
    }

    var response routes.ClientResponse

    if err := s.conn.ReadJSON(&response); err != nil {
        return nil, err
    }

    if response.Error != nil {
        return nil, *response.Error
    }

    return &response, nil
}

func (s *session) close() {
    s.mu.Lock()
    defer s.mu.Unlock()

    s.conn.Close()
}

// Connect opens a session to the seed node and downloads the partition
// table. It must be called before any data command.
func (apiClient *APIClient) Connect() error {
    seedSession, err := apiClient.openSession(apiClient.config.SeedAddress, apiClient.config.SeedPort)

    if err != nil {
        return err
    }

    response, err := seedSession.send(&routes.ClientCommand{ ID: apiClient.commandID(), Op: routes.OpTable })

    seedSession.close()

    if err != nil {
        return err
    }

    if response.Table == nil {
        return EInternal
    }

    apiClient.mu.Lock()
    apiClient.table = response.Table
    apiClient.mu.Unlock()

    return nil
}

func (apiClient *APIClient) Close() {
    apiClient.mu.Lock()
    defer apiClient.mu.Unlock()

    for index, s := range apiClient.sessions {
        s.close()
        delete(apiClient.sessions, index)
    }
}

func (apiClient *APIClient) commandID() uint64 {
    apiClient.mu.Lock()
    defer apiClient.mu.Unlock()

    apiClient.nextCommandID++

    return apiClient.nextCommandID
}

func (apiClient *APIClient) cachedTable() (*partition.Table, error) {
    apiClient.mu.Lock()
    defer apiClient.mu.Unlock()

    if apiClient.table == nil {
        return nil, ENotAllowed
    }

    return apiClient.table, nil
}

func (apiClient *APIClient) sessionFor(nodeRecord *partition.NodeRecord) (*session, error) {
    apiClient.mu.Lock()
    s, ok := apiClient.sessions[nodeRecord.Index]
    apiClient.mu.Unlock()

    if ok {
        return s, nil
    }

    s, err := apiClient.openSession(nodeRecord.Address, nodeRecord.Port)

    if err != nil {
        return nil, err
    }

    apiClient.mu.Lock()

    if existing, ok := apiClient.sessions[nodeRecord.Index]; ok {
        apiClient.mu.Unlock()
        s.close()

        return existing, nil
    }

    apiClient.sessions[nodeRecord.Index] = s
    apiClient.mu.Unlock()

    return s, nil
}

func (apiClient *APIClient) dropSession(nodeRecord *partition.NodeRecord, s *session) {
    apiClient.mu.Lock()

    if apiClient.sessions[nodeRecord.Index] == s {
        delete(apiClient.sessions, nodeRecord.Index)
    }

    apiClient.mu.Unlock()

    s.close()

    // the failure may mean the cluster moved under us. Refresh the
    // table so the next command routes against current ownership.
    apiClient.Connect()
}

// route sends a command to the node owning the command's key, retrying
// once on a fresh session when the cached one has gone stale.
func (apiClient *APIClient) route(key string, command *routes.ClientCommand) (*routes.ClientResponse, error) {
    table, err := apiClient.cachedTable()

    if err != nil {
        return nil, err
    }

    nodeRecord, err := table.Route(key)

    if err != nil {
        return nil, err
    }

    s, err := apiClient.sessionFor(nodeRecord)

    if err != nil {
        return nil, err
    }

    response, err := s.send(command)

    if err == nil {
        return response, nil
    }

    if _, ok := err.(DBerror); ok {
        return nil, err
    }

    apiClient.dropSession(nodeRecord, s)

    s, retryErr := apiClient.sessionFor(nodeRecord)

    if retryErr != nil {
        return nil, err
    }

    return s.send(command)
}

func (apiClient *APIClient) Get(key string) (*storage.Record, error) {
    response, err := apiClient.route(key, &routes.ClientCommand{ ID: apiClient.commandID(), Op: routes.OpGet, Key: key })

    if err != nil {
        return nil, err
    }

    return response.Record, nil
}

func (apiClient *APIClient) Put(key string, value []byte) error {
    command := &routes.ClientCommand{
        ID: apiClient.commandID(),
        Op: routes.OpPut,
        Key: key,
        Value: value,
        Timestamp: uint64(time.Now().UnixNano()),
    }

    _, err := apiClient.route(key, command)

    return err
}

func (apiClient *APIClient) Delete(key string) error {
    _, err := apiClient.route(key, &routes.ClientCommand{ ID: apiClient.commandID(), Op: routes.OpDelete, Key: key })

    return err
}

// Scan queries every node owning part of the hash space, since records
// sharing a key prefix are scattered by the hash function. Results come
// back merged in key order.
func (apiClient *APIClient) Scan(prefix string) ([]*storage.Record, error) {
    table, err := apiClient.cachedTable()

    if err != nil {
        return nil, err
    }

    records := make([]*storage.Record, 0)

    for _, nodeRecord := range table.Nodes {
        if nodeRecord.Interval.IsEmpty() {
            continue
        }

        s, err := apiClient.sessionFor(nodeRecord)

        if err != nil {
            return nil, err
        }

        response, err := s.send(&routes.ClientCommand{ ID: apiClient.commandID(), Op: routes.OpScan, Prefix: prefix })

        if err != nil {
            if _, ok := err.(DBerror); !ok {
                apiClient.dropSession(nodeRecord, s)
            }

            return nil, err
        }

        records = append(records, response.Records...)
    }

    sort.Slice(records, func(i, j int) bool {
        return records[i].Key < records[j].Key
    })

    return records, nil
}

func (apiClient *APIClient) Lock(key string, duration time.Duration) (uint64, error) {
    command := &routes.ClientCommand{
        ID: apiClient.commandID(),
        Op: routes.OpLock,
        Key: key,
        DurationMillis: uint64(duration / time.Millisecond),
    }

    response, err := apiClient.route(key, command)

    if err != nil {
        return 0, err
    }

    return response.LockToken, nil
}

func (apiClient *APIClient) ExtendLock(key string, lockToken uint64, duration time.Duration) error {
    command := &routes.ClientCommand{
        ID: apiClient.commandID(),
        Op: routes.OpExtendLock,
        Key: key,
        LockToken: lockToken,
        DurationMillis: uint64(duration / time.Millisecond),
    }

    _, err := apiClient.route(key, command)

    return err
}

func (apiClient *APIClient) Unlock(key string, lockToken uint64) error {
    _, err := apiClient.route(key, &routes.ClientCommand{ ID: apiClient.commandID(), Op: routes.OpUnlock, Key: key, LockToken: lockToken })

    return err
}

// Table returns the client's cached partition table snapshot.
func (apiClient *APIClient) Table() *partition.Table {
    apiClient.mu.Lock()
    defer apiClient.mu.Unlock()

    return apiClient.table
}
